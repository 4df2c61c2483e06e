package sim

import (
	"fmt"

	"studycore/pkg/domain"
)

// scriptSampler replays a fixed list of batches, one per Normal call, and
// ignores the requested count so tests can exercise the batch length checks.
type scriptSampler struct {
	batches [][]float64
	calls   int
}

func (s *scriptSampler) Normal(mean, stddev float64, n int) ([]float64, error) {
	if s.calls >= len(s.batches) {
		return nil, fmt.Errorf("unexpected draw %d", s.calls)
	}
	batch := s.batches[s.calls]
	s.calls++
	return batch, nil
}

// countingSampler wraps a real source and counts draw calls.
type countingSampler struct {
	inner NormalSampler
	calls int
}

func (c *countingSampler) Normal(mean, stddev float64, n int) ([]float64, error) {
	c.calls++
	return c.inner.Normal(mean, stddev, n)
}

func repeat(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func hungrySpec() domain.CohortSpec {
	return domain.CohortSpec{
		Group:    "hungry",
		Subjects: 30,
		Conditions: []domain.ConditionSpec{
			{Condition: "cold", Params: domain.CellParams{Mean: 0.60, StdDev: 0.13}},
			{Condition: "warm", Params: domain.CellParams{Mean: 0.75, StdDev: 0.12}},
		},
	}
}

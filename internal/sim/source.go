package sim

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"studycore/pkg/domain"
)

// NormalSampler draws batches of normally distributed samples. Implementations
// advance a single underlying source deterministically on every call; a
// generation run seeds exactly once and never reseeds between calls.
type NormalSampler interface {
	Normal(mean, stddev float64, n int) ([]float64, error)
}

// Source is the production sampler: one seedable PRNG shared by every draw of
// a generation run.
type Source struct {
	src rand.Source
}

// NewSource seeds a sampler.
func NewSource(seed uint64) *Source {
	return &Source{src: rand.NewSource(seed)}
}

// Normal draws n samples from N(mean, stddev) as one batch. Invalid
// parameters reaching the source are an RngError; plan validation is expected
// to reject them long before this point.
func (s *Source) Normal(mean, stddev float64, n int) ([]float64, error) {
	if n <= 0 {
		return nil, domain.RngError{Op: "normal sample", Msg: fmt.Sprintf("sample count %d must be positive", n)}
	}
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return nil, domain.RngError{Op: "normal sample", Msg: fmt.Sprintf("mean %v is not finite", mean)}
	}
	if math.IsNaN(stddev) || math.IsInf(stddev, 0) || stddev <= 0 {
		return nil, domain.RngError{Op: "normal sample", Msg: fmt.Sprintf("std dev %v must be finite and positive", stddev)}
	}
	dist := distuv.Normal{Mu: mean, Sigma: stddev, Src: s.src}
	out := make([]float64, n)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out, nil
}

var _ NormalSampler = (*Source)(nil)

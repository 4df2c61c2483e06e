// Package stats computes descriptive summaries over study tables and
// declares the contracts external statistical routines plug into.
package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"studycore/pkg/domain"
)

// CellSummary describes one group x condition cell of a long table.
type CellSummary struct {
	Group     domain.Group     `json:"group"`
	Condition domain.Condition `json:"condition"`
	N         int              `json:"n"`
	Mean      float64          `json:"mean"`
	SD        float64          `json:"sd"`
	StdErr    float64          `json:"stderr"`
}

type cellKey struct {
	group domain.Group
	cond  domain.Condition
}

// Summarize computes one summary per group x condition cell. Cells appear in
// first-appearance order of the pair in the table, so a sorted table yields a
// stable summary order. SD is the sample standard deviation and zero for
// single-observation cells.
func Summarize(table domain.Table) []CellSummary {
	values := make(map[cellKey][]float64)
	var order []cellKey
	for _, obs := range table {
		key := cellKey{group: obs.Group, cond: obs.Condition}
		if _, ok := values[key]; !ok {
			order = append(order, key)
		}
		values[key] = append(values[key], obs.Outcome)
	}

	out := make([]CellSummary, 0, len(order))
	for _, key := range order {
		sample := values[key]
		var sd float64
		if len(sample) > 1 {
			sd = stat.StdDev(sample, nil)
		}
		out = append(out, CellSummary{
			Group:     key.group,
			Condition: key.cond,
			N:         len(sample),
			Mean:      stat.Mean(sample, nil),
			SD:        sd,
			StdErr:    sd / math.Sqrt(float64(len(sample))),
		})
	}
	return out
}

// SubjectMeans returns each subject's mean outcome across all of the
// subject's rows.
func SubjectMeans(table domain.Table) map[int]float64 {
	values := make(map[int][]float64)
	for _, obs := range table {
		values[obs.SubjectID] = append(values[obs.SubjectID], obs.Outcome)
	}
	out := make(map[int]float64, len(values))
	for id, sample := range values {
		out[id] = stat.Mean(sample, nil)
	}
	return out
}

// OutcomesByGroup collects the outcomes of one condition keyed by group.
// The result is the shape HomogeneityTest routines consume.
func OutcomesByGroup(table domain.Table, cond domain.Condition) map[domain.Group][]float64 {
	out := make(map[domain.Group][]float64)
	for _, obs := range table {
		if obs.Condition != cond {
			continue
		}
		out[obs.Group] = append(out[obs.Group], obs.Outcome)
	}
	return out
}

// Column extracts one numeric column from a wide table in row order. Valid
// names are "covariate", outcome columns ("outcome_<condition>") and derived
// aggregate columns. A row missing the requested value is an error.
func Column(wide domain.WideTable, name string) ([]float64, error) {
	out := make([]float64, 0, len(wide.Rows))
	switch {
	case name == "covariate":
		for _, row := range wide.Rows {
			if row.Covariate == nil {
				return nil, fmt.Errorf("stats: subject %d has no covariate", row.SubjectID)
			}
			out = append(out, *row.Covariate)
		}
	default:
		if cond, ok := domain.ConditionFromColumn(name); ok {
			for _, row := range wide.Rows {
				v, ok := row.Outcomes[cond]
				if !ok {
					return nil, fmt.Errorf("stats: subject %d has no %q cell", row.SubjectID, name)
				}
				out = append(out, v)
			}
			return out, nil
		}
		if !wide.HasAggregate(name) {
			return nil, fmt.Errorf("stats: unknown column %q", name)
		}
		for _, row := range wide.Rows {
			v, ok := row.Aggregates[name]
			if !ok {
				return nil, fmt.Errorf("stats: subject %d has no %q cell", row.SubjectID, name)
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// Correlation returns the Pearson correlation of two equal-length columns.
func Correlation(x, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("stats: column lengths differ (%d vs %d)", len(x), len(y))
	}
	if len(x) < 2 {
		return 0, fmt.Errorf("stats: need at least 2 pairs, got %d", len(x))
	}
	return stat.Correlation(x, y, nil), nil
}

// NormalityTest is the contract an external normality routine satisfies. It
// receives one cell's outcomes and returns its test statistic and p-value.
type NormalityTest func(sample []float64) (statistic, p float64, err error)

// HomogeneityTest is the contract an external variance-homogeneity routine
// satisfies. It receives per-group outcomes for one condition, the shape
// OutcomesByGroup produces.
type HomogeneityTest func(groups map[domain.Group][]float64) (statistic, p float64, err error)

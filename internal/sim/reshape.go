package sim

import (
	"fmt"
	"math"

	"studycore/pkg/domain"
)

// FillPolicy decides what a reshape does with a subject that lacks a row for
// one of the table's conditions.
type FillPolicy string

// Fill policies for ragged input.
const (
	// FillReject refuses ragged input with a ShapeError. This is the default.
	FillReject FillPolicy = "reject"
	// FillNaN fills missing cells with NaN; aggregations skip them.
	FillNaN FillPolicy = "nan"
)

// ReshapeLongToWide pivots a long table into one row per subject with one
// outcome column per condition. Column order follows condition
// first-appearance order; row order follows subject first-appearance order.
// Duplicate subject/condition pairs, conflicting groups, and conflicting
// covariates are always a ShapeError regardless of policy.
func ReshapeLongToWide(table domain.Table, policy FillPolicy) (domain.WideTable, error) {
	const op = "reshape_long_to_wide"
	switch policy {
	case FillReject, FillNaN:
	case "":
		policy = FillReject
	default:
		return domain.WideTable{}, domain.ConfigError{Op: op, Msg: fmt.Sprintf("unknown fill policy %q", policy)}
	}
	if len(table) == 0 {
		return domain.WideTable{}, nil
	}

	conditions := table.Conditions()
	index := make(map[int]int)
	rows := make([]domain.WideRow, 0, len(table)/len(conditions)+1)
	for _, obs := range table {
		i, ok := index[obs.SubjectID]
		if !ok {
			i = len(rows)
			index[obs.SubjectID] = i
			row := domain.WideRow{
				SubjectID: obs.SubjectID,
				Group:     obs.Group,
				Outcomes:  make(map[domain.Condition]float64, len(conditions)),
			}
			if obs.Covariate != nil {
				v := *obs.Covariate
				row.Covariate = &v
			}
			rows = append(rows, row)
		}
		row := &rows[i]
		if row.Group != obs.Group {
			return domain.WideTable{}, domain.ShapeError{Op: op, Msg: fmt.Sprintf("subject %d appears with groups %q and %q", obs.SubjectID, row.Group, obs.Group)}
		}
		if !sameCovariate(row.Covariate, obs.Covariate) {
			return domain.WideTable{}, domain.ShapeError{Op: op, Msg: fmt.Sprintf("subject %d carries conflicting covariate values", obs.SubjectID)}
		}
		if _, dup := row.Outcomes[obs.Condition]; dup {
			return domain.WideTable{}, domain.ShapeError{Op: op, Msg: fmt.Sprintf("subject %d has duplicate rows for condition %q", obs.SubjectID, obs.Condition)}
		}
		row.Outcomes[obs.Condition] = obs.Outcome
	}

	for i := range rows {
		for _, cond := range conditions {
			if _, ok := rows[i].Outcomes[cond]; ok {
				continue
			}
			if policy == FillReject {
				return domain.WideTable{}, domain.ShapeError{Op: op, Msg: fmt.Sprintf("subject %d lacks condition %q", rows[i].SubjectID, cond)}
			}
			rows[i].Outcomes[cond] = math.NaN()
		}
	}

	return domain.WideTable{
		Conditions: conditions,
		Rows:       rows,
	}, nil
}

// UnpivotWideToLong is the inverse reshape: one long row per subject and
// condition, in the wide table's row and column order. NaN cells (the FillNaN
// marker) and absent cells are skipped; derived aggregate columns are dropped
// because they are recomputable.
func UnpivotWideToLong(wide domain.WideTable) (domain.Table, error) {
	const op = "unpivot_wide_to_long"
	if len(wide.Rows) == 0 {
		return domain.Table{}, nil
	}
	if len(wide.Conditions) == 0 {
		return nil, domain.ShapeError{Op: op, Msg: "wide table declares no condition columns"}
	}

	out := make(domain.Table, 0, len(wide.Rows)*len(wide.Conditions))
	for _, row := range wide.Rows {
		for _, cond := range wide.Conditions {
			outcome, ok := row.Outcomes[cond]
			if !ok || math.IsNaN(outcome) {
				continue
			}
			obs := domain.Observation{
				SubjectID: row.SubjectID,
				Condition: cond,
				Group:     row.Group,
				Outcome:   outcome,
			}
			if row.Covariate != nil {
				v := *row.Covariate
				obs.Covariate = &v
			}
			out = append(out, obs)
		}
	}
	out.SortBySubject()
	return out, nil
}

// AggregateRowMean appends a derived per-row mean column computed over the
// named condition columns, or over every outcome column when conds is empty.
// NaN cells are skipped; a row with no usable cells yields NaN.
func AggregateRowMean(wide domain.WideTable, name string, conds []domain.Condition) (domain.WideTable, error) {
	const op = "aggregate_row_mean"
	if name == "" {
		return domain.WideTable{}, domain.ConfigError{Op: op, Msg: "aggregate column name is required"}
	}
	if wide.HasAggregate(name) {
		return domain.WideTable{}, domain.ConfigError{Op: op, Msg: fmt.Sprintf("column %q already exists", name)}
	}
	for _, cond := range wide.Conditions {
		if domain.OutcomeColumn(cond) == name {
			return domain.WideTable{}, domain.ConfigError{Op: op, Msg: fmt.Sprintf("column %q already exists", name)}
		}
	}

	selected := conds
	if len(selected) == 0 {
		selected = wide.Conditions
	}
	declared := make(map[domain.Condition]struct{}, len(wide.Conditions))
	for _, cond := range wide.Conditions {
		declared[cond] = struct{}{}
	}
	for _, cond := range selected {
		if _, ok := declared[cond]; !ok {
			return domain.WideTable{}, domain.ShapeError{Op: op, Msg: fmt.Sprintf("column %q does not exist", domain.OutcomeColumn(cond))}
		}
	}

	out := wide.Clone()
	out.AggregateColumns = append(out.AggregateColumns, name)
	for i := range out.Rows {
		sum, count := 0.0, 0
		for _, cond := range selected {
			v, ok := out.Rows[i].Outcomes[cond]
			if !ok || math.IsNaN(v) {
				continue
			}
			sum += v
			count++
		}
		value := math.NaN()
		if count > 0 {
			value = sum / float64(count)
		}
		if out.Rows[i].Aggregates == nil {
			out.Rows[i].Aggregates = make(map[string]float64, 1)
		}
		out.Rows[i].Aggregates[name] = value
	}
	return out, nil
}

func sameCovariate(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

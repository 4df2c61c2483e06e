package studyapi

import (
	"math"

	"studycore/pkg/domain"
)

// LongColumns returns the schema of a long observation table.
func LongColumns() []Column {
	return []Column{
		{Name: "subject_id", Type: "integer", Description: "stable subject identifier"},
		{Name: "group", Type: "string", Description: "between-subject group label"},
		{Name: "condition", Type: "string", Description: "within-subject condition label"},
		{Name: "outcome", Type: "number", Description: "simulated outcome value"},
		{Name: "covariate", Type: "number", Description: "subject-level covariate, null until attached"},
	}
}

// LongRows materializes a long observation table as output rows, one row per
// subject and condition.
func LongRows(table domain.Table) []Row {
	rows := make([]Row, 0, len(table))
	for _, obs := range table {
		row := Row{
			"subject_id": obs.SubjectID,
			"group":      string(obs.Group),
			"condition":  string(obs.Condition),
			"outcome":    obs.Outcome,
		}
		if obs.Covariate != nil {
			row["covariate"] = *obs.Covariate
		} else {
			row["covariate"] = nil
		}
		rows = append(rows, row)
	}
	return rows
}

// WideColumns returns the schema of a wide table: the fixed subject columns
// followed by one outcome column per condition and any aggregate columns.
func WideColumns(wide domain.WideTable) []Column {
	columns := []Column{
		{Name: "subject_id", Type: "integer", Description: "stable subject identifier"},
		{Name: "group", Type: "string", Description: "between-subject group label"},
		{Name: "covariate", Type: "number", Description: "subject-level covariate, null until attached"},
	}
	for _, condition := range wide.Conditions {
		columns = append(columns, Column{
			Name:        domain.OutcomeColumn(condition),
			Type:        "number",
			Description: "outcome under condition " + string(condition),
		})
	}
	for _, name := range wide.AggregateColumns {
		columns = append(columns, Column{Name: name, Type: "number", Description: "row aggregate"})
	}
	return columns
}

// WideRows materializes a wide table as output rows, one row per subject.
// Cells that are absent or NaN are omitted from their row so the result
// stays encodable as JSON.
func WideRows(wide domain.WideTable) []Row {
	rows := make([]Row, 0, len(wide.Rows))
	for _, wr := range wide.Rows {
		row := Row{
			"subject_id": wr.SubjectID,
			"group":      string(wr.Group),
		}
		if wr.Covariate != nil {
			row["covariate"] = *wr.Covariate
		} else {
			row["covariate"] = nil
		}
		for _, condition := range wide.Conditions {
			value, ok := wr.Outcomes[condition]
			if !ok || math.IsNaN(value) {
				continue
			}
			row[domain.OutcomeColumn(condition)] = value
		}
		for _, name := range wide.AggregateColumns {
			value, ok := wr.Aggregates[name]
			if !ok || math.IsNaN(value) {
				continue
			}
			row[name] = value
		}
		rows = append(rows, row)
	}
	return rows
}

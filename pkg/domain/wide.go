package domain

// WideRow is one subject's row in wide layout: the subject-level fields plus
// one outcome cell per condition column and any derived aggregate cells.
type WideRow struct {
	SubjectID  int                   `json:"subject_id"`
	Group      Group                 `json:"group"`
	Covariate  *float64              `json:"covariate,omitempty"`
	Outcomes   map[Condition]float64 `json:"outcomes"`
	Aggregates map[string]float64    `json:"aggregates,omitempty"`
}

// WideTable holds one row per subject. Conditions fixes the outcome column
// order and AggregateColumns the order of derived columns; both are stable
// across clones so downstream consumers see deterministic schemas.
type WideTable struct {
	Conditions       []Condition `json:"conditions"`
	AggregateColumns []string    `json:"aggregate_columns,omitempty"`
	Rows             []WideRow   `json:"rows"`
}

// Clone returns a deep copy of the wide table.
func (w WideTable) Clone() WideTable {
	out := WideTable{
		Conditions:       append([]Condition(nil), w.Conditions...),
		AggregateColumns: append([]string(nil), w.AggregateColumns...),
	}
	if w.Rows != nil {
		out.Rows = make([]WideRow, len(w.Rows))
		for i, row := range w.Rows {
			out.Rows[i] = row.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the row.
func (r WideRow) Clone() WideRow {
	out := r
	if r.Covariate != nil {
		v := *r.Covariate
		out.Covariate = &v
	}
	if r.Outcomes != nil {
		out.Outcomes = make(map[Condition]float64, len(r.Outcomes))
		for k, v := range r.Outcomes {
			out.Outcomes[k] = v
		}
	}
	if r.Aggregates != nil {
		out.Aggregates = make(map[string]float64, len(r.Aggregates))
		for k, v := range r.Aggregates {
			out.Aggregates[k] = v
		}
	}
	return out
}

// Columns returns the full ordered column name list: subject fields first,
// then one outcome column per condition, then derived aggregate columns.
func (w WideTable) Columns() []string {
	out := []string{"subject_id", "group", "covariate"}
	for _, cond := range w.Conditions {
		out = append(out, OutcomeColumn(cond))
	}
	out = append(out, w.AggregateColumns...)
	return out
}

// HasAggregate reports whether a derived column with the given name exists.
func (w WideTable) HasAggregate(name string) bool {
	for _, col := range w.AggregateColumns {
		if col == name {
			return true
		}
	}
	return false
}

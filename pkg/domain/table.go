package domain

import (
	"sort"
	"strings"
)

// Condition labels a within-subject measurement condition, e.g. "cold".
type Condition string

// Group labels the cohort a subject belongs to, e.g. "hungry".
type Group string

// Observation is one measured trial in long format: a single subject measured
// once under a single condition. Covariate stays nil until a covariate is
// attached to the subject's cohort.
type Observation struct {
	SubjectID int       `json:"subject_id"`
	Condition Condition `json:"condition"`
	Group     Group     `json:"group"`
	Outcome   float64   `json:"outcome"`
	Covariate *float64  `json:"covariate,omitempty"`
}

// Table is an ordered sequence of long-format observations. All growth
// operations return a new table; the canonical ordering is ascending subject
// identifier with each subject's rows in the order their conditions were
// added.
type Table []Observation

// Clone returns a deep copy of the table. Covariate pointers are duplicated
// so callers can never alias stored rows.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	copy(out, t)
	for i := range out {
		if out[i].Covariate != nil {
			v := *out[i].Covariate
			out[i].Covariate = &v
		}
	}
	return out
}

// SortBySubject stably sorts the table in place by ascending subject
// identifier. Stability preserves each subject's condition order across
// concatenations; this is the canonical re-sort applied after every append.
func (t Table) SortBySubject() {
	sort.SliceStable(t, func(i, j int) bool {
		return t[i].SubjectID < t[j].SubjectID
	})
}

// IsSortedBySubject reports whether rows appear in ascending subject order.
func (t Table) IsSortedBySubject() bool {
	for i := 1; i < len(t); i++ {
		if t[i].SubjectID < t[i-1].SubjectID {
			return false
		}
	}
	return true
}

// Subjects returns the distinct subject identifiers in order of first
// appearance.
func (t Table) Subjects() []int {
	seen := make(map[int]struct{}, len(t))
	var out []int
	for _, row := range t {
		if _, ok := seen[row.SubjectID]; ok {
			continue
		}
		seen[row.SubjectID] = struct{}{}
		out = append(out, row.SubjectID)
	}
	return out
}

// Conditions returns the distinct condition labels in order of first
// appearance.
func (t Table) Conditions() []Condition {
	seen := make(map[Condition]struct{}, 4)
	var out []Condition
	for _, row := range t {
		if _, ok := seen[row.Condition]; ok {
			continue
		}
		seen[row.Condition] = struct{}{}
		out = append(out, row.Condition)
	}
	return out
}

// Groups returns the distinct group labels in order of first appearance.
// First appearance follows cohort addition order because appends keep subject
// identifiers contiguous per cohort.
func (t Table) Groups() []Group {
	seen := make(map[Group]struct{}, 4)
	var out []Group
	for _, row := range t {
		if _, ok := seen[row.Group]; ok {
			continue
		}
		seen[row.Group] = struct{}{}
		out = append(out, row.Group)
	}
	return out
}

// MaxSubjectID returns the highest subject identifier present, or zero for an
// empty table. New cohorts continue numbering from this value plus one.
func (t Table) MaxSubjectID() int {
	max := 0
	for _, row := range t {
		if row.SubjectID > max {
			max = row.SubjectID
		}
	}
	return max
}

// SubjectGroup returns the group of the given subject.
func (t Table) SubjectGroup(id int) (Group, bool) {
	for _, row := range t {
		if row.SubjectID == id {
			return row.Group, true
		}
	}
	return "", false
}

// HasCondition reports whether any row carries the given condition label.
func (t Table) HasCondition(cond Condition) bool {
	for _, row := range t {
		if row.Condition == cond {
			return true
		}
	}
	return false
}

// OutcomeColumnPrefix is the single declaration of the wide-layout outcome
// column naming scheme. Every wide column name is derived from it; nothing
// else in the module spells the prefix out.
const OutcomeColumnPrefix = "outcome_"

// OutcomeColumn returns the wide-layout column name for a condition.
func OutcomeColumn(cond Condition) string {
	return OutcomeColumnPrefix + string(cond)
}

// ConditionFromColumn recovers the condition label from a wide outcome column
// name. It returns false for names outside the outcome naming scheme.
func ConditionFromColumn(name string) (Condition, bool) {
	rest, ok := strings.CutPrefix(name, OutcomeColumnPrefix)
	if !ok || rest == "" {
		return "", false
	}
	return Condition(rest), true
}

// Package sim implements the deterministic table generator: cohort
// simulation, covariate attachment, table growth, reshaping, and staged plan
// replay. Every operation is pure given a sampling source and returns a new
// table; nothing here touches storage.
package sim

import (
	"fmt"
	"sort"

	"studycore/pkg/domain"
)

// SimulateCohort generates one cohort in long format. Subjects are numbered
// startID, startID+1, ... and every subject is measured once under every
// condition in the spec.
//
// Draw order is part of the contract: for each condition in declared order,
// one batch of spec.Subjects samples is drawn, and sample k of a batch
// belongs to subject startID+k. Rows are then stably sorted by subject, so
// each subject's rows appear in declared condition order.
func SimulateCohort(src NormalSampler, spec domain.CohortSpec, startID int) (domain.Table, error) {
	const op = "simulate_cohort"
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if startID < 1 {
		return nil, domain.ConfigError{Op: op, Msg: fmt.Sprintf("start identifier %d must be at least 1", startID)}
	}

	rows := make(domain.Table, 0, spec.Subjects*len(spec.Conditions))
	for _, cond := range spec.Conditions {
		samples, err := src.Normal(cond.Params.Mean, cond.Params.StdDev, spec.Subjects)
		if err != nil {
			return nil, err
		}
		if len(samples) != spec.Subjects {
			return nil, domain.RngError{Op: op, Msg: fmt.Sprintf("sampler returned %d samples for %d subjects", len(samples), spec.Subjects)}
		}
		for k, outcome := range samples {
			rows = append(rows, domain.Observation{
				SubjectID: startID + k,
				Condition: cond.Condition,
				Group:     spec.Group,
				Outcome:   outcome,
			})
		}
	}
	rows.SortBySubject()
	return rows, nil
}

// AppendCohort concatenates a freshly simulated cohort onto an existing table
// and re-sorts the result by subject. The cohort's numbering must continue
// exactly where the existing table stops; colliding or gapped identifiers are
// a ShapeError. Appending to an empty table is allowed.
func AppendCohort(existing, cohort domain.Table) (domain.Table, error) {
	const op = "append_cohort"
	if len(cohort) == 0 {
		return nil, domain.ShapeError{Op: op, Msg: "cohort table is empty"}
	}

	minID := cohort[0].SubjectID
	for _, row := range cohort {
		if row.SubjectID < minID {
			minID = row.SubjectID
		}
	}
	next := existing.MaxSubjectID() + 1
	switch {
	case minID < next:
		return nil, domain.ShapeError{Op: op, Msg: fmt.Sprintf("cohort identifiers starting at %d collide with existing maximum %d", minID, next-1)}
	case minID > next:
		return nil, domain.ShapeError{Op: op, Msg: fmt.Sprintf("cohort identifiers starting at %d leave a gap after existing maximum %d", minID, next-1)}
	}

	out := existing.Clone()
	out = append(out, cohort.Clone()...)
	out.SortBySubject()
	return out, nil
}

// AppendCondition adds one row per existing subject for a condition the table
// does not have yet, drawing outcomes from per-group parameters.
//
// Draw order is part of the contract: for each group in order of first
// appearance in the table, one batch of that group's subject count is drawn
// and assigned in ascending subject order. Group parameters are looked up per
// group; map iteration order is never consulted. New rows inherit each
// subject's current covariate, keeping covariate invariance intact without
// recomputing anything.
func AppendCondition(src NormalSampler, table domain.Table, cond domain.Condition, perGroup map[domain.Group]domain.CellParams) (domain.Table, error) {
	const op = "append_condition"
	if len(table) == 0 {
		return nil, domain.ConfigError{Op: op, Msg: "cannot add a condition to an empty table"}
	}
	if cond == "" {
		return nil, domain.ConfigError{Op: op, Msg: "condition label is required"}
	}
	if table.HasCondition(cond) {
		return nil, domain.ConfigError{Op: op, Msg: fmt.Sprintf("condition %q already exists", cond)}
	}

	groups, members := subjectsByGroup(table)
	for _, group := range groups {
		params, ok := perGroup[group]
		if !ok {
			return nil, domain.ConfigError{Op: op, Msg: fmt.Sprintf("condition %q lacks parameters for group %q", cond, group)}
		}
		if err := params.Validate(); err != nil {
			return nil, domain.ConfigError{Op: op, Msg: fmt.Sprintf("condition %q group %q: %v", cond, group, err)}
		}
	}
	for _, group := range sortedParamGroups(perGroup) {
		if _, ok := members[group]; !ok {
			return nil, domain.ConfigError{Op: op, Msg: fmt.Sprintf("condition %q declares parameters for unknown group %q", cond, group)}
		}
	}

	covariates := subjectCovariates(table)
	added := make(domain.Table, 0, len(table.Subjects()))
	for _, group := range groups {
		ids := members[group]
		params := perGroup[group]
		samples, err := src.Normal(params.Mean, params.StdDev, len(ids))
		if err != nil {
			return nil, err
		}
		if len(samples) != len(ids) {
			return nil, domain.RngError{Op: op, Msg: fmt.Sprintf("sampler returned %d samples for %d subjects", len(samples), len(ids))}
		}
		for k, id := range ids {
			row := domain.Observation{
				SubjectID: id,
				Condition: cond,
				Group:     group,
				Outcome:   samples[k],
			}
			if cov, ok := covariates[id]; ok {
				v := cov
				row.Covariate = &v
			}
			added = append(added, row)
		}
	}

	out := table.Clone()
	out = append(out, added...)
	out.SortBySubject()
	return out, nil
}

// subjectsByGroup returns group labels in first-appearance order together
// with each group's subject identifiers in ascending order.
func subjectsByGroup(table domain.Table) ([]domain.Group, map[domain.Group][]int) {
	var groups []domain.Group
	members := make(map[domain.Group][]int)
	seen := make(map[int]struct{})
	for _, row := range table {
		if _, ok := seen[row.SubjectID]; ok {
			continue
		}
		seen[row.SubjectID] = struct{}{}
		if _, ok := members[row.Group]; !ok {
			groups = append(groups, row.Group)
		}
		members[row.Group] = append(members[row.Group], row.SubjectID)
	}
	for _, ids := range members {
		sort.Ints(ids)
	}
	return groups, members
}

// subjectCovariates returns the covariate value carried by each subject that
// has one attached.
func subjectCovariates(table domain.Table) map[int]float64 {
	out := make(map[int]float64)
	for _, row := range table {
		if row.Covariate == nil {
			continue
		}
		if _, ok := out[row.SubjectID]; !ok {
			out[row.SubjectID] = *row.Covariate
		}
	}
	return out
}

func sortedParamGroups(perGroup map[domain.Group]domain.CellParams) []domain.Group {
	out := make([]domain.Group, 0, len(perGroup))
	for group := range perGroup {
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

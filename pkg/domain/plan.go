package domain

import (
	"fmt"
	"math"
	"sort"
)

// CellParams are the normal distribution parameters for one group x condition
// cell.
type CellParams struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Validate reports whether the parameters describe a usable distribution.
func (p CellParams) Validate() error {
	if math.IsNaN(p.Mean) || math.IsInf(p.Mean, 0) {
		return ConfigError{Op: "cell params", Msg: fmt.Sprintf("mean %v is not finite", p.Mean)}
	}
	if math.IsNaN(p.StdDev) || math.IsInf(p.StdDev, 0) || p.StdDev <= 0 {
		return ConfigError{Op: "cell params", Msg: fmt.Sprintf("std dev %v must be finite and positive", p.StdDev)}
	}
	return nil
}

// ConditionSpec pairs a condition label with its distribution parameters.
// Declaration order within a cohort is the sampling order.
type ConditionSpec struct {
	Condition Condition  `json:"condition"`
	Params    CellParams `json:"params"`
}

// CohortSpec describes one cohort to simulate: a group label, a subject
// count, and the ordered conditions every subject is measured under.
type CohortSpec struct {
	Group      Group           `json:"group"`
	Subjects   int             `json:"subjects"`
	Conditions []ConditionSpec `json:"conditions"`
}

// Validate checks the cohort specification eagerly, before any sampling.
func (c CohortSpec) Validate() error {
	if c.Group == "" {
		return ConfigError{Op: "cohort spec", Msg: "group label is required"}
	}
	if c.Subjects <= 0 {
		return ConfigError{Op: "cohort spec", Msg: fmt.Sprintf("group %q requires a positive subject count, got %d", c.Group, c.Subjects)}
	}
	if len(c.Conditions) == 0 {
		return ConfigError{Op: "cohort spec", Msg: fmt.Sprintf("group %q declares no conditions", c.Group)}
	}
	seen := make(map[Condition]struct{}, len(c.Conditions))
	for _, cond := range c.Conditions {
		if cond.Condition == "" {
			return ConfigError{Op: "cohort spec", Msg: fmt.Sprintf("group %q has a condition with an empty label", c.Group)}
		}
		if _, dup := seen[cond.Condition]; dup {
			return ConfigError{Op: "cohort spec", Msg: fmt.Sprintf("group %q declares condition %q twice", c.Group, cond.Condition)}
		}
		seen[cond.Condition] = struct{}{}
		if err := cond.Params.Validate(); err != nil {
			return ConfigError{Op: "cohort spec", Msg: fmt.Sprintf("group %q condition %q: %v", c.Group, cond.Condition, err)}
		}
	}
	return nil
}

// ConditionSet returns the cohort's condition labels as a set.
func (c CohortSpec) ConditionSet() map[Condition]struct{} {
	out := make(map[Condition]struct{}, len(c.Conditions))
	for _, cond := range c.Conditions {
		out[cond.Condition] = struct{}{}
	}
	return out
}

// NoiseSpec are the normal distribution parameters for covariate noise.
type NoiseSpec struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Validate reports whether the noise parameters describe a usable
// distribution.
func (n NoiseSpec) Validate() error {
	if err := (CellParams{Mean: n.Mean, StdDev: n.StdDev}).Validate(); err != nil {
		return ConfigError{Op: "noise spec", Msg: fmt.Sprintf("%v", err)}
	}
	return nil
}

// StageKind discriminates the two table growth operations a stage can apply.
type StageKind string

// Stage kinds.
const (
	// StageAddCohorts simulates one or more new cohorts and appends them.
	StageAddCohorts StageKind = "add_cohorts"
	// StageAddCondition appends a new condition row to every existing subject.
	StageAddCondition StageKind = "add_condition"
)

// Stage is one step of a generation plan. Exactly one of the kind-specific
// field groups is consulted: Cohorts for StageAddCohorts, Condition plus
// GroupParams for StageAddCondition. When Covariate is set the covariate is
// attached after the growth step, to subjects that do not have one yet.
type Stage struct {
	Kind        StageKind            `json:"kind"`
	Cohorts     []CohortSpec         `json:"cohorts,omitempty"`
	Condition   Condition            `json:"condition,omitempty"`
	GroupParams map[Group]CellParams `json:"group_params,omitempty"`
	Covariate   *NoiseSpec           `json:"covariate,omitempty"`
}

// Plan is a complete reproducible generation recipe: one seed and an ordered
// stage list. Two executions of the same plan yield identical tables.
type Plan struct {
	Seed   uint64  `json:"seed"`
	Stages []Stage `json:"stages"`
}

// Clone returns a deep copy of the plan.
func (p Plan) Clone() Plan {
	out := Plan{Seed: p.Seed}
	if p.Stages == nil {
		return out
	}
	out.Stages = make([]Stage, len(p.Stages))
	for i, stage := range p.Stages {
		cp := stage
		cp.Cohorts = append([]CohortSpec(nil), stage.Cohorts...)
		for j, cohort := range cp.Cohorts {
			cp.Cohorts[j].Conditions = append([]ConditionSpec(nil), cohort.Conditions...)
		}
		if stage.GroupParams != nil {
			cp.GroupParams = make(map[Group]CellParams, len(stage.GroupParams))
			for g, params := range stage.GroupParams {
				cp.GroupParams[g] = params
			}
		}
		if stage.Covariate != nil {
			noise := *stage.Covariate
			cp.Covariate = &noise
		}
		out.Stages[i] = cp
	}
	return out
}

// Validate walks the plan statically and reports the first configuration
// problem. It tracks the groups and conditions each stage leaves behind, so
// cross-stage mistakes (re-used group labels, appending an existing
// condition, missing per-group parameters) surface before any sampling.
func (p Plan) Validate() error {
	if len(p.Stages) == 0 {
		return ConfigError{Op: "plan", Msg: "plan requires at least one stage"}
	}
	groups := make(map[Group]struct{})
	conditions := make(map[Condition]struct{})
	for i, stage := range p.Stages {
		op := fmt.Sprintf("plan stage %d", i)
		switch stage.Kind {
		case StageAddCohorts:
			if len(stage.Cohorts) == 0 {
				return ConfigError{Op: op, Msg: "add_cohorts stage declares no cohorts"}
			}
			for _, cohort := range stage.Cohorts {
				if err := cohort.Validate(); err != nil {
					return ConfigError{Op: op, Msg: fmt.Sprintf("%v", err)}
				}
				if _, exists := groups[cohort.Group]; exists {
					return ConfigError{Op: op, Msg: fmt.Sprintf("group %q already exists", cohort.Group)}
				}
				groups[cohort.Group] = struct{}{}
				if len(conditions) == 0 {
					for _, cond := range cohort.Conditions {
						conditions[cond.Condition] = struct{}{}
					}
					continue
				}
				if err := matchConditionSet(conditions, cohort); err != nil {
					return ConfigError{Op: op, Msg: fmt.Sprintf("%v", err)}
				}
			}
		case StageAddCondition:
			if stage.Condition == "" {
				return ConfigError{Op: op, Msg: "add_condition stage requires a condition label"}
			}
			if len(groups) == 0 {
				return ConfigError{Op: op, Msg: "add_condition stage requires an earlier cohort stage"}
			}
			if _, exists := conditions[stage.Condition]; exists {
				return ConfigError{Op: op, Msg: fmt.Sprintf("condition %q already exists", stage.Condition)}
			}
			for _, group := range sortedGroups(groups) {
				params, ok := stage.GroupParams[group]
				if !ok {
					return ConfigError{Op: op, Msg: fmt.Sprintf("condition %q lacks parameters for group %q", stage.Condition, group)}
				}
				if err := params.Validate(); err != nil {
					return ConfigError{Op: op, Msg: fmt.Sprintf("condition %q group %q: %v", stage.Condition, group, err)}
				}
			}
			declared := make(map[Group]struct{}, len(stage.GroupParams))
			for group := range stage.GroupParams {
				declared[group] = struct{}{}
			}
			for _, group := range sortedGroups(declared) {
				if _, exists := groups[group]; !exists {
					return ConfigError{Op: op, Msg: fmt.Sprintf("condition %q declares parameters for unknown group %q", stage.Condition, group)}
				}
			}
			conditions[stage.Condition] = struct{}{}
		default:
			return ConfigError{Op: op, Msg: fmt.Sprintf("unknown stage kind %q", stage.Kind)}
		}
		if stage.Covariate != nil {
			if err := stage.Covariate.Validate(); err != nil {
				return ConfigError{Op: op, Msg: fmt.Sprintf("%v", err)}
			}
		}
	}
	return nil
}

func sortedGroups(set map[Group]struct{}) []Group {
	out := make([]Group, 0, len(set))
	for group := range set {
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// matchConditionSet verifies a later cohort declares exactly the condition
// set already established by earlier cohorts, keeping tables balanced.
func matchConditionSet(existing map[Condition]struct{}, cohort CohortSpec) error {
	set := cohort.ConditionSet()
	if len(set) != len(existing) {
		return fmt.Errorf("group %q declares %d conditions, existing cohorts have %d", cohort.Group, len(set), len(existing))
	}
	for _, cond := range cohort.Conditions {
		if _, ok := existing[cond.Condition]; !ok {
			return fmt.Errorf("group %q declares condition %q absent from existing cohorts", cohort.Group, cond.Condition)
		}
	}
	return nil
}

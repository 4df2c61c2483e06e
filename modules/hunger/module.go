// Package hunger ships the built-in hunger study: the three-stage cohort
// recipe from the original experiment, a covariate-presence rule, and dataset
// templates reading its persisted runs.
package hunger

import (
	"studycore/internal/core"
)

// Seed pins every generated hunger table. The plan is reproducible only
// because this value never changes.
const Seed uint64 = 234634

// PlanName keys the default plan; the service exposes it as "hunger/study".
const PlanName = "study"

// CohortSize is the subject count of every cohort in the shipped plan.
const CohortSize = 30

// Cohort group labels.
const (
	GroupHungry      core.Group = "hungry"
	GroupNotHungry   core.Group = "not_hungry"
	GroupSuperhungry core.Group = "superhungry"
)

// Measurement condition labels.
const (
	ConditionCold   core.Condition = "cold"
	ConditionWarm   core.Condition = "warm"
	ConditionFrozen core.Condition = "frozen"
)

// MeanOutcomeColumn names the derived per-subject mean appended by the
// subject_wide template.
const MeanOutcomeColumn = "mean_outcome"

// Module is the hunger study module.
type Module struct{}

// New constructs a hunger module instance.
func New() Module {
	return Module{}
}

// Name returns the module identifier.
func (Module) Name() string { return "hunger" }

// Version returns the module semantic version.
func (Module) Version() string { return "0.1.0" }

// Register wires the default plan, the covariate-presence rule and the
// dataset templates into the registry.
func (Module) Register(registry *core.ModuleRegistry) error {
	if err := registry.RegisterDefaultPlan(PlanName, Plan()); err != nil {
		return err
	}
	registry.RegisterRule(NewCovariatePresenceRule())

	templates := []core.StudyTemplate{
		observationsLongTemplate(),
		subjectWideTemplate(),
		cellSummaryTemplate(),
	}
	for _, template := range templates {
		if err := registry.RegisterStudyTemplate(template); err != nil {
			return err
		}
	}
	return nil
}

// Plan returns the shipped generation recipe. Stage one simulates the hungry
// and not_hungry cohorts under cold and warm, stage two appends the
// superhungry cohort, stage three extends every subject with the frozen
// condition. Each cohort stage attaches the baseline covariate to the
// subjects it introduced, so covariates from earlier stages never see the
// frozen outcomes.
func Plan() core.Plan {
	return core.Plan{
		Seed: Seed,
		Stages: []core.Stage{
			{
				Kind: core.StageAddCohorts,
				Cohorts: []core.CohortSpec{
					{
						Group:    GroupHungry,
						Subjects: CohortSize,
						Conditions: []core.ConditionSpec{
							{Condition: ConditionCold, Params: core.CellParams{Mean: 0.60, StdDev: 0.13}},
							{Condition: ConditionWarm, Params: core.CellParams{Mean: 0.75, StdDev: 0.12}},
						},
					},
					{
						Group:    GroupNotHungry,
						Subjects: CohortSize,
						Conditions: []core.ConditionSpec{
							{Condition: ConditionCold, Params: core.CellParams{Mean: 0.45, StdDev: 0.13}},
							{Condition: ConditionWarm, Params: core.CellParams{Mean: 0.50, StdDev: 0.12}},
						},
					},
				},
				Covariate: covariateNoise(),
			},
			{
				Kind: core.StageAddCohorts,
				Cohorts: []core.CohortSpec{
					{
						Group:    GroupSuperhungry,
						Subjects: CohortSize,
						Conditions: []core.ConditionSpec{
							{Condition: ConditionCold, Params: core.CellParams{Mean: 0.70, StdDev: 0.14}},
							{Condition: ConditionWarm, Params: core.CellParams{Mean: 0.85, StdDev: 0.12}},
						},
					},
				},
				Covariate: covariateNoise(),
			},
			{
				Kind:      core.StageAddCondition,
				Condition: ConditionFrozen,
				GroupParams: map[core.Group]core.CellParams{
					GroupHungry:      {Mean: 0.40, StdDev: 0.15},
					GroupNotHungry:   {Mean: 0.30, StdDev: 0.14},
					GroupSuperhungry: {Mean: 0.50, StdDev: 0.16},
				},
			},
		},
	}
}

func covariateNoise() *core.NoiseSpec {
	return &core.NoiseSpec{Mean: 0.10, StdDev: 0.02}
}

// groups returns the plan's group labels as a set.
func groups() map[core.Group]struct{} {
	return map[core.Group]struct{}{
		GroupHungry:      {},
		GroupNotHungry:   {},
		GroupSuperhungry: {},
	}
}

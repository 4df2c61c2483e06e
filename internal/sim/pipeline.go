package sim

import (
	"fmt"

	"studycore/pkg/domain"
)

// Pipeline executes generation plans. One sampler is created per execution
// from the plan's seed; every stage draws from it in order, which is what
// makes two executions of the same plan byte-identical.
type Pipeline struct {
	newSampler func(seed uint64) NormalSampler
}

// NewPipeline constructs a pipeline backed by the production sampler.
func NewPipeline() *Pipeline {
	return &Pipeline{newSampler: func(seed uint64) NormalSampler {
		return NewSource(seed)
	}}
}

// NewPipelineWithSampler constructs a pipeline with a custom sampler factory.
// Tests use this seam to inject failing or scripted samplers.
func NewPipelineWithSampler(factory func(seed uint64) NormalSampler) *Pipeline {
	return &Pipeline{newSampler: factory}
}

// Run executes every stage of the plan and returns the finished table.
func (p *Pipeline) Run(plan domain.Plan) (domain.Table, error) {
	return p.RunStages(plan, len(plan.Stages))
}

// RunStages executes the first n stages of the plan. Inspecting a stage
// prefix is how intermediate tables (and their staged covariates) are
// reproduced exactly.
func (p *Pipeline) RunStages(plan domain.Plan, n int) (domain.Table, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if n < 1 || n > len(plan.Stages) {
		return nil, domain.ConfigError{Op: "run plan", Msg: fmt.Sprintf("stage count %d outside 1..%d", n, len(plan.Stages))}
	}

	sampler := p.newSampler(plan.Seed)
	table := domain.Table{}
	for i := 0; i < n; i++ {
		var err error
		table, err = applyStage(sampler, table, plan.Stages[i])
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
	}
	return table, nil
}

func applyStage(sampler NormalSampler, table domain.Table, stage domain.Stage) (domain.Table, error) {
	switch stage.Kind {
	case domain.StageAddCohorts:
		for _, spec := range stage.Cohorts {
			cohort, err := SimulateCohort(sampler, spec, table.MaxSubjectID()+1)
			if err != nil {
				return nil, err
			}
			table, err = AppendCohort(table, cohort)
			if err != nil {
				return nil, err
			}
		}
	case domain.StageAddCondition:
		var err error
		table, err = AppendCondition(sampler, table, stage.Condition, stage.GroupParams)
		if err != nil {
			return nil, err
		}
	default:
		return nil, domain.ConfigError{Op: "run plan", Msg: fmt.Sprintf("unknown stage kind %q", stage.Kind)}
	}

	if stage.Covariate != nil {
		var err error
		table, err = AttachCovariate(sampler, table, *stage.Covariate)
		if err != nil {
			return nil, err
		}
	}
	return table, nil
}

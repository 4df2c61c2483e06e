package sim

import (
	"reflect"
	"testing"

	"studycore/pkg/domain"
)

func threeStagePlan() domain.Plan {
	return domain.Plan{
		Seed: 234634,
		Stages: []domain.Stage{
			{
				Kind:      domain.StageAddCohorts,
				Cohorts:   []domain.CohortSpec{hungrySpec(), notHungrySpec()},
				Covariate: &domain.NoiseSpec{Mean: 0.10, StdDev: 0.02},
			},
			{
				Kind: domain.StageAddCohorts,
				Cohorts: []domain.CohortSpec{
					{
						Group:    "superhungry",
						Subjects: 30,
						Conditions: []domain.ConditionSpec{
							{Condition: "cold", Params: domain.CellParams{Mean: 0.80, StdDev: 0.12}},
							{Condition: "warm", Params: domain.CellParams{Mean: 0.85, StdDev: 0.12}},
						},
					},
				},
				Covariate: &domain.NoiseSpec{Mean: 0.10, StdDev: 0.02},
			},
			{
				Kind:      domain.StageAddCondition,
				Condition: "frozen",
				GroupParams: map[domain.Group]domain.CellParams{
					"hungry":      {Mean: 0.30, StdDev: 0.14},
					"not_hungry":  {Mean: 0.25, StdDev: 0.14},
					"superhungry": {Mean: 0.40, StdDev: 0.14},
				},
			},
		},
	}
}

func TestPipelineRunIsDeterministic(t *testing.T) {
	plan := threeStagePlan()
	a, err := NewPipeline().Run(plan)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	b, err := NewPipeline().Run(plan)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("two runs of the same plan differ")
	}
}

func TestPipelineFullRunShape(t *testing.T) {
	table, err := NewPipeline().Run(threeStagePlan())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// 90 subjects x 3 conditions.
	if len(table) != 270 {
		t.Fatalf("row count %d, want 270", len(table))
	}
	subjects := table.Subjects()
	if len(subjects) != 90 {
		t.Fatalf("subject count %d, want 90", len(subjects))
	}
	for i, id := range subjects {
		if id != i+1 {
			t.Fatalf("subject ids not contiguous at position %d: %d", i, id)
		}
	}
	if !table.IsSortedBySubject() {
		t.Fatalf("table not sorted by subject")
	}

	// Balanced panel: every subject has exactly one row per condition.
	perSubject := make(map[int]map[domain.Condition]int)
	for _, row := range table {
		if perSubject[row.SubjectID] == nil {
			perSubject[row.SubjectID] = make(map[domain.Condition]int)
		}
		perSubject[row.SubjectID][row.Condition]++
	}
	for id, conds := range perSubject {
		if len(conds) != 3 {
			t.Fatalf("subject %d covers %d conditions", id, len(conds))
		}
		for cond, n := range conds {
			if n != 1 {
				t.Fatalf("subject %d has %d rows for %q", id, n, cond)
			}
		}
	}

	// Group and covariate invariance per subject.
	groupOf := make(map[int]domain.Group)
	covOf := make(map[int]float64)
	for _, row := range table {
		if prev, ok := groupOf[row.SubjectID]; ok && prev != row.Group {
			t.Fatalf("subject %d group changed", row.SubjectID)
		}
		groupOf[row.SubjectID] = row.Group
		if row.Covariate == nil {
			t.Fatalf("subject %d row lacks covariate", row.SubjectID)
		}
		if prev, ok := covOf[row.SubjectID]; ok && prev != *row.Covariate {
			t.Fatalf("subject %d covariate differs across rows", row.SubjectID)
		}
		covOf[row.SubjectID] = *row.Covariate
	}

	// Cohorts occupy contiguous identifier ranges in addition order.
	for id := 1; id <= 30; id++ {
		if groupOf[id] != "hungry" {
			t.Fatalf("subject %d group %q, want hungry", id, groupOf[id])
		}
	}
	for id := 31; id <= 60; id++ {
		if groupOf[id] != "not_hungry" {
			t.Fatalf("subject %d group %q, want not_hungry", id, groupOf[id])
		}
	}
	for id := 61; id <= 90; id++ {
		if groupOf[id] != "superhungry" {
			t.Fatalf("subject %d group %q, want superhungry", id, groupOf[id])
		}
	}
}

func TestPipelineStagePrefixesAreStable(t *testing.T) {
	plan := threeStagePlan()
	pipeline := NewPipeline()

	prefix, err := pipeline.RunStages(plan, 1)
	if err != nil {
		t.Fatalf("prefix run: %v", err)
	}
	full, err := pipeline.Run(plan)
	if err != nil {
		t.Fatalf("full run: %v", err)
	}

	// The covariate attached in stage one reflects only cold and warm; it
	// must appear unchanged in the full table even though frozen arrived
	// afterwards.
	prefixCov := make(map[int]float64)
	for _, row := range prefix {
		prefixCov[row.SubjectID] = *row.Covariate
	}
	for _, row := range full {
		if row.SubjectID > 60 {
			continue
		}
		if *row.Covariate != prefixCov[row.SubjectID] {
			t.Fatalf("subject %d covariate drifted between prefix and full run", row.SubjectID)
		}
	}

	// A prefix is exactly the table the full pipeline had at that point:
	// same subjects, same conditions, same outcomes for shared rows.
	prefixRows := make(map[[2]any]float64)
	for _, row := range prefix {
		prefixRows[[2]any{row.SubjectID, row.Condition}] = row.Outcome
	}
	for _, row := range full {
		if row.SubjectID > 60 || row.Condition == "frozen" {
			continue
		}
		if got, ok := prefixRows[[2]any{row.SubjectID, row.Condition}]; !ok || got != row.Outcome {
			t.Fatalf("outcome for subject %d %q differs from prefix", row.SubjectID, row.Condition)
		}
	}
}

func TestPipelineRunStagesValidation(t *testing.T) {
	plan := threeStagePlan()
	pipeline := NewPipeline()

	if _, err := pipeline.RunStages(plan, 0); !isConfigError(err) {
		t.Fatalf("zero stages: %v", err)
	}
	if _, err := pipeline.RunStages(plan, 4); !isConfigError(err) {
		t.Fatalf("too many stages: %v", err)
	}

	// Plan validation happens before any sampler is constructed.
	bad := threeStagePlan()
	bad.Stages[0].Cohorts[0].Subjects = 0
	guarded := NewPipelineWithSampler(func(seed uint64) NormalSampler {
		t.Fatalf("sampler constructed for invalid plan")
		return nil
	})
	if _, err := guarded.Run(bad); !isConfigError(err) {
		t.Fatalf("invalid plan: %v", err)
	}
}

func TestPipelineSamplerSeam(t *testing.T) {
	var seeds []uint64
	pipeline := NewPipelineWithSampler(func(seed uint64) NormalSampler {
		seeds = append(seeds, seed)
		return NewSource(seed)
	})
	if _, err := pipeline.Run(threeStagePlan()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(seeds) != 1 || seeds[0] != 234634 {
		t.Fatalf("sampler seeded %v, want one seeding with 234634", seeds)
	}
}

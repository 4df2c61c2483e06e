package hunger

import (
	"context"
	"math"
	"strings"
	"testing"

	"studycore/internal/core"
	"studycore/pkg/studyapi"
)

func TestObservationsLongTemplate(t *testing.T) {
	ctx := context.Background()
	svc, study, run := newStudyService(t)

	template, ok := svc.ResolveStudyTemplate("hunger/observations_long@v1")
	if !ok {
		t.Fatalf("template not resolvable")
	}

	result, paramErrs, err := template.Run(ctx, map[string]any{"run_id": run.ID}, core.StudyScope{Requestor: "analyst"}, core.FormatJSON)
	if err != nil {
		t.Fatalf("run template: %v", err)
	}
	if len(paramErrs) != 0 {
		t.Fatalf("unexpected parameter errors: %+v", paramErrs)
	}
	if result.Format != core.FormatJSON {
		t.Fatalf("expected stamped format, got %q", result.Format)
	}
	if len(result.Rows) != len(run.Observations) {
		t.Fatalf("expected %d rows, got %d", len(run.Observations), len(result.Rows))
	}
	if len(result.Schema) != 5 {
		t.Fatalf("unexpected schema: %+v", result.Schema)
	}
	if result.Metadata["run_id"] != run.ID || result.Metadata["study_id"] != study.ID {
		t.Fatalf("unexpected metadata: %+v", result.Metadata)
	}
	if result.Metadata["stages_applied"] != 3 {
		t.Fatalf("unexpected stages_applied: %v", result.Metadata["stages_applied"])
	}

	first := result.Rows[0]
	obs := run.Observations[0]
	if first["subject_id"] != obs.SubjectID || first["condition"] != string(obs.Condition) || first["group"] != string(obs.Group) {
		t.Fatalf("first row mismatch: %+v vs %+v", first, obs)
	}
	if first["outcome"] != obs.Outcome || first["covariate"] != *obs.Covariate {
		t.Fatalf("first row values mismatch: %+v vs %+v", first, obs)
	}

	byCode, _, err := template.Run(ctx, map[string]any{"study_code": study.Code}, core.StudyScope{}, core.FormatCSV)
	if err != nil {
		t.Fatalf("run by study code: %v", err)
	}
	if len(byCode.Rows) != len(run.Observations) {
		t.Fatalf("expected same table by code, got %d rows", len(byCode.Rows))
	}
}

func TestRunSelectionErrors(t *testing.T) {
	ctx := context.Background()
	svc, study, run := newStudyService(t)

	template, ok := svc.ResolveStudyTemplate("hunger/observations_long@v1")
	if !ok {
		t.Fatalf("template not resolvable")
	}

	if _, _, err := template.Run(ctx, map[string]any{"run_id": run.ID, "study_code": study.Code}, core.StudyScope{}, core.FormatJSON); err == nil ||
		!strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected mutual exclusion error, got %v", err)
	}
	if _, _, err := template.Run(ctx, nil, core.StudyScope{}, core.FormatJSON); err == nil ||
		!strings.Contains(err.Error(), "one of run_id or study_code") {
		t.Fatalf("expected missing selector error, got %v", err)
	}
	if _, _, err := template.Run(ctx, map[string]any{"run_id": "ghost"}, core.StudyScope{}, core.FormatJSON); err == nil ||
		!strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected unknown run error, got %v", err)
	}
	if _, _, err := template.Run(ctx, map[string]any{"study_code": "GHOST-1"}, core.StudyScope{}, core.FormatJSON); err == nil ||
		!strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected unknown study error, got %v", err)
	}

	idle, _, err := svc.CreateStudy(ctx, core.Study{Code: "IDLE-1", Title: "Never executed", Plan: Plan()})
	if err != nil {
		t.Fatalf("create idle study: %v", err)
	}
	if _, _, err := template.Run(ctx, map[string]any{"study_code": idle.Code}, core.StudyScope{}, core.FormatJSON); err == nil ||
		!strings.Contains(err.Error(), "has no runs") {
		t.Fatalf("expected run-free study error, got %v", err)
	}

	_, paramErrs, err := template.Run(ctx, map[string]any{"run": run.ID}, core.StudyScope{}, core.FormatJSON)
	if err != nil {
		t.Fatalf("undeclared parameters must not be an operation error, got %v", err)
	}
	if len(paramErrs) != 1 || paramErrs[0].Name != "run" {
		t.Fatalf("expected undeclared parameter rejection, got %+v", paramErrs)
	}
}

func TestStudyCodePicksNewestRun(t *testing.T) {
	ctx := context.Background()
	svc, study, _ := newStudyService(t)
	second, _, err := svc.RunStudy(ctx, study.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	template, _ := svc.ResolveStudyTemplate("hunger/observations_long@v1")
	result, _, err := template.Run(ctx, map[string]any{"study_code": study.Code}, core.StudyScope{}, core.FormatJSON)
	if err != nil {
		t.Fatalf("run by code: %v", err)
	}
	if result.Metadata["run_id"] != second.ID {
		t.Fatalf("expected newest run %s, got %v", second.ID, result.Metadata["run_id"])
	}
}

func TestScopeFiltersForeignStudies(t *testing.T) {
	ctx := context.Background()
	svc, study, run := newStudyService(t)

	for _, slug := range []string{"hunger/observations_long@v1", "hunger/subject_wide@v1", "hunger/cell_summary@v1"} {
		template, ok := svc.ResolveStudyTemplate(slug)
		if !ok {
			t.Fatalf("template %s not resolvable", slug)
		}
		denied, _, err := template.Run(ctx, map[string]any{"run_id": run.ID}, core.StudyScope{StudyIDs: []string{"other"}}, core.FormatJSON)
		if err != nil {
			t.Fatalf("%s: scoped run: %v", slug, err)
		}
		if len(denied.Rows) != 0 {
			t.Fatalf("%s: expected no rows outside scope, got %d", slug, len(denied.Rows))
		}
		allowed, _, err := template.Run(ctx, map[string]any{"run_id": run.ID}, core.StudyScope{StudyIDs: []string{study.ID}}, core.FormatJSON)
		if err != nil {
			t.Fatalf("%s: in-scope run: %v", slug, err)
		}
		if len(allowed.Rows) == 0 {
			t.Fatalf("%s: expected rows inside scope", slug)
		}
	}
}

func TestSubjectWideTemplate(t *testing.T) {
	ctx := context.Background()
	svc, _, run := newStudyService(t)

	template, ok := svc.ResolveStudyTemplate("hunger/subject_wide@v1")
	if !ok {
		t.Fatalf("template not resolvable")
	}

	result, paramErrs, err := template.Run(ctx, map[string]any{"run_id": run.ID}, core.StudyScope{}, core.FormatCSV)
	if err != nil {
		t.Fatalf("run template: %v", err)
	}
	if len(paramErrs) != 0 {
		t.Fatalf("unexpected parameter errors: %+v", paramErrs)
	}
	if len(result.Rows) != 90 {
		t.Fatalf("expected one row per subject, got %d", len(result.Rows))
	}
	if len(result.Schema) != 7 {
		t.Fatalf("expected 7 columns, got %+v", result.Schema)
	}
	if result.Schema[len(result.Schema)-1].Name != MeanOutcomeColumn {
		t.Fatalf("expected trailing %s column, got %+v", MeanOutcomeColumn, result.Schema)
	}

	row := result.Rows[0]
	if row["subject_id"] != 1 || row["group"] != string(GroupHungry) {
		t.Fatalf("unexpected first row: %+v", row)
	}
	cold := row["outcome_cold"].(float64)
	warm := row["outcome_warm"].(float64)
	frozen := row["outcome_frozen"].(float64)
	mean := row[MeanOutcomeColumn].(float64)
	if math.Abs(mean-(cold+warm+frozen)/3) > 1e-12 {
		t.Fatalf("row mean %v does not match cells %v %v %v", mean, cold, warm, frozen)
	}
	if _, ok := row["covariate"].(float64); !ok {
		t.Fatalf("expected covariate cell, got %+v", row)
	}

	bare, _, err := template.Run(ctx, map[string]any{"run_id": run.ID, "row_mean": false}, core.StudyScope{}, core.FormatJSON)
	if err != nil {
		t.Fatalf("run without row mean: %v", err)
	}
	if len(bare.Schema) != 6 {
		t.Fatalf("expected 6 columns without row mean, got %+v", bare.Schema)
	}
	if _, ok := bare.Rows[0][MeanOutcomeColumn]; ok {
		t.Fatalf("row mean present despite row_mean=false: %+v", bare.Rows[0])
	}
}

func TestSubjectWideFillPolicy(t *testing.T) {
	ctx := context.Background()
	svc := core.NewInMemoryService(core.NewRulesEngine())
	if _, err := svc.InstallModule(New()); err != nil {
		t.Fatalf("install module: %v", err)
	}
	study, _, err := svc.CreateStudy(ctx, core.Study{Code: "RAGGED-1", Title: "Ragged table"})
	if err != nil {
		t.Fatalf("create study: %v", err)
	}
	cov := 0.12
	ragged := core.Table{
		{SubjectID: 1, Condition: ConditionCold, Group: GroupHungry, Outcome: 0.5, Covariate: &cov},
		{SubjectID: 1, Condition: ConditionWarm, Group: GroupHungry, Outcome: 0.7, Covariate: &cov},
		{SubjectID: 2, Condition: ConditionCold, Group: GroupHungry, Outcome: 0.6, Covariate: &cov},
	}
	var run core.Run
	if _, err := svc.Store().RunInTransaction(ctx, func(tx core.Transaction) error {
		var txErr error
		run, txErr = tx.CreateRun(core.Run{StudyID: study.ID, Observations: ragged})
		return txErr
	}); err != nil {
		t.Fatalf("persist ragged run: %v", err)
	}

	template, ok := svc.ResolveStudyTemplate("hunger/subject_wide@v1")
	if !ok {
		t.Fatalf("template not resolvable")
	}

	if _, _, err := template.Run(ctx, map[string]any{"run_id": run.ID}, core.StudyScope{}, core.FormatJSON); err == nil ||
		!strings.Contains(err.Error(), "lacks condition") {
		t.Fatalf("expected reject policy error, got %v", err)
	}

	result, _, err := template.Run(ctx, map[string]any{"run_id": run.ID, "fill": "nan"}, core.StudyScope{}, core.FormatJSON)
	if err != nil {
		t.Fatalf("run with nan fill: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	complete := result.Rows[0]
	if mean := complete[MeanOutcomeColumn].(float64); math.Abs(mean-0.6) > 1e-12 {
		t.Fatalf("unexpected complete-row mean %v", mean)
	}
	partial := result.Rows[1]
	if _, ok := partial["outcome_warm"]; ok {
		t.Fatalf("missing cell must be omitted, got %+v", partial)
	}
	if mean := partial[MeanOutcomeColumn].(float64); math.Abs(mean-0.6) > 1e-12 {
		t.Fatalf("row mean must skip missing cells, got %v", mean)
	}

	_, paramErrs, err := template.Run(ctx, map[string]any{"run_id": run.ID, "fill": "bogus"}, core.StudyScope{}, core.FormatJSON)
	if err != nil {
		t.Fatalf("enum rejection must not be an operation error, got %v", err)
	}
	if len(paramErrs) != 1 || !strings.Contains(paramErrs[0].Message, "one of") {
		t.Fatalf("expected enum rejection, got %+v", paramErrs)
	}
}

func TestCellSummaryTemplate(t *testing.T) {
	ctx := context.Background()
	svc, _, run := newStudyService(t)

	template, ok := svc.ResolveStudyTemplate("hunger/cell_summary@v1")
	if !ok {
		t.Fatalf("template not resolvable")
	}

	result, paramErrs, err := template.Run(ctx, map[string]any{"run_id": run.ID}, core.StudyScope{}, core.FormatJSON)
	if err != nil {
		t.Fatalf("run template: %v", err)
	}
	if len(paramErrs) != 0 {
		t.Fatalf("unexpected parameter errors: %+v", paramErrs)
	}
	if len(result.Rows) != 9 {
		t.Fatalf("expected 9 cells, got %d", len(result.Rows))
	}

	wantOrder := []struct {
		group     core.Group
		condition core.Condition
	}{
		{GroupHungry, ConditionCold},
		{GroupHungry, ConditionWarm},
		{GroupHungry, ConditionFrozen},
		{GroupNotHungry, ConditionCold},
		{GroupNotHungry, ConditionWarm},
		{GroupNotHungry, ConditionFrozen},
		{GroupSuperhungry, ConditionCold},
		{GroupSuperhungry, ConditionWarm},
		{GroupSuperhungry, ConditionFrozen},
	}
	for i, want := range wantOrder {
		row := result.Rows[i]
		if row["group"] != string(want.group) || row["condition"] != string(want.condition) {
			t.Fatalf("cell %d: expected %s/%s, got %+v", i, want.group, want.condition, row)
		}
		if row["n"] != CohortSize {
			t.Fatalf("cell %d: expected n=%d, got %v", i, CohortSize, row["n"])
		}
	}

	hungryCold := result.Rows[0]
	mean := hungryCold["mean"].(float64)
	if math.Abs(mean-0.60) > 0.1 {
		t.Fatalf("hungry/cold mean %v too far from 0.60", mean)
	}
	sd := hungryCold["sd"].(float64)
	stderr := hungryCold["stderr"].(float64)
	if sd <= 0 {
		t.Fatalf("expected positive sd, got %v", sd)
	}
	if math.Abs(stderr-sd/math.Sqrt(float64(CohortSize))) > 1e-12 {
		t.Fatalf("stderr %v inconsistent with sd %v", stderr, sd)
	}
}

func TestBindersRequireStore(t *testing.T) {
	binders := map[string]studyapi.Binder{
		"observations_long": bindObservationsLong,
		"subject_wide":      bindSubjectWide,
		"cell_summary":      bindCellSummary,
	}
	for name, bind := range binders {
		if _, err := bind(studyapi.Environment{}); err == nil {
			t.Fatalf("%s: expected store requirement error", name)
		}
	}
}

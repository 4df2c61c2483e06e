package integration

import (
	"context"
	"strings"
	"testing"

	"studycore/modules/hunger"

	core "studycore/internal/core"
	domain "studycore/pkg/domain"
)

func TestIntegrationStudyRunRelationships(t *testing.T) {
	ctx := context.Background()

	coreVariants := []struct {
		name string
		open func(t *testing.T, engine *core.RulesEngine) domain.PersistentStore
	}{
		{
			name: "memory-store",
			open: func(_ *testing.T, engine *core.RulesEngine) domain.PersistentStore {
				return core.NewMemoryStore(engine)
			},
		},
		{
			name: "sqlite-store",
			open: func(t *testing.T, engine *core.RulesEngine) domain.PersistentStore {
				path := t.TempDir() + "/relationships.db"
				store, err := core.NewSQLiteStore(path, engine)
				if err != nil {
					t.Fatalf("new sqlite store: %v", err)
				}
				return store
			},
		},
	}

	for _, variant := range coreVariants {
		t.Run(variant.name, func(t *testing.T) {
			engine := core.NewDefaultRulesEngine()
			store := variant.open(t, engine)
			svc := core.NewService(store, engine)

			study, res, err := svc.CreateStudy(ctx, domain.Study{
				Code:        "REL-1",
				Title:       "Relationship study",
				Description: "exercises study and run referential rules",
				Plan:        hunger.Plan(),
			})
			if err != nil {
				t.Fatalf("create study: %v", err)
			}
			if res.HasBlocking() {
				t.Fatalf("unexpected study violations: %+v", res.Violations)
			}

			if _, _, err := svc.CreateStudy(ctx, domain.Study{
				Code:  "REL-1",
				Title: "Duplicate code",
				Plan:  hunger.Plan(),
			}); err == nil {
				t.Fatalf("expected study creation to fail for duplicate code")
			}

			if _, _, err := svc.RunStudy(ctx, "missing-study"); err == nil {
				t.Fatalf("expected run to fail for missing study")
			}

			run, res, err := svc.RunStudy(ctx, study.ID)
			if err != nil {
				t.Fatalf("run study: %v", err)
			}
			if res.HasBlocking() {
				t.Fatalf("unexpected run violations: %+v", res.Violations)
			}
			if run.StagesApplied != len(study.Plan.Stages) {
				t.Fatalf("expected %d stages applied, got %d", len(study.Plan.Stages), run.StagesApplied)
			}
			if got := len(run.Observations); got != 270 {
				t.Fatalf("expected full plan to yield 270 observations, got %d", got)
			}

			partial, res, err := svc.RunStudyStages(ctx, study.ID, 1)
			if err != nil {
				t.Fatalf("run study stages: %v", err)
			}
			if res.HasBlocking() {
				t.Fatalf("unexpected partial run violations: %+v", res.Violations)
			}
			if partial.StagesApplied != 1 {
				t.Fatalf("expected 1 stage applied, got %d", partial.StagesApplied)
			}
			if got := len(partial.Observations); got != 120 {
				t.Fatalf("expected stage one to yield 120 observations, got %d", got)
			}

			annotated, res, err := svc.AnnotateRun(ctx, run.ID, "baseline generation")
			if err != nil {
				t.Fatalf("annotate run: %v", err)
			}
			if res.HasBlocking() {
				t.Fatalf("unexpected annotate violations: %+v", res.Violations)
			}
			if annotated.Note != "baseline generation" {
				t.Fatalf("expected note persisted, got %q", annotated.Note)
			}
			if stored, ok := svc.GetRun(run.ID); !ok || stored.Note != "baseline generation" {
				t.Fatalf("expected stored run to carry note, got %+v ok=%v", stored, ok)
			}

			if _, _, err := svc.AnnotateRun(ctx, "missing-run", "nope"); err == nil {
				t.Fatalf("expected annotate to fail for missing run")
			}

			if _, err := svc.DeleteStudy(ctx, study.ID); err == nil {
				t.Fatalf("expected study delete to fail while runs exist")
			} else if !strings.Contains(err.Error(), "still referenced") {
				t.Fatalf("expected referential error, got %v", err)
			}

			// Preview never persists; run count stays at two.
			if _, err := svc.PreviewPlan(ctx, hunger.Plan()); err != nil {
				t.Fatalf("preview plan: %v", err)
			}
			runs := svc.ListRunsForStudy(study.ID)
			if len(runs) != 2 {
				t.Fatalf("expected 2 persisted runs, got %d", len(runs))
			}
			// Listing is ordered by creation, oldest first.
			if runs[0].ID != run.ID || runs[1].ID != partial.ID {
				if !runs[0].CreatedAt.Equal(runs[1].CreatedAt) {
					t.Fatalf("expected runs ordered by creation, got %s then %s", runs[0].ID, runs[1].ID)
				}
			}

			if res, err := svc.DeleteRun(ctx, run.ID); err != nil {
				t.Fatalf("delete run: %v", err)
			} else if res.HasBlocking() {
				t.Fatalf("unexpected run delete violations: %+v", res.Violations)
			}

			if _, err := svc.DeleteRun(ctx, run.ID); err == nil {
				t.Fatalf("expected second delete of run to fail")
			}

			if _, err := svc.DeleteStudy(ctx, study.ID); err == nil {
				t.Fatalf("expected study delete to fail while partial run exists")
			}

			if res, err := svc.DeleteRun(ctx, partial.ID); err != nil {
				t.Fatalf("delete partial run: %v", err)
			} else if res.HasBlocking() {
				t.Fatalf("unexpected partial delete violations: %+v", res.Violations)
			}

			if res, err := svc.DeleteStudy(ctx, study.ID); err != nil {
				t.Fatalf("delete study: %v", err)
			} else if res.HasBlocking() {
				t.Fatalf("unexpected study delete violations: %+v", res.Violations)
			}

			if _, ok := svc.FindStudyByCode("REL-1"); ok {
				t.Fatalf("expected study lookup to miss after delete")
			}

			// The freed code is reusable once the original study is gone.
			if _, _, err := svc.CreateStudy(ctx, domain.Study{
				Code:  "REL-1",
				Title: "Replacement study",
				Plan:  hunger.Plan(),
			}); err != nil {
				t.Fatalf("recreate study: %v", err)
			}
		})
	}
}

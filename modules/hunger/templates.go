package hunger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"studycore/internal/core"
	"studycore/internal/sim"
	"studycore/internal/stats"
	"studycore/pkg/studyapi"
)

// Template parameter names shared across the hunger templates.
const (
	paramRunID     = "run_id"
	paramStudyCode = "study_code"
	paramFill      = "fill"
	paramRowMean   = "row_mean"
)

func observationsLongTemplate() core.StudyTemplate {
	return core.StudyTemplate{Template: studyapi.Template{
		Key:         "observations_long",
		Version:     "v1",
		Title:       "Hunger observations (long)",
		Description: "One row per subject and condition from a persisted hunger run.",
		Layout:      studyapi.LayoutLong,
		Parameters:  runSelectionParameters(),
		Columns:     studyapi.LongColumns(),
		Metadata: studyapi.Metadata{
			Source: "hunger",
			Tags:   []string{"hunger", "long"},
		},
		OutputFormats: []studyapi.Format{studyapi.FormatJSON, studyapi.FormatCSV},
		Binder:        bindObservationsLong,
	}}
}

func subjectWideTemplate() core.StudyTemplate {
	parameters := append(runSelectionParameters(),
		studyapi.Parameter{
			Name:        paramFill,
			Type:        "string",
			Description: "policy for subjects missing a condition row",
			Enum:        []string{string(sim.FillReject), string(sim.FillNaN)},
			Default:     json.RawMessage(`"reject"`),
		},
		studyapi.Parameter{
			Name:        paramRowMean,
			Type:        "boolean",
			Description: "append the per-subject mean outcome column",
			Default:     json.RawMessage(`true`),
		},
	)
	return core.StudyTemplate{Template: studyapi.Template{
		Key:         "subject_wide",
		Version:     "v1",
		Title:       "Hunger subjects (wide)",
		Description: "One row per subject with an outcome column per condition and an optional row mean.",
		Layout:      studyapi.LayoutWide,
		Parameters:  parameters,
		Columns: []studyapi.Column{
			{Name: "subject_id", Type: "integer", Description: "stable subject identifier"},
			{Name: "group", Type: "string", Description: "between-subject group label"},
			{Name: "covariate", Type: "number", Description: "subject-level covariate"},
			{Name: MeanOutcomeColumn, Type: "number", Description: "mean outcome across the run's conditions"},
		},
		Metadata: studyapi.Metadata{
			Source: "hunger",
			Tags:   []string{"hunger", "wide"},
		},
		OutputFormats: []studyapi.Format{studyapi.FormatJSON, studyapi.FormatCSV},
		Binder:        bindSubjectWide,
	}}
}

func cellSummaryTemplate() core.StudyTemplate {
	return core.StudyTemplate{Template: studyapi.Template{
		Key:         "cell_summary",
		Version:     "v1",
		Title:       "Hunger cell summary",
		Description: "Descriptive statistics per group and condition cell of a persisted hunger run.",
		Layout:      studyapi.LayoutLong,
		Parameters:  runSelectionParameters(),
		Columns: []studyapi.Column{
			{Name: "group", Type: "string", Description: "between-subject group label"},
			{Name: "condition", Type: "string", Description: "within-subject condition label"},
			{Name: "n", Type: "integer", Description: "observations in the cell"},
			{Name: "mean", Type: "number", Description: "cell mean outcome"},
			{Name: "sd", Type: "number", Description: "sample standard deviation"},
			{Name: "stderr", Type: "number", Description: "standard error of the mean"},
		},
		Metadata: studyapi.Metadata{
			Source: "hunger",
			Tags:   []string{"hunger", "summary"},
		},
		OutputFormats: []studyapi.Format{studyapi.FormatJSON, studyapi.FormatCSV},
		Binder:        bindCellSummary,
	}}
}

func bindObservationsLong(env studyapi.Environment) (studyapi.Runner, error) {
	if env.Store == nil {
		return nil, errors.New("hunger: environment store is required")
	}
	now := clockFor(env)
	return func(_ context.Context, req studyapi.RunRequest) (studyapi.RunResult, error) {
		run, err := resolveRun(env.Store, req.Parameters)
		if err != nil {
			return studyapi.RunResult{}, err
		}
		table := run.Observations
		if !scopeAllows(req.Scope, run.StudyID) {
			table = nil
		}
		return studyapi.RunResult{
			Schema:      studyapi.LongColumns(),
			Rows:        studyapi.LongRows(table),
			Metadata:    runMetadata(run),
			GeneratedAt: now(),
		}, nil
	}, nil
}

func bindSubjectWide(env studyapi.Environment) (studyapi.Runner, error) {
	if env.Store == nil {
		return nil, errors.New("hunger: environment store is required")
	}
	now := clockFor(env)
	return func(_ context.Context, req studyapi.RunRequest) (studyapi.RunResult, error) {
		run, err := resolveRun(env.Store, req.Parameters)
		if err != nil {
			return studyapi.RunResult{}, err
		}
		table := run.Observations
		if !scopeAllows(req.Scope, run.StudyID) {
			table = nil
		}
		wide, err := sim.ReshapeLongToWide(table, fillPolicy(req.Parameters))
		if err != nil {
			return studyapi.RunResult{}, err
		}
		if rowMeanRequested(req.Parameters) {
			wide, err = sim.AggregateRowMean(wide, MeanOutcomeColumn, nil)
			if err != nil {
				return studyapi.RunResult{}, err
			}
		}
		return studyapi.RunResult{
			Schema:      studyapi.WideColumns(wide),
			Rows:        studyapi.WideRows(wide),
			Metadata:    runMetadata(run),
			GeneratedAt: now(),
		}, nil
	}, nil
}

func bindCellSummary(env studyapi.Environment) (studyapi.Runner, error) {
	if env.Store == nil {
		return nil, errors.New("hunger: environment store is required")
	}
	now := clockFor(env)
	return func(_ context.Context, req studyapi.RunRequest) (studyapi.RunResult, error) {
		run, err := resolveRun(env.Store, req.Parameters)
		if err != nil {
			return studyapi.RunResult{}, err
		}
		table := run.Observations
		if !scopeAllows(req.Scope, run.StudyID) {
			table = nil
		}
		cells := stats.Summarize(table)
		rows := make([]studyapi.Row, 0, len(cells))
		for _, cell := range cells {
			rows = append(rows, studyapi.Row{
				"group":     string(cell.Group),
				"condition": string(cell.Condition),
				"n":         cell.N,
				"mean":      cell.Mean,
				"sd":        cell.SD,
				"stderr":    cell.StdErr,
			})
		}
		return studyapi.RunResult{
			Schema:      cellSummaryTemplate().Columns,
			Rows:        rows,
			Metadata:    runMetadata(run),
			GeneratedAt: now(),
		}, nil
	}, nil
}

func runSelectionParameters() []studyapi.Parameter {
	return []studyapi.Parameter{
		{
			Name:        paramRunID,
			Type:        "string",
			Description: "identifier of the persisted run to read",
		},
		{
			Name:        paramStudyCode,
			Type:        "string",
			Description: "study code whose newest run is read when run_id is absent",
		},
	}
}

// resolveRun locates the persisted run a template invocation addresses:
// either directly by run id, or the newest run of the study with the given
// code. Exactly one selector must be supplied.
func resolveRun(store core.PersistentStore, params map[string]any) (core.Run, error) {
	runID, _ := params[paramRunID].(string)
	code, _ := params[paramStudyCode].(string)
	switch {
	case runID != "" && code != "":
		return core.Run{}, fmt.Errorf("hunger: parameters %s and %s are mutually exclusive", paramRunID, paramStudyCode)
	case runID != "":
		run, ok := store.GetRun(runID)
		if !ok {
			return core.Run{}, core.ErrNotFound{Entity: core.EntityRun, ID: runID}
		}
		return run, nil
	case code != "":
		study, ok := store.FindStudyByCode(code)
		if !ok {
			return core.Run{}, core.ErrNotFound{Entity: core.EntityStudy, ID: code}
		}
		runs := store.ListRunsForStudy(study.ID)
		if len(runs) == 0 {
			return core.Run{}, fmt.Errorf("hunger: study %s has no runs", code)
		}
		latest := runs[0]
		for _, run := range runs[1:] {
			if run.CreatedAt.After(latest.CreatedAt) {
				latest = run
			}
		}
		return latest, nil
	default:
		return core.Run{}, fmt.Errorf("hunger: one of %s or %s is required", paramRunID, paramStudyCode)
	}
}

// scopeAllows reports whether a non-empty study scope covers the run's study.
func scopeAllows(scope studyapi.Scope, studyID string) bool {
	if len(scope.StudyIDs) == 0 {
		return true
	}
	for _, id := range scope.StudyIDs {
		if id == studyID {
			return true
		}
	}
	return false
}

func runMetadata(run core.Run) map[string]any {
	return map[string]any{
		"study_id":       run.StudyID,
		"run_id":         run.ID,
		"seed":           run.Seed,
		"stages_applied": run.StagesApplied,
	}
}

func fillPolicy(params map[string]any) sim.FillPolicy {
	if v, ok := params[paramFill].(string); ok && v != "" {
		return sim.FillPolicy(v)
	}
	return sim.FillReject
}

func rowMeanRequested(params map[string]any) bool {
	if v, ok := params[paramRowMean].(bool); ok {
		return v
	}
	return true
}

func clockFor(env studyapi.Environment) func() time.Time {
	if env.Now != nil {
		return env.Now
	}
	return time.Now
}

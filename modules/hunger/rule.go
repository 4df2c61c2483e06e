package hunger

import (
	"context"
	"fmt"

	"studycore/internal/core"
)

// NewCovariatePresenceRule returns the module rule warning when a run over
// hunger cohorts carries subjects without a baseline covariate. Every cohort
// stage of the shipped plan attaches the covariate, so bare subjects mean the
// plan was edited or replayed without its attachment steps.
func NewCovariatePresenceRule() core.Rule {
	return covariatePresenceRule{}
}

type covariatePresenceRule struct{}

func (covariatePresenceRule) Name() string { return "hunger_covariate_present" }

func (covariatePresenceRule) Evaluate(_ context.Context, _ core.TransactionView, changes []core.Change) (core.Result, error) {
	res := core.Result{}
	known := groups()
	for _, change := range changes {
		if change.Entity != core.EntityRun || change.After == nil {
			continue
		}
		run, ok := change.After.(core.Run)
		if !ok || len(run.Observations) == 0 {
			continue
		}
		if !hungerTable(run.Observations, known) {
			continue
		}

		covered := make(map[int]bool)
		bare := 0
		for _, id := range run.Observations.Subjects() {
			covered[id] = false
		}
		for _, obs := range run.Observations {
			if obs.Covariate != nil {
				covered[obs.SubjectID] = true
			}
		}
		for _, done := range covered {
			if !done {
				bare++
			}
		}
		if bare == 0 {
			continue
		}
		res.Violations = append(res.Violations, core.Violation{
			Rule:     "hunger_covariate_present",
			Severity: core.SeverityWarn,
			Message:  fmt.Sprintf("%d of %d subjects have no baseline covariate", bare, len(covered)),
			Entity:   core.EntityRun,
			EntityID: run.ID,
		})
	}
	return res, nil
}

// hungerTable reports whether every group in the table belongs to the hunger
// study. Mixed or foreign tables are left to their own modules.
func hungerTable(table core.Table, known map[core.Group]struct{}) bool {
	for _, group := range table.Groups() {
		if _, ok := known[group]; !ok {
			return false
		}
	}
	return true
}

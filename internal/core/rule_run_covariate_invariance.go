package core

import (
	"context"
	"fmt"

	"studycore/pkg/domain"
)

// NewRunCovariateInvarianceRule returns the default in-transaction rule
// enforcing that a subject's covariate is a single per-subject value: every
// row of a subject either carries the same covariate or none at all.
func NewRunCovariateInvarianceRule() domain.Rule {
	return runCovariateInvarianceRule{}
}

type runCovariateInvarianceRule struct{}

func (runCovariateInvarianceRule) Name() string { return "run_covariate_invariance" }

func (runCovariateInvarianceRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, run := range changedRuns(changes) {
		attached := make(map[int]float64)
		missing := make(map[int]bool)
		flagged := make(map[int]bool)
		for _, obs := range run.Observations {
			if obs.Covariate == nil {
				missing[obs.SubjectID] = true
				continue
			}
			if prev, ok := attached[obs.SubjectID]; ok {
				if prev != *obs.Covariate && !flagged[obs.SubjectID] {
					flagged[obs.SubjectID] = true
					res.Violations = append(res.Violations, covariateViolation(run.ID,
						fmt.Sprintf("subject %d carries covariates %v and %v", obs.SubjectID, prev, *obs.Covariate)))
				}
				continue
			}
			attached[obs.SubjectID] = *obs.Covariate
		}
		for _, id := range run.Observations.Subjects() {
			if _, ok := attached[id]; ok && missing[id] && !flagged[id] {
				res.Violations = append(res.Violations, covariateViolation(run.ID,
					fmt.Sprintf("subject %d covariate attached on only some rows", id)))
			}
		}
	}
	return res, nil
}

func covariateViolation(runID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "run_covariate_invariance",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityRun,
		EntityID: runID,
	}
}

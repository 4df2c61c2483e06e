package core

import (
	"context"
	"fmt"

	"studycore/pkg/domain"
)

// changedRuns extracts the post-change run entities touched by a transaction.
func changedRuns(changes []domain.Change) []domain.Run {
	var runs []domain.Run
	for _, change := range changes {
		if change.Entity != domain.EntityRun || change.After == nil {
			continue
		}
		if run, ok := change.After.(domain.Run); ok {
			runs = append(runs, run)
		}
	}
	return runs
}

// NewRunSubjectIdentityRule returns the default in-transaction rule enforcing
// subject identity in generated tables: identifiers form a contiguous block
// starting at one and every subject belongs to exactly one group.
func NewRunSubjectIdentityRule() domain.Rule {
	return runSubjectIdentityRule{}
}

type runSubjectIdentityRule struct{}

func (runSubjectIdentityRule) Name() string { return "run_subject_identity" }

func (runSubjectIdentityRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, run := range changedRuns(changes) {
		if len(run.Observations) == 0 {
			continue
		}

		groups := make(map[int]domain.Group)
		min, max := 0, 0
		for _, obs := range run.Observations {
			if min == 0 || obs.SubjectID < min {
				min = obs.SubjectID
			}
			if obs.SubjectID > max {
				max = obs.SubjectID
			}
			if prev, ok := groups[obs.SubjectID]; ok {
				if prev != obs.Group {
					res.Violations = append(res.Violations, subjectIdentityViolation(run.ID,
						fmt.Sprintf("subject %d appears in groups %q and %q", obs.SubjectID, prev, obs.Group)))
				}
				continue
			}
			groups[obs.SubjectID] = obs.Group
		}

		if min != 1 {
			res.Violations = append(res.Violations, subjectIdentityViolation(run.ID,
				fmt.Sprintf("subject ids start at %d, want 1", min)))
		}
		if len(groups) != max-min+1 {
			res.Violations = append(res.Violations, subjectIdentityViolation(run.ID,
				fmt.Sprintf("subject ids not contiguous: %d subjects spanning %d..%d", len(groups), min, max)))
		}
	}
	return res, nil
}

func subjectIdentityViolation(runID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "run_subject_identity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityRun,
		EntityID: runID,
	}
}

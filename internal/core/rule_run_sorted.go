package core

import (
	"context"
	"fmt"

	"studycore/pkg/domain"
)

// NewRunSortedBySubjectRule returns the default in-transaction rule warning
// when stored observations are not ordered by ascending subject id. Ordering
// is a presentation guarantee rather than a correctness one, so the rule
// never blocks a commit.
func NewRunSortedBySubjectRule() domain.Rule {
	return runSortedBySubjectRule{}
}

type runSortedBySubjectRule struct{}

func (runSortedBySubjectRule) Name() string { return "run_sorted_by_subject" }

func (runSortedBySubjectRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, run := range changedRuns(changes) {
		if run.Observations.IsSortedBySubject() {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "run_sorted_by_subject",
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("run %q observations not sorted by subject id", run.ID),
			Entity:   domain.EntityRun,
			EntityID: run.ID,
		})
	}
	return res, nil
}

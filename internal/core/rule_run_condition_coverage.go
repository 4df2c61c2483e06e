package core

import (
	"context"
	"fmt"

	"studycore/pkg/domain"
)

// NewRunConditionCoverageRule returns the default in-transaction rule warning
// when a stored table is unbalanced: a subject lacking one of the table's
// conditions, or measured more than once under the same condition.
func NewRunConditionCoverageRule() domain.Rule {
	return runConditionCoverageRule{}
}

type runConditionCoverageRule struct{}

func (runConditionCoverageRule) Name() string { return "run_condition_coverage" }

func (runConditionCoverageRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, run := range changedRuns(changes) {
		conditions := run.Observations.Conditions()
		counts := make(map[int]map[domain.Condition]int)
		for _, obs := range run.Observations {
			if counts[obs.SubjectID] == nil {
				counts[obs.SubjectID] = make(map[domain.Condition]int, len(conditions))
			}
			counts[obs.SubjectID][obs.Condition]++
		}
		for _, id := range run.Observations.Subjects() {
			for _, cond := range conditions {
				switch n := counts[id][cond]; {
				case n == 0:
					res.Violations = append(res.Violations, coverageViolation(run.ID,
						fmt.Sprintf("subject %d missing condition %q", id, cond)))
				case n > 1:
					res.Violations = append(res.Violations, coverageViolation(run.ID,
						fmt.Sprintf("subject %d measured %d times under condition %q", id, n, cond)))
				}
			}
		}
	}
	return res, nil
}

func coverageViolation(runID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "run_condition_coverage",
		Severity: domain.SeverityWarn,
		Message:  message,
		Entity:   domain.EntityRun,
		EntityID: runID,
	}
}

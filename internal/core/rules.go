package core

import "studycore/pkg/domain"

type (
	// Rule aliases domain.Rule for module authors registering policies.
	Rule = domain.Rule
	// RulesEngine aliases domain.RulesEngine orchestrating rule evaluation.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

// NewRulesEngine constructs an empty engine instance.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set
// guarding generated run tables.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewRunSubjectIdentityRule())
	engine.Register(NewRunCovariateInvarianceRule())
	engine.Register(NewRunConditionCoverageRule())
	engine.Register(NewRunSortedBySubjectRule())
	return engine
}

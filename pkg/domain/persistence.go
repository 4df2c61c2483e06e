package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateStudy(Study) (Study, error)
	UpdateStudy(id string, mutator func(*Study) error) (Study, error)
	DeleteStudy(id string) error
	CreateRun(Run) (Run, error)
	UpdateRun(id string, mutator func(*Run) error) (Run, error)
	DeleteRun(id string) error
	FindStudy(id string) (Study, bool)
	FindRun(id string) (Run, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListStudies() []Study
	ListRuns() []Run
	FindStudy(id string) (Study, bool)
	FindRun(id string) (Run, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetStudy(id string) (Study, bool)
	FindStudyByCode(code string) (Study, bool)
	ListStudies() []Study
	GetRun(id string) (Run, bool)
	ListRuns() []Run
	ListRunsForStudy(studyID string) []Run
}

// Package domain defines the core persistent entities, table value types, and
// rule evaluation primitives used by studycore.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityStudy identifies a study record.
	EntityStudy EntityType = "study"
	// EntityRun identifies a generated run record.
	EntityRun EntityType = "run"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Study is a named, reproducible generation recipe. The plan captures every
// decision needed to regenerate its tables from scratch.
type Study struct {
	Base
	Code        string `json:"code"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Plan        Plan   `json:"plan"`
}

// Run records one executed generation of a study plan, possibly a prefix of
// its stages. The stored table is the authoritative artifact; it is never
// regenerated in place.
type Run struct {
	Base
	StudyID       string `json:"study_id"`
	Seed          uint64 `json:"seed"`
	StagesApplied int    `json:"stages_applied"`
	Observations  Table  `json:"observations"`
	Note          string `json:"note,omitempty"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action identifies the kind of mutation captured in a Change record.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking reports whether any violation carries blocking severity.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// Clone returns a deep copy of the study.
func (s Study) Clone() Study {
	out := s
	out.Plan = s.Plan.Clone()
	return out
}

// Clone returns a deep copy of the run, including its table.
func (r Run) Clone() Run {
	out := r
	out.Observations = r.Observations.Clone()
	return out
}

// ErrNotFound is returned when a referenced entity does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

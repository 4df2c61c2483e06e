package core

import "studycore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Study              = domain.Study
	Run                = domain.Run
	Plan               = domain.Plan
	Stage              = domain.Stage
	CohortSpec         = domain.CohortSpec
	ConditionSpec      = domain.ConditionSpec
	CellParams         = domain.CellParams
	NoiseSpec          = domain.NoiseSpec
	Table              = domain.Table
	Observation        = domain.Observation
	Condition          = domain.Condition
	Group              = domain.Group
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	ErrNotFound        = domain.ErrNotFound
)

const (
	EntityStudy = domain.EntityStudy
	EntityRun   = domain.EntityRun
)

const (
	StageAddCohorts   = domain.StageAddCohorts
	StageAddCondition = domain.StageAddCondition
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

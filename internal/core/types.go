package core

import "annotcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Annotation         = domain.Annotation
	Target             = domain.Target
	Selector           = domain.Selector
	Permissions        = domain.Permissions
	NipsaUser          = domain.NipsaUser
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RuleView           = domain.RuleView
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
)

const (
	EntityAnnotation = domain.EntityAnnotation
	EntityNipsaUser  = domain.EntityNipsaUser
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
	ActionRead   = domain.ActionRead
)

package core

import (
	"annotcore/pkg/domain"
	"context"
	"fmt"
)

// NewPermissionIntegrityRule returns the in-transaction rule warning when a
// surviving annotation ends up with an empty admin list while still carrying
// an author. Such annotations can never have their permissions changed again
// except by the author, which is usually a client bug rather than intent.
func NewPermissionIntegrityRule() domain.Rule {
	return permissionIntegrityRule{}
}

type permissionIntegrityRule struct{}

func (permissionIntegrityRule) Name() string { return "permission_integrity" }

func (permissionIntegrityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityAnnotation || change.Action == domain.ActionDelete {
			continue
		}
		annotation, ok := change.After.(domain.Annotation)
		if !ok {
			continue
		}
		if annotation.User == "" || annotation.Permissions == nil {
			continue
		}
		if len(annotation.Permissions["admin"]) == 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "permission_integrity",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("annotation %s grants admin to nobody", annotation.ID),
				Entity:   domain.EntityAnnotation,
				EntityID: annotation.ID,
			})
		}
	}
	return res, nil
}

// NewDefaultRulesEngine constructs an engine with the built-in rules
// registered.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewAnnotationURIRule())
	engine.Register(NewPermissionIntegrityRule())
	return engine
}

package core

import (
	"annotcore/pkg/domain"
	"context"
	"fmt"
)

// NewAnnotationURIRule returns the default in-transaction rule blocking the
// creation of annotations that reference no document.
func NewAnnotationURIRule() domain.Rule {
	return annotationURIRule{}
}

type annotationURIRule struct{}

func (annotationURIRule) Name() string { return "annotation_uri" }

func (annotationURIRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityAnnotation || change.Action != domain.ActionCreate {
			continue
		}
		annotation, ok := change.After.(domain.Annotation)
		if !ok {
			continue
		}
		if annotation.URI == "" {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "annotation_uri",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("annotation %s references no document", annotation.ID),
				Entity:   domain.EntityAnnotation,
				EntityID: annotation.ID,
			})
		}
	}
	return res, nil
}

package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateAnnotation(Annotation) (Annotation, error)
	UpdateAnnotation(id string, mutator func(*Annotation) error) (Annotation, error)
	DeleteAnnotation(id string) error
	FindAnnotation(id string) (Annotation, bool)
	FlagUser(userID string) (NipsaUser, error)
	UnflagUser(userID string) error
	IsFlagged(userID string) bool
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListAnnotations() []Annotation
	FindAnnotation(id string) (Annotation, bool)
	ListFlaggedUsers() []NipsaUser
	IsFlagged(userID string) bool
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetAnnotation(id string) (Annotation, bool)
	ListAnnotations() []Annotation
	ListAnnotationsByUser(userID string) []Annotation
	ListFlaggedUsers() []NipsaUser
	IsFlagged(userID string) bool
}

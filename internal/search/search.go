// Package search defines the query model and index abstraction for the
// searchable view of annotations, with in-memory and Elasticsearch backends.
package search

import (
	"context"

	"annotcore/pkg/domain"
)

// DefaultPageSize is applied when a query does not specify a limit.
const DefaultPageSize = 20

// anyFields are the fields consulted by free-text ("any") matching.
var anyFields = []string{"quote", "tags", "text", "uri", "user"}

// NipsaClause controls how the moderation flag constrains a query.
type NipsaClause string

const (
	// NipsaOff applies no moderation constraint.
	NipsaOff NipsaClause = ""
	// NipsaHideFlagged hides flagged annotations except those owned by
	// Query.AllowUser. Every user-facing search carries this clause.
	NipsaHideFlagged NipsaClause = "hide"
	// NipsaOnlyFlagged restricts results to flagged annotations.
	NipsaOnlyFlagged NipsaClause = "flagged"
	// NipsaOnlyUnflagged restricts results to unflagged annotations.
	NipsaOnlyUnflagged NipsaClause = "unflagged"
)

// Term is a single field match constraint. Terms are ordered so repeated
// fields survive translation.
type Term struct {
	Field string
	Value string
}

// Query describes a search over the annotation index. The zero value matches
// everything with default paging.
type Query struct {
	From  int
	Size  int // 0 means DefaultPageSize, negative means unbounded
	Sort  string
	Order string
	Any   []string
	Terms []Term
	// User restricts results to annotations authored by this user.
	User  string
	Nipsa NipsaClause
	// AllowUser exempts this user's own annotations from NipsaHideFlagged.
	AllowUser string
}

// Results carries matching annotations plus the total match count before
// paging.
type Results struct {
	Rows  []domain.Annotation `json:"rows"`
	Total int64               `json:"total"`
}

// Index maintains the searchable view of annotations.
type Index interface {
	Index(ctx context.Context, annotation domain.Annotation) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query Query) (Results, error)
	BulkIndex(ctx context.Context, annotations []domain.Annotation) error
}

// UsersAnnotationsQuery returns a query for all of the given user's
// annotations, unconstrained by moderation state.
func UsersAnnotationsQuery(userID string) Query {
	return Query{User: userID, Size: -1}
}

// NipsadAnnotationsQuery returns a query for the user's flagged annotations.
func NipsadAnnotationsQuery(userID string) Query {
	return Query{User: userID, Size: -1, Nipsa: NipsaOnlyFlagged}
}

// NotNipsadAnnotationsQuery returns a query for the user's unflagged
// annotations.
func NotNipsadAnnotationsQuery(userID string) Query {
	return Query{User: userID, Size: -1, Nipsa: NipsaOnlyUnflagged}
}

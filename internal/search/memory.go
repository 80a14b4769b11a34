package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"annotcore/pkg/domain"
)

// MemoryIndex is an in-process Index used for tests and single-node
// deployments. Matching approximates the analyzed behavior of the
// Elasticsearch backend: exact matching for identifier-like fields,
// case-insensitive substring matching for prose.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]domain.Annotation
}

// NewMemoryIndex constructs an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]domain.Annotation)}
}

// Index stores or replaces the annotation document.
func (m *MemoryIndex) Index(_ context.Context, annotation domain.Annotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[annotation.ID] = annotation.Clone()
	return nil
}

// Delete removes the annotation document. Deleting an absent ID is a no-op.
func (m *MemoryIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

// BulkIndex stores or replaces all provided documents.
func (m *MemoryIndex) BulkIndex(_ context.Context, annotations []domain.Annotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, annotation := range annotations {
		m.docs[annotation.ID] = annotation.Clone()
	}
	return nil
}

// Search evaluates the query against the indexed documents.
func (m *MemoryIndex) Search(_ context.Context, query Query) (Results, error) {
	m.mu.RLock()
	matched := make([]domain.Annotation, 0, len(m.docs))
	for _, doc := range m.docs {
		if matches(doc, query) {
			matched = append(matched, doc.Clone())
		}
	}
	m.mu.RUnlock()

	sortAnnotations(matched, query.Sort, query.Order)
	total := int64(len(matched))

	from := query.From
	if from > len(matched) {
		from = len(matched)
	}
	matched = matched[from:]
	if size := pageSize(query, len(matched)); size < len(matched) {
		matched = matched[:size]
	}
	return Results{Rows: matched, Total: total}, nil
}

func matches(doc domain.Annotation, query Query) bool {
	if query.User != "" && doc.User != query.User {
		return false
	}
	switch query.Nipsa {
	case NipsaHideFlagged:
		if doc.NotInPublicSiteAreas && doc.User != query.AllowUser {
			return false
		}
	case NipsaOnlyFlagged:
		if !doc.NotInPublicSiteAreas {
			return false
		}
	case NipsaOnlyUnflagged:
		if doc.NotInPublicSiteAreas {
			return false
		}
	}
	for _, any := range query.Any {
		hit := false
		for _, field := range anyFields {
			if matchField(doc, field, any) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, term := range query.Terms {
		if !matchField(doc, term.Field, term.Value) {
			return false
		}
	}
	return true
}

func matchField(doc domain.Annotation, field, value string) bool {
	switch field {
	case "id":
		return doc.ID == value
	case "uri":
		return doc.URI == value
	case "user":
		return doc.User == value
	case "consumer":
		return doc.Consumer == value
	case "text":
		return containsFold(doc.Text, value)
	case "quote":
		return containsFold(doc.Quote, value)
	case "tags":
		for _, tag := range doc.Tags {
			if strings.EqualFold(tag, value) {
				return true
			}
		}
		return false
	default:
		extra, ok := doc.Extra[field]
		if !ok {
			return false
		}
		s, ok := extra.(string)
		return ok && containsFold(s, value)
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func sortAnnotations(docs []domain.Annotation, field, order string) {
	desc := order != "asc"
	sort.SliceStable(docs, func(i, j int) bool {
		var less bool
		switch field {
		case "created":
			less = docs[i].CreatedAt.Before(docs[j].CreatedAt)
		case "id":
			less = docs[i].ID < docs[j].ID
		case "uri":
			less = docs[i].URI < docs[j].URI
		case "user":
			less = docs[i].User < docs[j].User
		default: // updated
			less = docs[i].UpdatedAt.Before(docs[j].UpdatedAt)
		}
		if desc {
			return !less && !equalSortKey(docs[i], docs[j], field)
		}
		return less
	})
}

func equalSortKey(a, b domain.Annotation, field string) bool {
	switch field {
	case "created":
		return a.CreatedAt.Equal(b.CreatedAt)
	case "id":
		return a.ID == b.ID
	case "uri":
		return a.URI == b.URI
	case "user":
		return a.User == b.User
	default:
		return a.UpdatedAt.Equal(b.UpdatedAt)
	}
}

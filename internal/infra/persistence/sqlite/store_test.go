package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"annotcore/pkg/domain"
)

func TestStatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotations.db")

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateAnnotation(domain.Annotation{ID: "a1", URI: "https://example.com", User: "acct:alice@example.com"}); err != nil {
			return err
		}
		_, err := tx.FlagUser("acct:bob@example.com")
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	annotation, ok := reopened.GetAnnotation("a1")
	if !ok {
		t.Fatalf("annotation not rehydrated")
	}
	if annotation.URI != "https://example.com" || annotation.User != "acct:alice@example.com" {
		t.Fatalf("annotation fields lost: %+v", annotation)
	}
	if !reopened.IsFlagged("acct:bob@example.com") {
		t.Fatalf("moderation list not rehydrated")
	}
}

func TestFailedTransactionDoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotations.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()

	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateAnnotation(domain.Annotation{ID: "a1", URI: "https://example.com"}); err != nil {
			return err
		}
		return context.Canceled
	}); err == nil {
		t.Fatalf("expected error to propagate")
	}

	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed transaction wrote %d snapshot buckets", count)
	}
}

func TestDefaultPath(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "nested", "dir", "annotations.db"), nil)
	if err != nil {
		t.Fatalf("open with nested path: %v", err)
	}
	defer func() { _ = store.Close() }()
	if store.Path() == "" {
		t.Fatalf("path not recorded")
	}
}

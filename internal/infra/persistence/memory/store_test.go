package memory

import (
	"context"
	"testing"
	"time"

	"annotcore/pkg/domain"
)

func TestTransactionIsolationOnError(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.CreateAnnotation(Annotation{URI: "https://example.com"}); err != nil {
			return err
		}
		return context.Canceled
	})
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
	if got := len(store.ListAnnotations()); got != 0 {
		t.Fatalf("failed transaction leaked state: %d annotations", got)
	}
}

func TestCreateUpdateDeleteAnnotation(t *testing.T) {
	store := NewStore(nil)
	frozen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return frozen })

	var created Annotation
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		var err error
		created, err = tx.CreateAnnotation(Annotation{URI: "https://example.com", User: "acct:alice@example.com"})
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !created.CreatedAt.Equal(frozen) || !created.UpdatedAt.Equal(frozen) {
		t.Fatalf("timestamps not stamped: %+v", created)
	}

	later := frozen.Add(time.Hour)
	store.SetNowFunc(func() time.Time { return later })
	var updated Annotation
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateAnnotation(created.ID, func(a *Annotation) error {
			a.Text = "edited"
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Text != "edited" || !updated.UpdatedAt.Equal(later) {
		t.Fatalf("update not applied: %+v", updated)
	}
	if !updated.CreatedAt.Equal(frozen) {
		t.Fatalf("created timestamp must not move: %v", updated.CreatedAt)
	}

	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.DeleteAnnotation(created.ID)
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.GetAnnotation(created.ID); ok {
		t.Fatalf("annotation should be gone")
	}
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.DeleteAnnotation(created.ID)
	}); err == nil {
		t.Fatalf("deleting a missing annotation should fail")
	}
}

func TestFlagUnflagUser(t *testing.T) {
	store := NewStore(nil)
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		first, err := tx.FlagUser("acct:bob@example.com")
		if err != nil {
			return err
		}
		second, err := tx.FlagUser("acct:bob@example.com")
		if err != nil {
			return err
		}
		if !first.FlaggedAt.Equal(second.FlaggedAt) {
			t.Fatalf("re-flagging must be idempotent")
		}
		if !tx.IsFlagged("acct:bob@example.com") {
			t.Fatalf("flag not visible inside transaction")
		}
		return nil
	}); err != nil {
		t.Fatalf("flag: %v", err)
	}
	if !store.IsFlagged("acct:bob@example.com") {
		t.Fatalf("flag not committed")
	}
	if got := len(store.ListFlaggedUsers()); got != 1 {
		t.Fatalf("expected one flagged user, got %d", got)
	}

	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if err := tx.UnflagUser("acct:bob@example.com"); err != nil {
			return err
		}
		return tx.UnflagUser("acct:nobody@example.com")
	}); err != nil {
		t.Fatalf("unflag: %v", err)
	}
	if store.IsFlagged("acct:bob@example.com") {
		t.Fatalf("flag not removed")
	}
}

func TestExportImportStateRoundTrip(t *testing.T) {
	store := NewStore(nil)
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.CreateAnnotation(Annotation{ID: "a1", URI: "https://example.com"}); err != nil {
			return err
		}
		_, err := tx.FlagUser("acct:bob@example.com")
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snapshot := store.ExportState()
	restored := NewStore(nil)
	restored.ImportState(snapshot)

	if _, ok := restored.GetAnnotation("a1"); !ok {
		t.Fatalf("annotation lost in round trip")
	}
	if !restored.IsFlagged("acct:bob@example.com") {
		t.Fatalf("moderation list lost in round trip")
	}

	// Mutating the snapshot after import must not touch restored state.
	delete(snapshot.Annotations, "a1")
	if _, ok := restored.GetAnnotation("a1"); !ok {
		t.Fatalf("imported state aliases the snapshot")
	}
}

func TestMigrateSnapshotNormalises(t *testing.T) {
	snapshot := Snapshot{
		Annotations: map[string]Annotation{
			"wrong-key": {ID: "a1"},
			"orphan":    {},
		},
		NipsaUsers: map[string]NipsaUser{
			"stale": {UserID: "acct:bob@example.com"},
		},
	}
	store := NewStore(nil)
	store.ImportState(snapshot)

	if _, ok := store.GetAnnotation("a1"); !ok {
		t.Fatalf("annotation not re-keyed under its id")
	}
	if _, ok := store.GetAnnotation("wrong-key"); ok {
		t.Fatalf("stale key survived migration")
	}
	if got := len(store.ListAnnotations()); got != 1 {
		t.Fatalf("orphan record survived: %d annotations", got)
	}
	if !store.IsFlagged("acct:bob@example.com") {
		t.Fatalf("nipsa entry not re-keyed")
	}
}

func TestBlockingRuleAbortsCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockEverything{})
	store := NewStore(engine)

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateAnnotation(Annotation{URI: "https://example.com"})
		return err
	})
	if err == nil {
		t.Fatalf("expected rule violation")
	}
	if got := len(store.ListAnnotations()); got != 0 {
		t.Fatalf("blocked transaction committed: %d annotations", got)
	}
}

type blockEverything struct{}

func (blockEverything) Name() string { return "block_everything" }
func (blockEverything) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for range changes {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "block_everything",
			Severity: domain.SeverityBlock,
			Message:  "blocked",
		})
	}
	return res, nil
}

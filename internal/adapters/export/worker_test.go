package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"annotcore/internal/blob"
	"annotcore/internal/core"
	"annotcore/internal/infra/persistence/memory"
	"annotcore/internal/search"
	"annotcore/pkg/domain"
)

func newTestService(t *testing.T) *core.Service {
	t.Helper()
	return core.NewService(memory.NewStore(core.NewDefaultRulesEngine()), core.NewDefaultRulesEngine())
}

func seedAnnotations(t *testing.T, svc *core.Service, identity core.Identity, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, _, err := svc.CreateAnnotation(context.Background(), identity, domain.Annotation{
			URI:   fmt.Sprintf("https://example.com/doc-%d", i),
			Text:  fmt.Sprintf("note %d", i),
			Quote: "quoted passage",
			Tags:  []string{"export", "test"},
		})
		if err != nil {
			t.Fatalf("create annotation %d: %v", i, err)
		}
	}
}

func waitForJob(t *testing.T, w *Worker, id string) Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, ok := w.Get(id)
		if !ok {
			t.Fatalf("job %s vanished", id)
		}
		if record.Status == StatusSucceeded || record.Status == StatusFailed {
			return record
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", id)
	return Record{}
}

func TestWorkerExportsJSONLAndCSV(t *testing.T) {
	svc := newTestService(t)
	identity := core.Identity{User: "acct:alice@example.com", Consumer: "key-1"}
	seedAnnotations(t, svc, identity, 3)

	store := blob.NewMemory()
	worker := NewWorker(svc, store, nil)
	worker.Start()
	defer func() {
		if err := worker.Stop(context.Background()); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}()

	record, err := worker.Enqueue(context.Background(), Input{
		Formats:  []Format{FormatJSONL, FormatCSV, FormatJSONL},
		Identity: identity,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if record.Status != StatusQueued {
		t.Fatalf("expected queued status, got %s", record.Status)
	}
	if len(record.Formats) != 2 {
		t.Fatalf("duplicate formats should collapse, got %v", record.Formats)
	}

	done := waitForJob(t, worker, record.ID)
	if done.Status != StatusSucceeded {
		t.Fatalf("job failed: %s", done.Error)
	}
	if len(done.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(done.Artifacts))
	}
	if done.CompletedAt == nil {
		t.Fatalf("completed job must carry a completion time")
	}

	for _, artifact := range done.Artifacts {
		if artifact.Rows != 3 {
			t.Fatalf("artifact %s: expected 3 rows, got %d", artifact.Key, artifact.Rows)
		}
		info, rc, err := store.Get(context.Background(), artifact.Key)
		if err != nil {
			t.Fatalf("artifact %s missing from blob store: %v", artifact.Key, err)
		}
		body, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			t.Fatalf("read artifact: %v", err)
		}
		if info.Metadata["job"] != record.ID {
			t.Fatalf("artifact %s missing job metadata: %+v", artifact.Key, info.Metadata)
		}

		switch artifact.Format {
		case FormatJSONL:
			lines := strings.Split(strings.TrimSpace(string(body)), "\n")
			if len(lines) != 3 {
				t.Fatalf("expected 3 jsonl lines, got %d", len(lines))
			}
			var row domain.Annotation
			if err := json.Unmarshal([]byte(lines[0]), &row); err != nil {
				t.Fatalf("decode jsonl row: %v", err)
			}
			if row.User != identity.User {
				t.Fatalf("unexpected row user %q", row.User)
			}
		case FormatCSV:
			rows, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
			if err != nil {
				t.Fatalf("parse csv: %v", err)
			}
			if len(rows) != 4 {
				t.Fatalf("expected header plus 3 rows, got %d", len(rows))
			}
			if rows[0][0] != "id" || rows[0][1] != "uri" {
				t.Fatalf("unexpected csv header %v", rows[0])
			}
		}
	}
}

func TestWorkerExportRespectsModerationFilter(t *testing.T) {
	svc := newTestService(t)
	alice := core.Identity{User: "acct:alice@example.com", Consumer: "key-1"}
	bob := core.Identity{User: "acct:bob@example.com", Consumer: "key-1"}
	seedAnnotations(t, svc, alice, 2)
	seedAnnotations(t, svc, bob, 1)

	if _, err := svc.FlagUser(context.Background(), bob.User); err != nil {
		t.Fatalf("flag user: %v", err)
	}

	worker := NewWorker(svc, blob.NewMemory(), nil)
	worker.Start()
	defer func() { _ = worker.Stop(context.Background()) }()

	record, err := worker.Enqueue(context.Background(), Input{Formats: []Format{FormatJSONL}, Identity: alice})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForJob(t, worker, record.ID)
	if done.Status != StatusSucceeded {
		t.Fatalf("job failed: %s", done.Error)
	}
	if done.Artifacts[0].Rows != 2 {
		t.Fatalf("flagged author's annotations should be excluded, got %d rows", done.Artifacts[0].Rows)
	}
}

func TestWorkerExportFiltersByParams(t *testing.T) {
	svc := newTestService(t)
	identity := core.Identity{User: "acct:alice@example.com", Consumer: "key-1"}
	seedAnnotations(t, svc, identity, 3)

	worker := NewWorker(svc, blob.NewMemory(), nil)
	worker.Start()
	defer func() { _ = worker.Stop(context.Background()) }()

	params := url.Values{"uri": []string{"https://example.com/doc-1"}}
	record, err := worker.Enqueue(context.Background(), Input{Params: params, Formats: []Format{FormatCSV}, Identity: identity})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForJob(t, worker, record.ID)
	if done.Status != StatusSucceeded {
		t.Fatalf("job failed: %s", done.Error)
	}
	if done.Artifacts[0].Rows != 1 {
		t.Fatalf("expected 1 matching row, got %d", done.Artifacts[0].Rows)
	}
}

func TestWorkerEnqueueValidation(t *testing.T) {
	svc := newTestService(t)
	worker := NewWorker(svc, blob.NewMemory(), nil)

	if _, err := worker.Enqueue(context.Background(), Input{Formats: []Format{"parquet"}}); err == nil {
		t.Fatalf("unknown format must be rejected at enqueue time")
	}
	if _, err := NewWorker(nil, blob.NewMemory(), nil).Enqueue(context.Background(), Input{}); err == nil {
		t.Fatalf("missing searcher must be rejected")
	}
	if _, err := NewWorker(svc, nil, nil).Enqueue(context.Background(), Input{}); err == nil {
		t.Fatalf("missing blob store must be rejected")
	}
}

type failingSearcher struct{}

func (failingSearcher) SearchQuery(context.Context, search.Query) (search.Results, error) {
	return search.Results{}, fmt.Errorf("index unavailable")
}

func TestWorkerMarksFailedJobs(t *testing.T) {
	worker := NewWorker(failingSearcher{}, blob.NewMemory(), nil)
	worker.Start()
	defer func() { _ = worker.Stop(context.Background()) }()

	record, err := worker.Enqueue(context.Background(), Input{Formats: []Format{FormatJSONL}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForJob(t, worker, record.ID)
	if done.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", done.Status)
	}
	if !strings.Contains(done.Error, "search failed") {
		t.Fatalf("unexpected error %q", done.Error)
	}
}

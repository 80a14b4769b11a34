// Package export runs asynchronous exports of annotation search results,
// materializing them as JSONL or CSV artifacts in a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"annotcore/internal/blob"
	"annotcore/internal/core"
	"annotcore/internal/search"
)

// Format identifies an export output encoding.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// Status describes the lifecycle stage of an export job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Artifact describes a stored export output.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	Rows        int       `json:"rows"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks an export job and its resulting artifacts.
type Record struct {
	ID          string     `json:"id"`
	Params      url.Values `json:"params,omitempty"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	RequestedBy string     `json:"requested_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Input is an enqueue request.
type Input struct {
	Params   url.Values
	Formats  []Format
	Identity core.Identity
}

// Searcher is the slice of the annotation service the worker needs.
type Searcher interface {
	SearchQuery(ctx context.Context, query search.Query) (search.Results, error)
}

// Worker executes export jobs off a bounded queue, one at a time.
type Worker struct {
	searcher Searcher
	store    blob.Store
	logger   *zap.Logger

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id    string
	input Input
}

type rendered struct {
	artifact Artifact
	payload  []byte
}

// NewWorker constructs an export worker. logger may be nil.
func NewWorker(searcher Searcher, store blob.Store, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		searcher: searcher,
		store:    store,
		logger:   logger,
		queue:    make(chan task, 32),
		jobs:     make(map[string]*Record),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing queued jobs.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits until it drains or ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue schedules an export job and returns a snapshot of the queued record.
func (w *Worker) Enqueue(_ context.Context, input Input) (Record, error) {
	if w.searcher == nil {
		return Record{}, fmt.Errorf("export searcher not configured")
	}
	if w.store == nil {
		return Record{}, fmt.Errorf("export blob store not configured")
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSONL}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, f := range formats {
		if _, dup := seen[f]; dup {
			continue
		}
		switch f {
		case FormatJSONL, FormatCSV:
		default:
			return Record{}, fmt.Errorf("unsupported export format %s", f)
		}
		uniq = append(uniq, f)
		seen[f] = struct{}{}
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	record := Record{
		ID:          id,
		Params:      cloneValues(input.Params),
		Formats:     uniq,
		Status:      StatusQueued,
		RequestedBy: input.Identity.User,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	queued := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- task{id: id, input: input}:
	default:
		w.mu.Lock()
		delete(w.jobs, id)
		w.mu.Unlock()
		return Record{}, fmt.Errorf("export queue full")
	}

	w.logger.Info("export queued", zap.String("job", id), zap.String("user", input.Identity.User))
	return queued, nil
}

// Get returns a snapshot of the export record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

// List returns snapshots of all known export records.
func (w *Worker) List() []Record {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Record, 0, len(w.jobs))
	for _, record := range w.jobs {
		out = append(out, record.copy())
	}
	return out
}

func (w *Worker) process(t task) {
	w.setStatus(t.id, StatusRunning, "")

	query := search.BuildQuery(t.input.Params, t.input.Identity.User)
	if t.input.Params.Get("limit") == "" {
		// Exports default to the full result set, not a page of it.
		query.Size = -1
	}
	results, err := w.searcher.SearchQuery(w.ctx, query)
	if err != nil {
		w.fail(t.id, fmt.Sprintf("search failed: %v", err))
		return
	}

	record, ok := w.Get(t.id)
	if !ok {
		return
	}
	artifacts := make([]Artifact, 0, len(record.Formats))
	for _, format := range record.Formats {
		out, err := materialize(t.id, format, results)
		if err != nil {
			w.fail(t.id, err.Error())
			return
		}
		info, err := w.store.Put(w.ctx, out.artifact.Key, bytes.NewReader(out.payload), blob.PutOptions{
			ContentType: out.artifact.ContentType,
			Metadata:    map[string]string{"job": t.id, "format": string(format)},
		})
		if err != nil {
			w.fail(t.id, fmt.Sprintf("store artifact failed: %v", err))
			return
		}
		out.artifact.URL = info.URL
		if info.Size > 0 {
			out.artifact.SizeBytes = info.Size
		}
		artifacts = append(artifacts, out.artifact)
	}

	w.complete(t.id, artifacts)
	w.logger.Info("export completed", zap.String("job", t.id), zap.Int("artifacts", len(artifacts)))
}

func (w *Worker) setStatus(id string, status Status, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
	}
	w.mu.Unlock()
}

func (w *Worker) complete(id string, artifacts []Artifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.logger.Warn("export failed", zap.String("job", id), zap.String("reason", reason))
}

var csvColumns = []string{"id", "uri", "user", "text", "quote", "tags", "created", "updated"}

func materialize(jobID string, format Format, results search.Results) (rendered, error) {
	now := time.Now().UTC()
	switch format {
	case FormatJSONL:
		buf := &bytes.Buffer{}
		enc := json.NewEncoder(buf)
		for _, row := range results.Rows {
			if err := enc.Encode(row); err != nil {
				return rendered{}, fmt.Errorf("encode jsonl: %w", err)
			}
		}
		payload := buf.Bytes()
		return rendered{
			artifact: Artifact{
				Key:         fmt.Sprintf("exports/%s/annotations.jsonl", jobID),
				Format:      FormatJSONL,
				ContentType: "application/x-ndjson",
				SizeBytes:   int64(len(payload)),
				Rows:        len(results.Rows),
				CreatedAt:   now,
			},
			payload: payload,
		}, nil
	case FormatCSV:
		buf := &bytes.Buffer{}
		writer := csv.NewWriter(buf)
		if err := writer.Write(csvColumns); err != nil {
			return rendered{}, err
		}
		for _, row := range results.Rows {
			line := []string{
				row.ID,
				row.URI,
				row.User,
				row.Text,
				row.Quote,
				strings.Join(row.Tags, " "),
				row.CreatedAt.UTC().Format(time.RFC3339),
				row.UpdatedAt.UTC().Format(time.RFC3339),
			}
			if err := writer.Write(line); err != nil {
				return rendered{}, err
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return rendered{}, err
		}
		payload := buf.Bytes()
		return rendered{
			artifact: Artifact{
				Key:         fmt.Sprintf("exports/%s/annotations.csv", jobID),
				Format:      FormatCSV,
				ContentType: "text/csv",
				SizeBytes:   int64(len(payload)),
				Rows:        len(results.Rows),
				CreatedAt:   now,
			},
			payload: payload,
		}, nil
	default:
		return rendered{}, fmt.Errorf("unsupported export format %s", format)
	}
}

func (r Record) copy() Record {
	dup := r
	dup.Params = cloneValues(r.Params)
	dup.Formats = append([]Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), r.Artifacts...)
	}
	return dup
}

func cloneValues(in url.Values) url.Values {
	if in == nil {
		return nil
	}
	out := make(url.Values, len(in))
	for k, vs := range in {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

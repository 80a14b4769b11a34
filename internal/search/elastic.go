package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"annotcore/pkg/domain"
)

// esUnboundedSize caps unbounded queries at the Elasticsearch result window.
const esUnboundedSize = 10000

// ElasticConfig holds construction parameters for the Elasticsearch index.
type ElasticConfig struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
	// SkipTLSVerify disables certificate verification, for clusters running
	// on self-signed certificates.
	SkipTLSVerify bool
}

// ElasticIndex implements Index against an Elasticsearch cluster. Documents
// are stored under the annotation ID so index operations are idempotent.
type ElasticIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticIndex constructs an Elasticsearch-backed index.
func NewElasticIndex(cfg ElasticConfig) (*ElasticIndex, error) {
	index := cfg.Index
	if index == "" {
		index = "annotations"
	}
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	}
	if cfg.SkipTLSVerify {
		esCfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return &ElasticIndex{client: client, index: index}, nil
}

// EnsureIndex creates the annotation index if it does not already exist.
func (e *ElasticIndex) EnsureIndex(ctx context.Context) error {
	exists, err := e.client.Indices.Exists([]string{e.index},
		e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	defer func() { _ = exists.Body.Close() }()
	if exists.StatusCode == 200 {
		return nil
	}

	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"uri":                      map[string]any{"type": "keyword"},
				"user":                     map[string]any{"type": "keyword"},
				"consumer":                 map[string]any{"type": "keyword"},
				"tags":                     map[string]any{"type": "keyword"},
				"text":                     map[string]any{"type": "text"},
				"quote":                    map[string]any{"type": "text"},
				"created":                  map[string]any{"type": "date"},
				"updated":                  map[string]any{"type": "date"},
				"not_in_public_site_areas": map[string]any{"type": "boolean"},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return err
	}
	res, err := e.client.Indices.Create(e.index,
		e.client.Indices.Create.WithContext(ctx),
		e.client.Indices.Create.WithBody(bytes.NewReader(body)))
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		return fmt.Errorf("create index: %s", res.String())
	}
	return nil
}

// Index stores or replaces the annotation document.
func (e *ElasticIndex) Index(ctx context.Context, annotation domain.Annotation) error {
	body, err := json.Marshal(annotation)
	if err != nil {
		return err
	}
	res, err := e.client.Index(e.index, bytes.NewReader(body),
		e.client.Index.WithContext(ctx),
		e.client.Index.WithDocumentID(annotation.ID))
	if err != nil {
		return fmt.Errorf("index annotation %s: %w", annotation.ID, err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		return fmt.Errorf("index annotation %s: %s", annotation.ID, res.String())
	}
	return nil
}

// Delete removes the annotation document. A missing document is not an error.
func (e *ElasticIndex) Delete(ctx context.Context, id string) error {
	res, err := e.client.Delete(e.index, id, e.client.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("delete annotation %s: %w", id, err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete annotation %s: %s", id, res.String())
	}
	return nil
}

// BulkIndex stores all provided documents through the bulk API.
func (e *ElasticIndex) BulkIndex(ctx context.Context, annotations []domain.Annotation) error {
	if len(annotations) == 0 {
		return nil
	}
	indexer, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client: e.client,
		Index:  e.index,
	})
	if err != nil {
		return fmt.Errorf("bulk indexer: %w", err)
	}
	for _, annotation := range annotations {
		body, err := json.Marshal(annotation)
		if err != nil {
			_ = indexer.Close(ctx)
			return err
		}
		err = indexer.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: annotation.ID,
			Body:       bytes.NewReader(body),
		})
		if err != nil {
			_ = indexer.Close(ctx)
			return fmt.Errorf("bulk add %s: %w", annotation.ID, err)
		}
	}
	if err := indexer.Close(ctx); err != nil {
		return fmt.Errorf("bulk flush: %w", err)
	}
	if stats := indexer.Stats(); stats.NumFailed > 0 {
		return fmt.Errorf("bulk index: %d documents failed", stats.NumFailed)
	}
	return nil
}

// Search evaluates the query against the cluster.
func (e *ElasticIndex) Search(ctx context.Context, query Query) (Results, error) {
	body, err := json.Marshal(esQuery(query))
	if err != nil {
		return Results{}, err
	}
	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(bytes.NewReader(body)),
		e.client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return Results{}, fmt.Errorf("search: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		return Results{}, fmt.Errorf("search: %s", res.String())
	}

	var payload struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string          `json:"_id"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return Results{}, fmt.Errorf("decode search response: %w", err)
	}

	rows := make([]domain.Annotation, 0, len(payload.Hits.Hits))
	for _, hit := range payload.Hits.Hits {
		var annotation domain.Annotation
		if err := json.Unmarshal(hit.Source, &annotation); err != nil {
			return Results{}, fmt.Errorf("decode hit %s: %w", hit.ID, err)
		}
		// The document ID is authoritative, mirroring how hits are folded
		// back into annotation payloads upstream.
		annotation.ID = hit.ID
		rows = append(rows, annotation)
	}
	return Results{Rows: rows, Total: payload.Hits.Total.Value}, nil
}

// esQuery translates a Query into the Elasticsearch request body. The shape
// follows the upstream store's query builder: pagination and sort at the top
// level, field matches under a bool must, and the moderation filter wrapped
// around the whole query.
func esQuery(query Query) map[string]any {
	sortField := query.Sort
	if sortField == "" {
		sortField = "updated"
	}
	order := query.Order
	if order == "" {
		order = "desc"
	}

	body := map[string]any{
		"from": query.From,
		"size": pageSize(query, esUnboundedSize),
		"sort": []any{
			map[string]any{
				sortField: map[string]any{
					"unmapped_type": "keyword",
					"order":         order,
				},
			},
		},
	}

	var must []any
	if len(query.Any) > 0 {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"fields": anyFields,
				"query":  strings.Join(query.Any, " "),
				"type":   "cross_fields",
			},
		})
	}
	for _, term := range query.Terms {
		must = append(must, map[string]any{
			"match": map[string]any{term.Field: term.Value},
		})
	}
	if len(must) == 0 {
		must = append(must, map[string]any{"match_all": map[string]any{}})
	}

	var filter []any
	if query.User != "" {
		filter = append(filter, map[string]any{
			"term": map[string]any{"user": query.User},
		})
	}
	switch query.Nipsa {
	case NipsaHideFlagged:
		// Any one of these should clauses lets the annotation through.
		should := []any{
			map[string]any{
				"bool": map[string]any{
					"must_not": map[string]any{
						"term": map[string]any{"not_in_public_site_areas": true},
					},
				},
			},
		}
		if query.AllowUser != "" {
			// Always show the logged-in user's annotations even when flagged.
			should = append(should, map[string]any{
				"term": map[string]any{"user": query.AllowUser},
			})
		}
		filter = append(filter, map[string]any{
			"bool": map[string]any{
				"should":               should,
				"minimum_should_match": 1,
			},
		})
	case NipsaOnlyFlagged:
		filter = append(filter, map[string]any{
			"term": map[string]any{"not_in_public_site_areas": true},
		})
	case NipsaOnlyUnflagged:
		filter = append(filter, map[string]any{
			"bool": map[string]any{
				"must_not": map[string]any{
					"term": map[string]any{"not_in_public_site_areas": true},
				},
			},
		})
	}

	boolQuery := map[string]any{"must": must}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}
	body["query"] = map[string]any{"bool": boolQuery}
	return body
}

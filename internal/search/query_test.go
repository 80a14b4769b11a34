package search

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildQueryDefaults(t *testing.T) {
	q := BuildQuery(url.Values{}, "")

	assert.Equal(t, 0, q.From)
	assert.Equal(t, DefaultPageSize, q.Size)
	assert.Equal(t, "updated", q.Sort)
	assert.Equal(t, "desc", q.Order)
	assert.Empty(t, q.Any)
	assert.Empty(t, q.Terms)
	assert.Equal(t, NipsaHideFlagged, q.Nipsa)
	assert.Equal(t, "", q.AllowUser)
}

func TestBuildQueryPagingAndSort(t *testing.T) {
	params := url.Values{
		"offset": {"40"},
		"limit":  {"10"},
		"sort":   {"created"},
		"order":  {"asc"},
	}
	q := BuildQuery(params, "acct:alice@example.com")

	assert.Equal(t, 40, q.From)
	assert.Equal(t, 10, q.Size)
	assert.Equal(t, "created", q.Sort)
	assert.Equal(t, "asc", q.Order)
	assert.Equal(t, "acct:alice@example.com", q.AllowUser)
}

func TestBuildQueryInvalidPagingFallsBack(t *testing.T) {
	for _, params := range []url.Values{
		{"offset": {"-3"}, "limit": {"-1"}},
		{"offset": {"bogus"}, "limit": {"bogus"}},
	} {
		q := BuildQuery(params, "")
		assert.Equal(t, 0, q.From)
		assert.Equal(t, DefaultPageSize, q.Size)
		// Paging params must never leak into field matches.
		assert.Empty(t, q.Terms)
	}
}

func TestBuildQueryAnyAndTerms(t *testing.T) {
	params := url.Values{
		"any":  {"kayak", "river"},
		"uri":  {"https://example.com/doc"},
		"tags": {"boats"},
	}
	q := BuildQuery(params, "")

	assert.Equal(t, []string{"kayak", "river"}, q.Any)
	assert.Equal(t, []Term{
		{Field: "tags", Value: "boats"},
		{Field: "uri", Value: "https://example.com/doc"},
	}, q.Terms)
}

func TestBuildQueryDoesNotMutateParams(t *testing.T) {
	params := url.Values{"offset": {"5"}, "uri": {"u"}}
	BuildQuery(params, "")
	assert.Equal(t, "5", params.Get("offset"))
	assert.Equal(t, "u", params.Get("uri"))
}

func TestESQueryShape(t *testing.T) {
	q := BuildQuery(url.Values{"uri": {"https://example.com/doc"}}, "acct:alice@example.com")
	body := esQuery(q)

	assert.Equal(t, 0, body["from"])
	assert.Equal(t, DefaultPageSize, body["size"])

	boolQuery := body["query"].(map[string]any)["bool"].(map[string]any)
	must := boolQuery["must"].([]any)
	assert.Len(t, must, 1)
	assert.Contains(t, must[0].(map[string]any), "match")

	filter := boolQuery["filter"].([]any)
	assert.Len(t, filter, 1)
	should := filter[0].(map[string]any)["bool"].(map[string]any)["should"].([]any)
	// One clause excluding flagged annotations, one exempting the caller.
	assert.Len(t, should, 2)
}

func TestESQueryMatchAllWhenEmpty(t *testing.T) {
	body := esQuery(Query{})
	boolQuery := body["query"].(map[string]any)["bool"].(map[string]any)
	must := boolQuery["must"].([]any)
	assert.Len(t, must, 1)
	assert.Contains(t, must[0].(map[string]any), "match_all")
}

func TestESQueryUserRestriction(t *testing.T) {
	body := esQuery(NipsadAnnotationsQuery("acct:bob@example.com"))
	boolQuery := body["query"].(map[string]any)["bool"].(map[string]any)
	filter := boolQuery["filter"].([]any)
	assert.Len(t, filter, 2)
	assert.Equal(t, esUnboundedSize, body["size"])
}

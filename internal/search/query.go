package search

import (
	"net/url"
	"sort"
	"strconv"
)

// BuildQuery translates the HTTP request params accepted by the search API
// into a Query. userID identifies the authorized user, if any; that user's
// annotations are never hidden by the moderation filter even when flagged.
//
// Recognised params: offset, limit, sort, order, any. Every remaining param
// becomes a field match term. Invalid or negative offset/limit values fall
// back to their defaults.
func BuildQuery(params url.Values, userID string) Query {
	q := Query{
		Sort:      "updated",
		Order:     "desc",
		Nipsa:     NipsaHideFlagged,
		AllowUser: userID,
	}

	remaining := url.Values{}
	for key, values := range params {
		remaining[key] = append([]string(nil), values...)
	}

	if raw := remaining.Get("offset"); raw != "" {
		if from, err := strconv.Atoi(raw); err == nil && from >= 0 {
			q.From = from
		}
	}
	remaining.Del("offset")

	q.Size = DefaultPageSize
	if raw := remaining.Get("limit"); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil && size >= 0 {
			q.Size = size
		}
	}
	remaining.Del("limit")

	if s := remaining.Get("sort"); s != "" {
		q.Sort = s
	}
	remaining.Del("sort")
	if o := remaining.Get("order"); o != "" {
		q.Order = o
	}
	remaining.Del("order")

	q.Any = append([]string(nil), remaining["any"]...)
	remaining.Del("any")

	fields := make([]string, 0, len(remaining))
	for field := range remaining {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		for _, value := range remaining[field] {
			q.Terms = append(q.Terms, Term{Field: field, Value: value})
		}
	}
	return q
}

// pageSize resolves the effective size of a query for backends that need a
// concrete number. unbounded is the backend's stand-in for "no limit".
func pageSize(q Query, unbounded int) int {
	switch {
	case q.Size < 0:
		return unbounded
	case q.Size == 0:
		return DefaultPageSize
	default:
		return q.Size
	}
}

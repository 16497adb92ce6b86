package posts

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/jnwheeler44/tentd/internal/core/access"
)

// Sort keys accepted by sort_by
const (
	SortByReceivedAt  = "received_at"
	SortByPublishedAt = "published_at"
)

// Page size defaults used when no configuration is supplied
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Filter holds caller-supplied query parameters. Nil pointers are absent.
type Filter struct {
	SinceID    *int64
	BeforeID   *int64
	SinceTime  *int64
	BeforeTime *int64
	Limit      *int
	SortBy     string
	SincePost  string
	BeforePost string
	PostTypes  []TypeDescriptor
	Entities   []string
}

// Query is a resolved filter ready for a repository: public-id bounds turned into
// ordinals, the sort key normalized, the limit clamped, and the caller's scope attached.
type Query struct {
	SinceID    *int64
	BeforeID   *int64
	SinceTime  *int64
	BeforeTime *int64
	SortBy     string
	PostTypes  []TypeDescriptor
	Entities   []string
	Scope      access.Scope
	Limit      int
}

// PageSize carries the configured default and maximum page sizes
type PageSize struct {
	Default int
	Max     int
}

// Clamp resolves the effective page size. The result is always within [0, Max],
// even when Default exceeds Max.
func (p PageSize) Clamp(limit *int) int {
	max := p.Max
	if max < 0 {
		max = 0
	}
	n := p.Default
	if limit != nil {
		n = *limit
	}
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

// ParseFilter parses URL query parameters into a Filter.
// Any unparseable value is reported instead of being ignored.
func ParseFilter(values url.Values) (Filter, error) {
	var f Filter
	var err error

	if f.SinceID, err = parseInt64Param(values, "since_id"); err != nil {
		return Filter{}, err
	}
	if f.BeforeID, err = parseInt64Param(values, "before_id"); err != nil {
		return Filter{}, err
	}
	if f.SinceTime, err = parseTimeParam(values, "since_time"); err != nil {
		return Filter{}, err
	}
	if f.BeforeTime, err = parseTimeParam(values, "before_time"); err != nil {
		return Filter{}, err
	}

	if raw, ok := lookup(values, "limit"); ok {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return Filter{}, newFilterParameterError("limit", raw, "must be an integer")
		}
		f.Limit = &n
	}

	if raw, ok := lookup(values, "sort_by"); ok {
		switch raw {
		case SortByReceivedAt, SortByPublishedAt:
			f.SortBy = raw
		default:
			return Filter{}, newFilterParameterError("sort_by", raw, "must be received_at or published_at")
		}
	}

	f.SincePost, _ = lookup(values, "since_post")
	f.BeforePost, _ = lookup(values, "before_post")

	for _, raw := range splitList(values, "post_types") {
		t, typeErr := ParseTypeFilter(raw)
		if typeErr != nil {
			return Filter{}, newFilterParameterError("post_types", raw, "not a post type")
		}
		f.PostTypes = append(f.PostTypes, t)
	}

	f.Entities = splitList(values, "entity")

	return f, nil
}

// Matches reports whether a post satisfies the non-permission parts of the query
func (q Query) Matches(p *Post) bool {
	if p.DeletedAt != nil {
		return false
	}
	if q.SinceID != nil && p.ID <= *q.SinceID {
		return false
	}
	if q.BeforeID != nil && p.ID >= *q.BeforeID {
		return false
	}
	key := q.SortKey(p)
	if q.SinceTime != nil && key <= *q.SinceTime {
		return false
	}
	if q.BeforeTime != nil && key >= *q.BeforeTime {
		return false
	}
	if len(q.PostTypes) > 0 {
		matched := false
		for _, t := range q.PostTypes {
			if t.Matches(p.Type) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(q.Entities) > 0 {
		matched := false
		for _, e := range q.Entities {
			if e == p.Entity {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return q.Scope.Allows(p.Resource())
}

// SortKey returns the value of the active sort key for a post
func (q Query) SortKey(p *Post) int64 {
	if q.SortBy == SortByPublishedAt {
		return p.PublishedAt
	}
	return p.ReceivedAt
}

// Less orders posts by the active sort key descending, ties broken by id descending
func (q Query) Less(a, b *Post) bool {
	ka, kb := q.SortKey(a), q.SortKey(b)
	if ka != kb {
		return ka > kb
	}
	return a.ID > b.ID
}

func parseInt64Param(values url.Values, name string) (*int64, error) {
	raw, ok := lookup(values, name)
	if !ok {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, newFilterParameterError(name, raw, "must be an integer")
	}
	return &n, nil
}

func parseTimeParam(values url.Values, name string) (*int64, error) {
	ts, err := parseInt64Param(values, name)
	if err != nil || ts == nil {
		return ts, err
	}
	normalized := NormalizeTimestamp(*ts)
	return &normalized, nil
}

func lookup(values url.Values, name string) (string, bool) {
	if _, ok := values[name]; !ok {
		return "", false
	}
	return strings.TrimSpace(values.Get(name)), true
}

// splitList accepts both repeated parameters and comma separated values
func splitList(values url.Values, name string) []string {
	var out []string
	for _, raw := range values[name] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

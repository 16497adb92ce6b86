package posts

import (
	"errors"
	"net/url"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnwheeler44/tentd/internal/core/access"
)

func intPtr(n int) *int       { return &n }
func int64Ptr(n int64) *int64 { return &n }

func TestPageSize_Clamp(t *testing.T) {
	p := PageSize{Default: 50, Max: 200}

	assert.Equal(t, 50, p.Clamp(nil))
	assert.Equal(t, 10, p.Clamp(intPtr(10)))
	assert.Equal(t, 200, p.Clamp(intPtr(5000)))
	assert.Equal(t, 0, p.Clamp(intPtr(-3)))
	assert.Equal(t, 0, p.Clamp(intPtr(0)))

	// default above max is clamped too
	assert.Equal(t, 20, PageSize{Default: 100, Max: 20}.Clamp(nil))
}

func TestParseFilter(t *testing.T) {
	values := url.Values{
		"since_id":    {"10"},
		"before_id":   {"20"},
		"since_time":  {"1349471384657"},
		"before_time": {"1349471999"},
		"limit":       {"5"},
		"sort_by":     {"published_at"},
		"since_post":  {"abc"},
		"post_types":  {"https://tent.io/types/post/status/v0.1.0,https://tent.io/types/post/photo"},
		"entity":      {"https://alice.example.com", "https://bob.example.com"},
	}

	f, err := ParseFilter(values)
	require.NoError(t, err)

	assert.Equal(t, int64(10), *f.SinceID)
	assert.Equal(t, int64(20), *f.BeforeID)
	assert.Equal(t, int64(1349471384), *f.SinceTime, "millisecond bounds are normalized")
	assert.Equal(t, int64(1349471999), *f.BeforeTime)
	assert.Equal(t, 5, *f.Limit)
	assert.Equal(t, SortByPublishedAt, f.SortBy)
	assert.Equal(t, "abc", f.SincePost)
	assert.Empty(t, f.BeforePost)
	require.Len(t, f.PostTypes, 2)
	assert.Equal(t, "0.1.0", f.PostTypes[0].Version)
	assert.Empty(t, f.PostTypes[1].Version)
	assert.Equal(t, []string{"https://alice.example.com", "https://bob.example.com"}, f.Entities)
}

func TestParseFilter_Empty(t *testing.T) {
	f, err := ParseFilter(url.Values{})
	require.NoError(t, err)
	assert.Nil(t, f.SinceID)
	assert.Nil(t, f.Limit)
	assert.Empty(t, f.SortBy)
}

func TestParseFilter_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		param string
		value string
	}{
		{"non numeric since_id", "since_id", "abc"},
		{"non numeric before_time", "before_time", "yesterday"},
		{"non numeric limit", "limit", "ten"},
		{"unknown sort key", "sort_by", "deleted_at"},
		{"bad type", "post_types", "has space"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(url.Values{tt.param: {tt.value}})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidFilterParameter))

			var fpErr *FilterParameterError
			require.True(t, errors.As(err, &fpErr))
			assert.Equal(t, tt.param, fpErr.Param)
		})
	}
}

func TestQuery_MatchesAndOrder(t *testing.T) {
	status := TypeDescriptor{Base: "https://tent.io/types/post/status", Version: "0.1.0"}
	photo := TypeDescriptor{Base: "https://tent.io/types/post/photo", Version: "0.1.0"}
	deleted := int64(99)

	all := []*Post{
		{ID: 1, Type: status, Entity: "https://a", ReceivedAt: 100, Permissions: Permissions{Public: true}},
		{ID: 2, Type: photo, Entity: "https://a", ReceivedAt: 100, Permissions: Permissions{Public: true}},
		{ID: 3, Type: status, Entity: "https://b", ReceivedAt: 300, Permissions: Permissions{Public: false}},
		{ID: 4, Type: status, Entity: "https://b", ReceivedAt: 200, Permissions: Permissions{Public: true}},
		{ID: 5, Type: status, Entity: "https://b", ReceivedAt: 500, Permissions: Permissions{Public: true}, DeletedAt: &deleted},
	}

	q := Query{SortBy: SortByReceivedAt, Scope: access.ScopeFor(access.Anonymous())}
	var got []*Post
	for _, p := range all {
		if q.Matches(p) {
			got = append(got, p)
		}
	}
	sort.Slice(got, func(i, j int) bool { return q.Less(got[i], got[j]) })

	ids := make([]int64, len(got))
	for i, p := range got {
		ids[i] = p.ID
	}
	// private and deleted posts are hidden; equal keys fall back to id desc
	assert.Equal(t, []int64{4, 2, 1}, ids)

	q.SinceID = int64Ptr(1)
	q.BeforeID = int64Ptr(4)
	assert.False(t, q.Matches(all[0]), "since_id is exclusive")
	assert.True(t, q.Matches(all[1]))
	assert.False(t, q.Matches(all[3]), "before_id is exclusive")

	q = Query{SortBy: SortByReceivedAt, PostTypes: []TypeDescriptor{{Base: photo.Base}}, Scope: access.Scope{AllPosts: true}}
	assert.True(t, q.Matches(all[1]))
	assert.False(t, q.Matches(all[0]))

	q = Query{SortBy: SortByReceivedAt, Entities: []string{"https://b"}, Scope: access.Scope{AllPosts: true}}
	assert.True(t, q.Matches(all[2]))
	assert.False(t, q.Matches(all[0]))

	q = Query{SortBy: SortByReceivedAt, SinceTime: int64Ptr(100), BeforeTime: int64Ptr(300), Scope: access.Scope{AllPosts: true}}
	assert.False(t, q.Matches(all[0]), "since_time is exclusive")
	assert.True(t, q.Matches(all[3]))
	assert.False(t, q.Matches(all[2]), "before_time is exclusive")
}

func TestNormalizeTimestamp(t *testing.T) {
	assert.Equal(t, int64(1349471384), NormalizeTimestamp(1349471384657))
	assert.Equal(t, int64(1349471384), NormalizeTimestamp(1349471384))
	assert.Equal(t, int64(0), NormalizeTimestamp(0))
	assert.Equal(t, millisecondThreshold, NormalizeTimestamp(millisecondThreshold))
}

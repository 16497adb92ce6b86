package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanRead_PublicPostReadableByAnyone(t *testing.T) {
	res := Resource{Public: true, TypeBase: "https://tent.io/types/status"}

	creds := []Credential{
		Anonymous(),
		Follower(1),
		Following(2, "friends"),
		App(3, nil, nil),
		App(4, []string{ScopeReadPosts}, nil),
	}
	for _, c := range creds {
		assert.True(t, CanRead(res, c), "credential %s should read public post", c)
		assert.True(t, CanNotify(res, c), "credential %s should be notified of public post", c)
	}
}

func TestCanRead_PrivatePostHiddenFromAnonymous(t *testing.T) {
	res := Resource{
		TypeBase:    "https://tent.io/types/status",
		FollowerIDs: []int64{1},
		GroupIDs:    []string{"friends"},
	}
	assert.False(t, CanRead(res, Anonymous()))
	assert.False(t, CanRead(res, Credential{}))
}

func TestCanRead_AppAuthorization(t *testing.T) {
	res := Resource{TypeBase: "https://tent.io/types/essay"}

	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"read_posts scope", App(1, []string{ScopeReadPosts}, nil), true},
		{"authorized type base", App(1, nil, []string{"https://tent.io/types/essay"}), true},
		{"other type base", App(1, nil, []string{"https://tent.io/types/status"}), false},
		{"unrelated scope", App(1, []string{ScopeWritePosts}, nil), false},
		{"no scopes", App(1, nil, nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanRead(res, tt.cred))
			assert.Equal(t, tt.want, CanNotify(res, tt.cred))
		})
	}
}

func TestCanRead_FollowerAndFollowingGrants(t *testing.T) {
	res := Resource{
		TypeBase:     "https://tent.io/types/status",
		FollowerIDs:  []int64{10},
		FollowingIDs: []int64{20},
		GroupIDs:     []string{"family"},
	}

	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"granted follower", Follower(10), true},
		{"other follower", Follower(11), false},
		{"granted following", Following(20), true},
		{"following id matching a follower grant", Following(10), false},
		{"follower id matching a following grant", Follower(20), false},
		{"group member follower", Follower(99, "coworkers", "family"), true},
		{"group member following", Following(98, "family"), true},
		{"non member", Follower(97, "coworkers"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanRead(res, tt.cred))
		})
	}
}

func TestScopeFor(t *testing.T) {
	assert.True(t, ScopeFor(Anonymous()).PublicOnly())
	assert.True(t, ScopeFor(App(1, []string{ScopeReadPosts}, nil)).AllPosts)
	assert.Equal(t, []string{"a"}, ScopeFor(App(1, nil, []string{"a"})).TypeBases)
	assert.Equal(t, int64(5), ScopeFor(Follower(5, "g")).FollowerID)
	assert.Equal(t, []string{"g"}, ScopeFor(Follower(5, "g")).GroupIDs)
	assert.Equal(t, int64(6), ScopeFor(Following(6)).FollowingID)
	assert.False(t, ScopeFor(Following(6)).PublicOnly())
}

func TestCredential_Accessors(t *testing.T) {
	groups := []string{"g1"}
	c := Follower(7, groups...)
	groups[0] = "mutated"

	assert.Equal(t, KindFollower, c.Kind())
	assert.Equal(t, int64(7), c.Identity())
	assert.Equal(t, []string{"g1"}, c.Groups())
	assert.False(t, c.HasScope(ScopeReadPosts))
	assert.Equal(t, "follower:7", c.String())

	app := New(KindApp, 3, nil, []string{ScopeWritePosts}, nil)
	assert.True(t, app.HasScope(ScopeWritePosts))
	assert.Equal(t, "anonymous", Anonymous().String())
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindAnonymous, KindFollower, KindFollowing, KindApp} {
		parsed, err := ParseKind(k.String())
		assert.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("admin")
	assert.Error(t, err)
}

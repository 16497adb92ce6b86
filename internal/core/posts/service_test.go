package posts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnwheeler44/tentd/internal/core/access"
)

// mockPostRepo is an in-memory Repository with a forced-failure hook
type mockPostRepo struct {
	createErr error
	byPublic  map[string]*Post
	versions  map[string][]*PostVersion
	nextID    int64
	mu        sync.Mutex
}

func newMockPostRepo() *mockPostRepo {
	return &mockPostRepo{
		byPublic: make(map[string]*Post),
		versions: make(map[string][]*PostVersion),
	}
}

func (m *mockPostRepo) Create(ctx context.Context, post *Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, taken := m.byPublic[post.PublicID]; taken {
		return ErrDuplicatePublicID
	}
	m.nextID++
	post.ID = m.nextID
	m.byPublic[post.PublicID] = post.Clone()
	m.versions[post.PublicID] = []*PostVersion{post.Snapshot()}
	return nil
}

func (m *mockPostRepo) Update(ctx context.Context, post *Post, prevVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byPublic[post.PublicID]
	if !ok || stored.DeletedAt != nil {
		return ErrNotFound
	}
	if stored.Version != prevVersion {
		return ErrConcurrentModification
	}
	m.byPublic[post.PublicID] = post.Clone()
	if post.Version > prevVersion {
		m.versions[post.PublicID] = append(m.versions[post.PublicID], post.Snapshot())
	}
	return nil
}

func (m *mockPostRepo) SoftDelete(ctx context.Context, publicID string, deletedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byPublic[publicID]
	if !ok || stored.DeletedAt != nil {
		return ErrNotFound
	}
	stored.DeletedAt = &deletedAt
	stored.Permissions.Grants = nil
	return nil
}

func (m *mockPostRepo) GetByPublicID(ctx context.Context, publicID string) (*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byPublic[publicID]
	if !ok || stored.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return stored.Clone(), nil
}

func (m *mockPostRepo) GetVersion(ctx context.Context, publicID string, version int) (*PostVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[publicID] {
		if v.Version == version {
			c := v.Clone()
			c.Permissions = m.byPublic[publicID].Permissions.Clone()
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockPostRepo) ListVersions(ctx context.Context, publicID string) ([]*PostVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs := m.versions[publicID]
	if len(vs) == 0 {
		return nil, ErrNotFound
	}
	out := make([]*PostVersion, 0, len(vs))
	for i := len(vs) - 1; i >= 0; i-- {
		out = append(out, vs[i].Clone())
	}
	return out, nil
}

func (m *mockPostRepo) List(ctx context.Context, q Query) ([]*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Post
	for _, p := range m.byPublic {
		if q.Matches(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return q.Less(out[i], out[j]) })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *mockPostRepo) Count(ctx context.Context, q Query) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.byPublic {
		if q.Matches(p) {
			n++
		}
	}
	return n, nil
}

// recordingNotifier captures fanout calls
type recordingNotifier struct {
	saved []*Post
	mu    sync.Mutex
}

func (r *recordingNotifier) PostSaved(ctx context.Context, post *Post) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, post)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

var fixedNow = time.Unix(1700000000, 0)

func newTestService(repo Repository, notifier Notifier, cfg Config) Service {
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return fixedNow }
	}
	return NewPostService(repo, notifier, nil, cfg, nil)
}

func statusRequest(public bool) CreatePostRequest {
	return CreatePostRequest{
		Entity:      "https://alice.example.com",
		Type:        "https://tent.io/types/post/status/v0.1.0",
		Content:     map[string]any{"text": "hello"},
		Permissions: Permissions{Public: public},
	}
}

func TestCreatePost(t *testing.T) {
	repo := newMockPostRepo()
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier, Config{})

	req := statusRequest(true)
	req.PublishedAt = 1349471384657
	req.Licenses = []string{"https://creativecommons.org/licenses/by/3.0/"}

	post, err := svc.CreatePost(context.Background(), req)
	require.NoError(t, err)

	assert.NotEmpty(t, post.PublicID)
	assert.Len(t, post.PublicID, 32)
	assert.Equal(t, int64(1), post.ID)
	assert.Equal(t, 1, post.Version)
	assert.Equal(t, "https://tent.io/types/post/status", post.Type.Base)
	assert.Equal(t, "0.1.0", post.Type.Version)
	assert.Equal(t, int64(1349471384), post.PublishedAt, "millisecond published_at is normalized")
	assert.Equal(t, fixedNow.Unix(), post.ReceivedAt)
	assert.Equal(t, fixedNow.Unix(), post.UpdatedAt)
	assert.Equal(t, 1, notifier.count())

	versions, err := repo.ListVersions(context.Background(), post.PublicID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)
}

func TestCreatePost_Defaults(t *testing.T) {
	svc := newTestService(newMockPostRepo(), nil, Config{})

	req := statusRequest(false)
	req.Content = nil
	post, err := svc.CreatePost(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, fixedNow.Unix(), post.PublishedAt, "missing published_at defaults to now")
	assert.NotNil(t, post.Content)
	assert.Empty(t, post.Content)
}

func TestCreatePost_Validation(t *testing.T) {
	svc := newTestService(newMockPostRepo(), nil, Config{})
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreatePostRequest)
		isType bool
	}{
		{"missing entity", func(r *CreatePostRequest) { r.Entity = "" }, false},
		{"entity not a url", func(r *CreatePostRequest) { r.Entity = "alice" }, false},
		{"missing type", func(r *CreatePostRequest) { r.Type = "" }, false},
		{"type without version", func(r *CreatePostRequest) { r.Type = "https://tent.io/types/post/status" }, true},
		{"mention without entity", func(r *CreatePostRequest) { r.Mentions = []Mention{{Post: "abc"}} }, false},
		{"grant without target", func(r *CreatePostRequest) { r.Permissions.Grants = []Grant{{Entity: "https://bob"}} }, false},
		{"grant with two targets", func(r *CreatePostRequest) {
			r.Permissions.Grants = []Grant{{FollowerID: int64Ptr(1), GroupID: "g"}}
		}, false},
		{"reserved view name", func(r *CreatePostRequest) { r.Views = map[string]View{"meta": {}} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := statusRequest(true)
			tt.mutate(&req)
			_, err := svc.CreatePost(ctx, req)
			require.Error(t, err)
			if tt.isType {
				assert.ErrorIs(t, err, ErrInvalidTypeFormat)
			} else {
				assert.True(t, IsValidationError(err), "expected validation error, got %v", err)
			}
		})
	}
}

func TestCreatePost_SchemaViolation(t *testing.T) {
	reg := NewSchemaRegistry()
	require.NoError(t, reg.Register("https://tent.io/types/post/status", []byte(statusSchema)))
	svc := NewPostService(newMockPostRepo(), nil, reg, Config{}, nil)

	req := statusRequest(true)
	req.Content = map[string]any{"text": 42}
	_, err := svc.CreatePost(context.Background(), req)

	var violation *SchemaViolation
	assert.ErrorAs(t, err, &violation)
}

func TestCreatePost_RetriesOnCollision(t *testing.T) {
	repo := newMockPostRepo()
	ids := []string{"taken", "taken", "fresh"}
	var calls int32
	svc := newTestService(repo, nil, Config{IDGenerator: func() string {
		n := atomic.AddInt32(&calls, 1)
		return ids[int(n)-1]
	}})
	ctx := context.Background()

	// occupy "taken"
	repo.byPublic["taken"] = &Post{PublicID: "taken", ID: 100}

	post, err := svc.CreatePost(ctx, statusRequest(true))
	require.NoError(t, err)
	assert.Equal(t, "fresh", post.PublicID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCreatePost_AllocationExhausted(t *testing.T) {
	repo := newMockPostRepo()
	repo.byPublic["same"] = &Post{PublicID: "same"}
	svc := newTestService(repo, nil, Config{
		IDGenerator:   func() string { return "same" },
		MaxIDAttempts: 3,
	})

	_, err := svc.CreatePost(context.Background(), statusRequest(true))
	assert.ErrorIs(t, err, ErrIDAllocationExhausted)
}

func TestCreatePost_ConcurrentForcedCollisions(t *testing.T) {
	repo := newMockPostRepo()
	// every generated id comes from a pool of 8, so workers collide constantly
	var seq int64
	svc := newTestService(repo, nil, Config{
		IDGenerator: func() string {
			return fmt.Sprintf("id-%d", atomic.AddInt64(&seq, 1)%8)
		},
		MaxIDAttempts: 64,
	})

	var wg sync.WaitGroup
	results := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			post, err := svc.CreatePost(context.Background(), statusRequest(true))
			if err == nil {
				results <- post.PublicID
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		assert.False(t, seen[id], "public id %s allocated twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, 8)
}

func TestCreatePost_RepositoryError(t *testing.T) {
	repo := newMockPostRepo()
	repo.createErr = errors.New("connection reset")
	svc := newTestService(repo, nil, Config{})

	_, err := svc.CreatePost(context.Background(), statusRequest(true))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIDAllocationExhausted)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestUpdatePost_BumpsVersion(t *testing.T) {
	repo := newMockPostRepo()
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier, Config{})
	ctx := context.Background()

	post, err := svc.CreatePost(ctx, statusRequest(true))
	require.NoError(t, err)

	newType := "https://tent.io/types/post/essay/v0.2.0"
	updated, err := svc.UpdatePost(ctx, post.PublicID, UpdatePostRequest{
		Type:    &newType,
		Content: map[string]any{"title": "t", "body": "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "https://tent.io/types/post/essay", updated.Type.Base)
	assert.Equal(t, "0.2.0", updated.Type.Version)
	assert.Equal(t, 2, notifier.count())

	v1, err := svc.GetPostVersion(ctx, post.PublicID, 1, access.Anonymous())
	require.NoError(t, err)
	assert.Equal(t, "hello", v1.Content["text"])

	versions, err := svc.ListPostVersions(ctx, post.PublicID, access.Anonymous())
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
}

func TestUpdatePost_PermissionsOnlyKeepsVersion(t *testing.T) {
	repo := newMockPostRepo()
	svc := newTestService(repo, nil, Config{})
	ctx := context.Background()

	post, err := svc.CreatePost(ctx, statusRequest(false))
	require.NoError(t, err)

	updated, err := svc.UpdatePost(ctx, post.PublicID, UpdatePostRequest{
		Permissions: &Permissions{Public: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Version)
	assert.True(t, updated.Permissions.Public)

	_, err = svc.GetPost(ctx, post.PublicID, access.Anonymous())
	assert.NoError(t, err, "post is now public")
}

func TestUpdatePost_Errors(t *testing.T) {
	repo := newMockPostRepo()
	svc := newTestService(repo, nil, Config{})
	ctx := context.Background()

	_, err := svc.UpdatePost(ctx, "missing", UpdatePostRequest{Content: map[string]any{}})
	assert.ErrorIs(t, err, ErrNotFound)

	post, err := svc.CreatePost(ctx, statusRequest(true))
	require.NoError(t, err)

	bad := "https://tent.io/types/post/status"
	_, err = svc.UpdatePost(ctx, post.PublicID, UpdatePostRequest{Type: &bad})
	assert.ErrorIs(t, err, ErrInvalidTypeFormat)

	// nothing to change is a no-op
	same, err := svc.UpdatePost(ctx, post.PublicID, UpdatePostRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, same.Version)
}

func TestDeletePost(t *testing.T) {
	repo := newMockPostRepo()
	svc := newTestService(repo, nil, Config{})
	ctx := context.Background()

	post, err := svc.CreatePost(ctx, statusRequest(true))
	require.NoError(t, err)

	require.NoError(t, svc.DeletePost(ctx, post.PublicID))
	_, err = svc.GetPost(ctx, post.PublicID, access.Anonymous())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.DeletePost(ctx, post.PublicID), ErrNotFound)

	// the public id stays reserved
	_, taken := repo.byPublic[post.PublicID]
	assert.True(t, taken)
}

func TestGetPost_Permissions(t *testing.T) {
	repo := newMockPostRepo()
	svc := newTestService(repo, nil, Config{})
	ctx := context.Background()

	req := statusRequest(false)
	req.Permissions.Grants = []Grant{
		{FollowerID: int64Ptr(7), Entity: "https://bob.example.com"},
		{GroupID: "friends"},
	}
	post, err := svc.CreatePost(ctx, req)
	require.NoError(t, err)

	_, err = svc.GetPost(ctx, post.PublicID, access.Anonymous())
	assert.ErrorIs(t, err, ErrNotFound, "private posts look missing to anonymous readers")

	_, err = svc.GetPost(ctx, post.PublicID, access.Follower(7))
	assert.NoError(t, err)

	_, err = svc.GetPost(ctx, post.PublicID, access.Follower(8, "friends"))
	assert.NoError(t, err)

	_, err = svc.GetPost(ctx, post.PublicID, access.Follower(8, "coworkers"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetPost(ctx, post.PublicID, access.App(1, []string{access.ScopeReadPosts}, nil))
	assert.NoError(t, err)

	_, err = svc.GetPost(ctx, post.PublicID, access.App(2, nil, []string{"https://tent.io/types/post/status"}))
	assert.NoError(t, err)

	_, err = svc.GetPostVersion(ctx, post.PublicID, 1, access.Anonymous())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPosts(t *testing.T) {
	repo := newMockPostRepo()
	var clock int64 = 1000
	svc := NewPostService(repo, nil, nil, Config{
		Clock:    func() time.Time { return time.Unix(atomic.AddInt64(&clock, 10), 0) },
		PageSize: PageSize{Default: 2, Max: 3},
	}, nil)
	ctx := context.Background()

	var created []*Post
	for i := 0; i < 5; i++ {
		post, err := svc.CreatePost(ctx, statusRequest(i != 2))
		require.NoError(t, err)
		created = append(created, post)
	}

	page, err := svc.ListPosts(ctx, Filter{}, access.Anonymous())
	require.NoError(t, err)
	require.Len(t, page, 2, "default page size")
	assert.Equal(t, created[4].PublicID, page[0].PublicID)
	assert.Equal(t, created[3].PublicID, page[1].PublicID)

	page, err = svc.ListPosts(ctx, Filter{Limit: intPtr(100)}, access.Anonymous())
	require.NoError(t, err)
	assert.Len(t, page, 3, "max page size; the private post is hidden")

	page, err = svc.ListPosts(ctx, Filter{Limit: intPtr(0)}, access.Anonymous())
	require.NoError(t, err)
	assert.Empty(t, page)

	page, err = svc.ListPosts(ctx, Filter{BeforePost: created[3].PublicID, Limit: intPtr(3)}, access.Anonymous())
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, created[1].PublicID, page[0].PublicID)
	assert.Equal(t, created[0].PublicID, page[1].PublicID)

	_, err = svc.ListPosts(ctx, Filter{SincePost: created[2].PublicID}, access.Anonymous())
	assert.ErrorIs(t, err, ErrInvalidFilterParameter, "unreadable bound post")

	_, err = svc.ListPosts(ctx, Filter{SincePost: "nope"}, access.Anonymous())
	assert.ErrorIs(t, err, ErrInvalidFilterParameter)

	_, err = svc.ListPosts(ctx, Filter{SortBy: "id"}, access.Anonymous())
	assert.ErrorIs(t, err, ErrInvalidFilterParameter)

	n, err := svc.CountPosts(ctx, Filter{Limit: intPtr(1)}, access.Anonymous())
	require.NoError(t, err)
	assert.Equal(t, 4, n, "count ignores the limit")

	n, err = svc.CountPosts(ctx, Filter{}, access.App(1, []string{access.ScopeReadPosts}, nil))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

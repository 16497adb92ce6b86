// Package memory provides in-process repositories backed by maps. Every read
// happens under one read lock so a query sees a single consistent snapshot.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jnwheeler44/tentd/internal/core/posts"
)

// PostRepository implements posts.Repository
type PostRepository struct {
	byPublicID map[string]*posts.Post
	versions   map[string][]*posts.PostVersion
	nextID     int64
	mu         sync.RWMutex
}

// NewPostRepository creates an empty post repository
func NewPostRepository() *PostRepository {
	return &PostRepository{
		byPublicID: make(map[string]*posts.Post),
		versions:   make(map[string][]*posts.PostVersion),
	}
}

var _ posts.Repository = (*PostRepository)(nil)

// Create inserts a post and its first version
func (s *PostRepository) Create(ctx context.Context, post *posts.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byPublicID[post.PublicID]; taken {
		return posts.ErrDuplicatePublicID
	}
	s.nextID++
	post.ID = s.nextID

	s.byPublicID[post.PublicID] = post.Clone()
	s.versions[post.PublicID] = []*posts.PostVersion{post.Snapshot()}
	return nil
}

// Update replaces the stored post, appending a version when the version advanced
func (s *PostRepository) Update(ctx context.Context, post *posts.Post, prevVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byPublicID[post.PublicID]
	if !ok || stored.DeletedAt != nil {
		return posts.ErrNotFound
	}
	if stored.Version != prevVersion {
		return posts.ErrConcurrentModification
	}

	updated := post.Clone()
	updated.ID = stored.ID
	updated.ReceivedAt = stored.ReceivedAt
	s.byPublicID[post.PublicID] = updated
	if post.Version > prevVersion {
		s.versions[post.PublicID] = append(s.versions[post.PublicID], updated.Snapshot())
	}
	return nil
}

// SoftDelete marks the post deleted; the public id stays taken
func (s *PostRepository) SoftDelete(ctx context.Context, publicID string, deletedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byPublicID[publicID]
	if !ok || stored.DeletedAt != nil {
		return posts.ErrNotFound
	}
	stored.DeletedAt = &deletedAt
	stored.Permissions.Grants = nil
	return nil
}

// GetByPublicID returns a live post
func (s *PostRepository) GetByPublicID(ctx context.Context, publicID string) (*posts.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.byPublicID[publicID]
	if !ok || stored.DeletedAt != nil {
		return nil, posts.ErrNotFound
	}
	return stored.Clone(), nil
}

// GetVersion returns one version of a live post with the post's current permissions
func (s *PostRepository) GetVersion(ctx context.Context, publicID string, version int) (*posts.PostVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.byPublicID[publicID]
	if !ok || stored.DeletedAt != nil {
		return nil, posts.ErrNotFound
	}
	for _, v := range s.versions[publicID] {
		if v.Version == version {
			c := v.Clone()
			c.Permissions = stored.Permissions.Clone()
			return c, nil
		}
	}
	return nil, posts.ErrNotFound
}

// ListVersions returns every version of a live post, newest first
func (s *PostRepository) ListVersions(ctx context.Context, publicID string) ([]*posts.PostVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.byPublicID[publicID]
	if !ok || stored.DeletedAt != nil {
		return nil, posts.ErrNotFound
	}
	list := s.versions[publicID]
	out := make([]*posts.PostVersion, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		c := list[i].Clone()
		c.Permissions = stored.Permissions.Clone()
		out = append(out, c)
	}
	return out, nil
}

// List applies bounds, filters, scope, ordering and limit in one pass
func (s *PostRepository) List(ctx context.Context, q posts.Query) ([]*posts.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.match(q)
	sort.Slice(matched, func(i, j int) bool { return q.Less(matched[i], matched[j]) })
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]*posts.Post, len(matched))
	for i, p := range matched {
		out[i] = p.Clone()
	}
	return out, nil
}

// Count counts matching posts; the limit is ignored
func (s *PostRepository) Count(ctx context.Context, q posts.Query) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.match(q)), nil
}

// match must be called with the lock held
func (s *PostRepository) match(q posts.Query) []*posts.Post {
	var out []*posts.Post
	for _, p := range s.byPublicID {
		if q.Matches(p) {
			out = append(out, p)
		}
	}
	return out
}

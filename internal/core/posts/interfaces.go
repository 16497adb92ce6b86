package posts

import (
	"context"

	"github.com/jnwheeler44/tentd/internal/core/access"
)

// Service defines the business logic interface for posts
type Service interface {
	// CreatePost normalizes and stores a new post with its first version, then
	// hands it to the notifier. Flow: Validate -> Parse type -> Allocate public id -> Persist -> Fan out
	CreatePost(ctx context.Context, req CreatePostRequest) (*Post, error)

	// UpdatePost stores a new version of an existing post and fans it out again
	UpdatePost(ctx context.Context, publicID string, req UpdatePostRequest) (*Post, error)

	// DeletePost soft-deletes a post; its public id stays reserved
	DeletePost(ctx context.Context, publicID string) error

	// GetPost returns ErrNotFound both for missing posts and posts the credential cannot read
	GetPost(ctx context.Context, publicID string, cred access.Credential) (*Post, error)

	// ListPosts returns one page of readable posts in descending sort-key order
	ListPosts(ctx context.Context, filter Filter, cred access.Credential) ([]*Post, error)

	// CountPosts counts readable posts matching the filter, ignoring the page size
	CountPosts(ctx context.Context, filter Filter, cred access.Credential) (int, error)

	// GetPostVersion returns one version of a readable post
	GetPostVersion(ctx context.Context, publicID string, version int, cred access.Credential) (*PostVersion, error)

	// ListPostVersions returns every version of a readable post, newest first
	ListPostVersions(ctx context.Context, publicID string, cred access.Credential) ([]*PostVersion, error)
}

// Repository defines the data access interface for posts
type Repository interface {
	// Create inserts the post, its first version and its permission rows atomically.
	// Sets post.ID. Returns ErrDuplicatePublicID when the public id is taken.
	Create(ctx context.Context, post *Post) error

	// Update rewrites the post row and its permission rows, and inserts a version
	// row when post.Version is greater than prevVersion. Fails with
	// ErrConcurrentModification when the stored version is no longer prevVersion.
	Update(ctx context.Context, post *Post, prevVersion int) error

	// SoftDelete marks the post deleted and drops its permission rows
	SoftDelete(ctx context.Context, publicID string, deletedAt int64) error

	// GetByPublicID returns a live post or ErrNotFound
	GetByPublicID(ctx context.Context, publicID string) (*Post, error)

	// GetVersion returns one version of a live post or ErrNotFound
	GetVersion(ctx context.Context, publicID string, version int) (*PostVersion, error)

	// ListVersions returns every version of a live post, newest first
	ListVersions(ctx context.Context, publicID string) ([]*PostVersion, error)

	// List evaluates a query against one consistent snapshot
	List(ctx context.Context, q Query) ([]*Post, error)

	// Count counts posts matching a query; q.Limit is ignored
	Count(ctx context.Context, q Query) (int, error)
}

// Notifier is told about every saved post. Implementations must not block
// on delivery and must not fail the write that triggered them.
type Notifier interface {
	PostSaved(ctx context.Context, post *Post)
}

package posts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jnwheeler44/tentd/internal/core/access"
)

// DefaultMaxIDAttempts bounds public id allocation retries
const DefaultMaxIDAttempts = 5

// reservedViews cannot be redefined by a post
var reservedViews = map[string]bool{"full": true, "meta": true}

// CreatePostRequest represents input for creating a new post
type CreatePostRequest struct {
	Content     map[string]any  `json:"content,omitempty"`
	Views       map[string]View `json:"views,omitempty"`
	App         *AppRef         `json:"app,omitempty"`
	FollowingID *int64          `json:"following_id,omitempty"`
	Entity      string          `json:"entity" validate:"required,url"`
	Type        string          `json:"type" validate:"required"`
	Licenses    []string        `json:"licenses,omitempty" validate:"dive,url"`
	Mentions    []Mention       `json:"mentions,omitempty" validate:"dive"`
	Attachments []Attachment    `json:"attachments,omitempty" validate:"dive"`
	Permissions Permissions     `json:"permissions"`
	PublishedAt int64           `json:"published_at,omitempty" validate:"gte=0"`
}

// UpdatePostRequest carries the fields to change. Nil fields are left untouched;
// an empty, non-nil slice clears the field.
type UpdatePostRequest struct {
	Type        *string         `json:"type,omitempty"`
	Content     map[string]any  `json:"content,omitempty"`
	Views       map[string]View `json:"views,omitempty"`
	Permissions *Permissions    `json:"permissions,omitempty"`
	PublishedAt *int64          `json:"published_at,omitempty" validate:"omitempty,gte=0"`
	Licenses    []string        `json:"licenses,omitempty" validate:"omitempty,dive,url"`
	Mentions    []Mention       `json:"mentions,omitempty" validate:"omitempty,dive"`
	Attachments []Attachment    `json:"attachments,omitempty" validate:"omitempty,dive"`
}

// Config tunes the post service. Zero values select defaults.
type Config struct {
	IDGenerator   func() string
	Clock         func() time.Time
	PageSize      PageSize
	MaxIDAttempts int
}

type postService struct {
	repo          Repository
	notifier      Notifier
	schemas       *SchemaRegistry
	validate      *validator.Validate
	newID         func() string
	now           func() time.Time
	logger        *slog.Logger
	pageSize      PageSize
	maxIDAttempts int
}

// NewPostService creates a new post service.
// notifier and schemas can be nil (no fanout, no content validation).
func NewPostService(
	repo Repository,
	notifier Notifier, // Optional: can be nil
	schemas *SchemaRegistry, // Optional: can be nil
	cfg Config,
	logger *slog.Logger,
) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = newPublicID
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.PageSize == (PageSize{}) {
		cfg.PageSize = PageSize{Default: DefaultPageSize, Max: MaxPageSize}
	}
	if cfg.MaxIDAttempts <= 0 {
		cfg.MaxIDAttempts = DefaultMaxIDAttempts
	}
	return &postService{
		repo:          repo,
		notifier:      notifier,
		schemas:       schemas,
		validate:      newValidator(),
		newID:         cfg.IDGenerator,
		now:           cfg.Clock,
		logger:        logger,
		pageSize:      cfg.PageSize,
		maxIDAttempts: cfg.MaxIDAttempts,
	}
}

// CreatePost creates a new post
// Flow:
// 1. Validate input and parse the type URI
// 2. Validate content against the type's schema (if one is registered)
// 3. Normalize published_at (milliseconds -> seconds, default to now)
// 4. Persist post + version 1 + permissions, retrying on public id collisions
// 5. Fan out notifications (never fails the call)
func (s *postService) CreatePost(ctx context.Context, req CreatePostRequest) (*Post, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if err := validateExtras(req.Permissions, req.Views); err != nil {
		return nil, err
	}

	typ, err := ParseType(req.Type)
	if err != nil {
		return nil, err
	}

	if s.schemas != nil {
		if err := s.schemas.Validate(typ, req.Content); err != nil {
			return nil, err
		}
	}

	now := s.now().Unix()
	publishedAt := NormalizeTimestamp(req.PublishedAt)
	if publishedAt == 0 {
		publishedAt = now
	}

	content := CloneDocument(req.Content)
	if content == nil {
		content = map[string]any{}
	}

	post := &Post{
		Entity:      req.Entity,
		Type:        typ,
		Licenses:    append([]string(nil), req.Licenses...),
		Content:     content,
		Mentions:    append([]Mention(nil), req.Mentions...),
		Attachments: append([]Attachment(nil), req.Attachments...),
		Permissions: req.Permissions.Clone(),
		Views:       cloneViews(req.Views),
		FollowingID: cloneInt64(req.FollowingID),
		Version:     1,
		PublishedAt: publishedAt,
		ReceivedAt:  now,
		UpdatedAt:   now,
	}
	if req.App != nil {
		app := *req.App
		post.App = &app
	}

	if err := s.insertWithUniqueID(ctx, post); err != nil {
		return nil, err
	}

	s.logger.Info("post created",
		"public_id", post.PublicID,
		"entity", post.Entity,
		"type", post.Type.URI(),
		"public", post.Permissions.Public)

	s.notify(ctx, post)
	return post, nil
}

// insertWithUniqueID assigns public ids until the repository accepts one
func (s *postService) insertWithUniqueID(ctx context.Context, post *Post) error {
	for attempt := 1; attempt <= s.maxIDAttempts; attempt++ {
		post.PublicID = s.newID()
		err := s.repo.Create(ctx, post)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicatePublicID) {
			return fmt.Errorf("failed to create post: %w", err)
		}
		s.logger.Warn("public id collision",
			"public_id", post.PublicID,
			"attempt", attempt,
			"max_attempts", s.maxIDAttempts)
	}
	post.PublicID = ""
	return ErrIDAllocationExhausted
}

// UpdatePost applies the changed fields. A change to type, content, licenses,
// mentions, attachments, views or published_at creates a new version;
// a permissions-only change rewrites the grants in place.
func (s *postService) UpdatePost(ctx context.Context, publicID string, req UpdatePostRequest) (*Post, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	var perms Permissions
	if req.Permissions != nil {
		perms = *req.Permissions
	}
	if err := validateExtras(perms, req.Views); err != nil {
		return nil, err
	}

	post, err := s.repo.GetByPublicID(ctx, publicID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load post: %w", err)
	}

	prevVersion := post.Version
	versioned := false

	if req.Type != nil && *req.Type != post.Type.URI() {
		typ, err := ParseType(*req.Type)
		if err != nil {
			return nil, err
		}
		post.Type = typ
		versioned = true
	}
	if req.Content != nil {
		post.Content = CloneDocument(req.Content)
		versioned = true
	}
	if req.Licenses != nil {
		post.Licenses = append([]string{}, req.Licenses...)
		versioned = true
	}
	if req.Mentions != nil {
		post.Mentions = append([]Mention{}, req.Mentions...)
		versioned = true
	}
	if req.Attachments != nil {
		post.Attachments = append([]Attachment{}, req.Attachments...)
		versioned = true
	}
	if req.Views != nil {
		post.Views = cloneViews(req.Views)
		versioned = true
	}
	if req.PublishedAt != nil {
		post.PublishedAt = NormalizeTimestamp(*req.PublishedAt)
		versioned = true
	}
	permsChanged := req.Permissions != nil
	if permsChanged {
		post.Permissions = req.Permissions.Clone()
	}

	if !versioned && !permsChanged {
		return post, nil
	}

	if versioned && s.schemas != nil {
		if err := s.schemas.Validate(post.Type, post.Content); err != nil {
			return nil, err
		}
	}

	post.UpdatedAt = s.now().Unix()
	if versioned {
		post.Version = prevVersion + 1
	}

	if err := s.repo.Update(ctx, post, prevVersion); err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		if errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update post: %w", err)
	}

	s.logger.Info("post updated",
		"public_id", post.PublicID,
		"version", post.Version,
		"type", post.Type.URI(),
		"permissions_changed", permsChanged)

	s.notify(ctx, post)
	return post, nil
}

// DeletePost soft-deletes a post
func (s *postService) DeletePost(ctx context.Context, publicID string) error {
	if err := s.repo.SoftDelete(ctx, publicID, s.now().Unix()); err != nil {
		if IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete post: %w", err)
	}
	s.logger.Info("post deleted", "public_id", publicID)
	return nil
}

// GetPost retrieves a single readable post
func (s *postService) GetPost(ctx context.Context, publicID string, cred access.Credential) (*Post, error) {
	post, err := s.repo.GetByPublicID(ctx, publicID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	if !access.CanRead(post.Resource(), cred) {
		return nil, ErrNotFound
	}
	return post, nil
}

// ListPosts returns one page of posts the credential may read
func (s *postService) ListPosts(ctx context.Context, filter Filter, cred access.Credential) ([]*Post, error) {
	q, err := s.buildQuery(ctx, filter, cred)
	if err != nil {
		return nil, err
	}
	if q.Limit == 0 {
		return []*Post{}, nil
	}
	result, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return result, nil
}

// CountPosts counts posts the credential may read
func (s *postService) CountPosts(ctx context.Context, filter Filter, cred access.Credential) (int, error) {
	q, err := s.buildQuery(ctx, filter, cred)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.Count(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}

// GetPostVersion retrieves one version of a readable post
func (s *postService) GetPostVersion(ctx context.Context, publicID string, version int, cred access.Credential) (*PostVersion, error) {
	if _, err := s.GetPost(ctx, publicID, cred); err != nil {
		return nil, err
	}
	v, err := s.repo.GetVersion(ctx, publicID, version)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get post version: %w", err)
	}
	return v, nil
}

// ListPostVersions retrieves every version of a readable post
func (s *postService) ListPostVersions(ctx context.Context, publicID string, cred access.Credential) ([]*PostVersion, error) {
	if _, err := s.GetPost(ctx, publicID, cred); err != nil {
		return nil, err
	}
	versions, err := s.repo.ListVersions(ctx, publicID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to list post versions: %w", err)
	}
	return versions, nil
}

// buildQuery resolves a filter against the caller's scope and the page size limits
func (s *postService) buildQuery(ctx context.Context, f Filter, cred access.Credential) (Query, error) {
	q := Query{
		SinceID:    f.SinceID,
		BeforeID:   f.BeforeID,
		SinceTime:  normalizePtr(f.SinceTime),
		BeforeTime: normalizePtr(f.BeforeTime),
		SortBy:     f.SortBy,
		PostTypes:  f.PostTypes,
		Entities:   f.Entities,
		Scope:      access.ScopeFor(cred),
		Limit:      s.pageSize.Clamp(f.Limit),
	}

	switch q.SortBy {
	case "":
		q.SortBy = SortByReceivedAt
	case SortByReceivedAt, SortByPublishedAt:
	default:
		return Query{}, newFilterParameterError("sort_by", q.SortBy, "must be received_at or published_at")
	}

	if f.SincePost != "" {
		id, err := s.resolveBound(ctx, "since_post", f.SincePost, cred)
		if err != nil {
			return Query{}, err
		}
		if q.SinceID == nil || id > *q.SinceID {
			q.SinceID = &id
		}
	}
	if f.BeforePost != "" {
		id, err := s.resolveBound(ctx, "before_post", f.BeforePost, cred)
		if err != nil {
			return Query{}, err
		}
		if q.BeforeID == nil || id < *q.BeforeID {
			q.BeforeID = &id
		}
	}
	return q, nil
}

// resolveBound turns a public id bound into an internal ordinal. A bound the
// caller cannot read is reported the same way as a missing one.
func (s *postService) resolveBound(ctx context.Context, param, publicID string, cred access.Credential) (int64, error) {
	post, err := s.GetPost(ctx, publicID, cred)
	if err != nil {
		if IsNotFound(err) {
			return 0, newFilterParameterError(param, publicID, "unknown post")
		}
		return 0, err
	}
	return post.ID, nil
}

func (s *postService) notify(ctx context.Context, post *Post) {
	if s.notifier == nil {
		return
	}
	s.notifier.PostSaved(ctx, post.Clone())
}

func (s *postService) validateStruct(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		return NewValidationError(field, fmt.Sprintf("failed %q validation", fe.Tag()))
	}
	return NewValidationError("request", err.Error())
}

// validateExtras checks rules the struct tags cannot express
func validateExtras(perms Permissions, views map[string]View) error {
	for i, g := range perms.Grants {
		targets := 0
		if g.FollowerID != nil {
			targets++
		}
		if g.FollowingID != nil {
			targets++
		}
		if g.GroupID != "" {
			targets++
		}
		if targets != 1 {
			return NewValidationError(fmt.Sprintf("permissions.grants[%d]", i),
				"grant must name exactly one of follower_id, following_id or group_id")
		}
	}
	for name := range views {
		if reservedViews[name] {
			return NewValidationError("views", fmt.Sprintf("view name %q is reserved", name))
		}
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func newPublicID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func normalizePtr(ts *int64) *int64 {
	if ts == nil {
		return nil
	}
	n := NormalizeTimestamp(*ts)
	return &n
}

package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/jnwheeler44/tentd/internal/core/access"
	"github.com/jnwheeler44/tentd/internal/core/posts"
)

const uniqueViolation = "23505"

type postgresPostRepo struct {
	db *sql.DB
}

// NewPostRepository creates a new PostgreSQL post repository
func NewPostRepository(db *sql.DB) posts.Repository {
	return &postgresPostRepo{db: db}
}

// sortColumns whitelists ORDER BY columns
var sortColumns = map[string]string{
	posts.SortByReceivedAt:  "p.received_at",
	posts.SortByPublishedAt: "p.published_at",
}

// postColumns selects a post together with its grants in one statement
const postColumns = `
	p.id, p.public_id, p.version, p.entity,
	p.type_base, p.type_version, p.type_fragment,
	p.licenses, p.content, p.mentions, p.attachments, p.views, p.app,
	p.following_id, p.public,
	p.published_at, p.received_at, p.updated_at, p.deleted_at,
	COALESCE((
		SELECT json_agg(json_build_object(
			'follower_id', g.follower_id,
			'following_id', g.following_id,
			'group_id', g.group_id,
			'entity', g.entity
		) ORDER BY g.id)
		FROM permissions g
		WHERE g.post_id = p.id
	), '[]'::json) AS grants`

// versionColumns selects a version with its post's current grants
const versionColumns = `
	p.id, p.public_id, v.version, v.entity,
	v.type_base, v.type_version, v.type_fragment,
	v.licenses, v.content, v.mentions, v.attachments, v.views, v.app,
	v.following_id, p.public,
	v.published_at, v.received_at, v.updated_at,
	COALESCE((
		SELECT json_agg(json_build_object(
			'follower_id', g.follower_id,
			'following_id', g.following_id,
			'group_id', g.group_id,
			'entity', g.entity
		) ORDER BY g.id)
		FROM permissions g
		WHERE g.post_id = p.id
	), '[]'::json) AS grants`

// Create inserts the post, version 1 and its grants in one transaction
func (r *postgresPostRepo) Create(ctx context.Context, post *posts.Post) error {
	docs, err := encodeDocuments(post.Content, post.Mentions, post.Attachments, post.Views, post.App)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO posts (
			public_id, entity, type_base, type_version, type_fragment,
			licenses, content, mentions, attachments, views, app,
			following_id, public, version,
			published_at, received_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17
		)
		RETURNING id
	`
	err = tx.QueryRowContext(ctx, query,
		post.PublicID, post.Entity, post.Type.Base, post.Type.Version, post.Type.Fragment,
		pq.Array(nonNilStrings(post.Licenses)), docs.content, docs.mentions, docs.attachments, docs.views, docs.app,
		nullInt64(post.FollowingID), post.Permissions.Public, post.Version,
		post.PublishedAt, post.ReceivedAt, post.UpdatedAt,
	).Scan(&post.ID)
	if err != nil {
		if isUniqueViolation(err, "posts_public_id_key") {
			return posts.ErrDuplicatePublicID
		}
		return fmt.Errorf("failed to insert post: %w", err)
	}

	if err := insertVersion(ctx, tx, post, docs); err != nil {
		return err
	}
	if err := insertGrants(ctx, tx, post.ID, post.Permissions.Grants); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit post: %w", err)
	}
	return nil
}

// Update rewrites the post row and grants, adding a version row when the version advanced
func (r *postgresPostRepo) Update(ctx context.Context, post *posts.Post, prevVersion int) error {
	docs, err := encodeDocuments(post.Content, post.Mentions, post.Attachments, post.Views, post.App)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE posts SET
			entity = $3, type_base = $4, type_version = $5, type_fragment = $6,
			licenses = $7, content = $8, mentions = $9, attachments = $10, views = $11, app = $12,
			following_id = $13, public = $14, version = $15,
			published_at = $16, updated_at = $17
		WHERE public_id = $1 AND deleted_at IS NULL AND version = $2
		RETURNING id, received_at
	`
	err = tx.QueryRowContext(ctx, query,
		post.PublicID, prevVersion,
		post.Entity, post.Type.Base, post.Type.Version, post.Type.Fragment,
		pq.Array(nonNilStrings(post.Licenses)), docs.content, docs.mentions, docs.attachments, docs.views, docs.app,
		nullInt64(post.FollowingID), post.Permissions.Public, post.Version,
		post.PublishedAt, post.UpdatedAt,
	).Scan(&post.ID, &post.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r.classifyMissedUpdate(ctx, tx, post.PublicID)
	}
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE post_id = $1`, post.ID); err != nil {
		return fmt.Errorf("failed to clear permissions: %w", err)
	}
	if err := insertGrants(ctx, tx, post.ID, post.Permissions.Grants); err != nil {
		return err
	}
	if post.Version > prevVersion {
		if err := insertVersion(ctx, tx, post, docs); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit post update: %w", err)
	}
	return nil
}

// classifyMissedUpdate tells a missing post apart from a lost version race
func (r *postgresPostRepo) classifyMissedUpdate(ctx context.Context, tx *sql.Tx, publicID string) error {
	var version int
	err := tx.QueryRowContext(ctx,
		`SELECT version FROM posts WHERE public_id = $1 AND deleted_at IS NULL`, publicID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return posts.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check post version: %w", err)
	}
	return posts.ErrConcurrentModification
}

// SoftDelete marks the post deleted and drops its grants
func (r *postgresPostRepo) SoftDelete(ctx context.Context, publicID string, deletedAt int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `
		UPDATE posts SET deleted_at = $2
		WHERE public_id = $1 AND deleted_at IS NULL
		RETURNING id
	`, publicID, deletedAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return posts.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE post_id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear permissions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit post delete: %w", err)
	}
	return nil
}

// GetByPublicID retrieves a live post
func (r *postgresPostRepo) GetByPublicID(ctx context.Context, publicID string) (*posts.Post, error) {
	query := `SELECT ` + postColumns + `
		FROM posts p
		WHERE p.public_id = $1 AND p.deleted_at IS NULL`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, publicID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, posts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return post, nil
}

// GetVersion retrieves one version of a live post
func (r *postgresPostRepo) GetVersion(ctx context.Context, publicID string, version int) (*posts.PostVersion, error) {
	query := `SELECT ` + versionColumns + `
		FROM posts p
		JOIN post_versions v ON v.post_id = p.id
		WHERE p.public_id = $1 AND p.deleted_at IS NULL AND v.version = $2`

	v, err := scanVersion(r.db.QueryRowContext(ctx, query, publicID, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, posts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post version: %w", err)
	}
	return v, nil
}

// ListVersions retrieves every version of a live post, newest first
func (r *postgresPostRepo) ListVersions(ctx context.Context, publicID string) ([]*posts.PostVersion, error) {
	query := `SELECT ` + versionColumns + `
		FROM posts p
		JOIN post_versions v ON v.post_id = p.id
		WHERE p.public_id = $1 AND p.deleted_at IS NULL
		ORDER BY v.version DESC`

	rows, err := r.db.QueryContext(ctx, query, publicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list post versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*posts.PostVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post version: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post versions: %w", err)
	}
	if len(result) == 0 {
		return nil, posts.ErrNotFound
	}
	return result, nil
}

// List evaluates bounds, filters, permission scope, ordering and limit in one statement
func (r *postgresPostRepo) List(ctx context.Context, q posts.Query) ([]*posts.Post, error) {
	sortCol, ok := sortColumns[q.SortBy]
	if !ok {
		sortCol = sortColumns[posts.SortByReceivedAt]
	}

	args := &argList{}
	where := buildWhere(q, sortCol, args)
	query := fmt.Sprintf(`SELECT %s
		FROM posts p
		WHERE %s
		ORDER BY %s DESC, p.id DESC
		LIMIT %s`, postColumns, where, sortCol, args.add(q.Limit))

	rows, err := r.db.QueryContext(ctx, query, args.values...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []*posts.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		result = append(result, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}
	return result, nil
}

// Count counts posts matching the query
func (r *postgresPostRepo) Count(ctx context.Context, q posts.Query) (int, error) {
	sortCol, ok := sortColumns[q.SortBy]
	if !ok {
		sortCol = sortColumns[posts.SortByReceivedAt]
	}

	args := &argList{}
	query := `SELECT COUNT(*) FROM posts p WHERE ` + buildWhere(q, sortCol, args)

	var n int
	if err := r.db.QueryRowContext(ctx, query, args.values...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}

// argList numbers positional parameters as they are added
type argList struct {
	values []any
}

func (a *argList) add(v any) string {
	a.values = append(a.values, v)
	return "$" + strconv.Itoa(len(a.values))
}

func buildWhere(q posts.Query, sortCol string, args *argList) string {
	conds := []string{"p.deleted_at IS NULL"}

	if q.SinceID != nil {
		conds = append(conds, "p.id > "+args.add(*q.SinceID))
	}
	if q.BeforeID != nil {
		conds = append(conds, "p.id < "+args.add(*q.BeforeID))
	}
	if q.SinceTime != nil {
		conds = append(conds, sortCol+" > "+args.add(*q.SinceTime))
	}
	if q.BeforeTime != nil {
		conds = append(conds, sortCol+" < "+args.add(*q.BeforeTime))
	}

	if len(q.PostTypes) > 0 {
		typeConds := make([]string, 0, len(q.PostTypes))
		for _, t := range q.PostTypes {
			c := "p.type_base = " + args.add(t.Base)
			if t.Version != "" {
				c = "(" + c + " AND p.type_version = " + args.add(t.Version) + ")"
			}
			typeConds = append(typeConds, c)
		}
		conds = append(conds, "("+strings.Join(typeConds, " OR ")+")")
	}

	if len(q.Entities) > 0 {
		conds = append(conds, "p.entity = ANY("+args.add(pq.Array(q.Entities))+")")
	}

	conds = append(conds, scopeClause(q.Scope, args))
	return strings.Join(conds, " AND ")
}

// scopeClause compiles access.Scope into SQL. It must admit exactly the posts
// for which Scope.Allows returns true.
func scopeClause(s access.Scope, args *argList) string {
	if s.AllPosts {
		return "TRUE"
	}

	conds := []string{"p.public"}
	if len(s.TypeBases) > 0 {
		conds = append(conds, "p.type_base = ANY("+args.add(pq.Array(s.TypeBases))+")")
	}
	if s.FollowerID != 0 {
		conds = append(conds, "EXISTS (SELECT 1 FROM permissions g WHERE g.post_id = p.id AND g.follower_id = "+args.add(s.FollowerID)+")")
	}
	if s.FollowingID != 0 {
		conds = append(conds, "EXISTS (SELECT 1 FROM permissions g WHERE g.post_id = p.id AND g.following_id = "+args.add(s.FollowingID)+")")
	}
	if len(s.GroupIDs) > 0 {
		conds = append(conds, "EXISTS (SELECT 1 FROM permissions g WHERE g.post_id = p.id AND g.group_id = ANY("+args.add(pq.Array(s.GroupIDs))+"))")
	}
	return "(" + strings.Join(conds, " OR ") + ")"
}

// documents holds the JSON encodings of a post's document columns
type documents struct {
	views       sql.NullString
	app         sql.NullString
	content     string
	mentions    string
	attachments string
}

func encodeDocuments(content map[string]any, mentions []posts.Mention, attachments []posts.Attachment, views map[string]posts.View, app *posts.AppRef) (documents, error) {
	var d documents
	var err error

	if content == nil {
		content = map[string]any{}
	}
	if d.content, err = encodeJSON(content); err != nil {
		return d, fmt.Errorf("failed to encode content: %w", err)
	}
	if mentions == nil {
		mentions = []posts.Mention{}
	}
	if d.mentions, err = encodeJSON(mentions); err != nil {
		return d, fmt.Errorf("failed to encode mentions: %w", err)
	}
	if attachments == nil {
		attachments = []posts.Attachment{}
	}
	if d.attachments, err = encodeJSON(attachments); err != nil {
		return d, fmt.Errorf("failed to encode attachments: %w", err)
	}
	if views != nil {
		s, err := encodeJSON(views)
		if err != nil {
			return d, fmt.Errorf("failed to encode views: %w", err)
		}
		d.views = sql.NullString{String: s, Valid: true}
	}
	if app != nil {
		s, err := encodeJSON(app)
		if err != nil {
			return d, fmt.Errorf("failed to encode app: %w", err)
		}
		d.app = sql.NullString{String: s, Valid: true}
	}
	return d, nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeJSON keeps numbers as json.Number so large integers survive
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func insertVersion(ctx context.Context, tx *sql.Tx, post *posts.Post, docs documents) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO post_versions (
			post_id, version, entity, type_base, type_version, type_fragment,
			licenses, content, mentions, attachments, views, app,
			following_id, published_at, received_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16
		)
	`,
		post.ID, post.Version, post.Entity, post.Type.Base, post.Type.Version, post.Type.Fragment,
		pq.Array(nonNilStrings(post.Licenses)), docs.content, docs.mentions, docs.attachments, docs.views, docs.app,
		nullInt64(post.FollowingID), post.PublishedAt, post.ReceivedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post version: %w", err)
	}
	return nil
}

func insertGrants(ctx context.Context, tx *sql.Tx, postID int64, grants []posts.Grant) error {
	for _, g := range grants {
		var groupID, entity sql.NullString
		if g.GroupID != "" {
			groupID = sql.NullString{String: g.GroupID, Valid: true}
		}
		if g.Entity != "" {
			entity = sql.NullString{String: g.Entity, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO permissions (post_id, follower_id, following_id, group_id, entity)
			VALUES ($1, $2, $3, $4, $5)
		`, postID, nullInt64(g.FollowerID), nullInt64(g.FollowingID), groupID, entity)
		if err != nil {
			return fmt.Errorf("failed to insert permission: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// rawDocuments holds the undecoded columns shared by posts and versions
type rawDocuments struct {
	views       []byte
	app         []byte
	grants      []byte
	content     []byte
	mentions    []byte
	attachments []byte
	licenses    pq.StringArray
	followingID sql.NullInt64
}

func (raw rawDocuments) decode(content *map[string]any, mentions *[]posts.Mention, attachments *[]posts.Attachment,
	views *map[string]posts.View, app **posts.AppRef, perms *posts.Permissions, followingID **int64, licenses *[]string,
) error {
	if err := decodeJSON(raw.content, content); err != nil {
		return fmt.Errorf("failed to decode content: %w", err)
	}
	if err := decodeJSON(raw.mentions, mentions); err != nil {
		return fmt.Errorf("failed to decode mentions: %w", err)
	}
	if err := decodeJSON(raw.attachments, attachments); err != nil {
		return fmt.Errorf("failed to decode attachments: %w", err)
	}
	if len(raw.views) > 0 {
		if err := decodeJSON(raw.views, views); err != nil {
			return fmt.Errorf("failed to decode views: %w", err)
		}
	}
	if len(raw.app) > 0 {
		if err := decodeJSON(raw.app, app); err != nil {
			return fmt.Errorf("failed to decode app: %w", err)
		}
	}
	if err := json.Unmarshal(raw.grants, &perms.Grants); err != nil {
		return fmt.Errorf("failed to decode grants: %w", err)
	}
	if len(perms.Grants) == 0 {
		perms.Grants = nil
	}
	if raw.followingID.Valid {
		id := raw.followingID.Int64
		*followingID = &id
	}
	*licenses = []string(raw.licenses)
	return nil
}

func scanPost(row rowScanner) (*posts.Post, error) {
	var p posts.Post
	var raw rawDocuments
	var deletedAt sql.NullInt64

	err := row.Scan(
		&p.ID, &p.PublicID, &p.Version, &p.Entity,
		&p.Type.Base, &p.Type.Version, &p.Type.Fragment,
		&raw.licenses, &raw.content, &raw.mentions, &raw.attachments, &raw.views, &raw.app,
		&raw.followingID, &p.Permissions.Public,
		&p.PublishedAt, &p.ReceivedAt, &p.UpdatedAt, &deletedAt,
		&raw.grants,
	)
	if err != nil {
		return nil, err
	}
	if err := raw.decode(&p.Content, &p.Mentions, &p.Attachments, &p.Views, &p.App, &p.Permissions, &p.FollowingID, &p.Licenses); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Int64
	}
	return &p, nil
}

func scanVersion(row rowScanner) (*posts.PostVersion, error) {
	var v posts.PostVersion
	var raw rawDocuments

	err := row.Scan(
		&v.PostID, &v.PublicID, &v.Version, &v.Entity,
		&v.Type.Base, &v.Type.Version, &v.Type.Fragment,
		&raw.licenses, &raw.content, &raw.mentions, &raw.attachments, &raw.views, &raw.app,
		&raw.followingID, &v.Permissions.Public,
		&v.PublishedAt, &v.ReceivedAt, &v.UpdatedAt,
		&raw.grants,
	)
	if err != nil {
		return nil, err
	}
	if err := raw.decode(&v.Content, &v.Mentions, &v.Attachments, &v.Views, &v.App, &v.Permissions, &v.FollowingID, &v.Licenses); err != nil {
		return nil, err
	}
	return &v, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation && pqErr.Constraint == constraint
	}
	return false
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

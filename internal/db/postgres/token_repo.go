package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/jnwheeler44/tentd/internal/core/access"
)

type postgresTokenRepo struct {
	db *sql.DB
}

// NewTokenRepository creates a new PostgreSQL bearer token store
func NewTokenRepository(db *sql.DB) access.TokenStore {
	return &postgresTokenRepo{db: db}
}

// Resolve looks up a live token by its digest
func (r *postgresTokenRepo) Resolve(ctx context.Context, token string) (access.Credential, error) {
	query := `
		SELECT kind, identity, entity, groups, scopes, post_types
		FROM access_tokens
		WHERE token_hash = $1 AND revoked_at IS NULL
	`
	cred, err := scanCredential(r.db.QueryRowContext(ctx, query, access.HashToken(token)))
	if err != nil {
		return access.Anonymous(), fmt.Errorf("failed to resolve token: %w", err)
	}
	return cred, nil
}

// LookupFollower returns the credential of the newest live token issued to a follower
func (r *postgresTokenRepo) LookupFollower(ctx context.Context, followerID int64) (access.Credential, error) {
	query := `
		SELECT kind, identity, entity, groups, scopes, post_types
		FROM access_tokens
		WHERE kind = 'follower' AND identity = $1 AND revoked_at IS NULL
		ORDER BY issued_at DESC
		LIMIT 1
	`
	cred, err := scanCredential(r.db.QueryRowContext(ctx, query, followerID))
	if err != nil {
		return access.Anonymous(), fmt.Errorf("failed to look up follower %d: %w", followerID, err)
	}
	return cred, nil
}

// scanCredential maps a missing row to access.ErrUnknownCredential
func scanCredential(row *sql.Row) (access.Credential, error) {
	var kindName, entity string
	var identity int64
	var groups, scopes, postTypes pq.StringArray

	err := row.Scan(&kindName, &identity, &entity, &groups, &scopes, &postTypes)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Anonymous(), access.ErrUnknownCredential
	}
	if err != nil {
		return access.Anonymous(), err
	}

	kind, err := access.ParseKind(kindName)
	if err != nil {
		return access.Anonymous(), fmt.Errorf("corrupt token row: %w", err)
	}
	return access.New(kind, identity, groups, scopes, postTypes).WithEntity(entity), nil
}

// Issue stores a token digest for a credential
func (r *postgresTokenRepo) Issue(ctx context.Context, token string, cred access.Credential) error {
	if cred.IsAnonymous() {
		return fmt.Errorf("cannot issue a token for the anonymous credential")
	}
	query := `
		INSERT INTO access_tokens (token_hash, kind, identity, entity, groups, scopes, post_types)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token_hash) DO UPDATE SET
			kind = EXCLUDED.kind,
			identity = EXCLUDED.identity,
			entity = EXCLUDED.entity,
			groups = EXCLUDED.groups,
			scopes = EXCLUDED.scopes,
			post_types = EXCLUDED.post_types,
			issued_at = NOW(),
			revoked_at = NULL
	`
	_, err := r.db.ExecContext(ctx, query,
		access.HashToken(token), cred.Kind().String(), cred.Identity(), cred.Entity(),
		pq.Array(nonNilStrings(cred.Groups())), pq.Array(nonNilStrings(cred.Scopes())), pq.Array(nonNilStrings(cred.PostTypes())),
	)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	return nil
}

// Revoke marks a token revoked
func (r *postgresTokenRepo) Revoke(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE access_tokens SET revoked_at = NOW() WHERE token_hash = $1 AND revoked_at IS NULL`,
		access.HashToken(token))
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

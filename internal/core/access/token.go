package access

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// TokenStore maps bearer tokens to credentials. Tokens are only ever stored
// as their HashToken digest.
type TokenStore interface {
	// Resolve returns ErrUnknownCredential for unknown or revoked tokens
	Resolve(ctx context.Context, token string) (Credential, error)

	// Issue binds a token to a credential
	Issue(ctx context.Context, token string, cred Credential) error

	// Revoke invalidates a token; unknown tokens are ignored
	Revoke(ctx context.Context, token string) error

	// LookupFollower returns the credential of the most recently issued live
	// token for a follower, or ErrUnknownCredential when it has none
	LookupFollower(ctx context.Context, followerID int64) (Credential, error)
}

// HashToken returns the hex SHA-256 digest under which a token is stored
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jnwheeler44/tentd/internal/core/access"
)

type tokenRecord struct {
	cred access.Credential
	seq  int64
}

// TokenRepository implements access.TokenStore
type TokenRepository struct {
	tokens map[string]tokenRecord
	seq    int64
	mu     sync.RWMutex
}

// NewTokenRepository creates an empty token store
func NewTokenRepository() *TokenRepository {
	return &TokenRepository{tokens: make(map[string]tokenRecord)}
}

var _ access.TokenStore = (*TokenRepository)(nil)

// Resolve looks a token up by its digest
func (r *TokenRepository) Resolve(ctx context.Context, token string) (access.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tokens[access.HashToken(token)]
	if !ok {
		return access.Anonymous(), access.ErrUnknownCredential
	}
	return rec.cred, nil
}

// Issue binds a token to a credential. Reissuing a token counts as the newest issue.
func (r *TokenRepository) Issue(ctx context.Context, token string, cred access.Credential) error {
	if cred.IsAnonymous() {
		return fmt.Errorf("cannot issue a token for the anonymous credential")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.tokens[access.HashToken(token)] = tokenRecord{cred: cred, seq: r.seq}
	return nil
}

// Revoke forgets a token
func (r *TokenRepository) Revoke(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, access.HashToken(token))
	return nil
}

// LookupFollower returns the newest live follower credential for followerID
func (r *TokenRepository) LookupFollower(ctx context.Context, followerID int64) (access.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest tokenRecord
	for _, rec := range r.tokens {
		if rec.cred.Kind() != access.KindFollower || rec.cred.Identity() != followerID {
			continue
		}
		if rec.seq > latest.seq {
			latest = rec
		}
	}
	if latest.seq == 0 {
		return access.Anonymous(), access.ErrUnknownCredential
	}
	return latest.cred, nil
}

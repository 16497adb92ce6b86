package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jnwheeler44/tentd/internal/core/access"
)

// Context keys for storing request-scoped values
type contextKey string

const (
	CredentialKey contextKey = "credential"
)

// CredentialMiddleware resolves bearer tokens to access credentials.
// Token verification (signatures, MAC) is done upstream; this only looks the
// token up in the store.
type CredentialMiddleware struct {
	tokens access.TokenStore
	logger *slog.Logger
}

// NewCredentialMiddleware creates a credential middleware backed by a token store
func NewCredentialMiddleware(tokens access.TokenStore, logger *slog.Logger) *CredentialMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialMiddleware{tokens: tokens, logger: logger}
}

// OptionalCredential injects the caller's credential, or the anonymous one when
// no Authorization header is sent. A token that is present but unknown is
// rejected rather than silently downgraded to anonymous.
func (m *CredentialMiddleware) OptionalCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), CredentialKey, access.Anonymous())))
			return
		}

		cred, ok := m.resolve(w, r, authHeader)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), CredentialKey, cred)))
	})
}

// RequireCredential rejects anonymous callers with 401
func (m *CredentialMiddleware) RequireCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeAuthError(w, "Missing Authorization header")
			return
		}

		cred, ok := m.resolve(w, r, authHeader)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), CredentialKey, cred)))
	})
}

func (m *CredentialMiddleware) resolve(w http.ResponseWriter, r *http.Request, authHeader string) (access.Credential, bool) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		writeAuthError(w, "Invalid Authorization header format. Expected: Bearer <token>")
		return access.Anonymous(), false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		writeAuthError(w, "Missing bearer token")
		return access.Anonymous(), false
	}

	cred, err := m.tokens.Resolve(r.Context(), token)
	if err != nil {
		if errors.Is(err, access.ErrUnknownCredential) {
			m.logger.Warn("auth failure",
				"reason", "unknown_token",
				"ip", getClientIP(r),
				"method", r.Method,
				"path", r.URL.Path)
			writeAuthError(w, "Invalid or revoked token")
			return access.Anonymous(), false
		}
		m.logger.Error("failed to resolve token", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred")
		return access.Anonymous(), false
	}
	return cred, true
}

// RequireScope only lets app credentials holding scope through
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred := GetCredential(r)
			if cred.IsAnonymous() {
				writeAuthError(w, "Authentication required")
				return
			}
			if !cred.HasScope(scope) {
				writeJSONError(w, http.StatusForbidden, "InsufficientScope",
					"Credential lacks the "+scope+" scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetCredential returns the request's credential, anonymous when none was set
func GetCredential(r *http.Request) access.Credential {
	return CredentialFromContext(r.Context())
}

// CredentialFromContext returns the credential stored on ctx, anonymous when none was set
func CredentialFromContext(ctx context.Context) access.Credential {
	cred, ok := ctx.Value(CredentialKey).(access.Credential)
	if !ok {
		return access.Anonymous()
	}
	return cred
}

// SetTestCredential stores a credential on the context.
// Handler tests use it to simulate the middleware.
func SetTestCredential(ctx context.Context, cred access.Credential) context.Context {
	return context.WithValue(ctx, CredentialKey, cred)
}

// writeAuthError writes a JSON error response for authentication failures
func writeAuthError(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusUnauthorized, "AuthenticationRequired", message)
}

func writeJSONError(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   errorType,
		"message": message,
	}); err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}

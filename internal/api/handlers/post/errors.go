package post

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jnwheeler44/tentd/internal/api/handlers"
	"github.com/jnwheeler44/tentd/internal/core/posts"
)

// handleServiceError maps service errors to HTTP responses
func handleServiceError(w http.ResponseWriter, err error) {
	var filterErr *posts.FilterParameterError
	var schemaErr *posts.SchemaViolation

	switch {
	case errors.As(err, &filterErr):
		handlers.WriteError(w, http.StatusBadRequest, "InvalidFilterParameter", filterErr.Error())

	case errors.As(err, &schemaErr):
		handlers.WriteError(w, http.StatusBadRequest, "SchemaViolation", schemaErr.Error())

	case posts.IsValidationError(err):
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())

	case errors.Is(err, posts.ErrInvalidTypeFormat):
		handlers.WriteError(w, http.StatusBadRequest, "InvalidPostType", err.Error())

	case errors.Is(err, posts.ErrInvalidFilterParameter):
		handlers.WriteError(w, http.StatusBadRequest, "InvalidFilterParameter", err.Error())

	case posts.IsNotFound(err):
		handlers.WriteError(w, http.StatusNotFound, "NotFound", "Post not found")

	case errors.Is(err, posts.ErrConcurrentModification):
		handlers.WriteError(w, http.StatusConflict, "ConcurrentModification",
			"The post was modified by another request. Please retry.")

	case errors.Is(err, posts.ErrIDAllocationExhausted):
		handlers.WriteError(w, http.StatusServiceUnavailable, "IDAllocationExhausted",
			"Could not allocate a post id. Please retry.")

	default:
		// Don't leak internal error details to clients
		slog.Error("unexpected error in post handler", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError",
			"An internal error occurred")
	}
}

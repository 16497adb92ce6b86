package post

import (
	"net/http"

	"github.com/jnwheeler44/tentd/internal/api/handlers"
	"github.com/jnwheeler44/tentd/internal/api/middleware"
	"github.com/jnwheeler44/tentd/internal/core/posts"
	"github.com/jnwheeler44/tentd/internal/core/views"
)

// ListHandler serves post listings and counts
type ListHandler struct {
	service posts.Service
}

// NewListHandler creates a new list handler
func NewListHandler(service posts.Service) *ListHandler {
	return &ListHandler{service: service}
}

// HandleList handles GET /posts
// Query: since_id, before_id, since_time, before_time, since_post, before_post,
// sort_by, post_types, entity, limit, plus the view options.
func (h *ListHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter, err := posts.ParseFilter(query)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	list, err := h.service.ListPosts(r.Context(), filter, middleware.GetCredential(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, views.ProjectAll(list, readOptions(r)))
}

// HandleCount handles GET /posts/count with the same filter as HandleList
func (h *ListHandler) HandleCount(w http.ResponseWriter, r *http.Request) {
	filter, err := posts.ParseFilter(r.URL.Query())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	n, err := h.service.CountPosts(r.Context(), filter, middleware.GetCredential(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, map[string]int{"count": n})
}

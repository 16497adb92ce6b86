package post

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jnwheeler44/tentd/internal/api/handlers"
	"github.com/jnwheeler44/tentd/internal/core/posts"
	"github.com/jnwheeler44/tentd/internal/core/views"
)

// maxPostBodyBytes bounds create and update request bodies
const maxPostBodyBytes = 1 << 20

// WriteHandler handles post creation, update and deletion.
// Routes put it behind an app credential holding write_posts.
type WriteHandler struct {
	service posts.Service
}

// NewWriteHandler creates a new write handler
func NewWriteHandler(service posts.Service) *WriteHandler {
	return &WriteHandler{service: service}
}

// HandleCreate handles POST /posts
func (h *WriteHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req posts.CreatePostRequest
	if !handlers.DecodeJSON(w, r, maxPostBodyBytes, &req) {
		return
	}

	p, err := h.service.CreatePost(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusCreated, views.Project(p, writeOptions(r)))
}

// HandleUpdate handles PUT /posts/{id}
func (h *WriteHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req posts.UpdatePostRequest
	if !handlers.DecodeJSON(w, r, maxPostBodyBytes, &req) {
		return
	}

	p, err := h.service.UpdatePost(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, views.Project(p, writeOptions(r)))
}

// HandleDelete handles DELETE /posts/{id}
func (h *WriteHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePost(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeOptions renders writes back to their app with full permissions and app fields
func writeOptions(r *http.Request) views.Options {
	opts := views.ParseOptions(r.URL.Query())
	opts.Permissions = true
	opts.App = true
	return opts
}

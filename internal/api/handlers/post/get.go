package post

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jnwheeler44/tentd/internal/api/handlers"
	"github.com/jnwheeler44/tentd/internal/api/middleware"
	"github.com/jnwheeler44/tentd/internal/core/access"
	"github.com/jnwheeler44/tentd/internal/core/posts"
	"github.com/jnwheeler44/tentd/internal/core/views"
)

// GetHandler serves single posts and their version history
type GetHandler struct {
	service posts.Service
}

// NewGetHandler creates a new get handler
func NewGetHandler(service posts.Service) *GetHandler {
	return &GetHandler{service: service}
}

// HandleGet handles GET /posts/{id}
func (h *GetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPost(r.Context(), chi.URLParam(r, "id"), middleware.GetCredential(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, views.Project(p, readOptions(r)))
}

// HandleVersions handles GET /posts/{id}/versions, newest first
func (h *GetHandler) HandleVersions(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListPostVersions(r.Context(), chi.URLParam(r, "id"), middleware.GetCredential(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, views.ProjectVersions(list, readOptions(r)))
}

// HandleVersion handles GET /posts/{id}/versions/{version}
func (h *GetHandler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "version must be a positive integer")
		return
	}

	v, err := h.service.GetPostVersion(r.Context(), chi.URLParam(r, "id"), version, middleware.GetCredential(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, views.ProjectVersion(v, readOptions(r)))
}

// readOptions parses the view options of a read request. The permissions and
// app flags expose grant details and server timestamps, so only app
// credentials may turn them on.
func readOptions(r *http.Request) views.Options {
	opts := views.ParseOptions(r.URL.Query())
	if middleware.GetCredential(r).Kind() != access.KindApp {
		opts.Permissions = false
		opts.App = false
	}
	return opts
}

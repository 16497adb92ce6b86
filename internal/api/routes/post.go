package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/jnwheeler44/tentd/internal/api/handlers/post"
	"github.com/jnwheeler44/tentd/internal/api/middleware"
	"github.com/jnwheeler44/tentd/internal/core/access"
	"github.com/jnwheeler44/tentd/internal/core/posts"
)

// RegisterPostRoutes registers the post endpoints on the router.
// Reads accept any credential (anonymous included) and are permission-scoped by
// the service; writes require an app credential holding write_posts.
func RegisterPostRoutes(r chi.Router, service posts.Service, creds *middleware.CredentialMiddleware) {
	listHandler := post.NewListHandler(service)
	getHandler := post.NewGetHandler(service)
	writeHandler := post.NewWriteHandler(service)

	r.Route("/posts", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(creds.OptionalCredential)
			r.Get("/", listHandler.HandleList)
			r.Get("/count", listHandler.HandleCount)
			r.Get("/{id}", getHandler.HandleGet)
			r.Get("/{id}/versions", getHandler.HandleVersions)
			r.Get("/{id}/versions/{version}", getHandler.HandleVersion)
		})

		r.Group(func(r chi.Router) {
			r.Use(creds.RequireCredential, middleware.RequireScope(access.ScopeWritePosts))
			r.Post("/", writeHandler.HandleCreate)
			r.Put("/{id}", writeHandler.HandleUpdate)
			r.Delete("/{id}", writeHandler.HandleDelete)
		})
	})
}

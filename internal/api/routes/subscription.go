package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/jnwheeler44/tentd/internal/api/handlers/subscription"
	"github.com/jnwheeler44/tentd/internal/api/middleware"
	"github.com/jnwheeler44/tentd/internal/core/notifications"
)

// RegisterSubscriptionRoutes registers notification subscription endpoints.
// All of them require a credential; the handler decides which follower it acts for.
func RegisterSubscriptionRoutes(r chi.Router, service notifications.Service, creds *middleware.CredentialMiddleware) {
	handler := subscription.NewHandler(service)

	r.Route("/subscriptions", func(r chi.Router) {
		r.Use(creds.RequireCredential)
		r.Post("/", handler.HandleCreate)
		r.Get("/", handler.HandleList)
		r.Delete("/{id}", handler.HandleDelete)
	})
}

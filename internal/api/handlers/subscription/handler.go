package subscription

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jnwheeler44/tentd/internal/api/handlers"
	"github.com/jnwheeler44/tentd/internal/api/middleware"
	"github.com/jnwheeler44/tentd/internal/core/access"
	"github.com/jnwheeler44/tentd/internal/core/notifications"
)

const maxSubscriptionBodyBytes = 64 << 10

var (
	// errNoFollower is returned when the credential cannot act for a follower
	errNoFollower = errors.New("credential does not identify a follower")

	// errUnboundEntity is returned when a follower credential has no entity
	errUnboundEntity = errors.New("follower credential is not bound to an entity")

	// errForeignEntity is returned when a follower names an entity other than its own
	errForeignEntity = errors.New("entity does not match the follower credential")
)

// Handler manages notification subscriptions over HTTP.
//
// A follower credential always acts for itself: its identity, entity and groups
// replace whatever the body says, and a body naming another entity is refused. An app credential holding write_posts acts for the
// follower named by follower_id.
type Handler struct {
	service notifications.Service
}

// NewHandler creates a new subscription handler
func NewHandler(service notifications.Service) *Handler {
	return &Handler{service: service}
}

// HandleCreate handles POST /subscriptions
// Request body: { "entity": "<follower entity>", "type": "<post type URI>", "groups": [...], "follower_id": 7 }
// Followers may omit entity.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req notifications.SubscribeRequest
	if !handlers.DecodeJSON(w, r, maxSubscriptionBodyBytes, &req) {
		return
	}

	cred := middleware.GetCredential(r)
	switch {
	case cred.Kind() == access.KindFollower:
		if err := bindFollower(&req, cred); err != nil {
			handleServiceError(w, err)
			return
		}
	case cred.HasScope(access.ScopeWritePosts):
	default:
		handleServiceError(w, errNoFollower)
		return
	}

	sub, err := h.service.Subscribe(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, sub)
}

// HandleList handles GET /subscriptions
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	followerID, err := followerFor(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	list, err := h.service.ListSubscriptions(r.Context(), followerID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, list)
}

// HandleDelete handles DELETE /subscriptions/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "id must be an integer")
		return
	}

	followerID, err := followerFor(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.Unsubscribe(r.Context(), followerID, id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bindFollower makes req act for the follower behind cred
func bindFollower(req *notifications.SubscribeRequest, cred access.Credential) error {
	if cred.Entity() == "" {
		return errUnboundEntity
	}
	if req.Entity != "" && req.Entity != cred.Entity() {
		return errForeignEntity
	}
	req.FollowerID = cred.Identity()
	req.Entity = cred.Entity()
	req.Groups = cred.Groups()
	return nil
}

// followerFor picks the follower a read or delete acts for
func followerFor(r *http.Request) (int64, error) {
	cred := middleware.GetCredential(r)
	if cred.Kind() == access.KindFollower {
		return cred.Identity(), nil
	}
	if !cred.HasScope(access.ScopeWritePosts) {
		return 0, errNoFollower
	}
	id, err := strconv.ParseInt(r.URL.Query().Get("follower_id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, notifications.NewValidationError("follower_id", "must be a positive integer")
	}
	return id, nil
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNoFollower), errors.Is(err, errUnboundEntity), errors.Is(err, errForeignEntity):
		handlers.WriteError(w, http.StatusForbidden, "NotAuthorized", err.Error())

	case notifications.IsValidationError(err):
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())

	case notifications.IsNotFound(err):
		handlers.WriteError(w, http.StatusNotFound, "SubscriptionNotFound", "Subscription not found")

	case notifications.IsConflict(err):
		handlers.WriteError(w, http.StatusConflict, "AlreadyExists", "Subscription already exists")

	default:
		slog.Error("unexpected error in subscription handler", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError",
			"An internal error occurred")
	}
}

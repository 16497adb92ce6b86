package notifications

import (
	"context"

	"github.com/jnwheeler44/tentd/internal/core/access"
)

// Submitter accepts delivery tasks. Submit must not block on delivery.
type Submitter interface {
	Submit(ctx context.Context, task Task) error
}

// FollowerDirectory resolves a follower's current credential. Implemented by
// access.TokenStore; returns access.ErrUnknownCredential for followers without
// a live token.
type FollowerDirectory interface {
	LookupFollower(ctx context.Context, followerID int64) (access.Credential, error)
}

// SubscriptionRepository defines the data access interface for subscriptions
type SubscriptionRepository interface {
	// Create stores a subscription and sets its ID and CreatedAt.
	// Returns ErrSubscriptionExists for a duplicate (follower, type).
	Create(ctx context.Context, sub *Subscription) error

	// Delete removes a follower's subscription or returns ErrSubscriptionNotFound
	Delete(ctx context.Context, followerID, id int64) error

	// ListByTypeBase returns every subscription to any version of the type base
	ListByTypeBase(ctx context.Context, typeBase string) ([]*Subscription, error)

	// ListByFollower returns a follower's subscriptions, oldest first
	ListByFollower(ctx context.Context, followerID int64) ([]*Subscription, error)
}

// Service manages notification subscriptions
type Service interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error)
	Unsubscribe(ctx context.Context, followerID, id int64) error
	ListSubscriptions(ctx context.Context, followerID int64) ([]*Subscription, error)
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jnwheeler44/tentd/internal/core/notifications"
)

// SubscriptionRepository implements notifications.SubscriptionRepository
type SubscriptionRepository struct {
	subscriptions map[int64]*notifications.Subscription
	now           func() time.Time
	nextID        int64
	mu            sync.RWMutex
}

// NewSubscriptionRepository creates an empty subscription repository
func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{
		subscriptions: make(map[int64]*notifications.Subscription),
		now:           time.Now,
	}
}

var _ notifications.SubscriptionRepository = (*SubscriptionRepository)(nil)

// Create stores a subscription; (follower, type) pairs are unique
func (s *SubscriptionRepository) Create(ctx context.Context, sub *notifications.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subscriptions {
		if existing.FollowerID == sub.FollowerID && existing.TypeURI == sub.TypeURI {
			return notifications.ErrSubscriptionExists
		}
	}
	s.nextID++
	sub.ID = s.nextID
	sub.CreatedAt = s.now().UTC()
	s.subscriptions[sub.ID] = cloneSubscription(sub)
	return nil
}

// Delete removes one of the follower's subscriptions
func (s *SubscriptionRepository) Delete(ctx context.Context, followerID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok || sub.FollowerID != followerID {
		return notifications.ErrSubscriptionNotFound
	}
	delete(s.subscriptions, id)
	return nil
}

// ListByTypeBase returns subscriptions to the type base, ordered by id
func (s *SubscriptionRepository) ListByTypeBase(ctx context.Context, typeBase string) ([]*notifications.Subscription, error) {
	return s.list(func(sub *notifications.Subscription) bool {
		return sub.TypeBase == typeBase
	}), nil
}

// ListByFollower returns a follower's subscriptions, ordered by id
func (s *SubscriptionRepository) ListByFollower(ctx context.Context, followerID int64) ([]*notifications.Subscription, error) {
	return s.list(func(sub *notifications.Subscription) bool {
		return sub.FollowerID == followerID
	}), nil
}

func (s *SubscriptionRepository) list(keep func(*notifications.Subscription) bool) []*notifications.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*notifications.Subscription{}
	for _, sub := range s.subscriptions {
		if keep(sub) {
			out = append(out, cloneSubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneSubscription(sub *notifications.Subscription) *notifications.Subscription {
	c := *sub
	c.Groups = append([]string(nil), sub.Groups...)
	return &c
}

package notifications

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jnwheeler44/tentd/internal/core/access"
	"github.com/jnwheeler44/tentd/internal/core/posts"
)

// Fanout turns a saved post into delivery tasks. It implements posts.Notifier.
type Fanout struct {
	subs      SubscriptionRepository
	followers FollowerDirectory
	submitter Submitter
	logger    *slog.Logger
}

// NewFanout creates a fanout. If logger is nil, slog.Default() is used.
func NewFanout(subs SubscriptionRepository, followers FollowerDirectory, submitter Submitter, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		subs:      subs,
		followers: followers,
		submitter: submitter,
		logger:    logger,
	}
}

var _ posts.Notifier = (*Fanout)(nil)

// PostSaved enqueues one notify_entity task per mentioned entity that no
// notifiable subscription covers, then one notify_subscriber task per
// subscription allowed to see the post. Errors are logged and swallowed.
func (f *Fanout) PostSaved(ctx context.Context, post *posts.Post) {
	if post == nil {
		return
	}
	notifiable := f.notifiableSubscriptions(ctx, post)

	covered := make(map[string]bool, len(notifiable))
	for _, sub := range notifiable {
		covered[sub.Entity] = true
	}

	seen := make(map[string]bool, len(post.Mentions))
	for _, m := range post.Mentions {
		if m.Entity == "" || m.Entity == post.Entity || seen[m.Entity] || covered[m.Entity] {
			continue
		}
		seen[m.Entity] = true
		f.submit(ctx, Task{
			Kind:        TaskNotifyEntity,
			PostID:      post.PublicID,
			PostVersion: post.Version,
			Entity:      m.Entity,
		})
	}

	for _, sub := range notifiable {
		f.submit(ctx, Task{
			Kind:           TaskNotifySubscriber,
			PostID:         post.PublicID,
			PostVersion:    post.Version,
			Entity:         sub.Entity,
			SubscriptionID: sub.ID,
		})
	}
}

// notifiableSubscriptions returns the distinct subscriptions for the post's type
// whose follower passes the notify check, in repository order. The check uses
// the follower's current credential, not the groups recorded at subscribe time.
func (f *Fanout) notifiableSubscriptions(ctx context.Context, post *posts.Post) []*Subscription {
	subs, err := f.subs.ListByTypeBase(ctx, post.Type.Base)
	if err != nil {
		f.logger.Error("failed to load subscriptions",
			"error", err,
			"type_base", post.Type.Base,
			"public_id", post.PublicID)
		return nil
	}

	res := post.Resource()
	type lookup struct {
		cred access.Credential
		ok   bool
	}
	followers := make(map[int64]lookup)
	seen := make(map[int64]bool, len(subs))
	var out []*Subscription
	for _, sub := range subs {
		if seen[sub.ID] {
			continue
		}
		seen[sub.ID] = true

		if !subscriptionMatches(sub, post.Type) {
			continue
		}
		follower, cached := followers[sub.FollowerID]
		if !cached {
			follower.cred, follower.ok = f.currentFollower(ctx, sub.FollowerID)
			followers[sub.FollowerID] = follower
		}
		if !follower.ok || !access.CanNotify(res, follower.cred) {
			continue
		}
		out = append(out, sub)
	}
	return out
}

// currentFollower returns the follower's live credential. A follower without a
// live token is no longer notified. When the lookup fails the follower keeps
// only what grants naming it directly allow.
func (f *Fanout) currentFollower(ctx context.Context, followerID int64) (access.Credential, bool) {
	cred, err := f.followers.LookupFollower(ctx, followerID)
	if errors.Is(err, access.ErrUnknownCredential) {
		return access.Anonymous(), false
	}
	if err != nil {
		f.logger.Error("failed to look up follower",
			"error", err,
			"follower_id", followerID)
		return access.Follower(followerID), true
	}
	return cred, true
}

func subscriptionMatches(sub *Subscription, t posts.TypeDescriptor) bool {
	filter, err := posts.ParseTypeFilter(sub.TypeURI)
	if err != nil {
		return sub.TypeBase == t.Base
	}
	return filter.Matches(t)
}

func (f *Fanout) submit(ctx context.Context, task Task) {
	if err := f.submitter.Submit(ctx, task); err != nil {
		f.logger.Warn("failed to submit notification task",
			"error", err,
			"kind", task.Kind,
			"target", task.Target(),
			"public_id", task.PostID,
			"version", task.PostVersion)
	}
}

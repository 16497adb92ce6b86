package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jnwheeler44/tentd/internal/core/posts"
)

type subscriptionService struct {
	repo     SubscriptionRepository
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates a subscription service. If logger is nil, slog.Default() is used.
func NewService(repo SubscriptionRepository, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
	return &subscriptionService{
		repo:     repo,
		validate: v,
		logger:   logger,
	}
}

// Subscribe registers interest in a post type. A type without a version
// subscribes to every version of its base.
func (s *subscriptionService) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, NewValidationError(verrs[0].Field(), fmt.Sprintf("failed %q validation", verrs[0].Tag()))
		}
		return nil, NewValidationError("request", err.Error())
	}

	typ, err := posts.ParseTypeFilter(req.Type)
	if err != nil {
		return nil, NewValidationError("type", err.Error())
	}

	sub := &Subscription{
		FollowerID: req.FollowerID,
		Entity:     req.Entity,
		Groups:     append([]string(nil), req.Groups...),
		TypeURI:    typ.URI(),
		TypeBase:   typ.Base,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		if IsConflict(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	s.logger.Info("subscription created",
		"subscription_id", sub.ID,
		"follower_id", sub.FollowerID,
		"type", sub.TypeURI)
	return sub, nil
}

// Unsubscribe removes one of the follower's subscriptions
func (s *subscriptionService) Unsubscribe(ctx context.Context, followerID, id int64) error {
	if err := s.repo.Delete(ctx, followerID, id); err != nil {
		if IsNotFound(err) {
			return err
		}
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	s.logger.Info("subscription deleted", "subscription_id", id, "follower_id", followerID)
	return nil
}

// ListSubscriptions returns a follower's subscriptions
func (s *subscriptionService) ListSubscriptions(ctx context.Context, followerID int64) ([]*Subscription, error) {
	subs, err := s.repo.ListByFollower(ctx, followerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/jnwheeler44/tentd/internal/core/notifications"
)

type postgresSubscriptionRepo struct {
	db *sql.DB
}

// NewSubscriptionRepository creates a new PostgreSQL notification subscription repository
func NewSubscriptionRepository(db *sql.DB) notifications.SubscriptionRepository {
	return &postgresSubscriptionRepo{db: db}
}

// Create inserts a subscription
func (r *postgresSubscriptionRepo) Create(ctx context.Context, sub *notifications.Subscription) error {
	query := `
		INSERT INTO notification_subscriptions (follower_id, entity, type_uri, type_base, groups)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		sub.FollowerID, sub.Entity, sub.TypeURI, sub.TypeBase, pq.Array(nonNilStrings(sub.Groups)),
	).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "notification_subscriptions_follower_type_key") {
			return notifications.ErrSubscriptionExists
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// Delete removes a follower's subscription
func (r *postgresSubscriptionRepo) Delete(ctx context.Context, followerID, id int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notification_subscriptions WHERE id = $1 AND follower_id = $2`, id, followerID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rowsAffected == 0 {
		return notifications.ErrSubscriptionNotFound
	}
	return nil
}

// ListByTypeBase returns subscriptions for a type base ordered by id
func (r *postgresSubscriptionRepo) ListByTypeBase(ctx context.Context, typeBase string) ([]*notifications.Subscription, error) {
	return r.list(ctx, `
		SELECT id, follower_id, entity, type_uri, type_base, groups, created_at
		FROM notification_subscriptions
		WHERE type_base = $1
		ORDER BY id
	`, typeBase)
}

// ListByFollower returns a follower's subscriptions ordered by id
func (r *postgresSubscriptionRepo) ListByFollower(ctx context.Context, followerID int64) ([]*notifications.Subscription, error) {
	return r.list(ctx, `
		SELECT id, follower_id, entity, type_uri, type_base, groups, created_at
		FROM notification_subscriptions
		WHERE follower_id = $1
		ORDER BY id
	`, followerID)
}

func (r *postgresSubscriptionRepo) list(ctx context.Context, query string, arg any) ([]*notifications.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []*notifications.Subscription{}
	for rows.Next() {
		var sub notifications.Subscription
		var groups pq.StringArray
		if err := rows.Scan(
			&sub.ID, &sub.FollowerID, &sub.Entity, &sub.TypeURI, &sub.TypeBase, &groups, &sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		sub.Groups = []string(groups)
		result = append(result, &sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}
	return result, nil
}

package notifications

import (
	"strconv"
	"strings"
	"time"
)

// TaskKind names the delivery a task performs
type TaskKind string

const (
	// TaskNotifyEntity delivers a post to a mentioned entity that has no subscription
	TaskNotifyEntity TaskKind = "notify_entity"
	// TaskNotifySubscriber delivers a post to a notification subscription
	TaskNotifySubscriber TaskKind = "notify_subscriber"
)

// Task is one unit of asynchronous delivery work
type Task struct {
	Kind           TaskKind `json:"kind"`
	PostID         string   `json:"post_id"`
	Entity         string   `json:"entity,omitempty"`
	PostVersion    int      `json:"post_version"`
	SubscriptionID int64    `json:"subscription_id,omitempty"`
}

// Target is the entity URI for entity tasks and the subscription id for subscriber tasks
func (t Task) Target() string {
	if t.Kind == TaskNotifySubscriber {
		return strconv.FormatInt(t.SubscriptionID, 10)
	}
	return t.Entity
}

// Key identifies the task for idempotent enqueue: kind|target|post|version
func (t Task) Key() string {
	return strings.Join([]string{
		string(t.Kind),
		t.Target(),
		t.PostID,
		strconv.Itoa(t.PostVersion),
	}, "|")
}

// Subscription asks for delivery of every post of a type the follower may see
type Subscription struct {
	CreatedAt  time.Time `json:"created_at"`
	Entity     string    `json:"entity"`
	TypeURI    string    `json:"type"`
	TypeBase   string    `json:"-"`
	Groups     []string  `json:"groups,omitempty"`
	ID         int64     `json:"id"`
	FollowerID int64     `json:"follower_id"`
}

// SubscribeRequest represents input for creating a subscription
type SubscribeRequest struct {
	Entity     string   `json:"entity" validate:"required,url"`
	Type       string   `json:"type" validate:"required"`
	Groups     []string `json:"groups,omitempty" validate:"dive,required"`
	FollowerID int64    `json:"follower_id" validate:"required,gt=0"`
}

package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSubscribe(t *testing.T) {
	repo := new(mockSubscriptionRepository)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*notifications.Subscription")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*Subscription).ID = 42
		}).
		Return(nil)

	svc := NewService(repo, nil)
	sub, err := svc.Subscribe(context.Background(), SubscribeRequest{
		FollowerID: 7,
		Entity:     "https://bob.example.com",
		Type:       "https://tent.io/types/post/status/v0.1.0",
		Groups:     []string{"friends"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), sub.ID)
	assert.Equal(t, statusBase, sub.TypeBase)
	assert.Equal(t, statusBase+"/v0.1.0", sub.TypeURI)
	assert.Equal(t, []string{"friends"}, sub.Groups)
	repo.AssertExpectations(t)
}

func TestSubscribe_VersionlessType(t *testing.T) {
	repo := new(mockSubscriptionRepository)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	sub, err := NewService(repo, nil).Subscribe(context.Background(), SubscribeRequest{
		FollowerID: 7,
		Entity:     "https://bob.example.com",
		Type:       statusBase,
	})
	require.NoError(t, err)
	assert.Equal(t, statusBase, sub.TypeURI)
	assert.Equal(t, statusBase, sub.TypeBase)
}

func TestSubscribe_Validation(t *testing.T) {
	svc := NewService(new(mockSubscriptionRepository), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SubscribeRequest
	}{
		{"missing follower", SubscribeRequest{Entity: "https://bob.example.com", Type: statusBase}},
		{"missing entity", SubscribeRequest{FollowerID: 1, Type: statusBase}},
		{"entity not a url", SubscribeRequest{FollowerID: 1, Entity: "bob", Type: statusBase}},
		{"missing type", SubscribeRequest{FollowerID: 1, Entity: "https://bob.example.com"}},
		{"bad type", SubscribeRequest{FollowerID: 1, Entity: "https://bob.example.com", Type: "not a type"}},
		{"empty group", SubscribeRequest{FollowerID: 1, Entity: "https://bob.example.com", Type: statusBase, Groups: []string{""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Subscribe(ctx, tt.req)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}
}

func TestSubscribe_Conflict(t *testing.T) {
	repo := new(mockSubscriptionRepository)
	repo.On("Create", mock.Anything, mock.Anything).Return(ErrSubscriptionExists)

	_, err := NewService(repo, nil).Subscribe(context.Background(), SubscribeRequest{
		FollowerID: 7,
		Entity:     "https://bob.example.com",
		Type:       statusBase,
	})
	assert.True(t, IsConflict(err))
}

func TestUnsubscribe(t *testing.T) {
	repo := new(mockSubscriptionRepository)
	repo.On("Delete", mock.Anything, int64(7), int64(1)).Return(nil)
	repo.On("Delete", mock.Anything, int64(7), int64(2)).Return(ErrSubscriptionNotFound)
	repo.On("Delete", mock.Anything, int64(7), int64(3)).Return(errors.New("db down"))
	svc := NewService(repo, nil)
	ctx := context.Background()

	assert.NoError(t, svc.Unsubscribe(ctx, 7, 1))
	assert.True(t, IsNotFound(svc.Unsubscribe(ctx, 7, 2)))

	err := svc.Unsubscribe(ctx, 7, 3)
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestListSubscriptions(t *testing.T) {
	repo := new(mockSubscriptionRepository)
	repo.On("ListByFollower", mock.Anything, int64(7)).Return([]*Subscription{{ID: 1}, {ID: 2}}, nil)

	subs, err := NewService(repo, nil).ListSubscriptions(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

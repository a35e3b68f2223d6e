package events

import (
	"context"

	"github.com/yoockh/closingdesk/internal/models"
)

// Publisher announces auth state changes for a user.
type Publisher interface {
	Publish(ctx context.Context, e models.AuthEvent) error
}

// Subscriber opens a per-user feed of auth events.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (Subscription, error)
}

type Subscription interface {
	Events() <-chan models.AuthEvent
	Close() error
}

type Bus interface {
	Publisher
	Subscriber
}

func userChannel(userID string) string { return "auth:user:" + userID + ":events" }

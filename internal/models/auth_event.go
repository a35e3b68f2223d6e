package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type AuthEventType string

const (
	EventSignedIn           AuthEventType = "SIGNED_IN"
	EventSignedOut          AuthEventType = "SIGNED_OUT"
	EventTokenRefreshed     AuthEventType = "TOKEN_REFRESHED"
	EventTokenRefreshFailed AuthEventType = "TOKEN_REFRESH_FAILED"
	EventProfileUpdated     AuthEventType = "PROFILE_UPDATED"
)

type AuthEvent struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	EventID string             `bson:"event_id" json:"event_id"`
	Type    AuthEventType      `bson:"type" json:"type"`
	UserID  string             `bson:"user_id" json:"user_id"`
	Path    string             `bson:"path,omitempty" json:"path,omitempty"`
	Reason  string             `bson:"reason,omitempty" json:"reason,omitempty"`
	At      time.Time          `bson:"at" json:"at"`

	ExpiresAt time.Time `bson:"expires_at" json:"-"` // TTL index
}

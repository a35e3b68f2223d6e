package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yoockh/closingdesk/internal/models"
)

const (
	DefaultEventLimit int64 = 100
	MaxEventLimit     int64 = 500
)

type AuthEventRepository interface {
	Insert(ctx context.Context, e *models.AuthEvent) error
	ListByUser(ctx context.Context, userID string, limit int64) ([]models.AuthEvent, error)
}

type authEventRepo struct {
	col *mongo.Collection
	ttl time.Duration
}

func NewAuthEventRepo(db *mongo.Database, ttl time.Duration) AuthEventRepository {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &authEventRepo{col: db.Collection("auth_events"), ttl: ttl}
}

// Insert is idempotent on EventID so stream redelivery is harmless.
func (r *authEventRepo) Insert(ctx context.Context, e *models.AuthEvent) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.ExpiresAt.IsZero() {
		e.ExpiresAt = e.At.Add(r.ttl)
	}
	_, err := r.col.InsertOne(ctx, e)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// ClampEventLimit maps a requested page size into [1, MaxEventLimit].
// Zero or negative means DefaultEventLimit.
func ClampEventLimit(limit int64) int64 {
	switch {
	case limit <= 0:
		return DefaultEventLimit
	case limit > MaxEventLimit:
		return MaxEventLimit
	}
	return limit
}

func (r *authEventRepo) ListByUser(ctx context.Context, userID string, limit int64) ([]models.AuthEvent, error) {
	limit = ClampEventLimit(limit)

	cur, err := r.col.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().
			SetSort(bson.D{{Key: "at", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.AuthEvent{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

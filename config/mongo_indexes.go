package config

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	if db == nil {
		return errors.New("mongo database is nil; call OpenMongo first")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	events := db.Collection("auth_events")
	_, err := events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		// expire at ExpiresAt (must be Date)
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().
				SetName("ttl_expires_at").
				SetExpireAfterSeconds(0),
		},
		// stream redelivery must not duplicate rows
		{
			Keys: bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_event_id").
				SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "at", Value: -1}},
			Options: options.Index().SetName("by_user_at"),
		},
	})
	return err
}

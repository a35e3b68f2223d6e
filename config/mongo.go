package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig holds the audit store settings.
type MongoConfig struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	// AuditRetention is how long auth events are kept before the TTL index drops them.
	AuditRetention time.Duration
}

func LoadMongo() (MongoConfig, error) {
	mc := MongoConfig{
		URI:            os.Getenv("MONGO_URI"),
		Database:       getEnv("MONGO_DB", "closingdesk"),
		MaxPoolSize:    10,
		AuditRetention: 30 * 24 * time.Hour,
	}
	if mc.URI == "" {
		return mc, errors.New("MONGO_URI environment variable is not set")
	}
	if v := os.Getenv("MONGO_MAX_POOL"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return mc, fmt.Errorf("invalid MONGO_MAX_POOL %q", v)
		}
		mc.MaxPoolSize = n
	}
	if v := os.Getenv("AUDIT_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return mc, fmt.Errorf("invalid AUDIT_RETENTION %q", v)
		}
		mc.AuditRetention = d
	}
	return mc, nil
}

// OpenMongo connects and pings, returning the client and the audit database.
func OpenMongo(ctx context.Context, mc MongoConfig) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(mc.URI).
		SetAppName("closingdesk").
		SetServerSelectionTimeout(15*time.Second).
		SetMaxPoolSize(mc.MaxPoolSize))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, client.Database(mc.Database), nil
}

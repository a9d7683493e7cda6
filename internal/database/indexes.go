package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateIndexes creates the session entry indexes, including the TTL index
// the server uses to drop expired entries
func CreateIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_expires_at_ttl"),
		},
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	names, err := collection.Indexes().CreateMany(ctxTimeout, indexes)
	if err != nil {
		return fmt.Errorf("failed to create session entry indexes: %w", err)
	}

	slog.Info("Created session entry indexes", "indexes", names)
	return nil
}

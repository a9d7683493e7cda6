package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// CollectionSessionEntries holds the session store's key/value pairs
const CollectionSessionEntries = "session_entries"

// MongoDB is the connection backing the session store
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
}

// Connect dials uri and waits up to timeout for the primary to answer
func Connect(ctx context.Context, uri, database string, timeout time.Duration) (*MongoDB, error) {
	slog.Info("Connecting to MongoDB", "database", database)

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetAppName("tabwatch").
		SetServerSelectionTimeout(timeout).
		SetRetryWrites(true)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	slog.Info("Successfully connected to MongoDB")
	return &MongoDB{client: client, database: client.Database(database)}, nil
}

// Sessions returns the session entries collection
func (m *MongoDB) Sessions() *mongo.Collection {
	return m.database.Collection(CollectionSessionEntries)
}

// Ping verifies the primary is reachable
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Disconnect closes the connection, giving in-flight operations ten seconds
func (m *MongoDB) Disconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	slog.Info("Disconnected from MongoDB")
	return nil
}

package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dandantas/tabwatch/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoKV is a session store backend on a MongoDB collection. Expiry is
// enforced by the TTL index and re-checked on read, since the server's TTL
// monitor only runs about once a minute.
type MongoKV struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewMongoKV creates a backend on collection, normally MongoDB.Sessions
func NewMongoKV(collection *mongo.Collection) *MongoKV {
	return &MongoKV{
		collection: collection,
		now:        time.Now,
	}
}

func (m *MongoKV) live(entry model.SessionEntry) bool {
	return entry.ExpiresAt == nil || m.now().Before(*entry.ExpiresAt)
}

// Get retrieves a value by key
func (m *MongoKV) Get(ctx context.Context, key string) (string, bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var entry model.SessionEntry
	err := m.collection.FindOne(ctxTimeout, bson.M{"_id": key}).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get session entry: %w", err)
	}
	if !m.live(entry) {
		return "", false, nil
	}
	return entry.Value, true, nil
}

// Set upserts a value
func (m *MongoKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := m.now().UTC()
	set := bson.M{
		"value":      value,
		"updated_at": now,
	}
	update := bson.M{"$set": set}
	if ttl > 0 {
		set["expires_at"] = now.Add(ttl)
	} else {
		update["$unset"] = bson.M{"expires_at": ""}
	}

	opts := options.Update().SetUpsert(true)
	if _, err := m.collection.UpdateOne(ctxTimeout, bson.M{"_id": key}, update, opts); err != nil {
		return fmt.Errorf("failed to set session entry: %w", err)
	}
	return nil
}

// Delete removes entries by key
func (m *MongoKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := m.collection.DeleteMany(ctxTimeout, bson.M{"_id": bson.M{"$in": keys}}); err != nil {
		return fmt.Errorf("failed to delete session entries: %w", err)
	}
	return nil
}

// Keys lists live keys starting with prefix
func (m *MongoKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	opts := options.Find().
		SetProjection(bson.M{"_id": 1, "expires_at": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := m.collection.Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list session entries: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var entries []model.SessionEntry
	if err := cursor.All(ctxTimeout, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode session entries: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if m.live(e) {
			keys = append(keys, e.Key)
		}
	}
	return keys, nil
}

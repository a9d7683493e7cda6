package model

import "time"

// SessionEntry is one key/value pair of the persistent session store as
// kept in MongoDB
type SessionEntry struct {
	Key       string     `bson:"_id"`
	Value     string     `bson:"value"`
	UpdatedAt time.Time  `bson:"updated_at"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"` // TTL index; nil never expires
}

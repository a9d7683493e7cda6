// Package app owns the values captured once at startup and handed down to
// the rest of the program.
package app

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyInitialized is returned by every Init after the first
var ErrAlreadyInitialized = errors.New("app: already initialized")

var initialized atomic.Bool

// Session describes this application instance
type Session struct {
	ID       string    // Distinct per process, used as the analytics session id
	LoadedAt time.Time // When the app was loaded
}

// Init captures the load time. It succeeds once per process.
func Init(now time.Time) (*Session, error) {
	if !initialized.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInitialized
	}
	return &Session{
		ID:       uuid.NewString(),
		LoadedAt: now,
	}, nil
}

// Uptime returns how long ago the app was loaded
func (s *Session) Uptime(now time.Time) time.Duration {
	return now.Sub(s.LoadedAt)
}

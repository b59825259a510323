// Package kv defines the durable key-value store contract shared by the
// application data façade and the notification scheduler.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmptyKey is returned when a write is attempted with an empty key.
	ErrEmptyKey = errors.New("kv: key must not be empty")
	// ErrIO wraps storage medium failures (disk, permissions, locked database).
	// Callers decide whether to retry.
	ErrIO = errors.New("kv: storage failure")
	// ErrCorrupt is returned when a stored record fails its integrity check.
	// Other keys remain usable.
	ErrCorrupt = errors.New("kv: corrupt record")
)

// Entry is a single committed key-value record.
type Entry struct {
	Key       string
	Value     []byte
	Corrupt   bool // value failed its checksum; Value is not trustworthy
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is a crash-safe mapping from string keys to opaque values.
//
// Save is atomic and durable before it returns: a reader observes either the
// previous value or the new one, never a mixture. Load returns ok=false for
// keys that were never written or were deleted. Delete is idempotent.
// ListPrefix returns a point-in-time snapshot ordered by key.
type Store interface {
	Save(ctx context.Context, key string, value []byte) error
	Load(ctx context.Context, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error
	ListPrefix(ctx context.Context, prefix string) ([]Entry, error)
}

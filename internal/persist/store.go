// Package persist defines the durable key-value capability caches snapshot into,
// and the backends that provide it.
package persist

import (
	"context"
	"errors"
)

var (
	ErrQuotaExceeded = errors.New("persistence quota exceeded")
	ErrStoreClosed   = errors.New("persistence store closed")
	ErrCorrupt       = errors.New("persisted snapshot is corrupt")
)

// Store is a string-keyed, string-valued durable store. One key holds one
// cache's whole snapshot.
type Store interface {
	// Read returns the value at key and whether it exists.
	Read(ctx context.Context, key string) (string, bool, error)

	// Write replaces the value at key.
	Write(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// ABOUTME: Durable room-scoped key-value store interface
// ABOUTME: Backs schedule entries and identity/room bookkeeping across restarts

package statestore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("not found")

// Store is the minimal durable state the core needs: room-scoped keys with
// opaque values. Reads are safe for concurrent use from every identity
// loop; write volume is low (schedule creation and firing).
type Store interface {
	// Get returns the value for a key in a room, or ErrNotFound.
	Get(ctx context.Context, room, key string) ([]byte, error)

	// Put writes a value, replacing any existing one.
	Put(ctx context.Context, room, key string, value []byte) error

	// List returns all key/value pairs in a room whose key starts with
	// prefix.
	List(ctx context.Context, room, prefix string) (map[string][]byte, error)

	// Rooms returns every room that has at least one key with the prefix.
	Rooms(ctx context.Context, prefix string) ([]string, error)

	// Close releases the underlying resources.
	Close() error
}

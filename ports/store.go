package ports

import (
	"context"
	"time"
)

// Store persists session snapshots across process restarts.
type Store interface {
	// Set stores a value under key with an expiration time. A zero ttl
	// means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get retrieves a value by key, returning core.ErrNotFound when absent.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

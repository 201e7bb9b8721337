package domain

import (
	"context"
	"time"
)

// Cache is a byte-value cache used to memoize expensive data-port lookups
// (counterparty history, asset supply). Backed by a local LRU for single-node
// deployments, Redis or a two-phase LRU+Redis combination otherwise.
type Cache interface {
	// Get retrieves a value. Returns nil, nil if the key is not present.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

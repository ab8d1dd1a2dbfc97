// Package cache provides a small key-value cache abstraction used to keep
// hot branch comparisons out of the database. Two backends exist: an
// in-process LRU with per-entry TTL, and Redis for multi-process
// deployments.
package cache

import (
	"context"
	"time"
)

// Backend is a TTL'd byte cache. Implementations must be safe for
// concurrent use. A miss is not an error: Get returns found=false.
type Backend interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Package replay records which single-use token signatures have been spent.
package replay

import (
	"context"
	"time"
)

// KeyPrefix namespaces consumed-token entries in the shared cache.
const KeyPrefix = "qr:consumed:"

// Key returns the cache key for a token signature.
func Key(signature string) string { return KeyPrefix + signature }

// Guard is a TTL set of consumed signatures. Absence means "not yet used".
type Guard interface {
	// SetIfAbsent atomically marks signature as consumed. It reports false
	// when another caller marked it first.
	SetIfAbsent(ctx context.Context, signature string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, signature string) (bool, error)
	// Release undoes a mark whose attendance write did not commit.
	Release(ctx context.Context, signature string) error
}

// TTLFor keeps an entry until the validator would reject the token on expiry
// alone, with a one second floor.
func TTLFor(expiresAt, now time.Time, skew time.Duration) time.Duration {
	ttl := expiresAt.Add(skew).Sub(now)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

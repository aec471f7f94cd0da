package cache

import (
	"context"
	"encoding/json"
	"time"
)

// GetJSON looks up key and decodes its value as T. It reports ok=false on a
// cache miss or a decode failure — a decode failure is treated as a miss
// rather than an error so a stale or differently-versioned cached blob
// never breaks the caller, it just falls through to a fresh lookup.
// Grounded on the same generic-helper shape as pkg/database's
// WithTransactionResult[T any].
func GetJSON[T any](ctx context.Context, c Cache, key string) (value T, ok bool) {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false
	}
	return value, true
}

// SetJSON encodes value as JSON and stores it under key with the given TTL.
// Encode failures are swallowed the same way routing.CachingResolver and
// boundary.CachingResolver already treat them: populating the cache is an
// optimization, never a requirement for correctness.
func SetJSON[T any](ctx context.Context, c Cache, key string, value T, ttl time.Duration) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.Set(ctx, key, encoded, ttl)
}

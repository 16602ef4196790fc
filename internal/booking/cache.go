package booking

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "checkout:booking:"

// Cache keeps raw booking detail payloads in Redis so numbers survive the
// round trip untouched.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCache constructs a cache helper. A nil client or non-positive ttl
// disables caching.
func NewCache(client redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Get returns the cached payload for a booking and whether it existed.
func (c *Cache) Get(ctx context.Context, bookingID string) ([]byte, bool, error) {
	if !c.enabled() || bookingID == "" {
		return nil, false, nil
	}
	data, err := c.client.Get(ctx, cacheKeyPrefix+bookingID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Set stores a booking payload with the configured TTL.
func (c *Cache) Set(ctx context.Context, bookingID string, payload []byte) error {
	if !c.enabled() || bookingID == "" {
		return nil
	}
	return c.client.Set(ctx, cacheKeyPrefix+bookingID, payload, c.ttl).Err()
}

// Invalidate drops the cached payload for a booking.
func (c *Cache) Invalidate(ctx context.Context, bookingID string) error {
	if !c.enabled() || bookingID == "" {
		return nil
	}
	return c.client.Del(ctx, cacheKeyPrefix+bookingID).Err()
}

package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// SnapshotStore mirrors the latest session state outside the process.
type SnapshotStore interface {
	Save(ctx context.Context, s Session) error
	Load(ctx context.Context, bookingID string) (Session, bool, error)
	Delete(ctx context.Context, bookingID string) error
}

const snapshotPrefix = "checkout:session:"

// RedisSnapshots stores sessions as JSON strings with a TTL.
type RedisSnapshots struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisSnapshots constructs the store. A nil client disables it.
func NewRedisSnapshots(client redis.UniversalClient, ttl time.Duration) *RedisSnapshots {
	return &RedisSnapshots{client: client, ttl: ttl}
}

func (r *RedisSnapshots) enabled() bool {
	return r != nil && r.client != nil
}

// Save implements SnapshotStore.
func (r *RedisSnapshots) Save(ctx context.Context, s Session) error {
	if !r.enabled() {
		return nil
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, snapshotPrefix+s.BookingID, payload, r.ttl).Err()
}

// Load implements SnapshotStore.
func (r *RedisSnapshots) Load(ctx context.Context, bookingID string) (Session, bool, error) {
	if !r.enabled() {
		return Session{}, false, nil
	}
	payload, err := r.client.Get(ctx, snapshotPrefix+bookingID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

// Delete implements SnapshotStore.
func (r *RedisSnapshots) Delete(ctx context.Context, bookingID string) error {
	if !r.enabled() {
		return nil
	}
	return r.client.Del(ctx, snapshotPrefix+bookingID).Err()
}

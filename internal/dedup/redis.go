package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Tracker backed by a Redis instance, for deployments where the
// advisor runs without postgres-side notification state.
type Redis struct {
	rdb *redis.Client
}

var _ Tracker = (*Redis)(nil)

// NewRedis creates a Redis-backed tracker and verifies connectivity.
func NewRedis(redisURL, password string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{rdb: rdb}, nil
}

// Close shuts down the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// LastNotified returns the stored notification time for the key.
func (r *Redis) LastNotified(ctx context.Context, userID int64, kind, key string) (time.Time, bool, error) {
	raw, err := r.rdb.Get(ctx, Key(userID, kind, key)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("dedup get: %w", err)
	}

	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("dedup parse stored time: %w", err)
	}
	return at, true, nil
}

// TryMark records a notification with the cooldown as the key TTL, so the
// suppression window expires on its own. SETNX makes the mark atomic across
// concurrent evaluators.
func (r *Redis) TryMark(ctx context.Context, userID int64, kind, key string, at time.Time, cooldown time.Duration) (bool, error) {
	k := Key(userID, kind, key)
	value := at.UTC().Format(time.RFC3339Nano)

	if cooldown <= 0 {
		if err := r.rdb.Set(ctx, k, value, 0).Err(); err != nil {
			return false, fmt.Errorf("dedup set: %w", err)
		}
		return true, nil
	}

	ok, err := r.rdb.SetNX(ctx, k, value, cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}

// Clear removes a dedup key so the alert can fire again when the condition resets.
func (r *Redis) Clear(ctx context.Context, userID int64, kind, key string) error {
	if err := r.rdb.Del(ctx, Key(userID, kind, key)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

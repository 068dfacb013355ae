package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupeTTL = 72 * time.Hour

// Deduper claims webhook deliveries with SET NX so that concurrent or
// repeated deliveries of one provider event are processed once.
// It satisfies subscription.Deduper.
type Deduper struct {
	client redis.UniversalClient
	prefix string
}

// NewDeduper creates a Deduper. Keys are stored as prefix+key.
func NewDeduper(client redis.UniversalClient, prefix string) *Deduper {
	if client == nil {
		panic("redis: client is required")
	}
	return &Deduper{client: client, prefix: prefix}
}

// Claim returns true when the key was free and is now held for ttl.
// Callers claim with a short ttl and Extend once the delivery is processed.
func (d *Deduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	ok, err := d.client.SetNX(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, errors.Join(ErrDedupeFailed, err)
	}
	return ok, nil
}

// Extend holds the key for ttl. The key is written again if it expired
// while the delivery was being processed.
func (d *Deduper) Extend(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	if err := d.client.Set(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return errors.Join(ErrDedupeFailed, err)
	}
	return nil
}

// Release drops the claim so a redelivery is processed again.
func (d *Deduper) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.prefix+key).Err(); err != nil {
		return errors.Join(ErrDedupeFailed, err)
	}
	return nil
}

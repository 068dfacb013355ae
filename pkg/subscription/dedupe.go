package subscription

import (
	"context"
	"time"
)

const (
	// DefaultDedupeTTL bounds how long a processed webhook event id is remembered.
	// Providers stop retrying well within this window.
	DefaultDedupeTTL = 72 * time.Hour

	// DefaultClaimTTL bounds how long an in-flight delivery holds its claim.
	// A process that dies mid-delivery frees the event id after this long.
	DefaultClaimTTL = 5 * time.Minute
)

// Deduper remembers processed provider event ids.
type Deduper interface {
	// Claim marks key as being processed. It returns false when the key was already claimed.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Extend keeps a claimed key for ttl once its delivery was processed.
	Extend(ctx context.Context, key string, ttl time.Duration) error
	// Release forgets key so a later delivery is processed again.
	Release(ctx context.Context, key string) error
}

func dedupeKey(meta EventMeta) string {
	return string(meta.Provider) + ":" + meta.ID
}

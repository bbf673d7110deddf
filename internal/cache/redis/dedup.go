package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/winnerbot/internal/domain"
)

// Deduplicator implements domain.Deduplicator with SET NX PX, so the first
// instance to claim a pending transaction wins across the whole fleet.
type Deduplicator struct {
	rdb *redis.Client
}

// NewDeduplicator creates a Deduplicator backed by the given Client.
func NewDeduplicator(c *Client) *Deduplicator {
	return &Deduplicator{rdb: c.Underlying()}
}

func dedupKey(key string) string {
	return "dedup:" + key
}

// Claim returns true when this call recorded key, false when it was already
// held inside ttl.
func (d *Deduplicator) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, dedupKey(key), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup claim %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes key so the next Claim succeeds.
func (d *Deduplicator) Release(ctx context.Context, key string) error {
	if err := d.rdb.Del(ctx, dedupKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: dedup release %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.Deduplicator = (*Deduplicator)(nil)

package executor

import (
	"context"
	"sync"
	"time"
)

// Dedup prevents the same pending transaction from being raced more than once
// within a configurable time-to-live window. It is safe for concurrent use and
// satisfies domain.Deduplicator for single-process deployments.
type Dedup struct {
	seen       map[string]time.Time // key -> expiry
	maxEntries int
	now        func() time.Time
	mu         sync.Mutex
}

// NewDedup creates a Dedup that holds at most maxEntries live keys. When full,
// the entry closest to expiry is evicted. maxEntries <= 0 means unbounded.
func NewDedup(maxEntries int) *Dedup {
	return &Dedup{
		seen:       make(map[string]time.Time),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Claim records key and returns true if it has not been seen within ttl.
// Repeats inside the window return false.
func (d *Dedup) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if expiry, ok := d.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}

	if d.maxEntries > 0 && len(d.seen) >= d.maxEntries {
		d.cleanupLocked(now)
		if len(d.seen) >= d.maxEntries {
			d.evictOldestLocked()
		}
	}
	d.seen[key] = now.Add(ttl)
	return true, nil
}

// Release forgets key.
func (d *Dedup) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

// Len returns the number of tracked keys, expired ones included.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Cleanup removes expired entries. The executor calls it periodically to
// prevent unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanupLocked(d.now())
}

func (d *Dedup) cleanupLocked(now time.Time) {
	for key, expiry := range d.seen {
		if !now.Before(expiry) {
			delete(d.seen, key)
		}
	}
}

func (d *Dedup) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, expiry := range d.seen {
		if oldestKey == "" || expiry.Before(oldest) {
			oldestKey, oldest = key, expiry
		}
	}
	delete(d.seen, oldestKey)
}

package executor

import (
	"context"
	"testing"
	"time"
)

func TestDedupClaim(t *testing.T) {
	ctx := context.Background()
	d := NewDedup(0)
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	if ok, _ := d.Claim(ctx, "a", time.Minute); !ok {
		t.Fatal("first claim should succeed")
	}
	if ok, _ := d.Claim(ctx, "a", time.Minute); ok {
		t.Fatal("repeat claim inside ttl should fail")
	}
	if ok, _ := d.Claim(ctx, "b", time.Minute); !ok {
		t.Fatal("different key should succeed")
	}

	now = now.Add(time.Minute)
	if ok, _ := d.Claim(ctx, "a", time.Minute); !ok {
		t.Fatal("claim after ttl should succeed")
	}
}

func TestDedupCleanup(t *testing.T) {
	ctx := context.Background()
	d := NewDedup(0)
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	_, _ = d.Claim(ctx, "short", time.Second)
	_, _ = d.Claim(ctx, "long", time.Hour)
	now = now.Add(time.Minute)
	d.Cleanup()

	if d.Len() != 1 {
		t.Fatalf("len = %d, want 1", d.Len())
	}
}

func TestDedupBounded(t *testing.T) {
	ctx := context.Background()
	d := NewDedup(2)
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	_, _ = d.Claim(ctx, "first", time.Minute)
	now = now.Add(time.Second)
	_, _ = d.Claim(ctx, "second", time.Minute)
	now = now.Add(time.Second)
	_, _ = d.Claim(ctx, "third", time.Minute)

	if d.Len() != 2 {
		t.Fatalf("len = %d, want 2", d.Len())
	}
	// "first" was evicted, so it can be claimed again.
	if ok, _ := d.Claim(ctx, "first", time.Minute); !ok {
		t.Fatal("evicted key should be claimable")
	}
	if ok, _ := d.Claim(ctx, "third", time.Minute); ok {
		t.Fatal("live key should still be held")
	}
}

func TestDedupRelease(t *testing.T) {
	ctx := context.Background()
	d := NewDedup(0)
	_, _ = d.Claim(ctx, "a", time.Minute)
	if err := d.Release(ctx, "a"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := d.Claim(ctx, "a", time.Minute); !ok {
		t.Fatal("claim after release rejected")
	}
}

package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestIdempotency(t *testing.T) (*Idempotency, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewIdempotency(rdb, time.Minute), mr
}

func TestBeginClaimsAbsentKey(t *testing.T) {
	c, _ := newTestIdempotency(t)
	status, err := c.Begin(context.Background(), "t1", "hash1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if status != StatusInProgress {
		t.Fatalf("expected in_progress, got %s", status)
	}
}

func TestBeginReturnsErrInProgressOnSecondAttempt(t *testing.T) {
	c, _ := newTestIdempotency(t)
	ctx := context.Background()
	if _, err := c.Begin(ctx, "t1", "hash1"); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	_, err := c.Begin(ctx, "t1", "hash1")
	if err != ErrInProgress {
		t.Fatalf("expected ErrInProgress, got %v", err)
	}
}

func TestBeginAfterCompleteReturnsCompletedWithoutClaiming(t *testing.T) {
	c, _ := newTestIdempotency(t)
	ctx := context.Background()
	if _, err := c.Begin(ctx, "t1", "hash1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := c.Complete(ctx, "t1", "hash1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	status, err := c.Begin(ctx, "t1", "hash1")
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}
	if status != StatusCompleted {
		t.Fatalf("expected completed, got %s", status)
	}
}

func TestFailBlocksRetryUntilReleased(t *testing.T) {
	c, _ := newTestIdempotency(t)
	ctx := context.Background()
	if _, err := c.Begin(ctx, "t1", "hash1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := c.Fail(ctx, "t1", "hash1"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	status, err := c.Begin(ctx, "t1", "hash1")
	if err != nil {
		t.Fatalf("begin after fail: %v", err)
	}
	if status != StatusFailed {
		t.Fatalf("expected failed, got %s", status)
	}

	if err := c.Release(ctx, "t1", "hash1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	status, err = c.Begin(ctx, "t1", "hash1")
	if err != nil {
		t.Fatalf("begin after release: %v", err)
	}
	if status != StatusInProgress {
		t.Fatalf("expected in_progress after release, got %s", status)
	}
}

func TestStatusAbsentForUnknownKey(t *testing.T) {
	c, _ := newTestIdempotency(t)
	status, err := c.Status(context.Background(), "t1", "unknown")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != StatusAbsent {
		t.Fatalf("expected absent, got %s", status)
	}
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c, mr := newTestIdempotency(t)
	ctx := context.Background()
	if _, err := c.Begin(ctx, "t1", "hash1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	status, err := c.Status(ctx, "t1", "hash1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != StatusAbsent {
		t.Fatalf("expected absent after ttl, got %s", status)
	}
}

package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultIdempotencyTTL is the lifetime of a booking idempotency entry, set
// afresh on every state write (in_progress, completed or failed), bounding
// how long a retried booking attempt can still be recognized as a repeat.
const DefaultIdempotencyTTL = 30 * time.Minute

// IdemStatus is the three-state machine of a booking idempotency entry.
type IdemStatus string

const (
	StatusAbsent     IdemStatus = ""
	StatusInProgress IdemStatus = "in_progress"
	StatusCompleted  IdemStatus = "completed"
	StatusFailed     IdemStatus = "failed"
)

// ErrInProgress is returned by Begin when another attempt already holds the
// key and has not yet reached a terminal state.
var ErrInProgress = errors.New("dedup: idempotency key in progress")

// Idempotency is the Redis-backed booking idempotency cache, keyed
// idem:{tenant}:{hash(phone|service_id|date|time)}.
type Idempotency struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewIdempotency creates a cache whose entries, in progress or terminal,
// expire after ttl. A zero ttl defaults to DefaultIdempotencyTTL.
func NewIdempotency(rdb *redis.Client, ttl time.Duration) *Idempotency {
	if rdb == nil {
		panic("dedup: redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &Idempotency{rdb: rdb, ttl: ttl}
}

func key(tenantID, hash string) string {
	return fmt.Sprintf("idem:%s:%s", tenantID, hash)
}

// Begin atomically transitions a key from absent to in_progress. It returns
// ErrInProgress if another attempt is already underway, and the already-seen
// status (without claiming anything) if the key is already terminal, so the
// caller can skip re-dispatching a booking that already completed or failed.
func (c *Idempotency) Begin(ctx context.Context, tenantID, hash string) (IdemStatus, error) {
	k := key(tenantID, hash)
	ok, err := c.rdb.SetNX(ctx, k, string(StatusInProgress), c.ttl).Result()
	if err != nil {
		return StatusAbsent, fmt.Errorf("dedup: begin: %w", err)
	}
	if ok {
		return StatusInProgress, nil
	}
	existing, err := c.rdb.Get(ctx, k).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return c.Begin(ctx, tenantID, hash)
		}
		return StatusAbsent, fmt.Errorf("dedup: begin: read existing: %w", err)
	}
	status := IdemStatus(existing)
	if status == StatusInProgress {
		return status, ErrInProgress
	}
	return status, nil
}

// Complete marks a key completed, keeping it around for ttl so a retried
// attempt with the same fingerprint recognizes the booking already landed.
func (c *Idempotency) Complete(ctx context.Context, tenantID, hash string) error {
	if err := c.rdb.Set(ctx, key(tenantID, hash), string(StatusCompleted), c.ttl).Err(); err != nil {
		return fmt.Errorf("dedup: complete: %w", err)
	}
	return nil
}

// Fail marks a key failed. Like a completed entry, a failed entry is kept
// for ttl: Begin reports StatusFailed without claiming the key until it
// expires or is removed with Release.
func (c *Idempotency) Fail(ctx context.Context, tenantID, hash string) error {
	if err := c.rdb.Set(ctx, key(tenantID, hash), string(StatusFailed), c.ttl).Err(); err != nil {
		return fmt.Errorf("dedup: fail: %w", err)
	}
	return nil
}

// Status reads the current state of a key without claiming it.
func (c *Idempotency) Status(ctx context.Context, tenantID, hash string) (IdemStatus, error) {
	v, err := c.rdb.Get(ctx, key(tenantID, hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StatusAbsent, nil
		}
		return StatusAbsent, fmt.Errorf("dedup: status: %w", err)
	}
	return IdemStatus(v), nil
}

// Release removes a key outright, used when a caller wants to retry
// immediately rather than wait out the TTL (e.g. an operator-forced retry
// after a confirmed-failed booking).
func (c *Idempotency) Release(ctx context.Context, tenantID, hash string) error {
	if err := c.rdb.Del(ctx, key(tenantID, hash)).Err(); err != nil {
		return fmt.Errorf("dedup: release: %w", err)
	}
	return nil
}

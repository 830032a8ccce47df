package noshow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPendingReplyTTL matches §5's "Pending-reply TTL: 24 h".
const DefaultPendingReplyTTL = 24 * time.Hour

// DefaultSlotOfferTTL matches the contract's "store them in an ephemeral
// cache ... with 1 h TTL".
const DefaultSlotOfferTTL = time.Hour

// ErrNoPendingReply indicates no PendingReply entry exists for the
// (tenant, phone) pair, so the inbound text falls through to the dialogue
// collaborator instead of the no-show reply handler.
var ErrNoPendingReply = errors.New("noshow: no pending reply")

// PendingReply carries the appointment a recipient is being asked about.
type PendingReply struct {
	AppointmentID string    `json:"appointment_id"`
	ServiceID     string    `json:"service_id"`
	Date          string    `json:"date"`
	OfferedAt     time.Time `json:"offered_at"`
}

// PendingReplyStore persists the PendingReply state machine's ephemeral
// entries, keyed by (tenant, phone), with a reader-side TTL (Redis EXPIRE
// enforces it directly, no sweeper needed).
type PendingReplyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPendingReplyStore builds a store backed by the given Redis client.
func NewPendingReplyStore(rdb *redis.Client, ttl time.Duration) *PendingReplyStore {
	if ttl <= 0 {
		ttl = DefaultPendingReplyTTL
	}
	return &PendingReplyStore{rdb: rdb, ttl: ttl}
}

func pendingKey(tenantID, phone string) string {
	return "noshow:pending:" + tenantID + ":" + phone
}

// Set writes (or refreshes) a pending reply entry.
func (s *PendingReplyStore) Set(ctx context.Context, tenantID, phone string, p PendingReply) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("noshow: marshal pending reply: %w", err)
	}
	if err := s.rdb.Set(ctx, pendingKey(tenantID, phone), body, s.ttl).Err(); err != nil {
		return fmt.Errorf("noshow: set pending reply: %w", err)
	}
	return nil
}

// Get reads the pending reply entry, returning ErrNoPendingReply if absent
// or TTL-expired.
func (s *PendingReplyStore) Get(ctx context.Context, tenantID, phone string) (PendingReply, error) {
	var p PendingReply
	body, err := s.rdb.Get(ctx, pendingKey(tenantID, phone)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return p, ErrNoPendingReply
		}
		return p, fmt.Errorf("noshow: get pending reply: %w", err)
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return p, fmt.Errorf("noshow: decode pending reply: %w", err)
	}
	return p, nil
}

// Clear removes the pending reply entry, used once a reply has been
// resolved to YES, a successful/failed rebook, or an expired TTL.
func (s *PendingReplyStore) Clear(ctx context.Context, tenantID, phone string) error {
	if err := s.rdb.Del(ctx, pendingKey(tenantID, phone)).Err(); err != nil {
		return fmt.Errorf("noshow: clear pending reply: %w", err)
	}
	return nil
}

// SlotOfferStore caches the alternative slots offered to a recipient after a
// NO reply, so a later numeric reply can resolve back to a concrete slot.
type SlotOfferStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSlotOfferStore builds a slot-offer cache backed by the given Redis
// client.
func NewSlotOfferStore(rdb *redis.Client, ttl time.Duration) *SlotOfferStore {
	if ttl <= 0 {
		ttl = DefaultSlotOfferTTL
	}
	return &SlotOfferStore{rdb: rdb, ttl: ttl}
}

func offerKey(tenantID, phone string) string {
	return "noshow:offer:" + tenantID + ":" + phone
}

// OfferedSlot is a cached alternative slot, carrying enough of the original
// appointment to attempt a rebook without a second calendar round trip.
type OfferedSlot struct {
	Start          time.Time `json:"start"`
	ProfessionalID string    `json:"professional_id"`
}

// Set stores the offered slots for a recipient.
func (s *SlotOfferStore) Set(ctx context.Context, tenantID, phone string, slots []OfferedSlot) error {
	body, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("noshow: marshal offered slots: %w", err)
	}
	if err := s.rdb.Set(ctx, offerKey(tenantID, phone), body, s.ttl).Err(); err != nil {
		return fmt.Errorf("noshow: set offered slots: %w", err)
	}
	return nil
}

// Get reads the offered slots for a recipient, returning an empty slice if
// none are cached or the TTL has expired.
func (s *SlotOfferStore) Get(ctx context.Context, tenantID, phone string) ([]OfferedSlot, error) {
	body, err := s.rdb.Get(ctx, offerKey(tenantID, phone)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("noshow: get offered slots: %w", err)
	}
	var slots []OfferedSlot
	if err := json.Unmarshal(body, &slots); err != nil {
		return nil, fmt.Errorf("noshow: decode offered slots: %w", err)
	}
	return slots, nil
}

// Clear removes the offered-slots cache entry.
func (s *SlotOfferStore) Clear(ctx context.Context, tenantID, phone string) error {
	if err := s.rdb.Del(ctx, offerKey(tenantID, phone)).Err(); err != nil {
		return fmt.Errorf("noshow: clear offered slots: %w", err)
	}
	return nil
}

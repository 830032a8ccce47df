package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("jobs")

// DB abstracts the pgx query interface used by Store, for testing with
// pgxmock and for participation in a caller-managed transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the durable MessageJob table.
type Store struct {
	db DB
}

// NewStore creates a job store backed by the given pgx connection or pool.
func NewStore(db DB) *Store {
	if db == nil {
		panic("jobs: db required")
	}
	return &Store{db: db}
}

// Enqueue inserts a new job, idempotent on the natural key
// (tenant_id, booking_id, kind) among pending rows. On a natural-key
// collision it returns the existing row's id alongside ErrConflict.
func (s *Store) Enqueue(ctx context.Context, in EnqueueInput) (uuid.UUID, error) {
	ctx, span := tracer.Start(ctx, "jobs.Enqueue")
	defer span.End()

	if in.MaxAttempts <= 0 {
		in.MaxAttempts = 3
	}
	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("jobs: marshal payload: %w", err)
	}

	id := uuid.New()
	var returnedID uuid.UUID
	row := s.db.QueryRow(ctx, `
		INSERT INTO message_jobs (id, tenant_id, phone, kind, booking_id, dedupe_key, run_at, payload,
			state, attempts, max_attempts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending',0,$9, now(), now())
		ON CONFLICT (tenant_id, booking_id, kind) WHERE state = 'pending'
		DO UPDATE SET tenant_id = message_jobs.tenant_id
		RETURNING id`,
		id, in.TenantID, in.Phone, string(in.Kind), in.BookingID, in.DedupeKey, in.RunAt, payload, in.MaxAttempts,
	)
	if err := row.Scan(&returnedID); err != nil {
		return uuid.Nil, fmt.Errorf("jobs: enqueue: %w", err)
	}
	if returnedID != id {
		return returnedID, ErrConflict
	}
	return returnedID, nil
}

// ClaimBatch atomically claims up to max pending, due jobs, guaranteeing at
// most one row per (tenant_id, phone) in the returned batch so outbound
// sends to a single recipient are serialized within one claim cycle.
// Claims are reclaimable by any worker once the visibility timeout elapses.
func (s *Store) ClaimBatch(ctx context.Context, now time.Time, max int, visibility time.Duration) ([]Job, error) {
	ctx, span := tracer.Start(ctx, "jobs.ClaimBatch")
	defer span.End()

	if max <= 0 {
		max = 1
	}
	claimedUntil := now.Add(visibility)

	rows, err := s.db.Query(ctx, `
		WITH locked AS (
			SELECT * FROM message_jobs
			WHERE state = 'pending'
				AND run_at <= $1
				AND attempts < max_attempts
				AND (claimed_until IS NULL OR claimed_until < $1)
			ORDER BY run_at ASC
			FOR UPDATE SKIP LOCKED
		), ranked AS (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY tenant_id, phone ORDER BY run_at ASC) AS rn
			FROM locked
		), candidate AS (
			SELECT id FROM ranked WHERE rn = 1 ORDER BY run_at ASC LIMIT $2
		)
		UPDATE message_jobs m
		SET claimed_until = $3
		FROM candidate c
		WHERE m.id = c.id
		RETURNING m.id, m.tenant_id, m.phone, m.kind, m.booking_id, m.dedupe_key, m.run_at, m.payload,
			m.state, m.attempts, m.max_attempts, m.last_error, m.created_at, m.updated_at`,
		now, max, claimedUntil,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs: claim batch: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		j.claimedUntil = claimedUntil
		out = append(out, j)
	}
	return out, rows.Err()
}

// CommitSent transitions a claimed job to sent.
func (s *Store) CommitSent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE message_jobs SET state = 'sent', claimed_until = NULL, updated_at = now()
		WHERE id = $1 AND state = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("jobs: commit sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CommitRetry increments attempts, records the error, and extends run_at by
// the caller-supplied backoff delay. run_at is never moved earlier.
func (s *Store) CommitRetry(ctx context.Context, id uuid.UUID, lastErr string, nextRunAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE message_jobs
		SET attempts = attempts + 1,
			last_error = $2,
			run_at = GREATEST(run_at, $3),
			claimed_until = NULL,
			updated_at = now()
		WHERE id = $1 AND state = 'pending'`, id, lastErr, nextRunAt)
	if err != nil {
		return fmt.Errorf("jobs: commit retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CommitPermanentlyFailed transitions a job to permanently_failed, used when
// attempts has reached max_attempts.
func (s *Store) CommitPermanentlyFailed(ctx context.Context, id uuid.UUID, lastErr string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE message_jobs
		SET state = 'permanently_failed', attempts = attempts + 1, last_error = $2,
			claimed_until = NULL, updated_at = now()
		WHERE id = $1 AND state = 'pending'`, id, lastErr)
	if err != nil {
		return fmt.Errorf("jobs: commit permanently failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CommitCanceled transitions a job to canceled with a reason, used by the
// delivery worker's opt-out check.
func (s *Store) CommitCanceled(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE message_jobs
		SET state = 'canceled', last_error = $2, claimed_until = NULL, updated_at = now()
		WHERE id = $1 AND state = 'pending'`, id, reason)
	if err != nil {
		return fmt.Errorf("jobs: commit canceled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReturnForGrace releases a claim back to the pending pool with run_at
// pushed forward by grace, used when the handoff gate is active (§4.9).
// The job is never given up on, only delayed.
func (s *Store) ReturnForGrace(ctx context.Context, id uuid.UUID, now time.Time, grace time.Duration) error {
	_, err := s.db.Exec(ctx, `
		UPDATE message_jobs
		SET run_at = GREATEST(run_at, $2), claimed_until = NULL, updated_at = now()
		WHERE id = $1 AND state = 'pending'`, id, now.Add(grace))
	if err != nil {
		return fmt.Errorf("jobs: return for grace: %w", err)
	}
	return nil
}

// CancelPendingByPhone cancels every still-pending job for a (tenant, phone)
// pair, used by the opt-out sweep so no further outbound is attempted.
func (s *Store) CancelPendingByPhone(ctx context.Context, tenantID, phone, reason string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE message_jobs
		SET state = 'canceled', last_error = $3, claimed_until = NULL, updated_at = now()
		WHERE tenant_id = $1 AND phone = $2 AND state = 'pending'`, tenantID, phone, reason)
	if err != nil {
		return 0, fmt.Errorf("jobs: cancel pending by phone: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SweepTerminal deletes jobs that have sat in a terminal state for longer
// than the retention window, per §3's Lifecycle "retention sweep".
func (s *Store) SweepTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM message_jobs
		WHERE state IN ('sent', 'canceled', 'permanently_failed') AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("jobs: sweep terminal: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(rows pgx.Rows) (Job, error) {
	var j Job
	var kind, state string
	var payload []byte
	var lastErr sql.NullString
	if err := rows.Scan(&j.ID, &j.TenantID, &j.Phone, &kind, &j.BookingID, &j.DedupeKey, &j.RunAt, &payload,
		&state, &j.Attempts, &j.MaxAttempts, &lastErr, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return Job{}, fmt.Errorf("jobs: scan: %w", err)
	}
	j.Kind = Kind(kind)
	j.State = State(state)
	j.LastError = lastErr.String
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return Job{}, fmt.Errorf("jobs: decode payload: %w", err)
	}
	return j, nil
}

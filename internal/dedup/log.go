// Package dedup implements the two namespaces of the dedup index: the SQL
// NotificationLog that gives cross-process durability for "was this
// actually sent", and a Redis-backed booking idempotency cache that gives
// latency-bounded cross-request deduplication for "is this booking already
// being attempted".
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("dedup")

// ErrDuplicate is returned by RecordSent when the dedupe key already exists;
// it is informational, not an error the caller should surface as a failure.
var ErrDuplicate = errors.New("dedup: duplicate")

// NotificationKind classifies the NotificationLog row.
type NotificationKind string

const (
	KindPrevisit      NotificationKind = "previsit"
	KindNoShowQuestion NotificationKind = "noshow_question"
	KindNoShowYes     NotificationKind = "noshow_yes"
	KindNoShowNo      NotificationKind = "noshow_no"
	KindRebook        NotificationKind = "rebook"
	KindAudit         NotificationKind = "audit"
)

// LogDB abstracts the pgx surface used by Log.
type LogDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Log is the SQL-backed NotificationLog.
type Log struct {
	db LogDB
}

// NewLog creates a NotificationLog store.
func NewLog(db LogDB) *Log {
	if db == nil {
		panic("dedup: db required")
	}
	return &Log{db: db}
}

// Entry is one NotificationLog row.
type Entry struct {
	ID        int64
	TenantID  string
	Phone     string
	DedupeKey string
	Kind      NotificationKind
	Payload   json.RawMessage
	SentAt    time.Time
}

// RecordSent inserts a NotificationLog row, enforcing (tenant, dedupe_key)
// uniqueness. Returns ErrDuplicate (not a hard error) if the key was
// already recorded by a previous attempt.
func (l *Log) RecordSent(ctx context.Context, tenantID, dedupeKey string, kind NotificationKind, phone string, payload any) error {
	ctx, span := tracer.Start(ctx, "dedup.RecordSent")
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dedup: marshal payload: %w", err)
	}
	tag, err := l.db.Exec(ctx, `
		INSERT INTO notification_log (tenant_id, phone, dedupe_key, kind, payload, sent_at)
		VALUES ($1,$2,$3,$4,$5, now())
		ON CONFLICT (tenant_id, dedupe_key) DO NOTHING`,
		tenantID, phone, dedupeKey, string(kind), body,
	)
	if err != nil {
		return fmt.Errorf("dedup: record sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

// HasSent reports whether a dedupe key has already been recorded, used by
// the cron producers to skip work that already happened (§4.6 step 3,
// §4.7 step 2).
func (l *Log) HasSent(ctx context.Context, tenantID, dedupeKey string) (bool, error) {
	var exists int
	err := l.db.QueryRow(ctx, `
		SELECT 1 FROM notification_log WHERE tenant_id = $1 AND dedupe_key = $2`,
		tenantID, dedupeKey,
	).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("dedup: has sent: %w", err)
	}
	return true, nil
}

// ListByDateRange returns every NotificationLog row for a tenant whose
// sent_at falls within [from, to), used by the audit reconciler to build
// the by-appointment notification index.
func (l *Log) ListByDateRange(ctx context.Context, tenantID string, from, to time.Time) ([]Entry, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id, tenant_id, phone, dedupe_key, kind, payload, sent_at
		FROM notification_log
		WHERE tenant_id = $1 AND sent_at >= $2 AND sent_at < $3
		ORDER BY sent_at ASC`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("dedup: list by date range: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Phone, &e.DedupeKey, &kind, &e.Payload, &e.SentAt); err != nil {
			return nil, fmt.Errorf("dedup: scan entry: %w", err)
		}
		e.Kind = NotificationKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Dedupe key constructors, grammar fixed by the core's contract.

func PrevisitKey(appointmentID, date string) string {
	return fmt.Sprintf("previsit:%s:%s", appointmentID, date)
}

func NoShowQuestionKey(appointmentID, date string) string {
	return fmt.Sprintf("noshow_question:%s:%s", appointmentID, date)
}

func NoShowYesKey(appointmentID, date string) string {
	return fmt.Sprintf("noshow_yes:%s:%s", appointmentID, date)
}

func NoShowNoKey(appointmentID, date string) string {
	return fmt.Sprintf("noshow_no:%s:%s", appointmentID, date)
}

func RebookKey(appointmentID, originalDate string) string {
	return fmt.Sprintf("rebook:%s:%s", appointmentID, originalDate)
}

func AuditReportKey(date, tenantID string) string {
	return fmt.Sprintf("audit_report:%s:%s", date, tenantID)
}

// IdempotencyHash hashes the booking attempt fingerprint used by the
// idempotency cache key grammar idem:{tenant}:{hash}.
func IdempotencyHash(phone, serviceID, date, time_ string) string {
	sum := sha256.Sum256([]byte(phone + "|" + serviceID + "|" + date + "|" + time_))
	return hex.EncodeToString(sum[:])
}

// Package optout implements the per-recipient Opt-Out Registry: a durable
// record of which notification kinds a phone number has opted out of,
// scoped per tenant, consulted before every outbound render.
package optout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Scope names the notification kinds a phone number can be opted out of.
// ScopeAll supersedes every finer scope at read time: a recipient opted out
// of everything is treated as opted out of pre_visit and no_show_check too,
// even with no row recorded for those scopes specifically.
type Scope string

const (
	ScopeAll          Scope = "all"
	ScopePreVisit     Scope = "pre_visit"
	ScopeNoShowCheck  Scope = "no_show_check"
)

// DB abstracts the pgx surface used by Registry.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrNotFound indicates no opt-out record exists for the recipient.
var ErrNotFound = errors.New("optout: record not found")

// Record is one opt_out_records row, returned to the admin surface so an
// operator can inspect why and when a recipient opted out. A recipient can
// hold more than one Record at once: opting out of pre_visit and separately
// out of no_show_check are two coexisting rows, not one overwritten row.
type Record struct {
	TenantID  string
	Phone     string
	Scope     Scope
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Registry is the SQL-backed Opt-Out Registry.
type Registry struct {
	db DB
}

// NewRegistry creates an opt-out registry backed by the given connection.
func NewRegistry(db DB) *Registry {
	if db == nil {
		panic("optout: db required")
	}
	return &Registry{db: db}
}

// OptOut records a recipient's opt-out of the given scope, replacing any
// prior record for that same (tenant, phone, scope) triple. Distinct scopes
// coexist: opting out of pre_visit does not touch a separately-recorded
// no_show_check opt-out for the same recipient.
func (r *Registry) OptOut(ctx context.Context, tenantID, phone string, scope Scope, source string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO opt_out_records (tenant_id, phone, scope, source, created_at, updated_at)
		VALUES ($1,$2,$3,$4, now(), now())
		ON CONFLICT (tenant_id, phone, scope) DO UPDATE
		SET source = EXCLUDED.source, updated_at = now()`,
		tenantID, phone, string(scope), source,
	)
	if err != nil {
		return fmt.Errorf("optout: opt out: %w", err)
	}
	return nil
}

// OptIn removes every opt-out record for the recipient, restoring delivery
// for every scope.
func (r *Registry) OptIn(ctx context.Context, tenantID, phone string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM opt_out_records WHERE tenant_id = $1 AND phone = $2`, tenantID, phone)
	if err != nil {
		return fmt.Errorf("optout: opt in: %w", err)
	}
	return nil
}

// Release removes exactly the opt-out record for one scope, leaving any
// other coexisting scope opted out for the recipient untouched.
func (r *Registry) Release(ctx context.Context, tenantID, phone string, scope Scope) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM opt_out_records WHERE tenant_id = $1 AND phone = $2 AND scope = $3`,
		tenantID, phone, string(scope),
	)
	if err != nil {
		return fmt.Errorf("optout: release: %w", err)
	}
	return nil
}

// IsOptedOut reports whether a recipient is opted out of the given scope,
// treating a recorded ScopeAll as covering every scope.
func (r *Registry) IsOptedOut(ctx context.Context, tenantID, phone string, scope Scope) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM opt_out_records
			WHERE tenant_id = $1 AND phone = $2 AND scope IN ($3, $4)
		)`, tenantID, phone, string(scope), string(ScopeAll),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("optout: is opted out: %w", err)
	}
	return exists, nil
}

// List returns every coexisting opt-out record for a recipient, used by the
// admin surface to inspect why and when a recipient opted out of each scope.
func (r *Registry) List(ctx context.Context, tenantID, phone string) ([]Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT tenant_id, phone, scope, source, created_at, updated_at
		FROM opt_out_records WHERE tenant_id = $1 AND phone = $2
		ORDER BY scope`, tenantID, phone,
	)
	if err != nil {
		return nil, fmt.Errorf("optout: list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var scope string
		if err := rows.Scan(&rec.TenantID, &rec.Phone, &scope, &rec.Source, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("optout: scan record: %w", err)
		}
		rec.Scope = Scope(scope)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("optout: list records: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records, nil
}

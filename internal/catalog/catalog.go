// Package catalog implements the per-tenant ServiceCatalogEntry store used
// by the audit reconciler (service names in divergence detail lines) and by
// inbound reply parsing (matching a free-text service name to a booking
// target before handing off to the dialogue collaborator).
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound indicates no catalog entry matches the given tenant and name.
var ErrNotFound = errors.New("catalog: entry not found")

// Entry is one ServiceCatalogEntry row.
type Entry struct {
	ID              int64
	TenantID        string
	ServiceID       string
	RawName         string
	NormalizedName  string
	Active          bool
	ClientVisible   bool
	DurationMinutes int
	PriceCents      int64
}

// Normalize applies the trim+case-fold rule the (tenant, normalized_name)
// uniqueness invariant depends on; it must be applied identically at
// insertion and at query time.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DB abstracts the pgx surface used by Store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store is the SQL-backed ServiceCatalogEntry repository.
type Store struct {
	db DB
}

// NewStore creates a catalog store.
func NewStore(db DB) *Store {
	if db == nil {
		panic("catalog: db required")
	}
	return &Store{db: db}
}

// Upsert inserts or updates a catalog entry, normalizing name on write.
func (s *Store) Upsert(ctx context.Context, e Entry) error {
	e.NormalizedName = Normalize(e.RawName)
	_, err := s.db.Exec(ctx, `
		INSERT INTO service_catalog (tenant_id, service_id, raw_name, normalized_name, active, client_visible, duration_minutes, price_cents)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (tenant_id, normalized_name) DO UPDATE SET
			service_id = EXCLUDED.service_id,
			raw_name = EXCLUDED.raw_name,
			active = EXCLUDED.active,
			client_visible = EXCLUDED.client_visible,
			duration_minutes = EXCLUDED.duration_minutes,
			price_cents = EXCLUDED.price_cents`,
		e.TenantID, e.ServiceID, e.RawName, e.NormalizedName, e.Active, e.ClientVisible, e.DurationMinutes, e.PriceCents,
	)
	if err != nil {
		return fmt.Errorf("catalog: upsert entry: %w", err)
	}
	return nil
}

// FindByName looks up an entry by tenant and free-text name, normalizing the
// query the same way entries are normalized at insertion.
func (s *Store) FindByName(ctx context.Context, tenantID, name string) (Entry, error) {
	var e Entry
	err := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, service_id, raw_name, normalized_name, active, client_visible, duration_minutes, price_cents
		FROM service_catalog
		WHERE tenant_id = $1 AND normalized_name = $2`,
		tenantID, Normalize(name),
	).Scan(&e.ID, &e.TenantID, &e.ServiceID, &e.RawName, &e.NormalizedName, &e.Active, &e.ClientVisible, &e.DurationMinutes, &e.PriceCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("catalog: find by name: %w", err)
	}
	return e, nil
}

// FindByServiceID looks up an entry by its upstream service id, used by the
// audit reconciler to render a human-readable service name in divergence
// detail lines.
func (s *Store) FindByServiceID(ctx context.Context, tenantID, serviceID string) (Entry, error) {
	var e Entry
	err := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, service_id, raw_name, normalized_name, active, client_visible, duration_minutes, price_cents
		FROM service_catalog
		WHERE tenant_id = $1 AND service_id = $2`,
		tenantID, serviceID,
	).Scan(&e.ID, &e.TenantID, &e.ServiceID, &e.RawName, &e.NormalizedName, &e.Active, &e.ClientVisible, &e.DurationMinutes, &e.PriceCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("catalog: find by service id: %w", err)
	}
	return e, nil
}

// ListActive returns every active, client-visible catalog entry for a
// tenant, used by the dialogue collaborator to enumerate bookable services.
func (s *Store) ListActive(ctx context.Context, tenantID string) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, service_id, raw_name, normalized_name, active, client_visible, duration_minutes, price_cents
		FROM service_catalog
		WHERE tenant_id = $1 AND active AND client_visible
		ORDER BY raw_name ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list active: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ServiceID, &e.RawName, &e.NormalizedName, &e.Active, &e.ClientVisible, &e.DurationMinutes, &e.PriceCents); err != nil {
			return nil, fmt.Errorf("catalog: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

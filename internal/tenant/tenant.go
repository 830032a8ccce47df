// Package tenant holds per-tenant scheduling configuration: timezone,
// producer schedules, and retry/claim tuning. Configuration changes take
// effect on the next cron tick or claim cycle — nothing is cached across
// ticks per the core's shared-resource policy.
package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query surface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config is the per-tenant scheduling configuration named in the external
// interfaces' Configuration list.
type Config struct {
	TenantID string

	Timezone string

	// InstanceID is the chat gateway's identifier for this tenant's
	// platform instance, used to route an inbound webhook to the right
	// tenant before any per-tenant dispatch logic runs.
	InstanceID string

	PreVisitEnabled  bool
	PreVisitHour     int
	NoShowEnabled    bool
	AuditEnabled     bool
	AuditDaysToAudit int

	MaxAttempts int
	BaseDelay   time.Duration
	CapDelay    time.Duration

	BatchSize       int
	PollInterval    time.Duration
	VisibilityTimeout time.Duration
	GraceDelay      time.Duration

	// QuietHoursStart/End are "HH:MM" local-time bounds during which
	// marketing-class outbound is suppressed. Both empty disables the
	// guard; none of spec.md's kinds are marketing-class today, so this
	// stays dormant until a tenant configures a marketing kind.
	QuietHoursStart string
	QuietHoursEnd   string
}

// Default returns the fallback configuration used when a tenant row is
// absent, matching the defaults stated in spec §4.4 and §4.6-§4.8.
func Default(tenantID string) *Config {
	return &Config{
		TenantID:          tenantID,
		Timezone:          "America/Sao_Paulo",
		PreVisitEnabled:   true,
		PreVisitHour:      18,
		NoShowEnabled:     true,
		AuditEnabled:      true,
		AuditDaysToAudit:  7,
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		CapDelay:          10 * time.Second,
		BatchSize:         20,
		PollInterval:      5 * time.Second,
		VisibilityTimeout: 10 * time.Minute,
		GraceDelay:        5 * time.Minute,
	}
}

// Location resolves the tenant's configured IANA timezone, falling back to
// UTC if it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Store persists tenant configuration rows.
type Store struct {
	db DB
}

// NewStore creates a tenant configuration store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Get returns the tenant's configuration, or the package default if no row
// exists yet.
func (s *Store) Get(ctx context.Context, tenantID string) (*Config, error) {
	var c Config
	var baseDelayMs, capDelayMs, pollIntervalMs, visibilityMs, graceMs int64
	var quietStart, quietEnd *string
	var instanceID *string
	row := s.db.QueryRow(ctx, `
		SELECT tenant_id, timezone, instance_id, pre_visit_enabled, pre_visit_hour, no_show_enabled,
			audit_enabled, audit_days_to_audit, max_attempts, base_delay_ms, cap_delay_ms,
			batch_size, poll_interval_ms, visibility_timeout_ms, grace_delay_ms,
			quiet_hours_start, quiet_hours_end
		FROM tenants WHERE tenant_id = $1`, tenantID)
	err := row.Scan(&c.TenantID, &c.Timezone, &instanceID, &c.PreVisitEnabled, &c.PreVisitHour, &c.NoShowEnabled,
		&c.AuditEnabled, &c.AuditDaysToAudit, &c.MaxAttempts, &baseDelayMs, &capDelayMs,
		&c.BatchSize, &pollIntervalMs, &visibilityMs, &graceMs, &quietStart, &quietEnd)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Default(tenantID), nil
		}
		return nil, fmt.Errorf("tenant: get config: %w", err)
	}
	if instanceID != nil {
		c.InstanceID = *instanceID
	}
	c.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	c.CapDelay = time.Duration(capDelayMs) * time.Millisecond
	c.PollInterval = time.Duration(pollIntervalMs) * time.Millisecond
	c.VisibilityTimeout = time.Duration(visibilityMs) * time.Millisecond
	c.GraceDelay = time.Duration(graceMs) * time.Millisecond
	if quietStart != nil {
		c.QuietHoursStart = *quietStart
	}
	if quietEnd != nil {
		c.QuietHoursEnd = *quietEnd
	}
	return &c, nil
}

// Upsert creates or replaces a tenant's configuration row.
func (s *Store) Upsert(ctx context.Context, c *Config) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tenants (tenant_id, timezone, instance_id, pre_visit_enabled, pre_visit_hour, no_show_enabled,
			audit_enabled, audit_days_to_audit, max_attempts, base_delay_ms, cap_delay_ms,
			batch_size, poll_interval_ms, visibility_timeout_ms, grace_delay_ms,
			quiet_hours_start, quiet_hours_end, updated_at)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NULLIF($16,''),NULLIF($17,''), now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			instance_id = EXCLUDED.instance_id,
			pre_visit_enabled = EXCLUDED.pre_visit_enabled,
			pre_visit_hour = EXCLUDED.pre_visit_hour,
			no_show_enabled = EXCLUDED.no_show_enabled,
			audit_enabled = EXCLUDED.audit_enabled,
			audit_days_to_audit = EXCLUDED.audit_days_to_audit,
			max_attempts = EXCLUDED.max_attempts,
			base_delay_ms = EXCLUDED.base_delay_ms,
			cap_delay_ms = EXCLUDED.cap_delay_ms,
			batch_size = EXCLUDED.batch_size,
			poll_interval_ms = EXCLUDED.poll_interval_ms,
			visibility_timeout_ms = EXCLUDED.visibility_timeout_ms,
			grace_delay_ms = EXCLUDED.grace_delay_ms,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			updated_at = now()`,
		c.TenantID, c.Timezone, c.InstanceID, c.PreVisitEnabled, c.PreVisitHour, c.NoShowEnabled,
		c.AuditEnabled, c.AuditDaysToAudit, c.MaxAttempts, c.BaseDelay.Milliseconds(), c.CapDelay.Milliseconds(),
		c.BatchSize, c.PollInterval.Milliseconds(), c.VisibilityTimeout.Milliseconds(), c.GraceDelay.Milliseconds(),
		c.QuietHoursStart, c.QuietHoursEnd,
	)
	if err != nil {
		return fmt.Errorf("tenant: upsert config: %w", err)
	}
	return nil
}

// ListIDs returns every known tenant id, used by cron producers to iterate
// all tenants on each tick.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT tenant_id FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("tenant: list ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("tenant: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ErrInstanceNotFound indicates no tenant is configured for the given chat
// gateway instance identifier.
var ErrInstanceNotFound = fmt.Errorf("tenant: instance not found")

// ResolveTenantID maps a chat gateway instance identifier to the tenant
// configured for it, satisfying the inbound webhook's instance resolver
// contract.
func (s *Store) ResolveTenantID(ctx context.Context, instance string) (string, error) {
	var tenantID string
	err := s.db.QueryRow(ctx, `SELECT tenant_id FROM tenants WHERE instance_id = $1`, instance).Scan(&tenantID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrInstanceNotFound
		}
		return "", fmt.Errorf("tenant: resolve instance: %w", err)
	}
	return tenantID, nil
}

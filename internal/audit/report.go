// Package audit implements the Audit Reconciler (C8): a daily diff between
// the calendar's appointment set and the notification log's sent-evidence
// set, producing divergences that are evidence, not remediation.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamis-labs/agenda-core/internal/calendar"
	"github.com/dunamis-labs/agenda-core/internal/catalog"
	"github.com/dunamis-labs/agenda-core/internal/dedup"
	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

// DivergenceType classifies one reconciliation finding.
type DivergenceType string

const (
	MissingNotification DivergenceType = "missing_notification"
	OrphanNotification   DivergenceType = "orphan_notification"
	StatusMismatch       DivergenceType = "status_mismatch"
)

// Severity ranks a divergence for operator triage.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Divergence is one reconciliation finding for a single appointment/day.
type Divergence struct {
	Type          DivergenceType `json:"type"`
	Severity      Severity       `json:"severity"`
	AppointmentID string         `json:"appointment_id,omitempty"`
	DedupeKey     string         `json:"dedupe_key,omitempty"`
	Detail        string         `json:"detail"`
}

// DayReport is one day's reconciliation result for one tenant.
type DayReport struct {
	Date         string       `json:"date"`
	TenantID     string       `json:"tenant_id"`
	Divergences  []Divergence `json:"divergences"`
	Appointments int          `json:"appointments_checked"`
	Notifications int         `json:"notifications_checked"`
}

// Report is the full multi-day reconciliation result for one tenant run.
type Report struct {
	TenantID string      `json:"tenant_id"`
	RunAt    time.Time   `json:"run_at"`
	Days     []DayReport `json:"days"`
}

// TotalDivergences sums divergences across every day in the report.
func (r Report) TotalDivergences() int {
	n := 0
	for _, d := range r.Days {
		n += len(d.Divergences)
	}
	return n
}

type appointmentLister interface {
	ListAppointments(ctx context.Context, dateFrom, dateTo time.Time, page int) (calendar.Page, error)
}

type notificationLister interface {
	ListByDateRange(ctx context.Context, tenantID string, from, to time.Time) ([]dedup.Entry, error)
}

type dedupLog interface {
	HasSent(ctx context.Context, tenantID, dedupeKey string) (bool, error)
	RecordSent(ctx context.Context, tenantID, dedupeKey string, kind dedup.NotificationKind, phone string, payload any) error
}

type reportArchiver interface {
	ArchiveAuditReport(ctx context.Context, tenantID, date string, report any) error
}

type reportNotifier interface {
	NotifyAuditReport(ctx context.Context, tenantID string, report Report) error
}

// catalogLookup resolves a service id to its catalog entry, used to render
// the catalog's raw_name in divergence detail lines instead of whatever
// name happened to be on the calendar appointment.
type catalogLookup interface {
	FindByServiceID(ctx context.Context, tenantID, serviceID string) (catalog.Entry, error)
}

// notificationPayload is the subset of a NotificationLog payload the
// reconciler needs to recover the originating appointment id, independent
// of which producer wrote the row.
type notificationPayload struct {
	ID     string `json:"id"`
	ApptID string `json:"appointment_id"`
}

func appointmentIDFromPayload(raw json.RawMessage) string {
	var p notificationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ""
	}
	if p.ApptID != "" {
		return p.ApptID
	}
	return p.ID
}

// Reconciler runs the daily divergence scan described in §4.8.
type Reconciler struct {
	calendar appointmentLister
	log      notificationLister
	dedup    dedupLog
	archive  reportArchiver
	notify   reportNotifier
	catalog  catalogLookup
	logger   *logging.Logger
	now      func() time.Time
}

// NewReconciler builds the audit reconciler. archive and notify may be nil
// (or backed by disabled implementations) if S3 archival / email summaries
// are not configured for a deployment.
func NewReconciler(cal appointmentLister, log notificationLister, dl dedupLog, archive reportArchiver, notify reportNotifier, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{calendar: cal, log: log, dedup: dl, archive: archive, notify: notify, logger: logger, now: time.Now}
}

func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	if now != nil {
		r.now = now
	}
	return r
}

// WithCatalog enables resolving a catalog service name into divergence
// detail lines; without it, divergences use the calendar appointment's own
// service name.
func (r *Reconciler) WithCatalog(c catalogLookup) *Reconciler {
	r.catalog = c
	return r
}

// serviceName resolves the catalog entry's raw_name for a service id,
// falling back to the calendar's own (possibly stale/raw) name when the
// catalog has no matching entry or is not configured.
func (r *Reconciler) serviceName(ctx context.Context, tenantID string, appt calendar.Appointment) string {
	if r.catalog == nil || appt.ServiceID == "" {
		return appt.ServiceName
	}
	entry, err := r.catalog.FindByServiceID(ctx, tenantID, appt.ServiceID)
	if err != nil {
		return appt.ServiceName
	}
	return entry.RawName
}

// Run reconciles the previous `days` calendar days for tenantID, persisting
// one idempotent audit_report NotificationLog entry per day and, if
// configured, archiving and emailing the combined report.
func (r *Reconciler) Run(ctx context.Context, tenantID string, loc *time.Location, days int) (Report, error) {
	if days <= 0 {
		days = 7
	}
	now := r.now().In(loc)
	report := Report{TenantID: tenantID, RunAt: r.now()}

	for offset := 1; offset <= days; offset++ {
		dayStart := time.Date(now.Year(), now.Month(), now.Day()-offset, 0, 0, 0, 0, loc)
		day, err := r.reconcileDay(ctx, tenantID, dayStart, now, false)
		if err != nil {
			r.logger.Error("audit: reconcile day failed", "error", err, "tenant_id", tenantID, "date", day.Date)
			return report, err
		}
		report.Days = append(report.Days, day)
	}

	if r.archive != nil {
		if err := r.archive.ArchiveAuditReport(ctx, tenantID, now.Format(time.DateOnly), report); err != nil {
			r.logger.Error("audit: archive report failed", "error", err, "tenant_id", tenantID)
		}
	}
	if r.notify != nil && report.TotalDivergences() > 0 {
		if err := r.notify.NotifyAuditReport(ctx, tenantID, report); err != nil {
			r.logger.Error("audit: notify report failed", "error", err, "tenant_id", tenantID)
		}
	}

	return report, nil
}

// RunForDate reconciles a single, caller-specified calendar day, used by the
// admin surface's "rerun audit for a date" endpoint. force=true bypasses the
// per-day idempotency skip so an operator can recompute a day that was
// already audited (e.g. after a calendar backfill).
func (r *Reconciler) RunForDate(ctx context.Context, tenantID string, loc *time.Location, date time.Time, force bool) (DayReport, error) {
	now := r.now().In(loc)
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	return r.reconcileDay(ctx, tenantID, dayStart, now, force)
}

func (r *Reconciler) reconcileDay(ctx context.Context, tenantID string, dayStart, now time.Time, force bool) (DayReport, error) {
	date := dayStart.Format(time.DateOnly)
	day := DayReport{Date: date, TenantID: tenantID}

	dayEnd := dayStart.Add(24 * time.Hour)

	reportKey := dedup.AuditReportKey(date, tenantID)
	if !force {
		alreadyDone, err := r.dedup.HasSent(ctx, tenantID, reportKey)
		if err != nil {
			return day, fmt.Errorf("audit: check report idempotency: %w", err)
		}
		if alreadyDone {
			return day, nil
		}
	}

	byID := map[string]calendar.Appointment{}
	page := 1
	for {
		batch, err := r.calendar.ListAppointments(ctx, dayStart, dayEnd, page)
		if err != nil {
			return day, fmt.Errorf("audit: list appointments: %w", err)
		}
		for _, appt := range batch.Items {
			byID[appt.ID] = appt
		}
		day.Appointments += len(batch.Items)
		if page >= batch.TotalPages {
			break
		}
		page++
	}

	entries, err := r.log.ListByDateRange(ctx, tenantID, dayStart, dayEnd)
	if err != nil {
		return day, fmt.Errorf("audit: list notifications: %w", err)
	}
	day.Notifications = len(entries)

	byAppt := map[string][]dedup.Entry{}
	for _, e := range entries {
		if e.Kind == dedup.KindAudit {
			continue
		}
		apptID := appointmentIDFromPayload(e.Payload)
		if apptID == "" {
			continue
		}
		byAppt[apptID] = append(byAppt[apptID], e)
	}

	severity := daySeverity(offsetDays(now, dayStart))

	for id, appt := range byID {
		shouldRemind := (appt.Status == calendar.StatusScheduled || appt.Status == calendar.StatusConfirmed) &&
			appt.Phone != ""
		notifs := byAppt[id]
		if shouldRemind && len(notifs) == 0 {
			name := r.serviceName(ctx, tenantID, appt)
			detail := "scheduled/confirmed appointment with phone has no recorded notification"
			if name != "" {
				detail = fmt.Sprintf("scheduled/confirmed %s appointment with phone has no recorded notification", name)
			}
			day.Divergences = append(day.Divergences, Divergence{
				Type:          MissingNotification,
				Severity:      severity,
				AppointmentID: id,
				Detail:        detail,
			})
		}
		if appt.Status == calendar.StatusCanceled {
			for _, n := range notifs {
				if n.Kind == dedup.KindPrevisit {
					day.Divergences = append(day.Divergences, Divergence{
						Type:          StatusMismatch,
						Severity:      SeverityHigh,
						AppointmentID: id,
						DedupeKey:     n.DedupeKey,
						Detail:        "appointment canceled but pre-visit notification was recorded",
					})
				}
			}
		}
	}

	for apptID, notifs := range byAppt {
		if _, ok := byID[apptID]; ok {
			continue
		}
		for _, n := range notifs {
			day.Divergences = append(day.Divergences, Divergence{
				Type:      OrphanNotification,
				Severity:  severity,
				DedupeKey: n.DedupeKey,
				Detail:    fmt.Sprintf("notification references appointment %s, not found in calendar", apptID),
			})
		}
	}

	if err := r.dedup.RecordSent(ctx, tenantID, reportKey, dedup.KindAudit, "", day); err != nil {
		return day, fmt.Errorf("audit: record report idempotency: %w", err)
	}

	return day, nil
}

func offsetDays(now, day time.Time) int {
	return int(now.Sub(day).Hours() / 24)
}

// daySeverity ranks more recent days higher: divergences on a fresher day
// are more actionable than ones several days stale.
func daySeverity(offsetDays int) Severity {
	switch {
	case offsetDays <= 1:
		return SeverityHigh
	case offsetDays <= 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}


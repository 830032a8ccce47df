// Package previsit implements the Pre-Visit Producer (C6): a daily cron job
// that enqueues a single reminder MessageJob for every appointment that has
// entered the 24-40 hour pre-visit window.
package previsit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dunamis-labs/agenda-core/internal/calendar"
	"github.com/dunamis-labs/agenda-core/internal/dedup"
	"github.com/dunamis-labs/agenda-core/internal/jobs"
	"github.com/dunamis-labs/agenda-core/internal/optout"
	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

// window is the pre-visit lookahead: appointments whose start falls in
// [now+minLead, now+maxLead) are reminded.
const (
	minLead   = 24 * time.Hour
	maxLead   = 40 * time.Hour
	runAtLead = 32 * time.Hour
)

type appointmentLister interface {
	ListAppointments(ctx context.Context, dateFrom, dateTo time.Time, page int) (calendar.Page, error)
}

type dedupChecker interface {
	HasSent(ctx context.Context, tenantID, dedupeKey string) (bool, error)
}

type optoutChecker interface {
	IsOptedOut(ctx context.Context, tenantID, phone string, scope optout.Scope) (bool, error)
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, in jobs.EnqueueInput) (uuid.UUID, error)
}

// Producer runs the pre-visit cron algorithm for one tenant per invocation.
type Producer struct {
	calendar appointmentLister
	dedup    dedupChecker
	optout   optoutChecker
	jobs     jobEnqueuer
	logger   *logging.Logger
	now      func() time.Time
}

// NewProducer builds a pre-visit producer.
func NewProducer(cal appointmentLister, dd dedupChecker, oo optoutChecker, je jobEnqueuer, logger *logging.Logger) *Producer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Producer{calendar: cal, dedup: dd, optout: oo, jobs: je, logger: logger, now: time.Now}
}

func (p *Producer) WithClock(now func() time.Time) *Producer {
	if now != nil {
		p.now = now
	}
	return p
}

// Run executes one pass of the algorithm for tenantID. It pages through the
// calendar's appointment listing for the 24-40h window and enqueues a
// pre_visit job for each eligible appointment, tolerating a page failure by
// aborting the run cleanly — step 3's dedup check makes the next run
// idempotent, so a partial run never produces a duplicate reminder and a
// subsequent run catches up whatever the failed page missed.
func (p *Producer) Run(ctx context.Context, tenantID string) (enqueued int, err error) {
	now := p.now()
	from := now.Add(minLead)
	to := now.Add(maxLead)

	page := 1
	for {
		batch, err := p.calendar.ListAppointments(ctx, from, to, page)
		if err != nil {
			p.logger.Error("previsit: list appointments page failed, aborting run", "error", err, "tenant_id", tenantID, "page", page)
			return enqueued, err
		}
		for _, appt := range batch.Items {
			n, err := p.considerAppointment(ctx, tenantID, appt)
			if err != nil {
				p.logger.Error("previsit: consider appointment failed", "error", err, "appointment_id", appt.ID)
				continue
			}
			enqueued += n
		}
		if page >= batch.TotalPages {
			break
		}
		page++
	}
	return enqueued, nil
}

func (p *Producer) considerAppointment(ctx context.Context, tenantID string, appt calendar.Appointment) (int, error) {
	if appt.Phone == "" {
		return 0, nil
	}
	if appt.Status != calendar.StatusScheduled && appt.Status != calendar.StatusConfirmed {
		return 0, nil
	}

	date := appt.Start.Format(time.DateOnly)
	dedupeKey := dedup.PrevisitKey(appt.ID, date)

	sent, err := p.dedup.HasSent(ctx, tenantID, dedupeKey)
	if err != nil {
		return 0, err
	}
	if sent {
		return 0, nil
	}

	optedOut, err := p.optout.IsOptedOut(ctx, tenantID, appt.Phone, optout.ScopePreVisit)
	if err != nil {
		return 0, err
	}
	if optedOut {
		return 0, nil
	}

	runAt := appt.Start.Add(-runAtLead)
	_, err = p.jobs.Enqueue(ctx, jobs.EnqueueInput{
		TenantID:  tenantID,
		Phone:     appt.Phone,
		Kind:      jobs.KindPreVisit,
		BookingID: appt.ID,
		DedupeKey: dedupeKey,
		RunAt:     runAt,
		Payload: jobs.Payload{
			AppointmentID:    appt.ID,
			Service:          appt.ServiceName,
			Professional:     appt.ProfessionalID,
			AppointmentStart: appt.Start,
			BusinessName:     appt.BusinessName,
			BusinessAddress:  appt.BusinessAddr,
		},
	})
	if err != nil && err != jobs.ErrConflict {
		return 0, err
	}
	return 1, nil
}

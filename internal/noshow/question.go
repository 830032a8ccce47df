// Package noshow implements the No-Show Shield (C7): the D-1 confirmation
// question, and the reply handler that resolves YES/NO/slot-choice answers,
// optionally rebooking through the calendar API.
package noshow

import (
	"context"
	"time"

	"github.com/dunamis-labs/agenda-core/internal/calendar"
	"github.com/dunamis-labs/agenda-core/internal/chatgateway"
	"github.com/dunamis-labs/agenda-core/internal/dedup"
	"github.com/dunamis-labs/agenda-core/internal/optout"
	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

type appointmentLister interface {
	ListAppointments(ctx context.Context, dateFrom, dateTo time.Time, page int) (calendar.Page, error)
}

type dedupLog interface {
	HasSent(ctx context.Context, tenantID, dedupeKey string) (bool, error)
	RecordSent(ctx context.Context, tenantID, dedupeKey string, kind dedup.NotificationKind, phone string, payload any) error
}

type optoutChecker interface {
	IsOptedOut(ctx context.Context, tenantID, phone string, scope optout.Scope) (bool, error)
}

type sender interface {
	SendText(ctx context.Context, number, text string, delay time.Duration) (*chatgateway.SendTextResponse, error)
}

type pendingWriter interface {
	Set(ctx context.Context, tenantID, phone string, p PendingReply) error
}

// QuestionProducer runs phase 1 of the no-show shield: asking D+1's
// scheduled/confirmed appointments to confirm attendance.
type QuestionProducer struct {
	calendar appointmentLister
	dedup    dedupLog
	optout   optoutChecker
	sender   sender
	pending  pendingWriter
	logger   *logging.Logger
	now      func() time.Time
}

// NewQuestionProducer builds the no-show question phase.
func NewQuestionProducer(cal appointmentLister, dl dedupLog, oo optoutChecker, sd sender, pw pendingWriter, logger *logging.Logger) *QuestionProducer {
	if logger == nil {
		logger = logging.Default()
	}
	return &QuestionProducer{calendar: cal, dedup: dl, optout: oo, sender: sd, pending: pw, logger: logger, now: time.Now}
}

func (q *QuestionProducer) WithClock(now func() time.Time) *QuestionProducer {
	if now != nil {
		q.now = now
	}
	return q
}

// Run asks every eligible appointment on day D+1 (relative to now, in the
// given location) to confirm attendance, tolerating individual send
// failures without aborting the whole tenant's run.
func (q *QuestionProducer) Run(ctx context.Context, tenantID string, loc *time.Location) (asked int, err error) {
	now := q.now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, loc)
	dayEnd := dayStart.Add(24 * time.Hour)

	page := 1
	for {
		batch, err := q.calendar.ListAppointments(ctx, dayStart, dayEnd, page)
		if err != nil {
			q.logger.Error("noshow: list appointments page failed, aborting run", "error", err, "tenant_id", tenantID, "page", page)
			return asked, err
		}
		for _, appt := range batch.Items {
			if q.askOne(ctx, tenantID, appt, dayStart) {
				asked++
			}
		}
		if page >= batch.TotalPages {
			break
		}
		page++
	}
	return asked, nil
}

func (q *QuestionProducer) askOne(ctx context.Context, tenantID string, appt calendar.Appointment, day time.Time) bool {
	if appt.Phone == "" {
		return false
	}
	if appt.Status != calendar.StatusScheduled && appt.Status != calendar.StatusConfirmed {
		return false
	}

	date := day.Format(time.DateOnly)
	dedupeKey := dedup.NoShowQuestionKey(appt.ID, date)

	sent, err := q.dedup.HasSent(ctx, tenantID, dedupeKey)
	if err != nil {
		q.logger.Error("noshow: has sent check failed", "error", err, "appointment_id", appt.ID)
		return false
	}
	if sent {
		return false
	}

	optedOut, err := q.optout.IsOptedOut(ctx, tenantID, appt.Phone, optout.ScopeNoShowCheck)
	if err != nil {
		q.logger.Error("noshow: opt-out check failed", "error", err, "appointment_id", appt.ID)
		return false
	}
	if optedOut {
		return false
	}

	text := questionText(appt)
	if _, err := q.sender.SendText(ctx, appt.Phone, text, 0); err != nil {
		q.logger.Warn("noshow: question send failed", "error", err, "appointment_id", appt.ID)
		return false
	}

	if err := q.dedup.RecordSent(ctx, tenantID, dedupeKey, dedup.KindNoShowQuestion, appt.Phone, appt); err != nil {
		q.logger.Error("noshow: record sent failed", "error", err, "appointment_id", appt.ID)
	}

	if err := q.pending.Set(ctx, tenantID, appt.Phone, PendingReply{
		AppointmentID: appt.ID,
		ServiceID:     appt.ServiceID,
		Date:          date,
		OfferedAt:     q.now(),
	}); err != nil {
		q.logger.Error("noshow: write pending reply failed", "error", err, "appointment_id", appt.ID)
	}
	return true
}

func questionText(appt calendar.Appointment) string {
	return "Confirma presença no seu horário de " + appt.ServiceName + " amanhã às " +
		appt.Start.Format("15:04") + "? Responda SIM para confirmar ou NÃO para reagendar."
}

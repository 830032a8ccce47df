package noshow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamis-labs/agenda-core/internal/calendar"
	"github.com/dunamis-labs/agenda-core/internal/dedup"
	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

type calendarAPI interface {
	GetAppointment(ctx context.Context, id string) (calendar.Appointment, error)
	SearchSlots(ctx context.Context, serviceID, professionalID string, startingAt time.Time, limit int) ([]calendar.Slot, error)
	Rebook(ctx context.Context, appointmentID string, newStart time.Time, serviceID, professionalID, idempotencyKey string) (calendar.Booking, error)
}

type pendingStore interface {
	pendingWriter
	Get(ctx context.Context, tenantID, phone string) (PendingReply, error)
	Clear(ctx context.Context, tenantID, phone string) error
}

type offerStore interface {
	Get(ctx context.Context, tenantID, phone string) ([]OfferedSlot, error)
	Set(ctx context.Context, tenantID, phone string, slots []OfferedSlot) error
	Clear(ctx context.Context, tenantID, phone string) error
}

// maxOfferedSlots matches the contract's "up to 3 alternative slots".
const maxOfferedSlots = 3

// ReplyHandler resolves phase 2 of the no-show shield: an inbound reply
// arriving while a PendingReply entry exists for (tenant, phone).
type ReplyHandler struct {
	pending  pendingStore
	offers   offerStore
	dedup    dedupLog
	calendar calendarAPI
	detector *replyDetector
	logger   *logging.Logger
	now      func() time.Time
}

// NewReplyHandler builds the no-show reply handler.
func NewReplyHandler(pending pendingStore, offers offerStore, dl dedupLog, cal calendarAPI, logger *logging.Logger) *ReplyHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReplyHandler{
		pending:  pending,
		offers:   offers,
		dedup:    dl,
		calendar: cal,
		detector: newReplyDetector(),
		logger:   logger,
		now:      time.Now,
	}
}

func (h *ReplyHandler) WithClock(now func() time.Time) *ReplyHandler {
	if now != nil {
		h.now = now
	}
	return h
}

// Handle resolves an inbound text against an open PendingReply, returning
// the text to transmit back to the recipient. ErrNoPendingReply means the
// caller should fall through to the dialogue collaborator instead.
func (h *ReplyHandler) Handle(ctx context.Context, tenantID, phone, body string) (string, error) {
	pr, err := h.pending.Get(ctx, tenantID, phone)
	if err != nil {
		return "", err
	}

	body = strings.TrimSpace(body)

	switch {
	case h.detector.isYes(body):
		return h.handleYes(ctx, tenantID, phone, pr)
	case h.detector.isNo(body):
		return h.handleNo(ctx, tenantID, phone, pr)
	}
	if digit, ok := h.detector.digit(body); ok {
		return h.handleDigit(ctx, tenantID, phone, pr, digit)
	}
	return "Não entendi. Responda SIM para confirmar ou NÃO para reagendar.", nil
}

func (h *ReplyHandler) handleYes(ctx context.Context, tenantID, phone string, pr PendingReply) (string, error) {
	key := dedup.NoShowYesKey(pr.AppointmentID, pr.Date)
	if err := h.dedup.RecordSent(ctx, tenantID, key, dedup.KindNoShowYes, phone, pr); err != nil && !errors.Is(err, dedup.ErrDuplicate) {
		h.logger.Error("noshow: record yes failed", "error", err, "appointment_id", pr.AppointmentID)
	}
	if err := h.pending.Clear(ctx, tenantID, phone); err != nil {
		h.logger.Error("noshow: clear pending after yes failed", "error", err)
	}
	return "Obrigado por confirmar! Te esperamos no horário marcado.", nil
}

func (h *ReplyHandler) handleNo(ctx context.Context, tenantID, phone string, pr PendingReply) (string, error) {
	key := dedup.NoShowNoKey(pr.AppointmentID, pr.Date)
	if err := h.dedup.RecordSent(ctx, tenantID, key, dedup.KindNoShowNo, phone, pr); err != nil && !errors.Is(err, dedup.ErrDuplicate) {
		h.logger.Error("noshow: record no failed", "error", err, "appointment_id", pr.AppointmentID)
	}

	appt, err := h.calendar.GetAppointment(ctx, pr.AppointmentID)
	if err != nil {
		h.logger.Error("noshow: get appointment for rebook search failed", "error", err, "appointment_id", pr.AppointmentID)
		return "Sem problemas. Entre em contato conosco para reagendar.", nil
	}

	startingAt := appt.Start.Add(24 * time.Hour)
	slots, err := h.calendar.SearchSlots(ctx, appt.ServiceID, appt.ProfessionalID, startingAt, maxOfferedSlots)
	if err != nil || len(slots) == 0 {
		h.logger.Warn("noshow: search slots failed or empty", "error", err, "appointment_id", pr.AppointmentID)
		return "Sem problemas. Entre em contato conosco para reagendar.", nil
	}

	offered := make([]OfferedSlot, 0, len(slots))
	for _, s := range slots {
		offered = append(offered, OfferedSlot{Start: s.Start, ProfessionalID: s.ProfessionalID})
	}
	if err := h.offers.Set(ctx, tenantID, phone, offered); err != nil {
		h.logger.Error("noshow: cache offered slots failed", "error", err, "appointment_id", pr.AppointmentID)
	}

	return buildSlotPrompt(offered), nil
}

func (h *ReplyHandler) handleDigit(ctx context.Context, tenantID, phone string, pr PendingReply, digit int) (string, error) {
	offered, err := h.offers.Get(ctx, tenantID, phone)
	if err != nil {
		h.logger.Error("noshow: get offered slots failed", "error", err)
	}
	if digit < 1 || digit > len(offered) {
		return "Não entendi sua escolha. Responda com o número de uma das opções, ou SIM/NÃO.", nil
	}
	slot := offered[digit-1]

	idemKey := dedup.IdempotencyHash(phone, pr.ServiceID, slot.Start.Format(time.DateOnly), slot.Start.Format("15:04"))
	booking, err := h.calendar.Rebook(ctx, pr.AppointmentID, slot.Start, pr.ServiceID, slot.ProfessionalID, idemKey)

	if clearErr := h.pending.Clear(ctx, tenantID, phone); clearErr != nil {
		h.logger.Error("noshow: clear pending after rebook failed", "error", clearErr)
	}
	if clearErr := h.offers.Clear(ctx, tenantID, phone); clearErr != nil {
		h.logger.Error("noshow: clear offered slots after rebook failed", "error", clearErr)
	}

	if err != nil {
		h.logger.Warn("noshow: rebook failed", "error", err, "appointment_id", pr.AppointmentID)
		return "Não foi possível confirmar esse horário. Entre em contato conosco para reagendar.", nil
	}

	key := dedup.RebookKey(pr.AppointmentID, pr.Date)
	if err := h.dedup.RecordSent(ctx, tenantID, key, dedup.KindRebook, phone, booking); err != nil && !errors.Is(err, dedup.ErrDuplicate) {
		h.logger.Error("noshow: record rebook failed", "error", err, "appointment_id", pr.AppointmentID)
	}

	return fmt.Sprintf("Reagendado! Seu novo horário é às %s.", booking.Start.Format("15:04")), nil
}

func buildSlotPrompt(offered []OfferedSlot) string {
	var b strings.Builder
	b.WriteString("Aqui estão os horários disponíveis. Responda com o número de sua escolha:\n")
	for i, s := range offered {
		fmt.Fprintf(&b, "%d. %s às %s\n", i+1, s.Start.Format(time.DateOnly), s.Start.Format("15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

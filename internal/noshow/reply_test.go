package noshow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dunamis-labs/agenda-core/internal/calendar"
)

type fakePendingStore struct {
	entry   PendingReply
	present bool
	cleared bool
}

func (f *fakePendingStore) Set(ctx context.Context, tenantID, phone string, p PendingReply) error {
	f.entry = p
	f.present = true
	return nil
}
func (f *fakePendingStore) Get(ctx context.Context, tenantID, phone string) (PendingReply, error) {
	if !f.present {
		return PendingReply{}, ErrNoPendingReply
	}
	return f.entry, nil
}
func (f *fakePendingStore) Clear(ctx context.Context, tenantID, phone string) error {
	f.cleared = true
	f.present = false
	return nil
}

type fakeOfferStore struct {
	slots   []OfferedSlot
	cleared bool
}

func (f *fakeOfferStore) Get(ctx context.Context, tenantID, phone string) ([]OfferedSlot, error) {
	return f.slots, nil
}
func (f *fakeOfferStore) Set(ctx context.Context, tenantID, phone string, slots []OfferedSlot) error {
	f.slots = slots
	return nil
}
func (f *fakeOfferStore) Clear(ctx context.Context, tenantID, phone string) error {
	f.cleared = true
	f.slots = nil
	return nil
}

type fakeCalendarAPI struct {
	appt    calendar.Appointment
	apptErr error
	slots   []calendar.Slot
	slotErr error
	booking calendar.Booking
	bookErr error
}

func (f *fakeCalendarAPI) GetAppointment(ctx context.Context, id string) (calendar.Appointment, error) {
	return f.appt, f.apptErr
}
func (f *fakeCalendarAPI) SearchSlots(ctx context.Context, serviceID, professionalID string, startingAt time.Time, limit int) ([]calendar.Slot, error) {
	return f.slots, f.slotErr
}
func (f *fakeCalendarAPI) Rebook(ctx context.Context, appointmentID string, newStart time.Time, serviceID, professionalID, idempotencyKey string) (calendar.Booking, error) {
	return f.booking, f.bookErr
}

func TestHandleReturnsErrNoPendingReplyWhenAbsent(t *testing.T) {
	pending := &fakePendingStore{}
	h := NewReplyHandler(pending, &fakeOfferStore{}, &fakeDedup{sentKeys: map[string]bool{}}, &fakeCalendarAPI{}, nil)
	_, err := h.Handle(context.Background(), "t1", "5571900000001", "sim")
	if err != ErrNoPendingReply {
		t.Fatalf("expected ErrNoPendingReply, got %v", err)
	}
}

func TestHandleYesClearsPendingAndRecordsDedup(t *testing.T) {
	pending := &fakePendingStore{present: true, entry: PendingReply{AppointmentID: "ap1", Date: "2025-02-10"}}
	dd := &fakeDedup{sentKeys: map[string]bool{}}
	h := NewReplyHandler(pending, &fakeOfferStore{}, dd, &fakeCalendarAPI{}, nil)

	msg, err := h.Handle(context.Background(), "t1", "5571900000001", "SIM")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !pending.cleared {
		t.Fatal("expected pending reply cleared")
	}
	if len(dd.recorded) != 1 || dd.recorded[0] != "noshow_yes:ap1:2025-02-10" {
		t.Fatalf("unexpected dedup record %v", dd.recorded)
	}
	if msg == "" {
		t.Fatal("expected non-empty confirmation message")
	}
}

func TestHandleNoOffersSlotsWithoutClearingPending(t *testing.T) {
	pending := &fakePendingStore{present: true, entry: PendingReply{AppointmentID: "ap1", ServiceID: "svc1", Date: "2025-02-10"}}
	offers := &fakeOfferStore{}
	dd := &fakeDedup{sentKeys: map[string]bool{}}
	cal := &fakeCalendarAPI{
		appt:  calendar.Appointment{ID: "ap1", ServiceID: "svc1", ProfessionalID: "pro1", Start: time.Date(2025, 2, 10, 14, 0, 0, 0, time.UTC)},
		slots: []calendar.Slot{{Start: time.Date(2025, 2, 12, 10, 0, 0, 0, time.UTC), ProfessionalID: "pro1"}},
	}
	h := NewReplyHandler(pending, offers, dd, cal, nil)

	msg, err := h.Handle(context.Background(), "t1", "5571900000001", "não")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if pending.cleared {
		t.Fatal("expected pending reply NOT cleared on no")
	}
	if len(offers.slots) != 1 {
		t.Fatalf("expected 1 offered slot cached, got %d", len(offers.slots))
	}
	if !strings.Contains(msg, "1.") {
		t.Fatalf("expected numbered slot prompt, got %q", msg)
	}
}

func TestHandleNoFallsBackWhenNoSlotsFound(t *testing.T) {
	pending := &fakePendingStore{present: true, entry: PendingReply{AppointmentID: "ap1", Date: "2025-02-10"}}
	dd := &fakeDedup{sentKeys: map[string]bool{}}
	cal := &fakeCalendarAPI{appt: calendar.Appointment{ID: "ap1"}, slots: nil}
	h := NewReplyHandler(pending, &fakeOfferStore{}, dd, cal, nil)

	msg, err := h.Handle(context.Background(), "t1", "5571900000001", "nao")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if pending.cleared {
		t.Fatal("expected pending reply not cleared")
	}
	if !strings.Contains(msg, "contato") {
		t.Fatalf("expected fallback apology, got %q", msg)
	}
}

func TestHandleDigitRebooksAndClearsBothStores(t *testing.T) {
	pending := &fakePendingStore{present: true, entry: PendingReply{AppointmentID: "ap1", ServiceID: "svc1", Date: "2025-02-10"}}
	offers := &fakeOfferStore{slots: []OfferedSlot{
		{Start: time.Date(2025, 2, 12, 10, 0, 0, 0, time.UTC), ProfessionalID: "pro1"},
	}}
	dd := &fakeDedup{sentKeys: map[string]bool{}}
	cal := &fakeCalendarAPI{booking: calendar.Booking{AppointmentID: "ap1", Start: time.Date(2025, 2, 12, 10, 0, 0, 0, time.UTC)}}
	h := NewReplyHandler(pending, offers, dd, cal, nil)

	msg, err := h.Handle(context.Background(), "t1", "5571900000001", "1")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !pending.cleared || !offers.cleared {
		t.Fatal("expected both pending and offers cleared after rebook attempt")
	}
	if len(dd.recorded) != 1 || dd.recorded[0] != "rebook:ap1:2025-02-10" {
		t.Fatalf("unexpected dedup record %v", dd.recorded)
	}
	if !strings.Contains(msg, "Reagendado") {
		t.Fatalf("expected success message, got %q", msg)
	}
}

func TestHandleDigitClearsEvenWhenRebookFails(t *testing.T) {
	pending := &fakePendingStore{present: true, entry: PendingReply{AppointmentID: "ap1", ServiceID: "svc1", Date: "2025-02-10"}}
	offers := &fakeOfferStore{slots: []OfferedSlot{
		{Start: time.Date(2025, 2, 12, 10, 0, 0, 0, time.UTC), ProfessionalID: "pro1"},
	}}
	dd := &fakeDedup{sentKeys: map[string]bool{}}
	cal := &fakeCalendarAPI{bookErr: errTest("conflict")}
	h := NewReplyHandler(pending, offers, dd, cal, nil)

	msg, err := h.Handle(context.Background(), "t1", "5571900000001", "1")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !pending.cleared || !offers.cleared {
		t.Fatal("expected both stores cleared even on rebook failure")
	}
	if len(dd.recorded) != 0 {
		t.Fatalf("expected no dedup record on failed rebook, got %v", dd.recorded)
	}
	if !strings.Contains(msg, "Não foi possível") {
		t.Fatalf("expected failure message, got %q", msg)
	}
}

func TestHandleDigitOutOfRangeDoesNotClear(t *testing.T) {
	pending := &fakePendingStore{present: true, entry: PendingReply{AppointmentID: "ap1", ServiceID: "svc1", Date: "2025-02-10"}}
	offers := &fakeOfferStore{slots: []OfferedSlot{{Start: time.Now()}}}
	dd := &fakeDedup{sentKeys: map[string]bool{}}
	h := NewReplyHandler(pending, offers, dd, &fakeCalendarAPI{}, nil)

	msg, err := h.Handle(context.Background(), "t1", "5571900000001", "9")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if pending.cleared {
		t.Fatal("expected pending not cleared for out-of-range digit")
	}
	if !strings.Contains(msg, "Não entendi") {
		t.Fatalf("expected disambiguation message, got %q", msg)
	}
}

func TestHandleUnrecognizedDoesNotClear(t *testing.T) {
	pending := &fakePendingStore{present: true, entry: PendingReply{AppointmentID: "ap1"}}
	h := NewReplyHandler(pending, &fakeOfferStore{}, &fakeDedup{sentKeys: map[string]bool{}}, &fakeCalendarAPI{}, nil)

	msg, err := h.Handle(context.Background(), "t1", "5571900000001", "talvez")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if pending.cleared {
		t.Fatal("expected pending not cleared for unrecognized reply")
	}
	if !strings.Contains(msg, "Não entendi") {
		t.Fatalf("expected disambiguation message, got %q", msg)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

// Package calendar defines the five operations the core consumes from the
// tenant's appointment calendar, and a REST-backed implementation of that
// contract.
package calendar

import (
	"context"
	"time"
)

// AppointmentStatus mirrors the subset of calendar statuses the core reasons
// about directly.
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCanceled  AppointmentStatus = "canceled"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no_show"
)

// Appointment is the subset of calendar fields the core needs.
type Appointment struct {
	ID             string
	Status         AppointmentStatus
	Start          time.Time
	Phone          string
	ServiceID      string
	ServiceName    string
	ProfessionalID string
	BusinessName   string
	BusinessAddr   string
}

// Slot is one bookable opening returned by SearchSlots.
type Slot struct {
	Start          time.Time
	ProfessionalID string
}

// Page is one page of a paginated appointment listing.
type Page struct {
	Items      []Appointment
	TotalPages int
}

// BookingPayload is the caller-supplied spec for CreateBooking.
type BookingPayload struct {
	Phone          string
	ServiceID      string
	ProfessionalID string
	Start          time.Time
}

// Booking is the result of a successful CreateBooking or Rebook call.
type Booking struct {
	AppointmentID string    `json:"appointment_id"`
	Start         time.Time `json:"start"`
}

// ErrConflict indicates Rebook could not honor the requested slot because
// it was no longer available.
type ErrConflict struct {
	AppointmentID string
}

func (e *ErrConflict) Error() string {
	return "calendar: slot conflict rebooking appointment " + e.AppointmentID
}

// API is the five-operation contract consumed by the core's producers and
// the reply-phase rebook flow.
type API interface {
	ListAppointments(ctx context.Context, dateFrom, dateTo time.Time, page int) (Page, error)
	GetAppointment(ctx context.Context, id string) (Appointment, error)
	SearchSlots(ctx context.Context, serviceID, professionalID string, startingAt time.Time, limit int) ([]Slot, error)
	Rebook(ctx context.Context, appointmentID string, newStart time.Time, serviceID, professionalID, idempotencyKey string) (Booking, error)
	CreateBooking(ctx context.Context, payload BookingPayload, idempotencyKey string) (Booking, error)
}

// Package jobs implements the durable MessageJob table: the primary source
// of truth for pending outbound sends, claimed by the delivery worker and
// populated by the cron producers and the inbound reply path.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a MessageJob renders and why it exists.
type Kind string

const (
	KindPreVisit    Kind = "pre_visit"
	KindNoShowCheck Kind = "no_show_check"
)

// State is the lifecycle state of a MessageJob row.
type State string

const (
	StatePending           State = "pending"
	StateSent              State = "sent"
	StateFailed            State = "failed"
	StateCanceled          State = "canceled"
	StatePermanentlyFailed State = "permanently_failed"
)

// Terminal reports whether a state is absorbing: no further transition is
// ever applied to a row once it reaches one of these.
func (s State) Terminal() bool {
	switch s {
	case StateSent, StateCanceled, StatePermanentlyFailed:
		return true
	default:
		return false
	}
}

// Payload carries everything needed to render the outbound message. Fields
// are a narrow, typed variant rather than an untyped map — unknown
// attributes from the calendar API are not round-tripped through a job row.
type Payload struct {
	AppointmentID    string    `json:"appointment_id"`
	Service          string    `json:"service"`
	Professional     string    `json:"professional"`
	AppointmentStart time.Time `json:"appointment_start"`
	BusinessName     string    `json:"business_name"`
	BusinessAddress  string    `json:"business_address"`
}

// Job is one row of the MessageJob table.
type Job struct {
	ID          uuid.UUID
	TenantID    string
	Phone       string
	Kind        Kind
	RunAt       time.Time
	Payload     Payload
	State       State
	Attempts    int
	MaxAttempts int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	BookingID   string
	DedupeKey   string

	claimedUntil time.Time
}

// EnqueueInput is the caller-supplied spec for a new job.
type EnqueueInput struct {
	TenantID    string
	Phone       string
	Kind        Kind
	BookingID   string
	DedupeKey   string
	RunAt       time.Time
	Payload     Payload
	MaxAttempts int
}

// Transition is the outcome commit applies to a claimed job, per §4.1(commit).
type Transition string

const (
	TransitionSent      Transition = "sent"
	TransitionRetry     Transition = "retry"
	TransitionFail      Transition = "fail"
	TransitionCancel    Transition = "cancel"
	TransitionSkip      Transition = "skip"
)

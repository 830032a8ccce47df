// Package compliance implements the rendering-stage guards the delivery
// worker consults before transmitting: quiet hours today, a home for
// further sending restrictions tomorrow.
package compliance

import (
	"fmt"
	"time"
)

// Purpose distinguishes transactional from marketing-class sends. Quiet
// hours only ever suppress marketing traffic; every kind spec.md defines
// today (pre_visit, no_show_check) is transactional; the guard stays
// dormant until a tenant configures a marketing-class notification kind.
type Purpose string

const (
	PurposeTransactional Purpose = "transactional"
	PurposeMarketing     Purpose = "marketing"
)

// QuietHours is a daily local-time window during which marketing sends are
// suppressed.
type QuietHours struct {
	startMinutes int
	endMinutes   int
	location     *time.Location
	enabled      bool
}

// ParseQuietHours builds a window from "HH:MM" bounds in the given IANA
// timezone. Either bound empty returns a disabled, always-permissive
// QuietHours.
func ParseQuietHours(start, end, tz string) (QuietHours, error) {
	if start == "" || end == "" {
		return QuietHours{}, nil
	}
	loc := time.UTC
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return QuietHours{}, fmt.Errorf("compliance: load quiet hours tz: %w", err)
		}
	}
	startMin, err := parseClock(start)
	if err != nil {
		return QuietHours{}, fmt.Errorf("compliance: parse quiet hours start: %w", err)
	}
	endMin, err := parseClock(end)
	if err != nil {
		return QuietHours{}, fmt.Errorf("compliance: parse quiet hours end: %w", err)
	}
	return QuietHours{startMinutes: startMin, endMinutes: endMin, location: loc, enabled: true}, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Suppress reports whether now falls inside the quiet-hours window for a
// marketing-purpose send. Transactional sends are never suppressed.
func (q QuietHours) Suppress(now time.Time, purpose Purpose) bool {
	if !q.enabled || purpose != PurposeMarketing {
		return false
	}
	local := now.In(q.location)
	minutes := local.Hour()*60 + local.Minute()
	if q.startMinutes == q.endMinutes {
		return false
	}
	if q.startMinutes < q.endMinutes {
		return minutes >= q.startMinutes && minutes < q.endMinutes
	}
	return minutes >= q.startMinutes || minutes < q.endMinutes
}

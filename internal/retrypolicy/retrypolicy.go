// Package retrypolicy implements the exponential-backoff-with-jitter delay
// schedule and the retryability classification table the delivery worker
// consults on every failed send.
package retrypolicy

import (
	"errors"
	"math"
	"math/rand"
	"net"
	"time"
)

// Policy is an exponential backoff schedule with a multiplicative cap and
// symmetric jitter.
type Policy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      float64 // fraction of the computed delay, e.g. 0.25 for ±25%
}

// Default is the profile used unless a tenant overrides it: base 1s,
// multiplier 2, cap 10s, 3 attempts, ±25% jitter.
var Default = Policy{
	BaseDelay:   time.Second,
	Multiplier:  2,
	MaxDelay:    10 * time.Second,
	MaxAttempts: 3,
	Jitter:      0.25,
}

// Delay returns the backoff for the given 1-indexed attempt number:
// min(MaxDelay, BaseDelay * Multiplier^(attempt-1)), jittered by ±Jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if cap := float64(p.MaxDelay); raw > cap {
		raw = cap
	}
	if p.Jitter > 0 {
		spread := raw * p.Jitter
		raw += (rand.Float64()*2 - 1) * spread
	}
	if raw < 0 {
		raw = 0
	}
	return time.Duration(raw)
}

// Exhausted reports whether attempts already made has used up the policy's
// attempt budget.
func (p Policy) Exhausted(attemptsMade int) bool {
	return attemptsMade >= p.MaxAttempts
}

// httpStatusError is satisfied by outbound client errors that carry a
// response status code; the gateway contract's own error type is expected
// to implement it.
type httpStatusError interface {
	StatusCode() int
}

// retryableHTTPStatus are the statuses the gateway contract and calendar
// API are expected to recover from given time: 429 (rate limited), 502/503/
// 504 (upstream unavailable).
var retryableHTTPStatus = map[int]bool{
	429: true,
	502: true,
	503: true,
	504: true,
}

// Retryable classifies an error returned from an outbound call. Network
// errors (dial/timeout) and the retryable HTTP status set are retryable;
// client errors (400/401/403/404/409) and anything else are not, on the
// theory that retrying a request the far end has already rejected as
// malformed or conflicting only wastes an attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		return retryableHTTPStatus[statusErr.StatusCode()]
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

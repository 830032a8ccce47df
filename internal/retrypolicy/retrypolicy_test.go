package retrypolicy

import (
	"errors"
	"net"
	"testing"
	"time"
)

func TestDelayGrowsExponentially(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Hour, MaxAttempts: 5, Jitter: 0}
	if got := p.Delay(1); got != time.Second {
		t.Fatalf("attempt 1: expected 1s, got %s", got)
	}
	if got := p.Delay(2); got != 2*time.Second {
		t.Fatalf("attempt 2: expected 2s, got %s", got)
	}
	if got := p.Delay(3); got != 4*time.Second {
		t.Fatalf("attempt 3: expected 4s, got %s", got)
	}
}

func TestDelayNeverExceedsMaxDelay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second, MaxAttempts: 10, Jitter: 0}
	for attempt := 1; attempt <= 10; attempt++ {
		if got := p.Delay(attempt); got > p.MaxDelay {
			t.Fatalf("attempt %d: delay %s exceeds cap %s", attempt, got, p.MaxDelay)
		}
	}
}

func TestDelayJitterStaysWithinBounds(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 1, MaxDelay: time.Hour, MaxAttempts: 3, Jitter: 0.25}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("jittered delay %s out of ±25%% bounds", d)
		}
	}
}

func TestExhausted(t *testing.T) {
	p := Default
	if p.Exhausted(2) {
		t.Fatal("expected not exhausted at 2 of 3")
	}
	if !p.Exhausted(3) {
		t.Fatal("expected exhausted at 3 of 3")
	}
}

type statusErr struct{ code int }

func (e statusErr) Error() string  { return "http error" }
func (e statusErr) StatusCode() int { return e.code }

func TestRetryableHTTPStatuses(t *testing.T) {
	cases := map[int]bool{429: true, 502: true, 503: true, 504: true, 400: false, 401: false, 404: false, 409: false}
	for code, want := range cases {
		if got := Retryable(statusErr{code}); got != want {
			t.Fatalf("status %d: expected retryable=%v, got %v", code, want, got)
		}
	}
}

func TestRetryableNetworkError(t *testing.T) {
	err := &net.DNSError{Err: "timeout", IsTimeout: true}
	if !Retryable(err) {
		t.Fatal("expected network error to be retryable")
	}
}

func TestRetryableNilAndPlainErrors(t *testing.T) {
	if Retryable(nil) {
		t.Fatal("expected nil to be non-retryable")
	}
	if Retryable(errors.New("booking conflict")) {
		t.Fatal("expected plain app error to be non-retryable")
	}
}

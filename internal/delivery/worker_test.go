package delivery

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dunamis-labs/agenda-core/internal/chatgateway"
	"github.com/dunamis-labs/agenda-core/internal/dedup"
	"github.com/dunamis-labs/agenda-core/internal/handoff"
	"github.com/dunamis-labs/agenda-core/internal/jobs"
	"github.com/dunamis-labs/agenda-core/internal/optout"
	"github.com/dunamis-labs/agenda-core/internal/tenant"
)

type fakeJobStore struct {
	mu        sync.Mutex
	batch     []jobs.Job
	sent      []uuid.UUID
	retried   []uuid.UUID
	failed    []uuid.UUID
	canceled  []uuid.UUID
	graced    []uuid.UUID
}

func (f *fakeJobStore) ClaimBatch(ctx context.Context, now time.Time, max int, visibility time.Duration) ([]jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.batch
	f.batch = nil
	return out, nil
}
func (f *fakeJobStore) CommitSent(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}
func (f *fakeJobStore) CommitRetry(ctx context.Context, id uuid.UUID, lastErr string, nextRunAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, id)
	return nil
}
func (f *fakeJobStore) CommitPermanentlyFailed(ctx context.Context, id uuid.UUID, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}
func (f *fakeJobStore) CommitCanceled(ctx context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	return nil
}
func (f *fakeJobStore) ReturnForGrace(ctx context.Context, id uuid.UUID, now time.Time, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graced = append(f.graced, id)
	return nil
}

type fakeDedup struct {
	mu        sync.Mutex
	hasSent   bool
	recorded  []string
}

func (f *fakeDedup) HasSent(ctx context.Context, tenantID, dedupeKey string) (bool, error) {
	return f.hasSent, nil
}
func (f *fakeDedup) RecordSent(ctx context.Context, tenantID, dedupeKey string, kind dedup.NotificationKind, phone string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, dedupeKey)
	return nil
}

type fakeOptout struct{ optedOut bool }

func (f *fakeOptout) IsOptedOut(ctx context.Context, tenantID, phone string, scope optout.Scope) (bool, error) {
	return f.optedOut, nil
}

type fakeHandoff struct{ active *handoff.Record }

func (f *fakeHandoff) Active(ctx context.Context, tenantID, phone string) (*handoff.Record, error) {
	if f.active != nil {
		return f.active, nil
	}
	return nil, handoff.ErrNotFound
}

type fakeSender struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSender) SendText(ctx context.Context, number, text string, delay time.Duration) (*chatgateway.SendTextResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &chatgateway.SendTextResponse{Status: "ok"}, nil
}

type fakeTenants struct{ cfg *tenant.Config }

func (f *fakeTenants) Get(ctx context.Context, tenantID string) (*tenant.Config, error) {
	if f.cfg != nil {
		return f.cfg, nil
	}
	return tenant.Default(tenantID), nil
}

type statusErr struct{ status int }

func (e statusErr) Error() string   { return "status error" }
func (e statusErr) StatusCode() int { return e.status }

func testJob(kind jobs.Kind) jobs.Job {
	return jobs.Job{
		ID:          uuid.New(),
		TenantID:    "t1",
		Phone:       "5571900000001",
		Kind:        kind,
		DedupeKey:   "previsit:ap1:2025-02-10",
		MaxAttempts: 3,
		Payload: jobs.Payload{
			Service:          "Corte",
			Professional:     "Joana",
			AppointmentStart: time.Date(2025, 2, 10, 14, 0, 0, 0, time.UTC),
			BusinessName:     "Studio X",
		},
	}
}

func TestProcessSendsAndRecordsDedupOnSuccess(t *testing.T) {
	js := &fakeJobStore{batch: []jobs.Job{testJob(jobs.KindPreVisit)}}
	dd := &fakeDedup{}
	oo := &fakeOptout{}
	hh := &fakeHandoff{}
	sd := &fakeSender{}
	tn := &fakeTenants{}

	w := NewWorker(js, dd, oo, hh, sd, tn, nil, nil).WithConsumers(1).WithPacing(time.Millisecond)
	w.drain(context.Background())

	if sd.calls != 1 {
		t.Fatalf("expected 1 send, got %d", sd.calls)
	}
	if len(dd.recorded) != 1 || dd.recorded[0] != "previsit:ap1:2025-02-10" {
		t.Fatalf("expected dedupe key recorded, got %v", dd.recorded)
	}
	if len(js.sent) != 1 {
		t.Fatalf("expected job committed sent, got %v", js.sent)
	}
}

func TestProcessSkipsOutboundWhenAlreadySent(t *testing.T) {
	js := &fakeJobStore{batch: []jobs.Job{testJob(jobs.KindPreVisit)}}
	dd := &fakeDedup{hasSent: true}
	oo := &fakeOptout{}
	hh := &fakeHandoff{}
	sd := &fakeSender{}
	tn := &fakeTenants{}

	w := NewWorker(js, dd, oo, hh, sd, tn, nil, nil)
	w.drain(context.Background())

	if sd.calls != 0 {
		t.Fatalf("expected no outbound call, got %d", sd.calls)
	}
	if len(js.sent) != 1 {
		t.Fatalf("expected job committed sent via dedup short-circuit, got %v", js.sent)
	}
}

func TestProcessCancelsOnOptOut(t *testing.T) {
	js := &fakeJobStore{batch: []jobs.Job{testJob(jobs.KindPreVisit)}}
	dd := &fakeDedup{}
	oo := &fakeOptout{optedOut: true}
	hh := &fakeHandoff{}
	sd := &fakeSender{}
	tn := &fakeTenants{}

	w := NewWorker(js, dd, oo, hh, sd, tn, nil, nil)
	w.drain(context.Background())

	if sd.calls != 0 {
		t.Fatalf("expected no outbound call on opt-out, got %d", sd.calls)
	}
	if len(js.canceled) != 1 {
		t.Fatalf("expected job canceled, got %v", js.canceled)
	}
}

func TestProcessReturnsForGraceWhenHandoffActive(t *testing.T) {
	js := &fakeJobStore{batch: []jobs.Job{testJob(jobs.KindPreVisit)}}
	dd := &fakeDedup{}
	oo := &fakeOptout{}
	hh := &fakeHandoff{active: &handoff.Record{Scope: handoff.ScopeRecipient}}
	sd := &fakeSender{}
	tn := &fakeTenants{}

	w := NewWorker(js, dd, oo, hh, sd, tn, nil, nil)
	w.drain(context.Background())

	if sd.calls != 0 {
		t.Fatalf("expected no outbound call while handoff active, got %d", sd.calls)
	}
	if len(js.graced) != 1 {
		t.Fatalf("expected job returned for grace, got %v", js.graced)
	}
}

func TestProcessRetriesOnRetryableTransportError(t *testing.T) {
	js := &fakeJobStore{batch: []jobs.Job{testJob(jobs.KindPreVisit)}}
	dd := &fakeDedup{}
	oo := &fakeOptout{}
	hh := &fakeHandoff{}
	sd := &fakeSender{err: statusErr{status: 503}}
	tn := &fakeTenants{}

	w := NewWorker(js, dd, oo, hh, sd, tn, nil, nil)
	w.drain(context.Background())

	if len(js.retried) != 1 {
		t.Fatalf("expected retry commit, got sent=%v retried=%v failed=%v", js.sent, js.retried, js.failed)
	}
}

func TestProcessPermanentlyFailsOnNonRetryableError(t *testing.T) {
	js := &fakeJobStore{batch: []jobs.Job{testJob(jobs.KindPreVisit)}}
	dd := &fakeDedup{}
	oo := &fakeOptout{}
	hh := &fakeHandoff{}
	sd := &fakeSender{err: statusErr{status: 404}}
	tn := &fakeTenants{}

	w := NewWorker(js, dd, oo, hh, sd, tn, nil, nil)
	w.drain(context.Background())

	if len(js.failed) != 1 {
		t.Fatalf("expected permanently_failed commit, got %v", js.failed)
	}
}

func TestProcessPermanentlyFailsWhenAttemptsExhausted(t *testing.T) {
	job := testJob(jobs.KindPreVisit)
	job.Attempts = 2
	job.MaxAttempts = 3
	js := &fakeJobStore{batch: []jobs.Job{job}}
	dd := &fakeDedup{}
	oo := &fakeOptout{}
	hh := &fakeHandoff{}
	sd := &fakeSender{err: statusErr{status: 503}}
	tn := &fakeTenants{}

	w := NewWorker(js, dd, oo, hh, sd, tn, nil, nil)
	w.drain(context.Background())

	if len(js.failed) != 1 {
		t.Fatalf("expected permanently_failed once attempts exhausted, got retried=%v failed=%v", js.retried, js.failed)
	}
}

func TestRenderIncludesServiceAndTime(t *testing.T) {
	r := NewRenderer()
	text, err := r.Render(jobs.KindPreVisit, testJob(jobs.KindPreVisit).Payload)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(text, "Corte") || !strings.Contains(text, "14:00") {
		t.Fatalf("expected rendered text to contain service and time, got %q", text)
	}
}

func TestRenderUnknownKindErrors(t *testing.T) {
	r := NewRenderer()
	if _, err := r.Render(jobs.Kind("unknown"), jobs.Payload{}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestPacingDelaysSecondSendToSamePhone(t *testing.T) {
	js := &fakeJobStore{}
	dd := &fakeDedup{}
	oo := &fakeOptout{}
	hh := &fakeHandoff{}
	sd := &fakeSender{}
	tn := &fakeTenants{}

	w := NewWorker(js, dd, oo, hh, sd, tn, nil, nil).WithPacing(20 * time.Millisecond)
	w.markSent("5571900000001")
	start := time.Now()
	w.pace(context.Background(), "5571900000001")
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("expected pace to block for close to the configured pacing delay")
	}
}

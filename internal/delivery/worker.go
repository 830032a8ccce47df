// Package delivery implements the Delivery Worker (C5): the pool of
// consumers that claims MessageJob rows and carries each through the
// opt-out/handoff/dedup gates, rendering, transmission, and commit.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dunamis-labs/agenda-core/internal/chatgateway"
	"github.com/dunamis-labs/agenda-core/internal/compliance"
	"github.com/dunamis-labs/agenda-core/internal/dedup"
	"github.com/dunamis-labs/agenda-core/internal/handoff"
	"github.com/dunamis-labs/agenda-core/internal/jobs"
	"github.com/dunamis-labs/agenda-core/internal/metrics"
	"github.com/dunamis-labs/agenda-core/internal/optout"
	"github.com/dunamis-labs/agenda-core/internal/retrypolicy"
	"github.com/dunamis-labs/agenda-core/internal/tenant"
	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

type jobStore interface {
	ClaimBatch(ctx context.Context, now time.Time, max int, visibility time.Duration) ([]jobs.Job, error)
	CommitSent(ctx context.Context, id uuid.UUID) error
	CommitRetry(ctx context.Context, id uuid.UUID, lastErr string, nextRunAt time.Time) error
	CommitPermanentlyFailed(ctx context.Context, id uuid.UUID, lastErr string) error
	CommitCanceled(ctx context.Context, id uuid.UUID, reason string) error
	ReturnForGrace(ctx context.Context, id uuid.UUID, now time.Time, grace time.Duration) error
}

type dedupLog interface {
	HasSent(ctx context.Context, tenantID, dedupeKey string) (bool, error)
	RecordSent(ctx context.Context, tenantID, dedupeKey string, kind dedup.NotificationKind, phone string, payload any) error
}

type optoutChecker interface {
	IsOptedOut(ctx context.Context, tenantID, phone string, scope optout.Scope) (bool, error)
}

type handoffGate interface {
	Active(ctx context.Context, tenantID, phone string) (*handoff.Record, error)
}

type sender interface {
	SendText(ctx context.Context, number, text string, delay time.Duration) (*chatgateway.SendTextResponse, error)
}

type tenantConfigs interface {
	Get(ctx context.Context, tenantID string) (*tenant.Config, error)
}

// Worker is a pool of identical consumers draining MessageJob claims.
type Worker struct {
	jobs    jobStore
	dedup   dedupLog
	optout  optoutChecker
	handoff handoffGate
	sender  sender
	tenants tenantConfigs
	metrics *metrics.Metrics
	policy  retrypolicy.Policy
	render  *Renderer
	logger  *logging.Logger
	now     func() time.Time

	consumers  int
	batchSize  int
	visibility time.Duration
	poll       time.Duration
	pacing     time.Duration

	mu       sync.Mutex
	lastSend map[string]time.Time
}

// NewWorker builds a delivery worker with the core's default tuning: 4
// consumers, batch 20, 10 min visibility, 5 s poll, 2 s inter-message pacing.
func NewWorker(js jobStore, dl dedupLog, oc optoutChecker, hg handoffGate,
	sd sender, tn tenantConfigs, m *metrics.Metrics, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		jobs:       js,
		dedup:      dl,
		optout:     oc,
		handoff:    hg,
		sender:     sd,
		tenants:    tn,
		metrics:    m,
		policy:     retrypolicy.Default,
		render:     NewRenderer(),
		logger:     logger,
		now:        time.Now,
		consumers:  4,
		batchSize:  20,
		visibility: 10 * time.Minute,
		poll:       5 * time.Second,
		pacing:     2 * time.Second,
		lastSend:   make(map[string]time.Time),
	}
}

func (w *Worker) WithConsumers(n int) *Worker {
	if n > 0 {
		w.consumers = n
	}
	return w
}

func (w *Worker) WithBatchSize(n int) *Worker {
	if n > 0 {
		w.batchSize = n
	}
	return w
}

func (w *Worker) WithVisibility(d time.Duration) *Worker {
	if d > 0 {
		w.visibility = d
	}
	return w
}

func (w *Worker) WithPollInterval(d time.Duration) *Worker {
	if d > 0 {
		w.poll = d
	}
	return w
}

func (w *Worker) WithPacing(d time.Duration) *Worker {
	if d > 0 {
		w.pacing = d
	}
	return w
}

func (w *Worker) WithPolicy(p retrypolicy.Policy) *Worker {
	w.policy = p
	return w
}

func (w *Worker) WithClock(now func() time.Time) *Worker {
	if now != nil {
		w.now = now
	}
	return w
}

// Run starts the consumer pool and blocks until ctx is canceled. Each
// consumer ticks independently on the same poll interval; a crashed
// consumer's claims are reclaimed by the visibility timeout, not by Run.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.runConsumer(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) runConsumer(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	batch, err := w.jobs.ClaimBatch(ctx, w.now(), w.batchSize, w.visibility)
	if err != nil {
		w.logger.Error("claim batch failed", "error", err)
		return
	}
	if len(batch) == 0 {
		return
	}
	byKind := map[jobs.Kind]int{}
	for _, j := range batch {
		byKind[j.Kind]++
	}
	for kind, n := range byKind {
		w.metrics.ObserveClaimed(string(kind), n)
	}
	for _, j := range batch {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.process(ctx, j)
	}
}

func (w *Worker) process(ctx context.Context, job jobs.Job) {
	cfg, err := w.tenants.Get(ctx, job.TenantID)
	if err != nil {
		w.logger.Error("tenant config lookup failed, abandoning claim", "error", err, "job_id", job.ID)
		return
	}

	scope, ok := scopeForKind(job.Kind)
	if !ok {
		w.commitPermanentlyFailed(ctx, job, fmt.Sprintf("no opt-out scope for kind %q", job.Kind))
		return
	}
	optedOut, err := w.optout.IsOptedOut(ctx, job.TenantID, job.Phone, scope)
	if err != nil {
		w.logger.Error("opt-out check failed, abandoning claim", "error", err, "job_id", job.ID)
		return
	}
	if optedOut {
		if err := w.jobs.CommitCanceled(ctx, job.ID, "opted out"); err != nil && !errors.Is(err, jobs.ErrNotFound) {
			w.logger.Error("commit canceled failed", "error", err, "job_id", job.ID)
		}
		w.metrics.ObserveDeliveryOutcome(string(job.Kind), "skipped")
		return
	}

	if rec, err := w.handoff.Active(ctx, job.TenantID, job.Phone); err == nil {
		w.logger.Info("handoff active, deferring job", "job_id", job.ID, "scope", rec.Scope)
		if err := w.jobs.ReturnForGrace(ctx, job.ID, w.now(), cfg.GraceDelay); err != nil {
			w.logger.Error("return for grace failed", "error", err, "job_id", job.ID)
		}
		w.metrics.ObserveDeliveryOutcome(string(job.Kind), "deferred")
		return
	} else if !errors.Is(err, handoff.ErrNotFound) {
		w.logger.Error("handoff check failed, abandoning claim", "error", err, "job_id", job.ID)
		return
	}

	sent, err := w.dedup.HasSent(ctx, job.TenantID, job.DedupeKey)
	if err != nil {
		w.logger.Error("dedup check failed, abandoning claim", "error", err, "job_id", job.ID)
		return
	}
	if sent {
		if err := w.jobs.CommitSent(ctx, job.ID); err != nil && !errors.Is(err, jobs.ErrNotFound) {
			w.logger.Error("commit sent (dedup short-circuit) failed", "error", err, "job_id", job.ID)
		}
		w.metrics.ObserveDedupHit(string(job.Kind))
		w.metrics.ObserveDeliveryOutcome(string(job.Kind), "sent")
		return
	}

	if quiet, err := compliance.ParseQuietHours(cfg.QuietHoursStart, cfg.QuietHoursEnd, cfg.Timezone); err == nil {
		if quiet.Suppress(w.now(), compliance.PurposeTransactional) {
			if err := w.jobs.ReturnForGrace(ctx, job.ID, w.now(), cfg.GraceDelay); err != nil {
				w.logger.Error("return for grace (quiet hours) failed", "error", err, "job_id", job.ID)
			}
			w.metrics.ObserveDeliveryOutcome(string(job.Kind), "deferred")
			return
		}
	}

	text, err := w.render.Render(job.Kind, job.Payload)
	if err != nil {
		w.commitPermanentlyFailed(ctx, job, err.Error())
		return
	}

	w.pace(ctx, job.Phone)

	start := w.now()
	_, sendErr := w.sender.SendText(ctx, job.Phone, text, 0)
	w.metrics.ObserveSendLatency(string(job.Kind), w.now().Sub(start).Seconds())
	w.markSent(job.Phone)

	if sendErr == nil {
		if err := w.dedup.RecordSent(ctx, job.TenantID, job.DedupeKey, notificationKindForJob(job.Kind), job.Phone, job.Payload); err != nil && !errors.Is(err, dedup.ErrDuplicate) {
			w.logger.Error("record sent failed after successful transmit, abandoning claim", "error", err, "job_id", job.ID)
			return
		}
		if err := w.jobs.CommitSent(ctx, job.ID); err != nil && !errors.Is(err, jobs.ErrNotFound) {
			w.logger.Error("commit sent failed", "error", err, "job_id", job.ID)
		}
		w.metrics.ObserveDeliveryOutcome(string(job.Kind), "sent")
		return
	}

	attemptsMade := job.Attempts + 1
	if retrypolicy.Retryable(sendErr) && attemptsMade < maxAttempts(job, cfg) {
		nextRunAt := w.now().Add(w.policy.Delay(attemptsMade))
		if err := w.jobs.CommitRetry(ctx, job.ID, sendErr.Error(), nextRunAt); err != nil && !errors.Is(err, jobs.ErrNotFound) {
			w.logger.Error("commit retry failed", "error", err, "job_id", job.ID)
		}
		w.metrics.ObserveDeliveryOutcome(string(job.Kind), "retry")
		return
	}
	w.commitPermanentlyFailed(ctx, job, sendErr.Error())
}

func (w *Worker) commitPermanentlyFailed(ctx context.Context, job jobs.Job, reason string) {
	if err := w.jobs.CommitPermanentlyFailed(ctx, job.ID, reason); err != nil && !errors.Is(err, jobs.ErrNotFound) {
		w.logger.Error("commit permanently failed", "error", err, "job_id", job.ID)
	}
	w.metrics.ObserveDeliveryOutcome(string(job.Kind), "permanently_failed")
}

// pace blocks until at least the configured pacing interval has elapsed
// since the last send to this phone, so a burst of jobs for one recipient
// does not exceed the gateway's rate limit.
func (w *Worker) pace(ctx context.Context, phone string) {
	w.mu.Lock()
	last, ok := w.lastSend[phone]
	w.mu.Unlock()
	if !ok {
		return
	}
	wait := w.pacing - w.now().Sub(last)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *Worker) markSent(phone string) {
	w.mu.Lock()
	w.lastSend[phone] = w.now()
	w.mu.Unlock()
}

func maxAttempts(job jobs.Job, cfg *tenant.Config) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	if cfg != nil && cfg.MaxAttempts > 0 {
		return cfg.MaxAttempts
	}
	return retrypolicy.Default.MaxAttempts
}

func scopeForKind(kind jobs.Kind) (optout.Scope, bool) {
	switch kind {
	case jobs.KindPreVisit:
		return optout.ScopePreVisit, true
	case jobs.KindNoShowCheck:
		return optout.ScopeNoShowCheck, true
	default:
		return "", false
	}
}

func notificationKindForJob(kind jobs.Kind) dedup.NotificationKind {
	switch kind {
	case jobs.KindPreVisit:
		return dedup.KindPrevisit
	case jobs.KindNoShowCheck:
		return dedup.KindNoShowQuestion
	default:
		return dedup.NotificationKind(kind)
	}
}

package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

// SweepCronJob wires Store.SweepTerminal to a wall-clock schedule, deleting
// terminal-state MessageJob rows older than the retention window on every
// tick. Unlike the per-tenant producer crons, the sweep is tenant-agnostic:
// one DELETE covers every tenant's terminal rows in a single pass.
type SweepCronJob struct {
	store     *Store
	retention time.Duration
	logger    *logging.Logger
	cron      *cron.Cron
	spec      string
}

// NewSweepCronJob builds a retention sweep cron runner. The default
// schedule ("@every 24h") matches the contract's daily retention sweep;
// rows are eligible once they have sat in a terminal state longer than
// retention.
func NewSweepCronJob(store *Store, retention time.Duration, logger *logging.Logger) *SweepCronJob {
	if logger == nil {
		logger = logging.Default()
	}
	return &SweepCronJob{store: store, retention: retention, logger: logger, spec: "@every 24h"}
}

func (j *SweepCronJob) WithSchedule(spec string) *SweepCronJob {
	if spec != "" {
		j.spec = spec
	}
	return j
}

// Start registers the job and begins the cron scheduler goroutine.
func (j *SweepCronJob) Start(ctx context.Context) error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc(j.spec, func() { j.RunOnce(ctx) })
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (j *SweepCronJob) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// RunOnce sweeps terminal jobs older than the retention window, used both
// by the cron tick and by on-demand invocation.
func (j *SweepCronJob) RunOnce(ctx context.Context) {
	cutoff := time.Now().Add(-j.retention)
	n, err := j.store.SweepTerminal(ctx, cutoff)
	if err != nil {
		j.logger.Error("jobs sweep cron: sweep failed", "error", err)
		return
	}
	j.logger.Info("jobs sweep cron: swept terminal jobs", "deleted", n, "cutoff", cutoff)
}

package audit

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/dunamis-labs/agenda-core/internal/tenant"
	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

type tenantLocator interface {
	ListIDs(ctx context.Context) ([]string, error)
	Get(ctx context.Context, tenantID string) (*tenant.Config, error)
}

// CronJob wires the Reconciler to a wall-clock schedule, firing once per
// enabled tenant on every tick. The default schedule is "0 2 * * *". The
// scheduler is built without a location, so the schedule is evaluated in
// the process's local timezone; it is not adjusted to each tenant's
// configured timezone.
type CronJob struct {
	reconciler *Reconciler
	tenants    tenantLocator
	logger     *logging.Logger
	cron       *cron.Cron
	spec       string
}

// NewCronJob builds an audit reconciliation cron runner.
func NewCronJob(reconciler *Reconciler, tenants tenantLocator, logger *logging.Logger) *CronJob {
	if logger == nil {
		logger = logging.Default()
	}
	return &CronJob{reconciler: reconciler, tenants: tenants, logger: logger, spec: "0 2 * * *"}
}

func (j *CronJob) WithSchedule(spec string) *CronJob {
	if spec != "" {
		j.spec = spec
	}
	return j
}

// Start registers the job and begins the cron scheduler goroutine.
func (j *CronJob) Start(ctx context.Context) error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc(j.spec, func() { j.RunAll(ctx) })
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (j *CronJob) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// RunAll reconciles every tenant with audit enabled.
func (j *CronJob) RunAll(ctx context.Context) {
	ids, err := j.tenants.ListIDs(ctx)
	if err != nil {
		j.logger.Error("audit cron: list tenants failed", "error", err)
		return
	}
	for _, id := range ids {
		cfg, err := j.tenants.Get(ctx, id)
		if err != nil {
			j.logger.Error("audit cron: resolve tenant config failed", "error", err, "tenant_id", id)
			continue
		}
		if !cfg.AuditEnabled {
			continue
		}
		report, err := j.reconciler.Run(ctx, id, cfg.Location(), cfg.AuditDaysToAudit)
		if err != nil {
			j.logger.Error("audit cron: run failed", "error", err, "tenant_id", id)
			continue
		}
		j.logger.Info("audit cron: run complete", "tenant_id", id, "divergences", report.TotalDivergences())
	}
}

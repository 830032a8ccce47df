package noshow

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

// CronJob wires QuestionProducer to a wall-clock schedule, firing once per
// tenant on every tick. The default schedule is "0 18 * * *". The scheduler
// is built without a location, so the schedule is evaluated in the
// process's local timezone; it is not adjusted to each tenant's configured
// timezone (the tenant's timezone only decides which day counts as D+1).
type CronJob struct {
	question *QuestionProducer
	tenants  tenantLocator
	logger   *logging.Logger
	cron     *cron.Cron
	spec     string
}

// NewCronJob builds a no-show question-phase cron runner.
func NewCronJob(question *QuestionProducer, tenants tenantLocator, logger *logging.Logger) *CronJob {
	if logger == nil {
		logger = logging.Default()
	}
	return &CronJob{question: question, tenants: tenants, logger: logger, spec: "0 18 * * *"}
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

// RunAll invokes the question producer once per known tenant.
func (j *CronJob) RunAll(ctx context.Context) {
	ids, err := j.tenants.ListIDs(ctx)
	if err != nil {
		j.logger.Error("noshow cron: list tenants failed", "error", err)
		return
	}
	for _, id := range ids {
		cfg, err := j.tenants.Get(ctx, id)
		if err != nil {
			j.logger.Error("noshow cron: resolve tenant config failed", "error", err, "tenant_id", id)
			continue
		}
		n, err := j.question.Run(ctx, id, cfg.Location())
		if err != nil {
			j.logger.Error("noshow cron: run failed", "error", err, "tenant_id", id)
			continue
		}
		j.logger.Info("noshow cron: run complete", "tenant_id", id, "asked", n)
	}
}

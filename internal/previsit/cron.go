package previsit

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

type tenantLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// CronJob wires the Producer to a wall-clock schedule, firing once per
// tenant on every tick. The default schedule is "0 18 * * *". The scheduler
// is built without a location, so the schedule is evaluated in the
// process's local timezone for every tenant; neither the tenant's
// configured timezone nor its PreVisitHour changes when the job fires.
type CronJob struct {
	producer *Producer
	tenants  tenantLister
	logger   *logging.Logger
	cron     *cron.Cron
	spec     string
}

// NewCronJob builds a pre-visit cron runner.
func NewCronJob(producer *Producer, tenants tenantLister, logger *logging.Logger) *CronJob {
	if logger == nil {
		logger = logging.Default()
	}
	return &CronJob{
		producer: producer,
		tenants:  tenants,
		logger:   logger,
		spec:     "0 18 * * *",
	}
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

// RunAll invokes the producer once for every known tenant, used both by the
// cron tick and by on-demand invocation.
func (j *CronJob) RunAll(ctx context.Context) {
	ids, err := j.tenants.ListIDs(ctx)
	if err != nil {
		j.logger.Error("previsit cron: list tenants failed", "error", err)
		return
	}
	for _, id := range ids {
		n, err := j.producer.Run(ctx, id)
		if err != nil {
			j.logger.Error("previsit cron: run failed", "error", err, "tenant_id", id)
			continue
		}
		j.logger.Info("previsit cron: run complete", "tenant_id", id, "enqueued", n)
	}
}

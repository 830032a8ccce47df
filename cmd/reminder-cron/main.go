package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/dunamis-labs/agenda-core/cmd/mainconfig"
	"github.com/dunamis-labs/agenda-core/internal/archive"
	"github.com/dunamis-labs/agenda-core/internal/audit"
	"github.com/dunamis-labs/agenda-core/internal/calendar"
	"github.com/dunamis-labs/agenda-core/internal/catalog"
	"github.com/dunamis-labs/agenda-core/internal/chatgateway"
	appconfig "github.com/dunamis-labs/agenda-core/internal/config"
	"github.com/dunamis-labs/agenda-core/internal/dedup"
	"github.com/dunamis-labs/agenda-core/internal/jobs"
	"github.com/dunamis-labs/agenda-core/internal/noshow"
	"github.com/dunamis-labs/agenda-core/internal/notify"
	"github.com/dunamis-labs/agenda-core/internal/optout"
	"github.com/dunamis-labs/agenda-core/internal/previsit"
	"github.com/dunamis-labs/agenda-core/internal/tenant"
	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

// reminder-cron wires the three daily producers that run once per tenant:
// the Pre-Visit Producer (C6), the No-Show Shield's question phase (C7),
// and the Audit Reconciler (C8).
func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("reminder cron requires DATABASE_URL")
		os.Exit(1)
	}
	if cfg.ChatGatewayBaseURL == "" || cfg.ChatGatewayAPIKey == "" {
		logger.Error("reminder cron requires CHAT_GATEWAY_BASE_URL and CHAT_GATEWAY_API_KEY")
		os.Exit(1)
	}
	if cfg.CalendarBaseURL == "" || cfg.CalendarAPIKey == "" {
		logger.Error("reminder cron requires CALENDAR_BASE_URL and CALENDAR_API_KEY")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOptions := &redis.Options{Addr: cfg.RedisAddr}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(redisOptions)
	defer rdb.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	calClient, err := calendar.New(calendar.Config{
		BaseURL: cfg.CalendarBaseURL,
		APIKey:  cfg.CalendarAPIKey,
		Timeout: 10 * time.Second,
		Logger:  logger.Logger,
	})
	if err != nil {
		logger.Error("failed to create calendar client", "error", err)
		os.Exit(1)
	}

	gateway, err := chatgateway.New(chatgateway.Config{
		BaseURL: cfg.ChatGatewayBaseURL,
		APIKey:  cfg.ChatGatewayAPIKey,
		Timeout: 10 * time.Second,
		Logger:  logger.Logger,
	})
	if err != nil {
		logger.Error("failed to create chat gateway client", "error", err)
		os.Exit(1)
	}

	jobStore := jobs.NewStore(pool)
	dedupLog := dedup.NewLog(pool)
	optoutRegistry := optout.NewRegistry(pool)
	tenants := tenant.NewStore(pool)
	catalogStore := catalog.NewStore(pool)

	previsitProducer := previsit.NewProducer(calClient, dedupLog, optoutRegistry, jobStore, logger)
	previsitCron := previsit.NewCronJob(previsitProducer, tenants, logger)

	pendingStore := noshow.NewPendingReplyStore(rdb, cfg.PendingReplyTTL)
	questionProducer := noshow.NewQuestionProducer(calClient, dedupLog, optoutRegistry, gateway, pendingStore, logger)
	noshowCron := noshow.NewCronJob(questionProducer, tenants, logger)

	var archiveStore *archive.Store
	if cfg.S3AuditBucket != "" {
		archiveStore = archive.NewStore(s3.NewFromConfig(awsCfg), cfg.S3AuditBucket, logger.Logger)
	}

	var emailSender notify.EmailSender
	if cfg.SESFromEmail != "" {
		emailSender = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
	} else {
		emailSender = notify.NewStubEmailSender(logger)
	}
	emailNotifier := audit.NewEmailNotifier(emailSender, func(string) []string { return cfg.OperatorEmails() }, logger)

	reconciler := audit.NewReconciler(calClient, dedupLog, dedupLog, archiveStore, emailNotifier, logger).
		WithCatalog(catalogStore)
	auditCron := audit.NewCronJob(reconciler, tenants, logger)

	retention := time.Duration(cfg.RetentionSweepDays) * 24 * time.Hour
	sweepCron := jobs.NewSweepCronJob(jobStore, retention, logger).
		WithSchedule(fmt.Sprintf("@every %s", cfg.RetentionSweepEvery))

	if err := previsitCron.Start(ctx); err != nil {
		logger.Error("failed to start pre-visit cron", "error", err)
		os.Exit(1)
	}
	if err := noshowCron.Start(ctx); err != nil {
		logger.Error("failed to start no-show cron", "error", err)
		os.Exit(1)
	}
	if err := auditCron.Start(ctx); err != nil {
		logger.Error("failed to start audit cron", "error", err)
		os.Exit(1)
	}
	if err := sweepCron.Start(ctx); err != nil {
		logger.Error("failed to start retention sweep cron", "error", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("reminder cron shutting down")
	previsitCron.Stop()
	noshowCron.Stop()
	auditCron.Stop()
	sweepCron.Stop()
	cancel()
	time.Sleep(2 * time.Second)
}

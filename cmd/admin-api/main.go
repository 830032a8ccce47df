package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dunamis-labs/agenda-core/cmd/mainconfig"
	"github.com/dunamis-labs/agenda-core/internal/adminapi"
	"github.com/dunamis-labs/agenda-core/internal/archive"
	"github.com/dunamis-labs/agenda-core/internal/audit"
	"github.com/dunamis-labs/agenda-core/internal/calendar"
	"github.com/dunamis-labs/agenda-core/internal/catalog"
	appconfig "github.com/dunamis-labs/agenda-core/internal/config"
	"github.com/dunamis-labs/agenda-core/internal/dedup"
	"github.com/dunamis-labs/agenda-core/internal/handoff"
	httpmiddleware "github.com/dunamis-labs/agenda-core/internal/http/middleware"
	"github.com/dunamis-labs/agenda-core/internal/notify"
	"github.com/dunamis-labs/agenda-core/internal/optout"
	"github.com/dunamis-labs/agenda-core/internal/tenant"
	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

// admin-api serves the token-authenticated operator surface: pause/resume
// handoff for a phone or a whole tenant, list active handoffs, inspect or
// remove an opt-out, and rerun the audit reconciler for a date.
func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("admin api requires DATABASE_URL")
		os.Exit(1)
	}
	if cfg.AdminJWTSecret == "" {
		logger.Error("admin api requires ADMIN_JWT_SECRET")
		os.Exit(1)
	}
	if cfg.CalendarBaseURL == "" || cfg.CalendarAPIKey == "" {
		logger.Error("admin api requires CALENDAR_BASE_URL and CALENDAR_API_KEY")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

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

	dedupLog := dedup.NewLog(pool)
	tenants := tenant.NewStore(pool)
	catalogStore := catalog.NewStore(pool)
	optoutRegistry := optout.NewRegistry(pool)
	handoffStore := handoff.NewStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoHandoffTable)

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

	handler := adminapi.NewHandler(handoffStore, optoutRegistry, reconciler, tenants, logger)

	router := chi.NewRouter()
	router.Use(httpmiddleware.RequestLogger(logger))
	router.Use(httpmiddleware.CORS(cfg.AdminAllowedOrigins()))
	router.Use(httpmiddleware.RateLimit(cfg.AdminRateLimitPerSec, cfg.AdminRateLimitBurst))
	router.Route("/admin/tenants/{tenantID}", func(r chi.Router) {
		r.Use(httpmiddleware.AdminJWT(cfg.AdminJWTSecret))
		handler.RegisterRoutes(r)
	})

	srv := &http.Server{Addr: ":8090", Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin api server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("admin api shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
}

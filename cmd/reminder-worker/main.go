package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto/tls"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/dunamis-labs/agenda-core/cmd/mainconfig"
	"github.com/dunamis-labs/agenda-core/internal/calendar"
	"github.com/dunamis-labs/agenda-core/internal/chatgateway"
	appconfig "github.com/dunamis-labs/agenda-core/internal/config"
	"github.com/dunamis-labs/agenda-core/internal/dedup"
	"github.com/dunamis-labs/agenda-core/internal/delivery"
	"github.com/dunamis-labs/agenda-core/internal/handoff"
	"github.com/dunamis-labs/agenda-core/internal/inbound"
	"github.com/dunamis-labs/agenda-core/internal/jobs"
	"github.com/dunamis-labs/agenda-core/internal/metrics"
	"github.com/dunamis-labs/agenda-core/internal/noshow"
	"github.com/dunamis-labs/agenda-core/internal/optout"
	"github.com/dunamis-labs/agenda-core/internal/queue"
	"github.com/dunamis-labs/agenda-core/internal/tenant"
	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

// reminder-worker runs the Delivery Worker (C5) alongside the inbound queue
// consumer (C9): the delivery pool claims MessageJob rows and carries each
// through the opt-out/handoff/dedup gates, rendering, transmission, and
// commit, while the consumer drains the SQS queue cmd/webhook-lambda feeds
// and runs the same instance-resolve-then-dispatch pipeline the webhook
// would have run synchronously.
func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("reminder worker requires DATABASE_URL")
		os.Exit(1)
	}
	if cfg.ChatGatewayBaseURL == "" || cfg.ChatGatewayAPIKey == "" {
		logger.Error("reminder worker requires CHAT_GATEWAY_BASE_URL and CHAT_GATEWAY_API_KEY")
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
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

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
	handoffStore := handoff.NewStore(dynamoClient, cfg.DynamoHandoffTable)
	tenants := tenant.NewStore(pool)
	m := metrics.New(prometheus.DefaultRegisterer)

	worker := delivery.NewWorker(jobStore, dedupLog, optoutRegistry, handoffStore, gateway, tenants, m, logger)
	go worker.Run(ctx)

	if cfg.SQSInboundQueueURL != "" && cfg.CalendarBaseURL != "" && cfg.CalendarAPIKey != "" {
		calClient, err := calendar.New(calendar.Config{
			BaseURL: cfg.CalendarBaseURL,
			APIKey:  cfg.CalendarAPIKey,
			Timeout: 10 * time.Second,
			Logger:  logger.Logger,
		})
		if err != nil {
			logger.Error("failed to create calendar client, inbound queue consumer disabled", "error", err)
		} else {
			pendingStore := noshow.NewPendingReplyStore(rdb, cfg.PendingReplyTTL)
			offerStore := noshow.NewSlotOfferStore(rdb, noshow.DefaultSlotOfferTTL)
			replyHandler := noshow.NewReplyHandler(pendingStore, offerStore, dedupLog, calClient, logger)
			optoutDetector := optout.NewDetector()

			// The dialogue collaborator is out of scope: an external system
			// this core hands off to, not one it implements. Nil means a
			// message that is neither an opt-out keyword nor a pending
			// no-show answer is acknowledged with no reply.
			dispatcher := inbound.NewDispatcher(optoutDetector, optoutRegistry, replyHandler, nil, gateway, logger)
			sqsQueue := queue.New(sqs.NewFromConfig(awsCfg), cfg.SQSInboundQueueURL)
			consumer := inbound.NewConsumer(sqsQueue, tenants, dispatcher, logger)
			go func() {
				if err := consumer.Run(ctx); err != nil {
					logger.Error("inbound queue consumer stopped", "error", err)
				}
			}()
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("reminder worker shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}

package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/dunamis-labs/agenda-core/cmd/mainconfig"
	appconfig "github.com/dunamis-labs/agenda-core/internal/config"
	"github.com/dunamis-labs/agenda-core/internal/inbound"
	"github.com/dunamis-labs/agenda-core/internal/queue"
	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

// webhook-lambda deploys the inbound chat gateway webhook (C9) as an API
// Gateway-fronted Lambda handler. It only decodes and enqueues: instance
// resolution, opt-out detection, and dispatch run out-of-band in
// cmd/reminder-worker's queue consumer, so the webhook itself acks the
// gateway as fast as a single SQS SendMessage.
func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	if cfg.SQSInboundQueueURL == "" {
		logger.Error("webhook lambda requires SQS_INBOUND_QUEUE_URL")
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	sqsQueue := queue.New(sqs.NewFromConfig(awsCfg), cfg.SQSInboundQueueURL)
	producer := inbound.NewQueueProducer(sqsQueue, logger)

	lambda.Start(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return handle(ctx, producer, evt)
	})
}

func handle(ctx context.Context, producer *inbound.QueueProducer, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	body, err := decodeBody(evt)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid body"}, nil
	}
	if err := producer.Enqueue(ctx, body); err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusInternalServerError}, nil
	}
	return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	return base64.StdEncoding.DecodeString(evt.Body)
}

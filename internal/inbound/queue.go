package inbound

import (
	"context"
	"errors"

	"github.com/dunamis-labs/agenda-core/internal/queue"
	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

// queueSender is the narrow producer-side port onto the SQS queue.
type queueSender interface {
	Send(ctx context.Context, body string) error
}

// QueueProducer enqueues a raw webhook body instead of dispatching it
// inline, so the Lambda entry point can return as soon as the gateway's
// message is durably queued.
type QueueProducer struct {
	queue  queueSender
	logger *logging.Logger
}

// NewQueueProducer builds a webhook-to-queue producer.
func NewQueueProducer(q queueSender, logger *logging.Logger) *QueueProducer {
	if logger == nil {
		logger = logging.Default()
	}
	return &QueueProducer{queue: q, logger: logger}
}

// Enqueue submits the raw webhook body for asynchronous processing.
func (p *QueueProducer) Enqueue(ctx context.Context, body []byte) error {
	return p.queue.Send(ctx, string(body))
}

// queueReceiver is the narrow consumer-side port onto the SQS queue.
type queueReceiver interface {
	Receive(ctx context.Context, maxMessages, waitSeconds int) ([]queue.Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Consumer drains queued webhook bodies, normalizing and dispatching each
// one through the same pipeline the synchronous Handler uses.
type Consumer struct {
	queue      queueReceiver
	resolver   instanceResolver
	dispatcher *Dispatcher
	logger     *logging.Logger

	maxMessages int
	waitSeconds int
}

// NewConsumer builds a queue-driven inbound message consumer.
func NewConsumer(q queueReceiver, resolver instanceResolver, dispatcher *Dispatcher, logger *logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{
		queue:       q,
		resolver:    resolver,
		dispatcher:  dispatcher,
		logger:      logger,
		maxMessages: 10,
		waitSeconds: 20,
	}
}

// Run polls the queue until ctx is canceled, processing each batch
// sequentially so a slow dialogue collaborator call doesn't starve the
// consumer's visibility budget.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		messages, err := c.queue.Receive(ctx, c.maxMessages, c.waitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("inbound: queue receive failed", "error", err)
			continue
		}
		for _, m := range messages {
			c.process(ctx, m)
		}
	}
}

func (c *Consumer) process(ctx context.Context, m queue.Message) {
	msg, err := ParseEnvelope([]byte(m.Body))
	if err != nil {
		if !errors.Is(err, ErrIgnored) {
			c.logger.Warn("inbound: malformed queued envelope", "error", err)
		}
		c.ack(ctx, m)
		return
	}

	tenantID, err := c.resolver.ResolveTenantID(ctx, msg.Instance)
	if err != nil {
		c.logger.Error("inbound: resolve tenant for instance failed", "error", err, "instance", msg.Instance)
		c.ack(ctx, m)
		return
	}

	if err := c.dispatcher.Handle(ctx, tenantID, msg); err != nil {
		c.logger.Error("inbound: dispatch failed", "error", err, "tenant_id", tenantID)
	}
	c.ack(ctx, m)
}

func (c *Consumer) ack(ctx context.Context, m queue.Message) {
	if err := c.queue.Delete(ctx, m.ReceiptHandle); err != nil {
		c.logger.Error("inbound: queue delete failed", "error", err, "message_id", m.ID)
	}
}

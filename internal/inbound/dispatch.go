package inbound

import (
	"context"
	"errors"
	"time"

	"github.com/dunamis-labs/agenda-core/internal/chatgateway"
	"github.com/dunamis-labs/agenda-core/internal/noshow"
	"github.com/dunamis-labs/agenda-core/internal/optout"
	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

// optOutDetector classifies inbound text as an opt-out/opt-in keyword (C9).
type optOutDetector interface {
	IsOptOut(body string) bool
	IsOptIn(body string) bool
}

// optOutRegistry records the opt-out/opt-in decision.
type optOutRegistry interface {
	OptOut(ctx context.Context, tenantID, phone string, scope optout.Scope, source string) error
	OptIn(ctx context.Context, tenantID, phone string) error
}

// noShowReplyHandler resolves phase 2 of the no-show shield (C7). Returns
// noshow.ErrNoPendingReply when there is no open question to answer.
type noShowReplyHandler interface {
	Handle(ctx context.Context, tenantID, phone, body string) (string, error)
}

// dialogueCollaborator is the external conversational component the core
// hands off to once an inbound message is neither an opt-out keyword nor a
// pending no-show answer. Its reply is transmitted but never deduplicated.
type dialogueCollaborator interface {
	Reply(ctx context.Context, tenantID, phone, text, pushName string) (string, error)
}

// sender is the outbound chat gateway contract.
type sender interface {
	SendText(ctx context.Context, number, text string, delay time.Duration) (*chatgateway.SendTextResponse, error)
}

// Dispatcher is the inbound message pipeline: opt-out short-circuit, then
// no-show reply resolution, then dialogue collaborator handoff.
type Dispatcher struct {
	detector  optOutDetector
	registry  optOutRegistry
	noshow    noShowReplyHandler
	dialogue  dialogueCollaborator
	sender    sender
	logger    *logging.Logger
}

// NewDispatcher builds the inbound message dispatcher.
func NewDispatcher(detector optOutDetector, registry optOutRegistry, noshowHandler noShowReplyHandler, dialogue dialogueCollaborator, sd sender, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{detector: detector, registry: registry, noshow: noshowHandler, dialogue: dialogue, sender: sd, logger: logger}
}

// Handle resolves one normalized inbound message, replying directly through
// the outbound gateway where the pipeline stage produces a reply.
func (d *Dispatcher) Handle(ctx context.Context, tenantID string, msg Normalized) error {
	switch {
	case d.detector.IsOptOut(msg.Text):
		if err := d.registry.OptOut(ctx, tenantID, msg.Phone, optout.ScopeAll, "inbound_keyword"); err != nil {
			d.logger.Error("inbound: opt-out record failed", "error", err, "tenant_id", tenantID)
			return err
		}
		return d.reply(ctx, msg.Phone, "Você não receberá mais lembretes automáticos. Para voltar a receber, responda VOLTAR.")
	case d.detector.IsOptIn(msg.Text):
		if err := d.registry.OptIn(ctx, tenantID, msg.Phone); err != nil {
			d.logger.Error("inbound: opt-in record failed", "error", err, "tenant_id", tenantID)
			return err
		}
		return d.reply(ctx, msg.Phone, "Pronto, você voltará a receber lembretes automáticos.")
	}

	text, err := d.noshow.Handle(ctx, tenantID, msg.Phone, msg.Text)
	if err == nil {
		return d.reply(ctx, msg.Phone, text)
	}
	if !errors.Is(err, noshow.ErrNoPendingReply) {
		d.logger.Error("inbound: no-show reply handler failed", "error", err, "tenant_id", tenantID)
		return err
	}

	if d.dialogue == nil {
		return nil
	}
	reply, err := d.dialogue.Reply(ctx, tenantID, msg.Phone, msg.Text, msg.PushName)
	if err != nil {
		d.logger.Error("inbound: dialogue collaborator failed", "error", err, "tenant_id", tenantID)
		return err
	}
	if reply == "" {
		return nil
	}
	return d.reply(ctx, msg.Phone, reply)
}

func (d *Dispatcher) reply(ctx context.Context, phone, text string) error {
	_, err := d.sender.SendText(ctx, phone, text, 0)
	return err
}

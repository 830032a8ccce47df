package inbound

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

var tracer = otel.Tracer("inbound")

// instanceResolver maps a webhook's instance identifier to the tenant it
// belongs to.
type instanceResolver interface {
	ResolveTenantID(ctx context.Context, instance string) (string, error)
}

// Handler serves the chat gateway's inbound webhook.
type Handler struct {
	resolver   instanceResolver
	dispatcher *Dispatcher
	logger     *logging.Logger
}

// NewHandler builds the inbound webhook HTTP handler.
func NewHandler(resolver instanceResolver, dispatcher *Dispatcher, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{resolver: resolver, dispatcher: dispatcher, logger: logger}
}

// Webhook handles POST requests carrying the chat gateway's inbound
// message envelope. A malformed envelope or an instance that resolves to no
// tenant gets 400; once the tenant is resolved it returns 200, since the
// gateway does not retry on application-level failures — dispatch errors
// are logged, not surfaced to the caller.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "inbound.webhook")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		span.RecordError(err)
		return
	}

	msg, err := ParseEnvelope(body)
	if err != nil {
		if errors.Is(err, ErrIgnored) {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Warn("inbound: malformed webhook envelope", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		span.RecordError(err)
		return
	}

	tenantID, err := h.resolver.ResolveTenantID(ctx, msg.Instance)
	if err != nil {
		h.logger.Error("inbound: resolve tenant for instance failed", "error", err, "instance", msg.Instance)
		http.Error(w, "Unknown instance", http.StatusBadRequest)
		span.RecordError(err)
		return
	}
	span.SetAttributes(attribute.String("agenda.tenant_id", tenantID), attribute.String("agenda.instance", msg.Instance))

	if err := h.dispatcher.Handle(ctx, tenantID, msg); err != nil {
		h.logger.Error("inbound: dispatch failed", "error", err, "tenant_id", tenantID)
		span.RecordError(err)
	}

	w.WriteHeader(http.StatusOK)
}

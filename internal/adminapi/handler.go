// Package adminapi exposes the token-authenticated admin surface named in
// the external interfaces contract: operator control over handoff state,
// opt-out inspection, and on-demand audit reruns. Kept deliberately thin —
// the contract only requires interface stability, the heavy lifting lives
// in internal/handoff, internal/optout, and internal/audit.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dunamis-labs/agenda-core/internal/audit"
	"github.com/dunamis-labs/agenda-core/internal/handoff"
	"github.com/dunamis-labs/agenda-core/internal/optout"
	"github.com/dunamis-labs/agenda-core/internal/tenant"
	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

type handoffStore interface {
	Pause(ctx context.Context, tenantID, phone, reason string, ttl time.Duration) error
	PauseGlobal(ctx context.Context, tenantID, reason string, ttl time.Duration) error
	Resume(ctx context.Context, tenantID, phone string) error
	ResumeGlobal(ctx context.Context, tenantID string) error
	ListActive(ctx context.Context, tenantID string) ([]handoff.Record, error)
}

type optOutRegistry interface {
	List(ctx context.Context, tenantID, phone string) ([]optout.Record, error)
	OptIn(ctx context.Context, tenantID, phone string) error
}

type auditReconciler interface {
	RunForDate(ctx context.Context, tenantID string, loc *time.Location, date time.Time, force bool) (audit.DayReport, error)
}

type tenantLocator interface {
	Get(ctx context.Context, tenantID string) (*tenant.Config, error)
}

// Handler serves the admin HTTP surface.
type Handler struct {
	handoff handoffStore
	optout  optOutRegistry
	audit   auditReconciler
	tenants tenantLocator
	logger  *logging.Logger
}

// NewHandler builds the admin HTTP handler.
func NewHandler(handoffStore handoffStore, optoutRegistry optOutRegistry, reconciler auditReconciler, tenants tenantLocator, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{handoff: handoffStore, optout: optoutRegistry, audit: reconciler, tenants: tenants, logger: logger}
}

// RegisterRoutes mounts the admin endpoints under a chi router. Expected to
// be mounted behind middleware.AdminJWT, under /admin/tenants/{tenantID}.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/handoff/global", h.pauseGlobalHandoff)
	r.Delete("/handoff/global", h.resumeGlobalHandoff)
	r.Get("/handoff", h.listActiveHandoffs)
	r.Post("/handoff/{phone}", h.pauseHandoff)
	r.Delete("/handoff/{phone}", h.resumeHandoff)

	r.Get("/optout/{phone}", h.inspectOptOut)
	r.Delete("/optout/{phone}", h.removeOptOut)

	r.Post("/audit/rerun", h.rerunAudit)
}

type pauseRequest struct {
	Reason     string `json:"reason"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func (h *Handler) pauseHandoff(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	phone := chi.URLParam(r, "phone")
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.handoff.Pause(r.Context(), tenantID, phone, req.Reason, time.Duration(req.TTLSeconds)*time.Second); err != nil {
		h.logger.Error("adminapi: pause handoff failed", "error", err, "tenant_id", tenantID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resumeHandoff(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	phone := chi.URLParam(r, "phone")
	if err := h.handoff.Resume(r.Context(), tenantID, phone); err != nil {
		h.logger.Error("adminapi: resume handoff failed", "error", err, "tenant_id", tenantID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pauseGlobalHandoff(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.handoff.PauseGlobal(r.Context(), tenantID, req.Reason, time.Duration(req.TTLSeconds)*time.Second); err != nil {
		h.logger.Error("adminapi: pause global handoff failed", "error", err, "tenant_id", tenantID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resumeGlobalHandoff(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if err := h.handoff.ResumeGlobal(r.Context(), tenantID); err != nil {
		h.logger.Error("adminapi: resume global handoff failed", "error", err, "tenant_id", tenantID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listActiveHandoffs(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	records, err := h.handoff.ListActive(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("adminapi: list active handoffs failed", "error", err, "tenant_id", tenantID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"handoffs": records, "count": len(records)})
}

func (h *Handler) inspectOptOut(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	phone := chi.URLParam(r, "phone")
	records, err := h.optout.List(r.Context(), tenantID, phone)
	if err != nil {
		if err == optout.ErrNotFound {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.logger.Error("adminapi: inspect opt-out failed", "error", err, "tenant_id", tenantID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"records": records, "count": len(records)})
}

func (h *Handler) removeOptOut(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	phone := chi.URLParam(r, "phone")
	if err := h.optout.OptIn(r.Context(), tenantID, phone); err != nil {
		h.logger.Error("adminapi: remove opt-out failed", "error", err, "tenant_id", tenantID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rerunAudit(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	dateParam := r.URL.Query().Get("date")
	date, err := time.Parse(time.DateOnly, dateParam)
	if err != nil {
		http.Error(w, "invalid or missing date query param (expected YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	force := r.URL.Query().Get("force") == "true"

	cfg, err := h.tenants.Get(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("adminapi: resolve tenant config failed", "error", err, "tenant_id", tenantID)
		http.Error(w, "unknown tenant", http.StatusBadRequest)
		return
	}

	day, err := h.audit.RunForDate(r.Context(), tenantID, cfg.Location(), date, force)
	if err != nil {
		h.logger.Error("adminapi: rerun audit failed", "error", err, "tenant_id", tenantID, "date", dateParam)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, day)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stellarwatch/kestrel/internal/domain"
	"github.com/stellarwatch/kestrel/internal/engine"
	"github.com/stellarwatch/kestrel/internal/ingest"
	"github.com/stellarwatch/kestrel/internal/repository"
)

// Store is the persistence surface the API reads and updates.
type Store interface {
	GetAccount(ctx context.Context, address string) (*domain.Account, error)
	ListAlerts(ctx context.Context, alertType string, limit int) ([]*domain.Alert, error)
	AcknowledgeAlert(ctx context.Context, id string) error
	ListFlags(ctx context.Context, account string, limit int) ([]*domain.Flag, error)
	ResolveFlag(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Deps bundles the handler's dependencies. Ingest is optional; the trigger
// endpoint returns 503 when ingestion is not configured.
type Deps struct {
	Store   Store
	Cache   domain.Cache
	Bus     domain.EventBus
	Engine  *engine.Engine
	Ingest  *ingest.Service
	Version string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	store   Store
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	ingest  *ingest.Service
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		store:   deps.Store,
		cache:   deps.Cache,
		bus:     deps.Bus,
		engine:  deps.Engine,
		ingest:  deps.Ingest,
		version: deps.Version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// RunEngine triggers a synchronous engine pass. The dry_run query parameter
// overrides the configured mode for this pass only.
func (h *Handler) RunEngine(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "engine not available",
		})
		return
	}

	dryRun := h.engine.DryRunConfigured()
	if raw := r.URL.Query().Get("dry_run"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "dry_run must be a boolean",
			})
			return
		}
		dryRun = parsed
	}

	summary := h.engine.RunMode(r.Context(), dryRun)
	writeJSON(w, http.StatusOK, summary)
}

// RunIngest triggers a synchronous ingestion cycle.
func (h *Handler) RunIngest(w http.ResponseWriter, r *http.Request) {
	if h.ingest == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "ingestion not configured",
		})
		return
	}

	summary, err := h.ingest.Cycle(r.Context())
	if err != nil {
		slog.Error("manual ingestion cycle failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "ingestion cycle failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// ListAlerts returns recent alerts, newest first. Supports type and limit
// query parameters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alertType := r.URL.Query().Get("type")
	limit := parseLimit(r.URL.Query().Get("limit"))

	alerts, err := h.store.ListAlerts(r.Context(), alertType, limit)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// AcknowledgeAlert marks an alert acknowledged.
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alert id is required",
		})
		return
	}

	if err := h.store.AcknowledgeAlert(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
			return
		}
		slog.Error("failed to acknowledge alert", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to acknowledge alert",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": "acknowledged",
	})
}

// ListFlags returns recent flags, newest first. Supports account and limit
// query parameters.
func (h *Handler) ListFlags(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	limit := parseLimit(r.URL.Query().Get("limit"))

	flags, err := h.store.ListFlags(r.Context(), account, limit)
	if err != nil {
		slog.Error("failed to list flags", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list flags",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"flags": flags,
		"count": len(flags),
	})
}

// ResolveFlag marks a flag resolved.
func (h *Handler) ResolveFlag(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "flag id is required",
		})
		return
	}

	if err := h.store.ResolveFlag(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "flag not found",
			})
			return
		}
		slog.Error("failed to resolve flag", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to resolve flag",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": "resolved",
	})
}

// GetAccount retrieves an account with its current risk score.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "account address is required",
		})
		return
	}

	acct, err := h.store.GetAccount(r.Context(), address)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "account not found",
			})
			return
		}
		slog.Error("failed to get account", "address", address, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get account",
		})
		return
	}

	writeJSON(w, http.StatusOK, acct)
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

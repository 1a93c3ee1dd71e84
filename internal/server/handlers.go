package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/truthspine/internal/config"
	"github.com/aristath/truthspine/internal/di"
	"github.com/aristath/truthspine/internal/pattern"
	"github.com/aristath/truthspine/internal/runtime"
)

// Handlers holds the dependencies every route handler needs.
type Handlers struct {
	container *di.Container
	cfg       *config.Config
	log       zerolog.Logger
}

// NewHandlers builds the route handlers over the wired container.
func NewHandlers(container *di.Container, cfg *config.Config, log zerolog.Logger) *Handlers {
	return &Handlers{container: container, cfg: cfg, log: log.With().Str("component", "handlers").Logger()}
}

// handleFreshness reports whether a pricing pack is fresh enough to serve
// through the executor, without flipping it - pure status read.
func (h *Handlers) handleFreshness(w http.ResponseWriter, r *http.Request) {
	decision, err := h.container.Gate.Check(r.Context(), h.cfg.PricingPolicy, h.cfg.DevMode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type executeRequest struct {
	Pattern pattern.Pattern `json:"pattern"`
	Inputs  map[string]any  `json:"inputs"`
}

// handleExecutePattern is the only way into the capability-dispatch
// executor: it consults the freshness gate first and refuses to run
// against a stale or missing pricing pack.
func (h *Handlers) handleExecutePattern(w http.ResponseWriter, r *http.Request) {
	decision, err := h.container.Gate.Check(r.Context(), h.cfg.PricingPolicy, h.cfg.DevMode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !decision.Allowed {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":            "pricing pack not fresh",
			"rejection_reason": decision.RejectionReason,
			"estimated_ready":  decision.EstimatedReady,
		})
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if name := chi.URLParam(r, "name"); name != "" {
		req.Pattern.Name = name
	}

	rc := runtime.RequestContext{
		PricingPackID: decision.PricingPackID,
		LedgerCommit:  decision.LedgerCommit,
		DevMode:       h.cfg.DevMode,
	}

	result, err := h.container.PatternOrch.Execute(r.Context(), rc, req.Pattern, req.Inputs)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRunNightly triggers an out-of-band nightly run, for operators who
// need to force a run outside the cron schedule.
func (h *Handlers) handleRunNightly(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC().Truncate(24 * time.Hour)
	report := h.container.Pipeline.Run(r.Context(), asOf)
	status := http.StatusOK
	if !report.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

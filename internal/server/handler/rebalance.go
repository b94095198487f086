package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mvtreasury/vaultbot/internal/domain"
	"github.com/mvtreasury/vaultbot/internal/rebalance"
)

// RebalanceService defines what the rebalance handler needs.
type RebalanceService interface {
	Rebalance(ctx context.Context, req rebalance.Request) (domain.RebalanceRun, error)
}

// RebalanceHandler serves the rebalance trigger and run history endpoints.
type RebalanceHandler struct {
	service RebalanceService
	runs    domain.RunStore
	logger  *slog.Logger
}

// NewRebalanceHandler creates a RebalanceHandler. runs may be nil when run
// history persistence is disabled.
func NewRebalanceHandler(service RebalanceService, runs domain.RunStore, logger *slog.Logger) *RebalanceHandler {
	return &RebalanceHandler{
		service: service,
		runs:    runs,
		logger:  logger,
	}
}

// triggerRequest is the rebalance trigger body.
type triggerRequest struct {
	Wallet   string `json:"wallet"`
	RiskTier string `json:"risk_tier"`
	DryRun   bool   `json:"dry_run"`
}

// Trigger runs a rebalance for a wallet and returns the full run result.
// A partial run is still a 200: per-vault failures are data, not transport
// errors.
// POST /api/rebalance
func (h *RebalanceHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet is required")
		return
	}

	run, err := h.service.Rebalance(r.Context(), rebalance.Request{
		Wallet:   req.Wallet,
		RiskTier: domain.RiskTier(req.RiskTier),
		DryRun:   req.DryRun,
	})
	if err != nil {
		status := http.StatusInternalServerError
		msg := "rebalance failed"
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			status = http.StatusConflict
			msg = "a rebalance for this wallet is already running"
		case errors.Is(err, domain.ErrLedgerUnavailable):
			status = http.StatusServiceUnavailable
			msg = "ledger unavailable"
		}
		h.logger.ErrorContext(r.Context(), "handler: rebalance failed",
			slog.String("wallet", req.Wallet),
			slog.String("error", err.Error()),
		)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// listRunsResponse wraps the run history response.
type listRunsResponse struct {
	Runs []domain.RebalanceRun `json:"runs"`
}

// ListRuns returns a wallet's rebalance history, most recent first.
// GET /api/runs?wallet=...
func (h *RebalanceHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotImplemented, "run history is not enabled")
		return
	}

	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet query parameter required")
		return
	}

	runs, err := h.runs.ListRuns(r.Context(), wallet, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list runs failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []domain.RebalanceRun{}
	}
	writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs})
}

// GetRun returns one rebalance run by ID.
// GET /api/runs/{id}
func (h *RebalanceHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotImplemented, "run history is not enabled")
		return
	}

	id := pathParam(r, "id")
	run, err := h.runs.GetRun(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get run failed",
			slog.String("run_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

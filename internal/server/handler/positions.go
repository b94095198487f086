package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// PositionService defines what the position handler needs: a priced snapshot
// of a wallet's holdings across all vaults.
type PositionService interface {
	Snapshot(ctx context.Context, wallet string) ([]domain.ValuedPosition, float64, error)
}

// BalanceService reports the cash side of the treasury.
type BalanceService interface {
	Balances(ctx context.Context, wallet string) (domain.VaultBalances, error)
}

// PositionHandler serves position and balance endpoints.
type PositionHandler struct {
	positions PositionService
	balances  BalanceService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, balances BalanceService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		balances:  balances,
		logger:    logger,
	}
}

// listPositionsResponse wraps the positions response.
type listPositionsResponse struct {
	Positions  []domain.ValuedPosition `json:"positions"`
	TotalValue float64                 `json:"total_value"`
}

// ListPositions returns the wallet's current valued positions.
// GET /api/positions?wallet=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet query parameter required")
		return
	}

	positions, total, err := h.positions.Snapshot(r.Context(), wallet)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "failed to list positions"
		if errors.Is(err, domain.ErrLedgerUnavailable) {
			status = http.StatusServiceUnavailable
			msg = "ledger unavailable"
		}
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		writeError(w, status, msg)
		return
	}

	if positions == nil {
		positions = []domain.ValuedPosition{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{
		Positions:  positions,
		TotalValue: total,
	})
}

// balancesResponse wraps the balances response.
type balancesResponse struct {
	Vaults     map[domain.VaultID]float64 `json:"vaults"`
	WalletCash float64                    `json:"wallet_cash"`
	Total      float64                    `json:"total"`
}

// GetBalances returns the wallet's cash per vault sub-account.
// GET /api/balances?wallet=...
func (h *PositionHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet query parameter required")
		return
	}

	balances, err := h.balances.Balances(r.Context(), wallet)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get balances failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get balances")
		return
	}

	writeJSON(w, http.StatusOK, balancesResponse{
		Vaults:     balances.Vaults,
		WalletCash: balances.WalletCash,
		Total:      balances.Total(),
	})
}

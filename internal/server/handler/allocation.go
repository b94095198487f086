package handler

import (
	"log/slog"
	"net/http"

	"github.com/mvtreasury/vaultbot/internal/allocation"
	"github.com/mvtreasury/vaultbot/internal/domain"
)

// AllocationHandler previews the target allocation for a risk tier without
// running a rebalance.
type AllocationHandler struct {
	advisor domain.Advisor
	logger  *slog.Logger
}

// NewAllocationHandler creates an AllocationHandler.
func NewAllocationHandler(advisor domain.Advisor, logger *slog.Logger) *AllocationHandler {
	return &AllocationHandler{
		advisor: advisor,
		logger:  logger,
	}
}

// allocationResponse wraps the allocation preview response.
type allocationResponse struct {
	Allocation domain.Allocation       `json:"allocation"`
	Source     domain.AllocationSource `json:"source"`
}

// GetAllocation returns the advisor's target for a risk tier, or the
// deterministic fallback when the advisor is unavailable or returns an
// invalid vector. Mirrors the resolution the orchestrator applies.
// GET /api/allocation?risk_tier=...
func (h *AllocationHandler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	tier := domain.RiskTier(r.URL.Query().Get("risk_tier"))

	target, err := h.advisor.TargetAllocation(r.Context(), tier)
	if err != nil || target.Validate() != nil {
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: advisor unavailable, using fallback",
				slog.String("risk_tier", string(tier)),
				slog.String("error", err.Error()),
			)
		}
		writeJSON(w, http.StatusOK, allocationResponse{
			Allocation: allocation.Fallback(tier),
			Source:     domain.AllocationFromFallback,
		})
		return
	}

	writeJSON(w, http.StatusOK, allocationResponse{
		Allocation: target,
		Source:     domain.AllocationFromAdvisor,
	})
}

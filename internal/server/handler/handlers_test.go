package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvtreasury/vaultbot/internal/domain"
	"github.com/mvtreasury/vaultbot/internal/rebalance"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- stubs ---

type stubPositions struct {
	positions []domain.ValuedPosition
	total     float64
	err       error
}

func (s *stubPositions) Snapshot(ctx context.Context, wallet string) ([]domain.ValuedPosition, float64, error) {
	return s.positions, s.total, s.err
}

type stubBalances struct {
	balances domain.VaultBalances
	err      error
}

func (s *stubBalances) Balances(ctx context.Context, wallet string) (domain.VaultBalances, error) {
	return s.balances, s.err
}

type stubAdvisor struct {
	allocation domain.Allocation
	err        error
}

func (s *stubAdvisor) TargetAllocation(ctx context.Context, tier domain.RiskTier) (domain.Allocation, error) {
	return s.allocation, s.err
}

type stubRebalancer struct {
	run     domain.RebalanceRun
	err     error
	lastReq rebalance.Request
}

func (s *stubRebalancer) Rebalance(ctx context.Context, req rebalance.Request) (domain.RebalanceRun, error) {
	s.lastReq = req
	return s.run, s.err
}

type stubRunStore struct {
	runs map[string]domain.RebalanceRun
}

func (s *stubRunStore) SaveRun(ctx context.Context, run domain.RebalanceRun) error {
	s.runs[run.ID] = run
	return nil
}

func (s *stubRunStore) GetRun(ctx context.Context, id string) (domain.RebalanceRun, error) {
	run, ok := s.runs[id]
	if !ok {
		return domain.RebalanceRun{}, domain.ErrNotFound
	}
	return run, nil
}

func (s *stubRunStore) ListRuns(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.RebalanceRun, error) {
	var out []domain.RebalanceRun
	for _, run := range s.runs {
		if run.Wallet == wallet {
			out = append(out, run)
		}
	}
	return out, nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

// --- helpers ---

func TestParseListOptsClampsAndDefaults(t *testing.T) {
	cases := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", defaultPageLimit, 0},
		{"?limit=10&offset=20", 10, 20},
		{"?limit=9999", maxPageLimit, 0},
		{"?limit=-5&offset=-1", defaultPageLimit, 0},
		{"?limit=abc&offset=xyz", defaultPageLimit, 0},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/runs"+tc.query, nil)
		opts := parseListOpts(req)
		assert.Equal(t, tc.wantLimit, opts.Limit, "query %q", tc.query)
		assert.Equal(t, tc.wantOffset, opts.Offset, "query %q", tc.query)
	}
}

// --- positions ---

func TestListPositionsReturnsSnapshot(t *testing.T) {
	h := NewPositionHandler(&stubPositions{
		positions: []domain.ValuedPosition{{
			Position: domain.Position{AssetSymbol: "SOL", Vault: domain.VaultGrowth, Quantity: 2},
			ValueUSD: 300,
		}},
		total: 300,
	}, &stubBalances{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/positions?wallet=w1", nil)
	rec := httptest.NewRecorder()
	h.ListPositions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Positions  []domain.ValuedPosition `json:"positions"`
		TotalValue float64                 `json:"total_value"`
	}
	decodeBody(t, rec, &body)
	assert.Len(t, body.Positions, 1)
	assert.Equal(t, 300.0, body.TotalValue)
}

func TestListPositionsRequiresWallet(t *testing.T) {
	h := NewPositionHandler(&stubPositions{}, &stubBalances{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	rec := httptest.NewRecorder()
	h.ListPositions(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPositionsLedgerUnavailableMapsTo503(t *testing.T) {
	h := NewPositionHandler(&stubPositions{err: domain.ErrLedgerUnavailable}, &stubBalances{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/positions?wallet=w1", nil)
	rec := httptest.NewRecorder()
	h.ListPositions(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListPositionsEmptySnapshotIsEmptyArray(t *testing.T) {
	h := NewPositionHandler(&stubPositions{}, &stubBalances{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/positions?wallet=w1", nil)
	rec := httptest.NewRecorder()
	h.ListPositions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"positions":[]`)
}

func TestGetBalancesIncludesTotal(t *testing.T) {
	h := NewPositionHandler(&stubPositions{}, &stubBalances{
		balances: domain.VaultBalances{
			Vaults:     map[domain.VaultID]float64{domain.VaultReserve: 100, domain.VaultYield: 50},
			WalletCash: 25,
		},
	}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/balances?wallet=w1", nil)
	rec := httptest.NewRecorder()
	h.GetBalances(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Total float64 `json:"total"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, 175.0, body.Total)
}

// --- allocation ---

func TestGetAllocationPrefersAdvisor(t *testing.T) {
	h := NewAllocationHandler(&stubAdvisor{
		allocation: domain.Allocation{Reserve: 20, Yield: 30, Growth: 35, Degen: 15},
	}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/allocation?risk_tier=balanced", nil)
	rec := httptest.NewRecorder()
	h.GetAllocation(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Allocation domain.Allocation `json:"allocation"`
		Source     string            `json:"source"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "advisor", body.Source)
	assert.Equal(t, 35.0, body.Allocation.Growth)
}

func TestGetAllocationFallsBackOnAdvisorError(t *testing.T) {
	h := NewAllocationHandler(&stubAdvisor{err: domain.ErrRateLimited}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/allocation?risk_tier=aggressive", nil)
	rec := httptest.NewRecorder()
	h.GetAllocation(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Allocation domain.Allocation `json:"allocation"`
		Source     string            `json:"source"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "fallback", body.Source)
	assert.Equal(t, 40.0, body.Allocation.Growth)
}

func TestGetAllocationFallsBackOnInvalidVector(t *testing.T) {
	// Sums to 90, which fails validation.
	h := NewAllocationHandler(&stubAdvisor{
		allocation: domain.Allocation{Reserve: 20, Yield: 30, Growth: 30, Degen: 10},
	}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/allocation?risk_tier=balanced", nil)
	rec := httptest.NewRecorder()
	h.GetAllocation(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Source string `json:"source"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "fallback", body.Source)
}

// --- rebalance ---

func triggerBody(t *testing.T, wallet, tier string, dryRun bool) io.Reader {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"wallet": wallet, "risk_tier": tier, "dry_run": dryRun,
	})
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestTriggerRunsRebalance(t *testing.T) {
	svc := &stubRebalancer{run: domain.RebalanceRun{
		ID: "run-1", Wallet: "w1", Status: domain.RebalanceSucceeded,
	}}
	h := NewRebalanceHandler(svc, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/rebalance", triggerBody(t, "w1", "aggressive", true))
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "w1", svc.lastReq.Wallet)
	assert.Equal(t, domain.RiskAggressive, svc.lastReq.RiskTier)
	assert.True(t, svc.lastReq.DryRun)
}

func TestTriggerPartialRunIsStill200(t *testing.T) {
	h := NewRebalanceHandler(&stubRebalancer{run: domain.RebalanceRun{
		ID: "run-1", Status: domain.RebalancePartial, Errors: []string{"degen: swap failed"},
	}}, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/rebalance", triggerBody(t, "w1", "balanced", false))
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var run domain.RebalanceRun
	decodeBody(t, rec, &run)
	assert.Equal(t, domain.RebalancePartial, run.Status)
}

func TestTriggerRequiresWallet(t *testing.T) {
	h := NewRebalanceHandler(&stubRebalancer{}, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/rebalance", triggerBody(t, "", "balanced", false))
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerLockHeldMapsTo409(t *testing.T) {
	h := NewRebalanceHandler(&stubRebalancer{err: domain.ErrLockHeld}, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/rebalance", triggerBody(t, "w1", "balanced", false))
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListRunsWithoutStoreIs501(t *testing.T) {
	h := NewRebalanceHandler(&stubRebalancer{}, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/runs?wallet=w1", nil)
	rec := httptest.NewRecorder()
	h.ListRuns(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestListRunsFiltersByWallet(t *testing.T) {
	store := &stubRunStore{runs: map[string]domain.RebalanceRun{
		"run-1": {ID: "run-1", Wallet: "w1"},
		"run-2": {ID: "run-2", Wallet: "w2"},
	}}
	h := NewRebalanceHandler(&stubRebalancer{}, store, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/runs?wallet=w1", nil)
	rec := httptest.NewRecorder()
	h.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []domain.RebalanceRun `json:"runs"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "run-1", body.Runs[0].ID)
}

func TestGetRunNotFoundIs404(t *testing.T) {
	store := &stubRunStore{runs: map[string]domain.RebalanceRun{}}
	h := NewRebalanceHandler(&stubRebalancer{}, store, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs/{id}", h.GetRun)
	req := httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

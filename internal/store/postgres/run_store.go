package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const runSelectCols = `id, wallet, risk_tier, status, allocation,
	allocation_source, total_value, dry_run, transfers, vaults, errors,
	started_at, finished_at`

// SaveRun upserts a rebalance run. Re-saving the same run ID overwrites the
// previous row, so a retried persist is harmless.
func (s *RunStore) SaveRun(ctx context.Context, run domain.RebalanceRun) error {
	allocation, err := json.Marshal(run.Allocation)
	if err != nil {
		return fmt.Errorf("postgres: marshal allocation: %w", err)
	}
	transfers, err := json.Marshal(emptySlice(run.Transfers))
	if err != nil {
		return fmt.Errorf("postgres: marshal transfers: %w", err)
	}
	vaults, err := json.Marshal(emptySlice(run.Vaults))
	if err != nil {
		return fmt.Errorf("postgres: marshal vaults: %w", err)
	}
	runErrors, err := json.Marshal(emptySlice(run.Errors))
	if err != nil {
		return fmt.Errorf("postgres: marshal errors: %w", err)
	}

	const query = `
		INSERT INTO rebalance_runs (
			id, wallet, risk_tier, status, allocation, allocation_source,
			total_value, dry_run, transfers, vaults, errors,
			started_at, finished_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13
		) ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			allocation = EXCLUDED.allocation,
			allocation_source = EXCLUDED.allocation_source,
			total_value = EXCLUDED.total_value,
			transfers = EXCLUDED.transfers,
			vaults = EXCLUDED.vaults,
			errors = EXCLUDED.errors,
			finished_at = EXCLUDED.finished_at`

	_, err = s.pool.Exec(ctx, query,
		run.ID, run.Wallet, string(run.RiskTier), string(run.Status),
		allocation, string(run.AllocationSource),
		run.TotalValue, run.DryRun, transfers, vaults, runErrors,
		run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns a run by ID, or domain.ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, id string) (domain.RebalanceRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runSelectCols+` FROM rebalance_runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RebalanceRun{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RebalanceRun{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns a wallet's runs, most recent first.
func (s *RunStore) ListRuns(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.RebalanceRun, error) {
	query := `SELECT ` + runSelectCols + ` FROM rebalance_runs
		WHERE wallet = $1 ORDER BY started_at DESC`
	args := []any{wallet}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs for %s: %w", wallet, err)
	}
	defer rows.Close()

	var runs []domain.RebalanceRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list runs for %s: %w", wallet, err)
	}
	return runs, nil
}

// scanRun decodes one rebalance_runs row.
func scanRun(row pgx.Row) (domain.RebalanceRun, error) {
	var (
		run                                    domain.RebalanceRun
		riskTier, status, allocationSource     string
		allocation, transfers, vaults, runErrs []byte
	)
	if err := row.Scan(
		&run.ID, &run.Wallet, &riskTier, &status, &allocation,
		&allocationSource, &run.TotalValue, &run.DryRun,
		&transfers, &vaults, &runErrs,
		&run.StartedAt, &run.FinishedAt,
	); err != nil {
		return domain.RebalanceRun{}, err
	}

	run.RiskTier = domain.RiskTier(riskTier)
	run.Status = domain.RebalanceStatus(status)
	run.AllocationSource = domain.AllocationSource(allocationSource)

	if err := json.Unmarshal(allocation, &run.Allocation); err != nil {
		return domain.RebalanceRun{}, fmt.Errorf("decode allocation: %w", err)
	}
	if err := json.Unmarshal(transfers, &run.Transfers); err != nil {
		return domain.RebalanceRun{}, fmt.Errorf("decode transfers: %w", err)
	}
	if err := json.Unmarshal(vaults, &run.Vaults); err != nil {
		return domain.RebalanceRun{}, fmt.Errorf("decode vaults: %w", err)
	}
	if err := json.Unmarshal(runErrs, &run.Errors); err != nil {
		return domain.RebalanceRun{}, fmt.Errorf("decode errors: %w", err)
	}
	return run, nil
}

// emptySlice keeps JSONB columns as [] instead of null for nil slices.
func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Compile-time interface check.
var _ domain.RunStore = (*RunStore)(nil)

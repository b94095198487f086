package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// ReportArchiver uploads the full structured result of each rebalance run to
// cold storage. Postgres keeps the queryable history; the archive is the
// long-term record that survives database retention.
type ReportArchiver struct {
	writer domain.BlobWriter
	logger *slog.Logger
}

// NewReportArchiver creates a ReportArchiver on the given blob writer.
func NewReportArchiver(writer domain.BlobWriter, logger *slog.Logger) *ReportArchiver {
	return &ReportArchiver{
		writer: writer,
		logger: logger.With(slog.String("component", "report_archiver")),
	}
}

// ArchiveRun serializes the run and uploads it under a date-partitioned key:
//
//	reports/{wallet}/{YYYY}/{MM}/{run-id}.json
func (a *ReportArchiver) ArchiveRun(ctx context.Context, run domain.RebalanceRun) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("s3blob: encode run %s: %w", run.ID, err)
	}

	path := reportPath(run)
	if err := a.writer.Put(ctx, path, &buf, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive run %s: %w", run.ID, err)
	}

	a.logger.InfoContext(ctx, "run report archived",
		slog.String("run_id", run.ID),
		slog.String("path", path),
	)
	return nil
}

func reportPath(run domain.RebalanceRun) string {
	return fmt.Sprintf("reports/%s/%s/%s.json",
		run.Wallet, run.StartedAt.UTC().Format("2006/01"), run.ID)
}

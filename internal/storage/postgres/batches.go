package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

const batchColumns = `id::text, name, source_filename, client_id, total_urls, completed_urls,
	failed_urls, status, created_at, completed_at`

// CreateBatch inserts a batch with zeroed counters.
func (s *Store) CreateBatch(ctx context.Context, batch audit.Batch) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO seo_audit_batches (id, name, source_filename, client_id, total_urls, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		batch.ID,
		batch.Name,
		nullString(batch.SourceFilename),
		nullString(batch.ClientID),
		batch.TotalURLs,
		string(batch.Status),
		batch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// MarkBatchRunning moves a queued batch to running. Other states are left alone.
func (s *Store) MarkBatchRunning(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE seo_audit_batches SET status = 'running' WHERE id = $1 AND status = 'queued'`, id)
	if err != nil {
		return fmt.Errorf("mark batch running: %w", notFound(err, "batch", id))
	}
	if tag.RowsAffected() == 0 {
		_, err := s.GetBatch(ctx, id)
		return err
	}
	return nil
}

// GetBatch fetches a batch by ID.
func (s *Store) GetBatch(ctx context.Context, id string) (audit.Batch, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM seo_audit_batches WHERE id = $1`, id)
	batch, err := scanBatch(row)
	if err != nil {
		return audit.Batch{}, notFound(err, "batch", id)
	}
	return batch, nil
}

// ListBatches returns batches newest first, optionally for one client.
func (s *Store) ListBatches(ctx context.Context, clientID string) ([]audit.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM seo_audit_batches`
	var args []any
	if clientID != "" {
		query += ` WHERE client_id = $1`
		args = append(args, clientID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()
	out := make([]audit.Batch, 0)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return out, nil
}

// RecordBatchOutcome increments one counter in a single statement. The row
// lock taken by UPDATE serializes concurrent workers, and the RETURNING clause
// hands each caller the counters as they stood after its own increment.
func (s *Store) RecordBatchOutcome(ctx context.Context, id string, succeeded bool, at time.Time) (audit.Batch, error) {
	completed, failed := 0, 1
	if succeeded {
		completed, failed = 1, 0
	}
	row := s.pool.QueryRow(ctx, `
UPDATE seo_audit_batches SET
	completed_urls = completed_urls + $2,
	failed_urls = failed_urls + $3,
	status = CASE WHEN completed_urls + failed_urls + 1 >= total_urls THEN 'completed' ELSE status END,
	completed_at = CASE WHEN completed_urls + failed_urls + 1 >= total_urls THEN $4 ELSE completed_at END
WHERE id = $1 AND completed_urls + failed_urls < total_urls
RETURNING `+batchColumns, id, completed, failed, at)
	batch, err := scanBatch(row)
	if err == nil {
		return batch, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		// Already settled, or missing.
		return s.GetBatch(ctx, id)
	}
	return audit.Batch{}, fmt.Errorf("record batch outcome: %w", notFound(err, "batch", id))
}

func scanBatch(row scanner) (audit.Batch, error) {
	var (
		batch            audit.Batch
		source, clientID *string
		status           string
	)
	err := row.Scan(
		&batch.ID, &batch.Name, &source, &clientID, &batch.TotalURLs, &batch.CompletedURLs,
		&batch.FailedURLs, &status, &batch.CreatedAt, &batch.CompletedAt,
	)
	if err != nil {
		return audit.Batch{}, err
	}
	batch.SourceFilename = deref(source)
	batch.ClientID = deref(clientID)
	batch.Status = audit.Status(status)
	return batch, nil
}

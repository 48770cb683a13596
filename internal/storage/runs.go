package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hoanghai1803/autopulse/internal/models"
)

// CreateRun inserts a run in the started state.
func (s *Store) CreateRun(ctx context.Context, run *models.IngestionRun) error {
	if run.Status == "" {
		run.Status = models.RunStarted
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs (id, source_id, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.SourceID, run.Status, formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("creating run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun writes the final counters of a run. Runs that are already
// finished are left untouched.
func (s *Store) FinishRun(ctx context.Context, run *models.IngestionRun) error {
	errs, err := json.Marshal(nonNilErrors(run.Errors))
	if err != nil {
		return fmt.Errorf("encoding run errors: %w", err)
	}
	var finishedAt string
	if run.FinishedAt != nil {
		finishedAt = formatTime(*run.FinishedAt)
	} else {
		finishedAt = formatTime(time.Now())
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET
			status = ?, items_discovered = ?, items_invalid = ?, items_unique = ?,
			items_saved = ?, items_skipped = ?, content_extracted = ?, classified = ?,
			llm_tokens = ?, llm_cost_usd = ?, errors = ?, finished_at = ?, duration_ms = ?
		 WHERE id = ? AND status = 'started'`,
		run.Status, run.ItemsDiscovered, run.ItemsInvalid, run.ItemsUnique,
		run.ItemsSaved, run.ItemsSkipped, run.ContentExtracted, run.Classified,
		run.LLMTokens, run.LLMCostUSD, string(errs), finishedAt, run.DurationMs, run.ID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrInvalidState)
	}
	return nil
}

// ListRuns returns the most recent runs, optionally for one source.
func (s *Store) ListRuns(ctx context.Context, sourceID int64, limit int) ([]models.IngestionRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT r.id, r.source_id, COALESCE(s.name, ''), r.status, r.items_discovered,
			r.items_invalid, r.items_unique, r.items_saved, r.items_skipped,
			r.content_extracted, r.classified, r.llm_tokens, r.llm_cost_usd, r.errors,
			r.started_at, r.finished_at, r.duration_ms
		 FROM ingestion_runs r LEFT JOIN sources s ON s.id = r.source_id`
	args := []any{}
	if sourceID > 0 {
		query += ` WHERE r.source_id = ?`
		args = append(args, sourceID)
	}
	query += ` ORDER BY r.started_at DESC, r.rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []models.IngestionRun{}
	for rows.Next() {
		var (
			run        models.IngestionRun
			errs       string
			startedAt  string
			finishedAt sql.NullString
		)
		if err := rows.Scan(
			&run.ID, &run.SourceID, &run.Source, &run.Status, &run.ItemsDiscovered,
			&run.ItemsInvalid, &run.ItemsUnique, &run.ItemsSaved, &run.ItemsSkipped,
			&run.ContentExtracted, &run.Classified, &run.LLMTokens, &run.LLMCostUSD, &errs,
			&startedAt, &finishedAt, &run.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		run.Errors = unmarshalList(sql.NullString{String: errs, Valid: true})
		run.StartedAt = parseTime(startedAt)
		run.FinishedAt = parseTimePtr(finishedAt)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run rows: %w", err)
	}
	return runs, nil
}

// FailStaleRuns marks runs still started before the cutoff as failed. A run
// stays started only when its job was abandoned.
func (s *Store) FailStaleRuns(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET status = 'failed', errors = '["abandoned"]', finished_at = ?
		 WHERE status = 'started' AND started_at < ?`,
		formatTime(time.Now()), formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("failing stale runs: %w", err)
	}
	return res.RowsAffected()
}

// PurgeRuns deletes runs started before the cutoff.
func (s *Store) PurgeRuns(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ingestion_runs WHERE started_at < ? AND status != 'started'`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("purging runs: %w", err)
	}
	return res.RowsAffected()
}

func nonNilErrors(errs []string) []string {
	if errs == nil {
		return []string{}
	}
	return errs
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hoanghai1803/autopulse/internal/models"
)

// UpsertCostBucket stores a ledger snapshot. Counters only ever grow: an
// older snapshot never overwrites a larger persisted value.
func (s *Store) UpsertCostBucket(ctx context.Context, b models.CostBucket) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_ledger (period, prompt_tokens, completion_tokens, cost_usd, api_calls, extractions, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(period) DO UPDATE SET
			prompt_tokens     = MAX(prompt_tokens, excluded.prompt_tokens),
			completion_tokens = MAX(completion_tokens, excluded.completion_tokens),
			cost_usd          = MAX(cost_usd, excluded.cost_usd),
			api_calls         = MAX(api_calls, excluded.api_calls),
			extractions       = MAX(extractions, excluded.extractions),
			updated_at        = excluded.updated_at`,
		b.Period, b.PromptTokens, b.CompletionTokens, b.CostUSD, b.APICalls, b.Extractions,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upserting cost bucket %q: %w", b.Period, err)
	}
	return nil
}

// GetCostBucket returns the snapshot for a period.
// Returns ErrNotFound if none was stored.
func (s *Store) GetCostBucket(ctx context.Context, period string) (*models.CostBucket, error) {
	var (
		b         models.CostBucket
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT period, prompt_tokens, completion_tokens, cost_usd, api_calls, extractions, updated_at
		 FROM cost_ledger WHERE period = ?`, period,
	).Scan(&b.Period, &b.PromptTokens, &b.CompletionTokens, &b.CostUSD, &b.APICalls, &b.Extractions, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting cost bucket %q: %w", period, err)
	}
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

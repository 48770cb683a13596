package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hoanghai1803/autopulse/internal/cost"
	"github.com/hoanghai1803/autopulse/internal/dedup"
	"github.com/hoanghai1803/autopulse/internal/feeds"
	"github.com/hoanghai1803/autopulse/internal/models"
	"github.com/hoanghai1803/autopulse/internal/storage"
)

// DedupSweep flags recent articles that duplicate an earlier one.
func (p *Pipeline) DedupSweep(ctx context.Context) (*dedup.SweepResult, error) {
	res, err := p.dedup.Sweep(ctx, p.cfg.DedupSweepLimit)
	if err != nil {
		return res, fmt.Errorf("sweeping duplicates: %w", err)
	}
	slog.Info("dedup sweep finished", "checked", res.Checked, "duplicates", res.Duplicates)
	return res, nil
}

// CleanupResult counts what one cleanup pass removed or closed.
type CleanupResult struct {
	ArticlesPurged int64 `json:"articles_purged"`
	RunsAbandoned  int64 `json:"runs_abandoned"`
	RunsPurged     int64 `json:"runs_purged"`
}

// Cleanup purges old duplicates, failed articles and runs past their
// retention windows, and closes runs whose job was abandoned.
func (p *Pipeline) Cleanup(ctx context.Context) (*CleanupResult, error) {
	now := time.Now().UTC()
	res := &CleanupResult{}

	var err error
	if res.RunsAbandoned, err = p.store.FailStaleRuns(ctx, now.Add(-p.cfg.StaleRunAge)); err != nil {
		return res, err
	}
	if res.ArticlesPurged, err = p.store.PurgeArticles(ctx,
		now.Add(-p.cfg.DuplicateRetention), now.Add(-p.cfg.FailedRetention)); err != nil {
		return res, err
	}
	if res.RunsPurged, err = p.store.PurgeRuns(ctx, now.Add(-p.cfg.RunRetention)); err != nil {
		return res, err
	}

	slog.Info("cleanup finished",
		"articles_purged", res.ArticlesPurged,
		"runs_abandoned", res.RunsAbandoned,
		"runs_purged", res.RunsPurged,
	)
	return res, nil
}

// SnapshotCosts persists the cost ledger's current day and month.
func (p *Pipeline) SnapshotCosts(ctx context.Context) error {
	for _, b := range p.guard.Snapshot() {
		if err := p.store.UpsertCostBucket(ctx, b); err != nil {
			return fmt.Errorf("saving cost bucket %s: %w", b.Period, err)
		}
	}
	return nil
}

// RestoreCosts loads the persisted buckets of the current day and month
// into the cost ledger so a restart does not reset spend.
func (p *Pipeline) RestoreCosts(ctx context.Context) error {
	now := time.Now()
	var buckets []models.CostBucket
	for _, period := range []string{cost.DayPeriod(now), cost.MonthPeriod(now)} {
		b, err := p.store.GetCostBucket(ctx, period)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("loading cost bucket %s: %w", period, err)
		}
		buckets = append(buckets, *b)
	}
	p.guard.Load(buckets)
	slog.Info("restored cost ledger", "today_usd", p.guard.TodayCost(), "month_usd", p.guard.MonthlyCost())
	return nil
}

// CostReport is the ledger as shown to operators.
type CostReport struct {
	Today            models.CostBucket `json:"today"`
	Month            models.CostBucket `json:"month"`
	DailyBudgetUSD   float64           `json:"daily_budget_usd"`
	MonthlyBudgetUSD float64           `json:"monthly_budget_usd"`
}

// Costs returns the current ledger.
func (p *Pipeline) Costs() CostReport {
	snap := p.guard.Snapshot()
	daily, monthly := p.guard.Budgets()
	return CostReport{Today: snap[0], Month: snap[1], DailyBudgetUSD: daily, MonthlyBudgetUSD: monthly}
}

// RetryArticle moves a failed article back to pending.
func (p *Pipeline) RetryArticle(ctx context.Context, id int64) error {
	return p.store.RetryArticle(ctx, id)
}

// TestFeed parses a feed URL without persisting anything.
func (p *Pipeline) TestFeed(ctx context.Context, url string) feeds.TestResult {
	return p.fetcher.TestFeed(ctx, url)
}

// Package pipeline runs the ingestion stages in order and keeps the
// ingestion-run log up to date: fetch, extract and enrich, then classify.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hoanghai1803/autopulse/internal/broadcast"
	"github.com/hoanghai1803/autopulse/internal/classifier"
	"github.com/hoanghai1803/autopulse/internal/cost"
	"github.com/hoanghai1803/autopulse/internal/dedup"
	"github.com/hoanghai1803/autopulse/internal/enrich"
	"github.com/hoanghai1803/autopulse/internal/extractor"
	"github.com/hoanghai1803/autopulse/internal/feeds"
	"github.com/hoanghai1803/autopulse/internal/models"
	"github.com/hoanghai1803/autopulse/internal/storage"
)

// Config bounds the work done per invocation and sets retention windows.
type Config struct {
	ExtractBatchLimit  int
	ClassifyBatchSize  int
	ClassifyLimit      int
	MaxArticleAttempts int
	DedupSweepLimit    int

	DuplicateRetention time.Duration
	FailedRetention    time.Duration
	RunRetention       time.Duration
	// StaleRunAge is how long a run may stay started before cleanup marks
	// it abandoned.
	StaleRunAge time.Duration
}

// Deps are the components a Pipeline drives.
type Deps struct {
	Store      *storage.Store
	Fetcher    *feeds.Fetcher
	Dedup      *dedup.Deduplicator
	Extractor  *extractor.Extractor
	Enricher   *enrich.Enricher
	Guard      *cost.Guard
	Classifier *classifier.Classifier
	Sink       broadcast.Sink
}

// Pipeline orchestrates the stages. It holds no state between calls other
// than what its components keep.
type Pipeline struct {
	cfg        Config
	store      *storage.Store
	fetcher    *feeds.Fetcher
	dedup      *dedup.Deduplicator
	extractor  *extractor.Extractor
	enricher   *enrich.Enricher
	guard      *cost.Guard
	classifier *classifier.Classifier
	sink       broadcast.Sink
}

// New creates a Pipeline, filling zero config values with defaults.
func New(cfg Config, d Deps) *Pipeline {
	if cfg.ExtractBatchLimit <= 0 {
		cfg.ExtractBatchLimit = 50
	}
	if cfg.ClassifyBatchSize <= 0 {
		cfg.ClassifyBatchSize = 10
	}
	if cfg.ClassifyLimit <= 0 {
		cfg.ClassifyLimit = 100
	}
	if cfg.MaxArticleAttempts <= 0 {
		cfg.MaxArticleAttempts = 3
	}
	if cfg.DedupSweepLimit <= 0 {
		cfg.DedupSweepLimit = 1000
	}
	if cfg.DuplicateRetention <= 0 {
		cfg.DuplicateRetention = 7 * 24 * time.Hour
	}
	if cfg.FailedRetention <= 0 {
		cfg.FailedRetention = 30 * 24 * time.Hour
	}
	if cfg.RunRetention <= 0 {
		cfg.RunRetention = 30 * 24 * time.Hour
	}
	if cfg.StaleRunAge <= 0 {
		cfg.StaleRunAge = 24 * time.Hour
	}
	sink := d.Sink
	if sink == nil {
		sink = broadcast.Nop{}
	}
	return &Pipeline{
		cfg:        cfg,
		store:      d.Store,
		fetcher:    d.Fetcher,
		dedup:      d.Dedup,
		extractor:  d.Extractor,
		enricher:   d.Enricher,
		guard:      d.Guard,
		classifier: d.Classifier,
		sink:       sink,
	}
}

// IngestResult summarises one pass over all active sources.
type IngestResult struct {
	NewArticles int                `json:"newArticlesCount"`
	Sources     int                `json:"sources"`
	Failed      []feeds.FailedFeed `json:"failedSources"`
}

// Ingest fetches every active source and finalises the resulting runs.
func (p *Pipeline) Ingest(ctx context.Context) (*IngestResult, error) {
	summary, err := p.fetcher.ProcessAll(ctx)
	if summary != nil {
		p.finishRuns(newTracker(summary.Runs))
	}
	if err != nil {
		return nil, fmt.Errorf("ingesting feeds: %w", err)
	}
	return ingestResult(summary), nil
}

func ingestResult(s *feeds.Summary) *IngestResult {
	return &IngestResult{NewArticles: s.NewArticles, Sources: s.Sources, Failed: s.Failed}
}

// FullRunResult reports every stage of a full pipeline run.
type FullRunResult struct {
	Ingest   *IngestResult   `json:"ingest"`
	Extract  *ExtractResult  `json:"extract"`
	Classify *ClassifyResult `json:"classify"`
}

// FullRun fetches, extracts, enriches and classifies, attributing the
// downstream counts to the runs that saved each article before finalising
// them. An unavailable classifier does not fail the run.
func (p *Pipeline) FullRun(ctx context.Context) (*FullRunResult, error) {
	summary, err := p.fetcher.ProcessAll(ctx)
	if err != nil {
		if summary != nil {
			p.finishRuns(newTracker(summary.Runs))
		}
		return nil, fmt.Errorf("ingesting feeds: %w", err)
	}
	tr := newTracker(summary.Runs)
	defer p.finishRuns(tr)

	res := &FullRunResult{Ingest: ingestResult(summary)}
	if res.Extract, err = p.extractPending(ctx, tr); err != nil {
		return res, err
	}
	res.Classify, err = p.classifyPending(ctx, tr)
	if err != nil && !isUnavailable(err) {
		return res, err
	}
	return res, nil
}

// finishRuns writes the final counters of every tracked run. It uses a
// fresh context so that runs are closed even when the job was cancelled.
func (p *Pipeline) finishRuns(tr *tracker) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	for _, run := range tr.runs {
		if run.Status == models.RunStarted {
			run.Status = models.RunCompleted
		}
		run.FinishedAt = &now
		run.DurationMs = now.Sub(run.StartedAt).Milliseconds()
		if err := p.store.FinishRun(ctx, run); err != nil {
			slog.Warn("failed to finish ingestion run", "run", run.ID, "source", run.Source, "error", err)
		}
	}
}

// tracker maps saved article IDs to the run that saved them.
type tracker struct {
	runs      []*models.IngestionRun
	byArticle map[int64]*models.IngestionRun
}

func newTracker(runs []*models.IngestionRun) *tracker {
	tr := &tracker{runs: runs, byArticle: make(map[int64]*models.IngestionRun)}
	for _, run := range runs {
		for _, id := range run.SavedIDs {
			tr.byArticle[id] = run
		}
	}
	return tr
}

func (tr *tracker) extracted(articleID int64) {
	if tr == nil {
		return
	}
	if run, ok := tr.byArticle[articleID]; ok {
		run.ContentExtracted++
	}
}

func (tr *tracker) classified(c *models.Classification) {
	if tr == nil {
		return
	}
	if run, ok := tr.byArticle[c.ArticleID]; ok {
		run.Classified++
		run.LLMTokens += c.PromptTokens + c.CompletionTokens
		run.LLMCostUSD += c.CostUSD
	}
}

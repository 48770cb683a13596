package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hoanghai1803/autopulse/internal/ai"
	"github.com/hoanghai1803/autopulse/internal/broadcast"
	"github.com/hoanghai1803/autopulse/internal/classifier"
	"github.com/hoanghai1803/autopulse/internal/config"
	"github.com/hoanghai1803/autopulse/internal/cost"
	"github.com/hoanghai1803/autopulse/internal/dedup"
	"github.com/hoanghai1803/autopulse/internal/enrich"
	"github.com/hoanghai1803/autopulse/internal/extractor"
	"github.com/hoanghai1803/autopulse/internal/feeds"
	"github.com/hoanghai1803/autopulse/internal/logging"
	"github.com/hoanghai1803/autopulse/internal/models"
	"github.com/hoanghai1803/autopulse/internal/pipeline"
	"github.com/hoanghai1803/autopulse/internal/storage"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	store    *storage.Store
	pipeline *pipeline.Pipeline
}

// newApp loads the config, opens the database and builds the pipeline.
// Events go to sink.
func newApp(c *cli.Context, sink broadcast.Sink) (*app, error) {
	configPath := c.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	slog.SetDefault(logging.New(cfg.Log.Level, cfg.Log.Format))

	dataDir := c.String("data-dir")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Open database with WAL mode and pragmas.
	db, err := storage.OpenDatabase(filepath.Join(dataDir, "autopulse.db"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := storage.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	store := storage.NewStore(db)
	if err := seedSources(c.Context, store, cfg, configPath); err != nil {
		db.Close()
		return nil, err
	}

	p, err := buildPipeline(cfg, store, sink)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := p.RestoreCosts(c.Context); err != nil {
		slog.Warn("failed to restore cost ledger", "error", err)
	}

	return &app{cfg: cfg, db: db, store: store, pipeline: p}, nil
}

// close persists the cost ledger and closes the database.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.pipeline.SnapshotCosts(ctx); err != nil {
		slog.Error("failed to snapshot costs", "error", err)
	}
	if err := a.db.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}
}

// seedSources inserts the configured sources, or the built-in list when no
// sources file is set. A populated registry is left as is.
func seedSources(ctx context.Context, store *storage.Store, cfg *config.Config, configPath string) error {
	var sources []models.Source
	if path := cfg.Feeds.SourcesFile; path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(configPath), path)
		}
		loaded, err := config.LoadSources(path)
		if err != nil {
			return err
		}
		sources = loaded
		slog.Info("loaded sources file", "path", path, "sources", len(sources))
	}
	if err := store.SeedDefaults(ctx, sources); err != nil {
		return fmt.Errorf("seeding sources: %w", err)
	}
	return nil
}

func buildPipeline(cfg *config.Config, store *storage.Store, sink broadcast.Sink) (*pipeline.Pipeline, error) {
	guard := cost.NewGuard(cost.Config{
		DailyBudgetUSD:   cfg.Budget.DailyUSD,
		MonthlyBudgetUSD: cfg.Budget.MonthlyUSD,
		MinContentLength: cfg.Budget.MinContentLength,
		SkipPaywalled:    cfg.Budget.SkipPaywalled,
		BatchFraction:    cfg.Budget.BatchFraction,
		InputCostPer1K:   cfg.AI.InputCostPer1K,
		OutputCostPer1K:  cfg.AI.OutputCostPer1K,
		MaxBodyChars:     cfg.AI.MaxBodyChars,
	})

	// A nil provider leaves the classifier unavailable; ingestion and
	// extraction still run.
	var provider ai.Provider
	if cfg.AI.APIKey != "" {
		p, err := ai.NewProvider(ai.ProviderConfig{
			Provider: cfg.AI.Provider,
			APIKey:   cfg.AI.APIKey,
			Model:    cfg.AI.Model,
			BaseURL:  cfg.AI.BaseURL,
			Timeout:  cfg.AITimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("creating AI provider: %w", err)
		}
		provider = p
		slog.Info("AI provider configured", "provider", cfg.AI.Provider, "model", cfg.AI.Model)
	} else {
		slog.Warn("no AI provider API key configured, classification is disabled")
	}

	cls := classifier.New(provider, guard, classifier.Config{
		MaxBodyChars:    cfg.AI.MaxBodyChars,
		MaxTokens:       cfg.AI.MaxTokens,
		Temperature:     cfg.AI.Temperature,
		ReviewThreshold: cfg.AI.ReviewThreshold,
		MaxAttempts:     cfg.AI.MaxRetries + 1,
		RetryDelay:      time.Duration(cfg.AI.RetryDelaySeconds) * time.Second,
		BatchDelay:      time.Duration(cfg.AI.BatchDelayMs) * time.Millisecond,
	})

	dd := dedup.New(store, dedup.Config{
		RefreshInterval: time.Duration(cfg.Dedup.CacheRefreshHours) * time.Hour,
		Window:          time.Duration(cfg.Dedup.WindowHours) * time.Hour,
		CacheSize:       cfg.Dedup.CacheSize,
	})

	hostInterval := time.Duration(cfg.Feeds.HostIntervalMs) * time.Millisecond
	fetcher := feeds.NewFetcher(feeds.Config{
		Timeout:            cfg.FeedsTimeout(),
		MaxAttempts:        cfg.Feeds.MaxAttempts,
		RetryDelay:         time.Duration(cfg.Feeds.RetryDelaySeconds) * time.Second,
		Concurrency:        cfg.Feeds.Concurrency,
		BatchDelay:         time.Duration(cfg.Feeds.BatchDelaySeconds) * time.Second,
		MaxItemsPerFeed:    cfg.Feeds.MaxItemsPerFeed,
		UnhealthyThreshold: cfg.Feeds.UnhealthyThreshold,
		UserAgent:          cfg.Feeds.UserAgent,
		HostInterval:       hostInterval,
	}, store, dd, sink)

	ext := extractor.New(extractor.Config{
		Timeout:          cfg.ExtractorTimeout(),
		MaxAttempts:      cfg.Extractor.MaxAttempts,
		RetryDelay:       time.Duration(cfg.Extractor.RetryDelaySeconds) * time.Second,
		Concurrency:      cfg.Extractor.Concurrency,
		BatchDelay:       time.Duration(cfg.Extractor.BatchDelayMs) * time.Millisecond,
		MinContentLength: cfg.Extractor.MinContentLength,
		UserAgent:        cfg.Feeds.UserAgent,
		HostInterval:     hostInterval,
	})

	days := func(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }
	return pipeline.New(pipeline.Config{
		ExtractBatchLimit:  cfg.Extractor.BatchLimit,
		ClassifyBatchSize:  cfg.AI.BatchSize,
		ClassifyLimit:      cfg.AI.ClassifyLimit,
		MaxArticleAttempts: cfg.AI.MaxArticleAttempts,
		DedupSweepLimit:    cfg.Dedup.SweepLimit,
		DuplicateRetention: days(cfg.Retention.DuplicateDays),
		FailedRetention:    days(cfg.Retention.FailedDays),
		RunRetention:       days(cfg.Retention.RunsDays),
	}, pipeline.Deps{
		Store:      store,
		Fetcher:    fetcher,
		Dedup:      dd,
		Extractor:  ext,
		Enricher:   enrich.New(enrich.NewLinguaDetector()),
		Guard:      guard,
		Classifier: cls,
		Sink:       sink,
	}), nil
}

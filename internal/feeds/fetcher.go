package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hoanghai1803/autopulse/internal/broadcast"
	"github.com/hoanghai1803/autopulse/internal/dedup"
	"github.com/hoanghai1803/autopulse/internal/metrics"
	"github.com/hoanghai1803/autopulse/internal/models"
	"github.com/hoanghai1803/autopulse/internal/ratelimit"
	"github.com/hoanghai1803/autopulse/internal/retry"
	"github.com/hoanghai1803/autopulse/internal/storage"
)

// maxDocumentBytes caps the size of a downloaded feed or listing page.
const maxDocumentBytes = 10 << 20

// DefaultUserAgent identifies the fetcher to feed servers.
const DefaultUserAgent = "AutoPulse/1.0 (+https://github.com/hoanghai1803/autopulse; automotive news aggregator)"

// Config controls feed fetching.
type Config struct {
	Timeout            time.Duration
	MaxAttempts        int
	RetryDelay         time.Duration
	Concurrency        int
	BatchDelay         time.Duration
	MaxItemsPerFeed    int
	UnhealthyThreshold int
	UserAgent          string
	// HostInterval is the minimum spacing between requests to one host.
	HostInterval time.Duration
}

// Store is the persistence the fetcher needs.
type Store interface {
	GetActiveSources(ctx context.Context) ([]models.Source, error)
	RecordFetchResult(ctx context.Context, id int64, out models.FetchOutcome, threshold int) (*models.Source, error)
	CreateRun(ctx context.Context, run *models.IngestionRun) error
	InsertArticle(ctx context.Context, item *models.NormalizedItem) (int64, error)
}

// Deduplicator partitions normalized items before they are persisted.
type Deduplicator interface {
	Check(ctx context.Context, items []models.NormalizedItem) ([]dedup.Decision, error)
	MarkSeen(item models.NormalizedItem)
}

// HTTPError is returned when a feed server answers with a non-200 status.
type HTTPError struct {
	URL  string
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.Code)
}

// StatusCode implements retry.StatusCoder.
func (e *HTTPError) StatusCode() int { return e.Code }

// FailedFeed records a source that could not be fetched.
type FailedFeed struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Summary aggregates one pass over all active sources.
type Summary struct {
	Runs        []*models.IngestionRun `json:"-"`
	NewArticles int                    `json:"new_articles"`
	Sources     int                    `json:"sources"`
	Failed      []FailedFeed           `json:"failed"`
}

// Fetcher polls sources, normalizes and deduplicates their items and
// persists the new ones.
type Fetcher struct {
	cfg     Config
	store   Store
	dedup   Deduplicator
	sink    broadcast.Sink
	client  *http.Client
	limiter *ratelimit.HostLimiter
}

// NewFetcher creates a Fetcher. A nil sink discards events.
func NewFetcher(cfg Config, store Store, dd Deduplicator, sink broadcast.Sink) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = 5
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if sink == nil {
		sink = broadcast.Nop{}
	}
	return &Fetcher{
		cfg:   cfg,
		store: store,
		dedup: dd,
		sink:  sink,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &userAgentTransport{
				base:      http.DefaultTransport,
				userAgent: cfg.UserAgent,
			},
		},
		limiter: ratelimit.NewHostLimiter(cfg.HostInterval),
	}
}

// userAgentTransport wraps an http.RoundTripper to inject the User-Agent
// and Accept headers on every request.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/html;q=0.8, */*;q=0.5")
	return t.base.RoundTrip(req)
}

// ProcessAll fetches every active source. Sources are grouped into batches
// of Config.Concurrency; a batch runs concurrently and batches run one after
// another with Config.BatchDelay in between. Individual source failures are
// collected in Summary.Failed rather than failing the pass.
func (f *Fetcher) ProcessAll(ctx context.Context) (*Summary, error) {
	sources, err := f.store.GetActiveSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active sources: %w", err)
	}

	summary := &Summary{Sources: len(sources), Failed: []FailedFeed{}}
	var mu sync.Mutex

	for start := 0; start < len(sources); start += f.cfg.Concurrency {
		if start > 0 && f.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(f.cfg.BatchDelay):
			}
		}

		end := min(start+f.cfg.Concurrency, len(sources))
		var g errgroup.Group
		for _, src := range sources[start:end] {
			src := src
			g.Go(func() error {
				run := f.FetchSource(ctx, src)

				mu.Lock()
				defer mu.Unlock()
				summary.Runs = append(summary.Runs, run)
				summary.NewArticles += run.ItemsSaved
				if run.Status == models.RunFailed {
					msg := ""
					if len(run.Errors) > 0 {
						msg = run.Errors[0]
					}
					summary.Failed = append(summary.Failed, FailedFeed{Source: src.Name, Error: msg})
				}
				return nil // a failed source never fails the pass
			})
		}
		_ = g.Wait()
	}

	slog.Info("processed all sources",
		"sources", summary.Sources,
		"new_articles", summary.NewArticles,
		"failed", len(summary.Failed),
	)
	return summary, nil
}

// FetchSource polls one source and persists its new items. The returned run
// has been created in the store in the started state; its in-memory Status
// carries the fetch outcome for the caller to finalize.
func (f *Fetcher) FetchSource(ctx context.Context, src models.Source) *models.IngestionRun {
	run := &models.IngestionRun{
		ID:        uuid.NewString(),
		SourceID:  src.ID,
		Source:    src.Name,
		Status:    models.RunStarted,
		Errors:    []string{},
		StartedAt: time.Now().UTC(),
	}
	if err := f.store.CreateRun(ctx, run); err != nil {
		slog.Warn("failed to record ingestion run", "source", src.Name, "error", err)
	}

	start := time.Now()
	items, err := f.fetchItems(ctx, src)
	elapsed := time.Since(start)
	f.recordHealth(ctx, src, err, elapsed)

	if err != nil {
		slog.Warn("failed to fetch feed", "source", src.Name, "url", src.URL, "error", err)
		run.Status = models.RunFailed
		run.AddError(err.Error())
		return run
	}

	run.ItemsDiscovered = len(items)
	normalized := make([]models.NormalizedItem, 0, len(items))
	for _, raw := range items {
		item, ok := Normalize(raw, src.ID)
		if !ok {
			run.ItemsInvalid++
			continue
		}
		normalized = append(normalized, *item)
	}

	decisions, err := f.dedup.Check(ctx, normalized)
	if err != nil {
		// Uniqueness constraints still reject duplicates at insert time.
		slog.Warn("dedup check failed, relying on store constraints", "source", src.Name, "error", err)
		decisions = nil
	}

	for i := range normalized {
		item := &normalized[i]
		if decisions != nil && !decisions[i].Unique {
			run.ItemsSkipped++
			slog.Debug("skipped duplicate item", "source", src.Name, "url", item.CanonicalURL, "reason", decisions[i].Reason)
			continue
		}
		run.ItemsUnique++

		id, err := f.store.InsertArticle(ctx, item)
		if errors.Is(err, storage.ErrDuplicate) {
			run.ItemsSkipped++
			slog.Debug("late duplicate rejected by store", "source", src.Name, "url", item.CanonicalURL)
			continue
		}
		if err != nil {
			run.AddError(err.Error())
			slog.Warn("failed to save article", "source", src.Name, "url", item.CanonicalURL, "error", err)
			continue
		}

		run.ItemsSaved++
		run.SavedIDs = append(run.SavedIDs, id)
		f.dedup.MarkSeen(*item)
		f.sink.Publish(broadcast.NewArticle(id, src.Name, item))
		metrics.ArticlesIngested.WithLabelValues(src.Slug).Inc()
	}

	run.Status = models.RunCompleted
	if len(run.Errors) > 0 {
		run.Status = models.RunPartial
	}

	slog.Info("fetched feed",
		"source", src.Name,
		"discovered", run.ItemsDiscovered,
		"saved", run.ItemsSaved,
		"skipped", run.ItemsSkipped,
		"invalid", run.ItemsInvalid,
	)
	return run
}

func (f *Fetcher) recordHealth(ctx context.Context, src models.Source, fetchErr error, elapsed time.Duration) {
	metrics.RecordFetch(src.Slug, fetchErr == nil, elapsed)

	out := models.FetchOutcome{Success: fetchErr == nil, Duration: elapsed, At: time.Now().UTC()}
	if fetchErr != nil {
		out.Error = fetchErr.Error()
	}
	updated, err := f.store.RecordFetchResult(ctx, src.ID, out, f.cfg.UnhealthyThreshold)
	if err != nil {
		slog.Warn("failed to update source health", "source", src.Name, "error", err)
		return
	}
	if src.IsHealthy && !updated.IsHealthy {
		slog.Warn("source marked unhealthy", "source", src.Name, "consecutive_errors", updated.ConsecutiveErrors)
	}
}

// fetchItems downloads and parses a source, retrying transient failures.
func (f *Fetcher) fetchItems(ctx context.Context, src models.Source) ([]models.RawItem, error) {
	var items []models.RawItem
	policy := retry.Policy{MaxAttempts: f.cfg.MaxAttempts, Delay: f.cfg.RetryDelay}

	_, err := retry.Do(ctx, policy, retry.IsTransient, func(ctx context.Context, attempt int) error {
		data, err := f.fetchDocument(ctx, src.URL)
		if err != nil {
			if attempt < policy.MaxAttempts && retry.IsTransient(err) {
				slog.Warn("feed fetch failed, retrying", "source", src.Name, "attempt", attempt, "error", err)
			}
			return err
		}

		if src.Type == models.SourceTypeScrape {
			items, err = scrapeListing(data, src.URL, f.cfg.MaxItemsPerFeed)
			return err
		}
		feed, err := parseFeed(data, f.cfg.MaxItemsPerFeed)
		if err != nil {
			return err
		}
		items = feed.Items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// fetchDocument GETs a URL and returns at most maxDocumentBytes of its body.
func (f *Fetcher) fetchDocument(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %q: %w", rawURL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: rawURL, Code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", rawURL, err)
	}
	return data, nil
}

// TestResult is the outcome of a parse-only dry run.
type TestResult struct {
	Success   bool   `json:"success"`
	Title     string `json:"title,omitempty"`
	ItemCount int    `json:"itemCount"`
	Error     string `json:"error,omitempty"`
}

// TestFeed downloads and parses a feed URL without persisting anything.
func (f *Fetcher) TestFeed(ctx context.Context, feedURL string) TestResult {
	data, err := f.fetchDocument(ctx, feedURL)
	if err != nil {
		return TestResult{Error: err.Error()}
	}
	feed, err := parseFeed(data, 0)
	if err != nil {
		return TestResult{Error: err.Error()}
	}
	return TestResult{Success: true, Title: feed.Title, ItemCount: len(feed.Items)}
}

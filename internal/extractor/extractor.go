// Package extractor fetches article pages, strips boilerplate, detects
// paywalls and extracts clean text with best-effort metadata.
package extractor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hoanghai1803/autopulse/internal/metrics"
	"github.com/hoanghai1803/autopulse/internal/models"
	"github.com/hoanghai1803/autopulse/internal/ratelimit"
	"github.com/hoanghai1803/autopulse/internal/retry"
)

const maxPageBytes = 5 << 20

// DefaultUserAgent identifies the extractor to publishers.
const DefaultUserAgent = "Mozilla/5.0 (compatible; AutoPulse/1.0; +https://github.com/hoanghai1803/autopulse)"

// Config controls page fetching and batching.
type Config struct {
	Timeout          time.Duration
	MaxAttempts      int
	RetryDelay       time.Duration
	Concurrency      int
	BatchDelay       time.Duration
	MinContentLength int
	UserAgent        string
	HostInterval     time.Duration
}

// HTTPError is returned when a page answers with a non-2xx status.
type HTTPError struct {
	URL  string
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.Code)
}

// StatusCode implements retry.StatusCoder.
func (e *HTTPError) StatusCode() int { return e.Code }

// Result is the outcome of extracting one URL. Content is set when Success
// is true, Error otherwise.
type Result struct {
	URL     string                   `json:"url"`
	Success bool                     `json:"success"`
	Content *models.ExtractedContent `json:"content,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// Extractor downloads and parses article pages.
type Extractor struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.HostLimiter
}

// New creates an Extractor, filling zero config values with defaults.
func New(cfg Config) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = 200
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &Extractor{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: ratelimit.NewHostLimiter(cfg.HostInterval),
	}
}

// Extract fetches one page and extracts its content. Transient failures
// (timeouts, connection resets, 5xx, 429) are retried; other 4xx are not.
func (e *Extractor) Extract(ctx context.Context, pageURL string) Result {
	var data []byte
	policy := retry.Policy{MaxAttempts: e.cfg.MaxAttempts, Delay: e.cfg.RetryDelay}
	attempts, err := retry.Do(ctx, policy, retry.IsTransient, func(ctx context.Context, _ int) error {
		var err error
		data, err = e.fetch(ctx, pageURL)
		return err
	})
	if err != nil {
		metrics.Extractions.WithLabelValues(models.ContentFailed).Inc()
		slog.Warn("content extraction failed", "url", pageURL, "attempts", attempts, "error", err)
		return Result{URL: pageURL, Error: err.Error()}
	}

	content, err := Parse(data, pageURL, e.cfg.MinContentLength)
	if err != nil {
		metrics.Extractions.WithLabelValues(models.ContentFailed).Inc()
		return Result{URL: pageURL, Error: err.Error()}
	}

	metrics.Extractions.WithLabelValues(content.ContentStatus).Inc()
	slog.Debug("extracted content", "url", pageURL, "status", content.ContentStatus, "words", content.WordCount)
	return Result{URL: pageURL, Success: true, Content: content}
}

// ExtractBatch extracts urls in chunks of Config.Concurrency with
// Config.BatchDelay between chunks. Results are in input order.
func (e *Extractor) ExtractBatch(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))
	for start := 0; start < len(urls); start += e.cfg.Concurrency {
		if start > 0 && e.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				for i := start; i < len(urls); i++ {
					results[i] = Result{URL: urls[i], Error: ctx.Err().Error()}
				}
				return results
			case <-time.After(e.cfg.BatchDelay):
			}
		}

		end := min(start+e.cfg.Concurrency, len(urls))
		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				results[i] = e.Extract(ctx, urls[i])
				return nil
			})
		}
		_ = g.Wait()
	}
	return results
}

func (e *Extractor) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if err := e.limiter.Wait(ctx, pageURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %q: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{URL: pageURL, Code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", pageURL, err)
	}
	return data, nil
}

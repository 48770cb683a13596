// Package classifier labels batches of articles with an LLM and validates
// the answers against closed vocabularies.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/hoanghai1803/autopulse/internal/ai"
	"github.com/hoanghai1803/autopulse/internal/cost"
	"github.com/hoanghai1803/autopulse/internal/metrics"
	"github.com/hoanghai1803/autopulse/internal/models"
	"github.com/hoanghai1803/autopulse/internal/retry"
)

var (
	// ErrUnavailable means no provider is configured.
	ErrUnavailable = errors.New("classifier unavailable: no LLM credential configured")
	// ErrMalformedResponse means the reply was not a JSON array. It is
	// retried.
	ErrMalformedResponse = errors.New("malformed LLM response")
	// ErrLengthMismatch means the reply had a different number of items
	// than the batch. The whole batch fails.
	ErrLengthMismatch = errors.New("LLM response length does not match batch")
)

// Config controls prompting, validation and pacing.
type Config struct {
	MaxBodyChars    int
	MaxTokens       int
	Temperature     float64
	ReviewThreshold float64
	MaxAttempts     int
	RetryDelay      time.Duration
	// BatchDelay is the minimum spacing between two batches.
	BatchDelay time.Duration
}

// CostRecorder receives the authoritative usage of every successful call.
type CostRecorder interface {
	Record(u cost.Usage) float64
}

// Input is one article to classify.
type Input struct {
	ID     int64
	Title  string
	Source string
	Body   string
}

// Result is the verdict for one input. Exactly one of Classification and
// Err is set.
type Result struct {
	ID             int64
	Classification *models.Classification
	Err            error
}

// BatchResult reports a whole batch. When Err is set every result carries
// it and no article was classified.
type BatchResult struct {
	Results  []Result
	Usage    ai.Usage
	CostUSD  float64
	Attempts int
	Err      error
}

// Classifier sends batches to a provider. A nil provider makes every batch
// fail with ErrUnavailable.
type Classifier struct {
	provider ai.Provider
	recorder CostRecorder
	cfg      Config
	limiter  *rate.Limiter
}

// New creates a Classifier.
func New(provider ai.Provider, recorder CostRecorder, cfg Config) *Classifier {
	if cfg.MaxBodyChars <= 0 {
		cfg.MaxBodyChars = 2000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = 0.6
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	limit := rate.Inf
	if cfg.BatchDelay > 0 {
		limit = rate.Every(cfg.BatchDelay)
	}
	return &Classifier{
		provider: provider,
		recorder: recorder,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Available reports whether a provider is configured.
func (c *Classifier) Available() bool {
	return c.provider != nil
}

// ClassifyBatch classifies inputs with one prompt. Malformed JSON, 5xx and
// 429 answers retry the whole batch; a length mismatch fails the whole
// batch; vocabulary and confidence problems fail only the affected article.
func (c *Classifier) ClassifyBatch(ctx context.Context, inputs []Input) *BatchResult {
	res := &BatchResult{}
	if len(inputs) == 0 {
		return res
	}
	if c.provider == nil {
		return c.fail(res, inputs, ErrUnavailable)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return c.fail(res, inputs, err)
	}

	prompt := make([]ai.PromptArticle, len(inputs))
	for i, in := range inputs {
		prompt[i] = ai.PromptArticle{Title: in.Title, Source: in.Source, Body: truncate(in.Body, c.cfg.MaxBodyChars)}
	}
	system, user := ai.ClassificationPrompt(prompt)

	var (
		items []json.RawMessage
		model string
	)
	policy := retry.Policy{MaxAttempts: c.cfg.MaxAttempts, Delay: c.cfg.RetryDelay}
	attempts, err := retry.Do(ctx, policy, isRetryable, func(ctx context.Context, attempt int) error {
		completion, err := c.provider.Complete(ctx, ai.Request{
			System:      system,
			User:        user,
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
		})
		if err != nil {
			slog.Warn("llm call failed", "provider", c.provider.Name(), "attempt", attempt, "error", err)
			return err
		}

		res.Usage.PromptTokens += completion.Usage.PromptTokens
		res.Usage.CompletionTokens += completion.Usage.CompletionTokens
		if c.recorder != nil {
			res.CostUSD += c.recorder.Record(cost.Usage{
				PromptTokens:     completion.Usage.PromptTokens,
				CompletionTokens: completion.Usage.CompletionTokens,
			})
		}
		model = completion.Model

		var parsed []json.RawMessage
		if err := json.Unmarshal([]byte(ai.ExtractJSON(completion.Text)), &parsed); err != nil {
			slog.Warn("llm returned malformed json", "attempt", attempt, "error", err)
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if len(parsed) != len(inputs) {
			return fmt.Errorf("%w: got %d items for %d articles", ErrLengthMismatch, len(parsed), len(inputs))
		}
		items = parsed
		return nil
	})
	res.Attempts = attempts
	if err != nil {
		slog.Warn("classification batch failed", "articles", len(inputs), "attempts", attempts, "error", err)
		return c.fail(res, inputs, err)
	}

	n := len(inputs)
	res.Results = make([]Result, n)
	for i, in := range inputs {
		cls, err := c.decode(items[i])
		if err != nil {
			res.Results[i] = Result{ID: in.ID, Err: err}
			metrics.Classifications.WithLabelValues(models.StatusFailed).Inc()
			slog.Info("rejected classification", "article_id", in.ID, "error", err)
			continue
		}
		cls.ArticleID = in.ID
		cls.Model = model
		cls.PromptTokens = res.Usage.PromptTokens / n
		cls.CompletionTokens = res.Usage.CompletionTokens / n
		cls.CostUSD = res.CostUSD / float64(n)
		res.Results[i] = Result{ID: in.ID, Classification: cls}
		metrics.Classifications.WithLabelValues(models.StatusProcessed).Inc()
	}
	return res
}

func (c *Classifier) fail(res *BatchResult, inputs []Input, err error) *BatchResult {
	res.Err = err
	res.Results = make([]Result, len(inputs))
	for i, in := range inputs {
		res.Results[i] = Result{ID: in.ID, Err: err}
	}
	metrics.Classifications.WithLabelValues(models.StatusFailed).Add(float64(len(inputs)))
	return res
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrMalformedResponse) || retry.IsTransient(err)
}

// responseItem is one element of the model's JSON array. Loosely typed
// fields are validated by hand.
type responseItem struct {
	Industry    string   `json:"industry"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Confidence  any      `json:"confidence"`
	KeyEntities []string `json:"key_entities"`
	Language    string   `json:"language"`
	Sentiment   string   `json:"sentiment"`
	Importance  any      `json:"importance"`
	Tags        []string `json:"tags"`
}

// decode parses one array element. A wrong-typed field rejects only that
// article.
func (c *Classifier) decode(raw json.RawMessage) (*models.Classification, error) {
	var item responseItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("invalid classification object: %w", err)
	}
	return c.validate(item)
}

func (c *Classifier) validate(item responseItem) (*models.Classification, error) {
	industry, ok := canonical(models.Industries, item.Industry)
	if !ok {
		return nil, fmt.Errorf("industry %q not in vocabulary", item.Industry)
	}
	category, ok := canonical(models.Categories, item.Category)
	if !ok {
		return nil, fmt.Errorf("category %q not in vocabulary", item.Category)
	}
	confidence, ok := toFloat(item.Confidence)
	if !ok || confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence %v is not a number in [0,1]", item.Confidence)
	}

	sentiment := strings.ToLower(strings.TrimSpace(item.Sentiment))
	switch sentiment {
	case "positive", "neutral", "negative":
	default:
		sentiment = ""
	}
	importance := 0
	if f, ok := toFloat(item.Importance); ok && f >= 1 && f <= 5 {
		importance = int(math.Round(f))
	}

	review := confidence < c.cfg.ReviewThreshold
	return &models.Classification{
		OriginalIndustry: industry,
		FinalIndustry:    industry,
		IndustryFiltered: industry == models.IndustryAutomotive && review,
		Category:         category,
		AITitle:          strings.TrimSpace(item.Title),
		Summary:          strings.TrimSpace(item.Summary),
		Confidence:       confidence,
		KeyEntities:      nonNil(item.KeyEntities),
		Language:         strings.ToLower(strings.TrimSpace(item.Language)),
		Sentiment:        sentiment,
		Importance:       importance,
		Tags:             nonNil(item.Tags),
		RequiresReview:   review,
	}, nil
}

// canonical returns the vocabulary spelling of s, ignoring case.
func canonical(vocab []string, s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, v := range vocab {
		if strings.EqualFold(v, s) {
			return v, true
		}
	}
	return "", false
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

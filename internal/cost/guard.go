// Package cost tracks LLM spend against daily and monthly budgets and
// decides which articles may be sent to the classifier.
package cost

import (
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hoanghai1803/autopulse/internal/metrics"
	"github.com/hoanghai1803/autopulse/internal/models"
)

// Skip reasons.
const (
	ReasonDailyBudget   = "daily_budget_exceeded"
	ReasonMonthlyBudget = "monthly_budget_exceeded"
	ReasonTooShort      = "content_too_short"
	ReasonPaywalled     = "paywalled"
)

const (
	// charsPerToken is the heuristic used for pre-call estimates.
	charsPerToken = 4
	// estimatedCompletionTokens is the expected output per article.
	estimatedCompletionTokens = 150
)

// Config holds budget limits and token prices.
type Config struct {
	DailyBudgetUSD   float64
	MonthlyBudgetUSD float64
	MinContentLength int
	SkipPaywalled    bool
	// BatchFraction caps the estimated cost of one batch as a fraction of
	// the daily budget.
	BatchFraction   float64
	InputCostPer1K  float64
	OutputCostPer1K float64
	// MaxBodyChars is how much body text the classifier sends per article.
	MaxBodyChars int
}

// Decision is the verdict of ShouldSkip.
type Decision struct {
	Skip   bool   `json:"skip"`
	Reason string `json:"reason,omitempty"`
}

// Terminal reports whether the skip depends on the article itself rather
// than on the budget, so retrying later cannot help.
func (d Decision) Terminal() bool {
	return d.Reason == ReasonTooShort || d.Reason == ReasonPaywalled
}

// Skipped pairs an article with the reason it was left out of a batch.
type Skipped struct {
	Article models.Article
	Decision
}

// Usage is the authoritative token count reported by a provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Guard is the process-local cost ledger. It is safe for concurrent use.
type Guard struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	day   models.CostBucket
	month models.CostBucket
}

// NewGuard creates a Guard with empty buckets for the current day and month.
func NewGuard(cfg Config) *Guard {
	if cfg.BatchFraction <= 0 || cfg.BatchFraction > 1 {
		cfg.BatchFraction = 0.1
	}
	g := &Guard{cfg: cfg, now: time.Now}
	g.rollover()
	return g
}

// DayPeriod returns the ledger period key for t's day.
func DayPeriod(t time.Time) string { return "day:" + t.UTC().Format("2006-01-02") }

// MonthPeriod returns the ledger period key for t's month.
func MonthPeriod(t time.Time) string { return "month:" + t.UTC().Format("2006-01") }

// rollover resets buckets whose period has ended. Callers hold g.mu or own g.
func (g *Guard) rollover() {
	now := g.now()
	if p := DayPeriod(now); g.day.Period != p {
		g.day = models.CostBucket{Period: p}
	}
	if p := MonthPeriod(now); g.month.Period != p {
		g.month = models.CostBucket{Period: p}
	}
}

// EstimateCost is the pre-call heuristic for an article of the given length:
// chars/4 prompt tokens plus a fixed completion allowance.
func (g *Guard) EstimateCost(chars int) float64 {
	prompt := float64(chars) / charsPerToken
	return prompt/1000*g.cfg.InputCostPer1K + estimatedCompletionTokens/1000.0*g.cfg.OutputCostPer1K
}

// ShouldSkip decides whether an article may be classified now. Budget
// checks use authoritative post-call spend only.
func (g *Guard) ShouldSkip(a *models.Article) Decision {
	g.mu.Lock()
	g.rollover()
	day, month := g.day.CostUSD, g.month.CostUSD
	g.mu.Unlock()

	switch {
	case g.cfg.DailyBudgetUSD > 0 && day >= g.cfg.DailyBudgetUSD:
		return Decision{Skip: true, Reason: ReasonDailyBudget}
	case g.cfg.MonthlyBudgetUSD > 0 && month >= g.cfg.MonthlyBudgetUSD:
		return Decision{Skip: true, Reason: ReasonMonthlyBudget}
	case g.cfg.SkipPaywalled && (a.IsPaywalled || a.ContentStatus == models.ContentPaywalled):
		return Decision{Skip: true, Reason: ReasonPaywalled}
	case utf8.RuneCountInString(a.BodyText()) < g.cfg.MinContentLength:
		return Decision{Skip: true, Reason: ReasonTooShort}
	}
	return Decision{}
}

// OptimizeBatch drops skip-eligible articles, then accepts the rest in
// order while the estimated batch cost stays within BatchFraction of the
// daily budget. Articles beyond the cap are in neither list and wait for a
// later tick. The first eligible article is always accepted so that one
// oversized article cannot stall the queue.
func (g *Guard) OptimizeBatch(articles []models.Article) (accepted []models.Article, skipped []Skipped) {
	limit := g.cfg.BatchFraction * g.cfg.DailyBudgetUSD
	var estimate float64
	for _, a := range articles {
		if d := g.ShouldSkip(&a); d.Skip {
			skipped = append(skipped, Skipped{Article: a, Decision: d})
			metrics.BudgetSkips.WithLabelValues(d.Reason).Inc()
			continue
		}

		est := g.EstimateCost(g.promptChars(&a))
		if limit > 0 && len(accepted) > 0 && estimate+est > limit {
			slog.Info("batch cost cap reached, deferring remaining articles",
				"accepted", len(accepted),
				"estimate_usd", estimate,
				"cap_usd", limit,
			)
			break
		}
		estimate += est
		accepted = append(accepted, a)
	}
	return accepted, skipped
}

func (g *Guard) promptChars(a *models.Article) int {
	body := utf8.RuneCountInString(a.BodyText())
	if g.cfg.MaxBodyChars > 0 && body > g.cfg.MaxBodyChars {
		body = g.cfg.MaxBodyChars
	}
	return utf8.RuneCountInString(a.Title) + body
}

// Price converts token usage into dollars at the configured rates.
func (g *Guard) Price(u Usage) float64 {
	return float64(u.PromptTokens)/1000*g.cfg.InputCostPer1K +
		float64(u.CompletionTokens)/1000*g.cfg.OutputCostPer1K
}

// Record adds the actual usage of one LLM call to the ledger and returns
// its cost.
func (g *Guard) Record(u Usage) float64 {
	cost := g.Price(u)

	g.mu.Lock()
	g.rollover()
	now := g.now().UTC()
	for _, b := range []*models.CostBucket{&g.day, &g.month} {
		b.PromptTokens += u.PromptTokens
		b.CompletionTokens += u.CompletionTokens
		b.CostUSD += cost
		b.APICalls++
		b.UpdatedAt = now
	}
	day := g.day.CostUSD
	g.mu.Unlock()

	metrics.RecordUsage(u.PromptTokens, u.CompletionTokens, cost)
	if g.cfg.DailyBudgetUSD > 0 && day >= g.cfg.DailyBudgetUSD {
		slog.Warn("daily llm budget reached", "spent_usd", day, "budget_usd", g.cfg.DailyBudgetUSD)
	}
	return cost
}

// RecordExtraction counts one content extraction.
func (g *Guard) RecordExtraction() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	g.day.Extractions++
	g.month.Extractions++
}

// TodayCost returns the spend since the start of the current UTC day.
func (g *Guard) TodayCost() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	return g.day.CostUSD
}

// MonthlyCost returns the spend since the start of the current UTC month.
func (g *Guard) MonthlyCost() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	return g.month.CostUSD
}

// Budgets returns the configured daily and monthly limits in dollars.
func (g *Guard) Budgets() (daily, monthly float64) {
	return g.cfg.DailyBudgetUSD, g.cfg.MonthlyBudgetUSD
}

// Snapshot returns copies of the current day and month buckets.
func (g *Guard) Snapshot() []models.CostBucket {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	return []models.CostBucket{g.day, g.month}
}

// Load merges persisted buckets into the ledger. Buckets for other periods
// are ignored, and counters only ever grow.
func (g *Guard) Load(buckets []models.CostBucket) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	for _, b := range buckets {
		switch b.Period {
		case g.day.Period:
			mergeMax(&g.day, b)
		case g.month.Period:
			mergeMax(&g.month, b)
		}
	}
	// A month always includes its current day.
	mergeMax(&g.month, g.day)
}

func mergeMax(dst *models.CostBucket, src models.CostBucket) {
	dst.PromptTokens = max(dst.PromptTokens, src.PromptTokens)
	dst.CompletionTokens = max(dst.CompletionTokens, src.CompletionTokens)
	dst.CostUSD = max(dst.CostUSD, src.CostUSD)
	dst.APICalls = max(dst.APICalls, src.APICalls)
	dst.Extractions = max(dst.Extractions, src.Extractions)
	if src.UpdatedAt.After(dst.UpdatedAt) {
		dst.UpdatedAt = src.UpdatedAt
	}
}

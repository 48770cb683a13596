package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hoanghai1803/autopulse/internal/ai"
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

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	db, err := storage.OpenDatabase(":memory:")
	if err != nil {
		t.Fatalf("OpenDatabase error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations error: %v", err)
	}
	return storage.NewStore(db)
}

// fakeProvider answers every prompt with one valid item per article, or
// one item short when short is set.
type fakeProvider struct {
	mu    sync.Mutex
	short bool
	calls int
}

func (p *fakeProvider) Name() string { return "fake/model" }

func (p *fakeProvider) Complete(_ context.Context, req ai.Request) (*ai.Completion, error) {
	p.mu.Lock()
	p.calls++
	short := p.short
	p.mu.Unlock()

	n := strings.Count(req.User, "\nTitle: ")
	if short {
		n--
	}
	items := make([]string, n)
	for i := range items {
		items[i] = `{"industry":"Automotive","category":"Launch","title":"Carmaker launches EV",
			"summary":"A launch.","confidence":0.9,"key_entities":["Rivian"],"language":"en",
			"sentiment":"positive","importance":3,"tags":["ev"]}`
	}
	return &ai.Completion{
		Text:  "[" + strings.Join(items, ",") + "]",
		Model: "fake-model",
		Usage: ai.Usage{PromptTokens: 1000, CompletionTokens: 200},
	}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingSink struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (s *recordingSink) Publish(ev broadcast.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) count(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

var storyBody = strings.Repeat("The carmaker confirmed the electric crossover will be built in Georgia next year. ", 6)

// newsServer serves an RSS feed at /feed whose items link to article pages
// on the same server.
func newsServer(t *testing.T, stories int) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/feed" {
			var b strings.Builder
			b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Wire</title>`)
			for i := 1; i <= stories; i++ {
				fmt.Fprintf(&b, "<item><title>Rivian unveils crossover number %d</title>"+
					"<link>%s/news/story-%d</link><description>Story %d.</description></item>",
					i, srv.URL, i, i)
			}
			b.WriteString(`</channel></rss>`)
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprint(w, b.String())
			return
		}
		if strings.HasPrefix(r.URL.Path, "/news/") {
			fmt.Fprintf(w, `<html><head><title>Story</title></head><body><article><h1>Story</h1><p>%s</p></article></body></html>`, storyBody)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	store    *storage.Store
	pipeline *Pipeline
	guard    *cost.Guard
	provider *fakeProvider
	sink     *recordingSink
}

func newTestEnv(t *testing.T, provider *fakeProvider, guardCfg cost.Config, cfg Config) *testEnv {
	t.Helper()
	store := newTestStore(t)
	sink := &recordingSink{}
	guard := cost.NewGuard(guardCfg)
	dd := dedup.New(store, dedup.Config{})

	var p ai.Provider
	if provider != nil {
		p = provider
	}
	cls := classifier.New(p, guard, classifier.Config{MaxAttempts: 2, RetryDelay: time.Millisecond})

	pl := New(cfg, Deps{
		Store:      store,
		Fetcher:    feeds.NewFetcher(feeds.Config{Timeout: 5 * time.Second, RetryDelay: time.Millisecond}, store, dd, sink),
		Dedup:      dd,
		Extractor:  extractor.New(extractor.Config{Timeout: 5 * time.Second, RetryDelay: time.Millisecond, MinContentLength: 100}),
		Enricher:   enrich.New(nil),
		Guard:      guard,
		Classifier: cls,
		Sink:       sink,
	})
	return &testEnv{store: store, pipeline: pl, guard: guard, provider: provider, sink: sink}
}

var defaultGuard = cost.Config{
	DailyBudgetUSD:   10,
	MonthlyBudgetUSD: 100,
	MinContentLength: 50,
	SkipPaywalled:    true,
	InputCostPer1K:   0.001,
	OutputCostPer1K:  0.002,
}

func createSource(t *testing.T, store *storage.Store, url string) models.Source {
	t.Helper()
	src := models.Source{Slug: "wire", Name: "Wire", URL: url, Type: models.SourceTypeRSS, IsActive: true}
	id, err := store.CreateSource(context.Background(), &src)
	if err != nil {
		t.Fatalf("CreateSource error: %v", err)
	}
	src.ID = id
	return src
}

// insertArticle stores an article and, when text is not empty, a full
// extraction for it.
func insertArticle(t *testing.T, store *storage.Store, sourceID int64, n int, text string) int64 {
	t.Helper()
	ctx := context.Background()
	url := fmt.Sprintf("https://news.example/story-%d", n)
	id, err := store.InsertArticle(ctx, &models.NormalizedItem{
		SourceID:           sourceID,
		Title:              fmt.Sprintf("Story %d", n),
		URL:                url,
		CanonicalURL:       url,
		Snippet:            "Short snippet.",
		TitleFingerprint:   fmt.Sprintf("title-%d", n),
		ContentFingerprint: fmt.Sprintf("content-%d", n),
	})
	if err != nil {
		t.Fatalf("InsertArticle error: %v", err)
	}
	if text != "" {
		if err := store.SaveExtraction(ctx, id, &models.ExtractedContent{
			CleanText: text, ContentStatus: models.ContentFull, WordCount: len(strings.Fields(text)),
		}); err != nil {
			t.Fatalf("SaveExtraction error: %v", err)
		}
	}
	return id
}

func getArticle(t *testing.T, store *storage.Store, id int64) *models.Article {
	t.Helper()
	a, err := store.GetArticle(context.Background(), id)
	if err != nil {
		t.Fatalf("GetArticle(%d) error: %v", id, err)
	}
	return a
}

func TestFullRun_AttributesStagesToRuns(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, defaultGuard, Config{})
	ctx := context.Background()
	srv := newsServer(t, 3)
	src := createSource(t, env.store, srv.URL+"/feed")

	res, err := env.pipeline.FullRun(ctx)
	if err != nil {
		t.Fatalf("FullRun error: %v", err)
	}
	if res.Ingest.NewArticles != 3 || res.Extract.Extracted != 3 || res.Classify.Processed != 3 {
		t.Errorf("result = ingest %d extract %d classify %d, want 3/3/3",
			res.Ingest.NewArticles, res.Extract.Extracted, res.Classify.Processed)
	}

	runs, err := env.store.ListRuns(ctx, src.ID, 10)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	run := runs[0]
	if run.Status != models.RunCompleted || run.FinishedAt == nil {
		t.Errorf("run status = %q finished %v, want completed", run.Status, run.FinishedAt)
	}
	if run.ItemsSaved != 3 || run.ContentExtracted != 3 || run.Classified != 3 {
		t.Errorf("run counters = saved %d extracted %d classified %d, want 3/3/3",
			run.ItemsSaved, run.ContentExtracted, run.Classified)
	}
	if run.LLMTokens != 3*(1000/3+200/3) || run.LLMCostUSD <= 0 {
		t.Errorf("run llm = %d tokens $%v, want the batch usage split across articles", run.LLMTokens, run.LLMCostUSD)
	}

	if got := env.sink.count(broadcast.EventNewArticle); got != 3 {
		t.Errorf("new_article events = %d, want 3", got)
	}
	if got := env.sink.count(broadcast.EventArticleUpdated); got != 3 {
		t.Errorf("article_updated events = %d, want 3", got)
	}

	articles, _, err := env.store.ListArticles(ctx, storage.ArticleFilter{})
	if err != nil {
		t.Fatalf("ListArticles error: %v", err)
	}
	for _, a := range articles {
		if a.GPTStatus != models.StatusProcessed || a.Classification == nil {
			t.Errorf("article %d status %q, want processed", a.ID, a.GPTStatus)
		}
		if a.Enrichment == nil || len(a.Enrichment.Locations) == 0 {
			t.Errorf("article %d enrichment = %+v, want locations", a.ID, a.Enrichment)
		}
	}
	if env.guard.TodayCost() <= 0 {
		t.Error("guard did not record spend")
	}
}

func TestIngest_FinishesRunsWithoutDownstreamWork(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, defaultGuard, Config{})
	ctx := context.Background()
	srv := newsServer(t, 2)
	src := createSource(t, env.store, srv.URL+"/feed")

	res, err := env.pipeline.Ingest(ctx)
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if res.NewArticles != 2 || res.Sources != 1 || len(res.Failed) != 0 {
		t.Errorf("result = %+v", res)
	}

	runs, _ := env.store.ListRuns(ctx, src.ID, 10)
	if len(runs) != 1 || runs[0].Status != models.RunCompleted || runs[0].Classified != 0 {
		t.Errorf("runs = %+v, want one completed run", runs)
	}
	if env.provider.callCount() != 0 {
		t.Error("ingest called the classifier")
	}
}

func TestClassifyPending_LengthMismatchRetriesThenFails(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{short: true}, defaultGuard, Config{MaxArticleAttempts: 2})
	ctx := context.Background()
	src := createSource(t, env.store, "https://news.example/rss")
	var ids []int64
	for i := 1; i <= 3; i++ {
		ids = append(ids, insertArticle(t, env.store, src.ID, i, storyBody))
	}

	res, err := env.pipeline.ClassifyPending(ctx)
	if err != nil {
		t.Fatalf("ClassifyPending error: %v", err)
	}
	if res.Processed != 0 || res.Failed != 3 {
		t.Errorf("first sweep = processed %d failed %d, want 0/3", res.Processed, res.Failed)
	}
	for _, id := range ids {
		if a := getArticle(t, env.store, id); a.GPTStatus != models.StatusRetry {
			t.Errorf("article %d status = %q, want retry", id, a.GPTStatus)
		}
	}

	if _, err := env.pipeline.ClassifyPending(ctx); err != nil {
		t.Fatalf("second ClassifyPending error: %v", err)
	}
	for _, id := range ids {
		a := getArticle(t, env.store, id)
		if a.GPTStatus != models.StatusFailed || a.GPTError == "" || a.Classification != nil {
			t.Errorf("article %d = %q %q, want failed with error", id, a.GPTStatus, a.GPTError)
		}
	}

	res, _ = env.pipeline.ClassifyPending(ctx)
	if res.Processed+res.Failed != 0 {
		t.Errorf("third sweep touched failed articles: %+v", res)
	}

	if err := env.pipeline.RetryArticle(ctx, ids[0]); err != nil {
		t.Fatalf("RetryArticle error: %v", err)
	}
	if a := getArticle(t, env.store, ids[0]); a.GPTStatus != models.StatusPending {
		t.Errorf("retried status = %q, want pending", a.GPTStatus)
	}
	if err := env.pipeline.RetryArticle(ctx, ids[0]); !errors.Is(err, storage.ErrInvalidState) {
		t.Errorf("retrying pending article: err = %v, want ErrInvalidState", err)
	}
}

func TestClassifyPending_Unavailable(t *testing.T) {
	env := newTestEnv(t, nil, defaultGuard, Config{})
	ctx := context.Background()
	src := createSource(t, env.store, "https://news.example/rss")
	id := insertArticle(t, env.store, src.ID, 1, storyBody)

	res, err := env.pipeline.ClassifyPending(ctx)
	if !errors.Is(err, classifier.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}
	a := getArticle(t, env.store, id)
	if a.GPTStatus != models.StatusPending || !strings.Contains(a.GPTError, "unavailable") {
		t.Errorf("article = %q %q, want pending with note", a.GPTStatus, a.GPTError)
	}
}

func TestClassifyPending_BudgetExhaustedLeavesPending(t *testing.T) {
	guardCfg := defaultGuard
	guardCfg.DailyBudgetUSD = 0.01
	env := newTestEnv(t, &fakeProvider{}, guardCfg, Config{})
	ctx := context.Background()
	src := createSource(t, env.store, "https://news.example/rss")
	id := insertArticle(t, env.store, src.ID, 1, storyBody)

	env.guard.Record(cost.Usage{PromptTokens: 20000}) // $0.02

	res, err := env.pipeline.ClassifyPending(ctx)
	if err != nil {
		t.Fatalf("ClassifyPending error: %v", err)
	}
	if res.Skipped != 1 || env.provider.callCount() != 0 {
		t.Errorf("skipped %d with %d calls, want 1 and 0", res.Skipped, env.provider.callCount())
	}
	a := getArticle(t, env.store, id)
	if a.GPTStatus != models.StatusPending || a.GPTError != "skipped: "+cost.ReasonDailyBudget {
		t.Errorf("article = %q %q, want pending budget note", a.GPTStatus, a.GPTError)
	}
}

func TestClassifyPending_ShortContent(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, defaultGuard, Config{})
	ctx := context.Background()
	src := createSource(t, env.store, "https://news.example/rss")
	extracted := insertArticle(t, env.store, src.ID, 1, "Too short.")
	unfetched := insertArticle(t, env.store, src.ID, 2, "")

	if _, err := env.pipeline.ClassifyPending(ctx); err != nil {
		t.Fatalf("ClassifyPending error: %v", err)
	}

	if a := getArticle(t, env.store, extracted); a.GPTStatus != models.StatusFailed {
		t.Errorf("extracted short article status = %q, want failed", a.GPTStatus)
	}
	if a := getArticle(t, env.store, unfetched); a.GPTStatus != models.StatusPending {
		t.Errorf("unfetched article status = %q, want pending until extraction", a.GPTStatus)
	}
	if env.provider.callCount() != 0 {
		t.Error("short articles were sent to the classifier")
	}
}

func TestCleanup_AbandonsStaleRuns(t *testing.T) {
	env := newTestEnv(t, nil, defaultGuard, Config{})
	ctx := context.Background()
	src := createSource(t, env.store, "https://news.example/rss")

	stale := &models.IngestionRun{ID: "stale", SourceID: src.ID, StartedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &models.IngestionRun{ID: "fresh", SourceID: src.ID, StartedAt: time.Now()}
	for _, r := range []*models.IngestionRun{stale, fresh} {
		if err := env.store.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun error: %v", err)
		}
	}
	failed := insertArticle(t, env.store, src.ID, 1, storyBody)
	if err := env.store.MarkClassificationFailed(ctx, failed, models.StatusFailed, "boom"); err != nil {
		t.Fatalf("MarkClassificationFailed error: %v", err)
	}

	res, err := env.pipeline.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup error: %v", err)
	}
	if res.RunsAbandoned != 1 {
		t.Errorf("RunsAbandoned = %d, want 1", res.RunsAbandoned)
	}
	if res.ArticlesPurged != 0 {
		t.Errorf("ArticlesPurged = %d, want 0 inside retention", res.ArticlesPurged)
	}

	runs, _ := env.store.ListRuns(ctx, src.ID, 10)
	for _, r := range runs {
		want := models.RunStarted
		if r.ID == "stale" {
			want = models.RunFailed
		}
		if r.Status != want {
			t.Errorf("run %s status = %q, want %q", r.ID, r.Status, want)
		}
	}
}

func TestSnapshotAndRestoreCosts(t *testing.T) {
	env := newTestEnv(t, nil, defaultGuard, Config{})
	ctx := context.Background()
	env.guard.Record(cost.Usage{PromptTokens: 5000, CompletionTokens: 1000})
	spent := env.guard.TodayCost()

	if err := env.pipeline.SnapshotCosts(ctx); err != nil {
		t.Fatalf("SnapshotCosts error: %v", err)
	}

	restarted := New(Config{}, Deps{Store: env.store, Guard: cost.NewGuard(defaultGuard)})
	if err := restarted.RestoreCosts(ctx); err != nil {
		t.Fatalf("RestoreCosts error: %v", err)
	}
	report := restarted.Costs()
	if report.Today.CostUSD != spent || report.Month.CostUSD < spent {
		t.Errorf("restored today %v month %v, want %v", report.Today.CostUSD, report.Month.CostUSD, spent)
	}
	if report.Today.APICalls != 1 || report.DailyBudgetUSD != 10 {
		t.Errorf("report = %+v", report)
	}
}

package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hoanghai1803/autopulse/internal/ai"
	"github.com/hoanghai1803/autopulse/internal/cost"
)

// scriptedProvider returns its replies in order, repeating the last one.
type scriptedProvider struct {
	replies []reply
	calls   int
	lastReq ai.Request
}

type reply struct {
	text string
	err  error
}

func (p *scriptedProvider) Name() string { return "fake/model" }

func (p *scriptedProvider) Complete(_ context.Context, req ai.Request) (*ai.Completion, error) {
	p.lastReq = req
	r := p.replies[min(p.calls, len(p.replies)-1)]
	p.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &ai.Completion{Text: r.text, Model: "fake-model", Usage: ai.Usage{PromptTokens: 900, CompletionTokens: 300}}, nil
}

type recorder struct{ calls int }

func (r *recorder) Record(u cost.Usage) float64 {
	r.calls++
	return float64(u.PromptTokens+u.CompletionTokens) / 1e5
}

func inputs(n int) []Input {
	out := make([]Input, n)
	for i := range out {
		out[i] = Input{ID: int64(i + 1), Title: fmt.Sprintf("Article %d", i+1), Source: "Wire", Body: "Body text"}
	}
	return out
}

func item(industry, category string, confidence any) string {
	conf := fmt.Sprint(confidence)
	if s, ok := confidence.(string); ok {
		conf = `"` + s + `"`
	}
	return fmt.Sprintf(`{"industry":%q,"category":%q,"title":"AI headline","summary":"A summary.",
		"confidence":%s,"key_entities":["Ford"],"language":"EN","sentiment":"Positive","importance":4,"tags":["ev"]}`,
		industry, category, conf)
}

func newTestClassifier(p ai.Provider, rec CostRecorder) *Classifier {
	return New(p, rec, Config{MaxAttempts: 3, RetryDelay: time.Millisecond, ReviewThreshold: 0.6})
}

func TestClassifyBatch_Success(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{text: "```json\n[" +
		item("Automotive", "Launch", 0.9) + "," +
		item("automotive", "Financials", 0.4) + "," +
		item("Tech", "Research", 0.5) + "]\n```"}}}
	rec := &recorder{}

	res := newTestClassifier(p, rec).ClassifyBatch(context.Background(), inputs(3))
	if res.Err != nil {
		t.Fatalf("batch error: %v", res.Err)
	}
	if rec.calls != 1 || res.Usage.PromptTokens != 900 || res.CostUSD != 0.012 {
		t.Errorf("cost accounting: calls %d usage %+v cost %v", rec.calls, res.Usage, res.CostUSD)
	}

	first := res.Results[0].Classification
	if first == nil {
		t.Fatalf("result 0 error: %v", res.Results[0].Err)
	}
	if first.ArticleID != 1 || first.OriginalIndustry != "Automotive" || first.FinalIndustry != "Automotive" {
		t.Errorf("first = %+v", first)
	}
	if first.RequiresReview || first.IndustryFiltered {
		t.Error("high-confidence result flagged for review")
	}
	if first.Sentiment != "positive" || first.Language != "en" || first.Importance != 4 || first.Model != "fake-model" {
		t.Errorf("normalized fields = %q %q %d %q", first.Sentiment, first.Language, first.Importance, first.Model)
	}
	if first.PromptTokens != 300 || first.CompletionTokens != 100 {
		t.Errorf("per-article tokens = %d/%d, want 300/100", first.PromptTokens, first.CompletionTokens)
	}

	second := res.Results[1].Classification
	if second == nil || second.FinalIndustry != "Automotive" || !second.IndustryFiltered || !second.RequiresReview {
		t.Errorf("low-confidence automotive = %+v, want kept as Automotive and filtered", second)
	}

	third := res.Results[2].Classification
	if third == nil || third.IndustryFiltered || !third.RequiresReview {
		t.Errorf("low-confidence tech = %+v, want review without filter", third)
	}
}

func TestClassifyBatch_LengthMismatchFailsBatch(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{text: "[" +
		item("Automotive", "Launch", 0.9) + "," + item("Automotive", "Launch", 0.9) + "]"}}}
	rec := &recorder{}

	res := newTestClassifier(p, rec).ClassifyBatch(context.Background(), inputs(3))
	if !errors.Is(res.Err, ErrLengthMismatch) {
		t.Fatalf("Err = %v, want ErrLengthMismatch", res.Err)
	}
	if len(res.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(res.Results))
	}
	for i, r := range res.Results {
		if r.Classification != nil || r.Err == nil {
			t.Errorf("result %d = %+v, want failed", i, r)
		}
	}
	if p.calls != 1 {
		t.Errorf("calls = %d, want 1 (mismatch is not retried)", p.calls)
	}
	if rec.calls != 1 {
		t.Errorf("cost recorded %d times, want 1", rec.calls)
	}
}

func TestClassifyBatch_PerArticleValidation(t *testing.T) {
	tests := []struct {
		name string
		item string
	}{
		{"unknown industry", item("Aerospace", "Launch", 0.9)},
		{"unknown category", item("Automotive", "Gossip", 0.9)},
		{"confidence above one", item("Automotive", "Launch", 1.5)},
		{"negative confidence", item("Automotive", "Launch", -0.1)},
		{"non-numeric confidence", item("Automotive", "Launch", "high")},
		{"missing confidence", `{"industry":"Automotive","category":"Launch"}`},
		{"entities not a list", `{"industry":"Automotive","category":"Launch","confidence":0.9,"key_entities":"Ford"}`},
		{"numeric industry", `{"industry":7,"category":"Launch","confidence":0.9}`},
		{"element not an object", `"Automotive"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{replies: []reply{{text: "[" + item("Energy", "Other", 0.7) + "," + tt.item + "]"}}}
			res := newTestClassifier(p, nil).ClassifyBatch(context.Background(), inputs(2))
			if res.Err != nil {
				t.Fatalf("batch error: %v", res.Err)
			}
			if res.Results[0].Classification == nil {
				t.Errorf("valid sibling rejected: %v", res.Results[0].Err)
			}
			if res.Results[1].Classification != nil || res.Results[1].Err == nil {
				t.Errorf("invalid item accepted: %+v", res.Results[1].Classification)
			}
			if p.calls != 1 {
				t.Errorf("calls = %d, want 1", p.calls)
			}
		})
	}
}

func TestClassifyBatch_NumericStringConfidence(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{text: "[" + item("Finance", "Financials", "0.75") + "]"}}}
	res := newTestClassifier(p, nil).ClassifyBatch(context.Background(), inputs(1))
	if c := res.Results[0].Classification; c == nil || c.Confidence != 0.75 {
		t.Errorf("result = %+v, want confidence 0.75", res.Results[0])
	}
}

func TestClassifyBatch_RetriesMalformedAndTransient(t *testing.T) {
	p := &scriptedProvider{replies: []reply{
		{err: &ai.APIError{Provider: "fake", Code: 429}},
		{text: "I cannot help with that."},
		{text: "[" + item("HVAC", "Other", 0.8) + "]"},
	}}
	rec := &recorder{}

	res := newTestClassifier(p, rec).ClassifyBatch(context.Background(), inputs(1))
	if res.Err != nil {
		t.Fatalf("batch error: %v", res.Err)
	}
	if res.Attempts != 3 || p.calls != 3 {
		t.Errorf("attempts = %d calls = %d, want 3", res.Attempts, p.calls)
	}
	// The 429 cost nothing; the malformed and good replies were billed.
	if rec.calls != 2 || res.Usage.PromptTokens != 1800 {
		t.Errorf("recorded %d calls, usage %+v", rec.calls, res.Usage)
	}
}

func TestClassifyBatch_RetriesExhausted(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{err: &ai.APIError{Provider: "fake", Code: 503}}}}
	res := newTestClassifier(p, nil).ClassifyBatch(context.Background(), inputs(2))
	if res.Err == nil || !strings.Contains(res.Err.Error(), "giving up after 3 attempts") {
		t.Errorf("Err = %v, want exhausted retries", res.Err)
	}
	for _, r := range res.Results {
		if r.Err == nil {
			t.Error("result without error after exhausted retries")
		}
	}
}

func TestClassifyBatch_ClientErrorNotRetried(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{err: &ai.APIError{Provider: "fake", Code: 401}}}}
	res := newTestClassifier(p, nil).ClassifyBatch(context.Background(), inputs(1))
	if res.Err == nil || p.calls != 1 {
		t.Errorf("Err = %v calls = %d, want failure after 1 call", res.Err, p.calls)
	}
}

func TestClassifyBatch_Unavailable(t *testing.T) {
	c := newTestClassifier(nil, nil)
	if c.Available() {
		t.Error("Available() = true without provider")
	}
	res := c.ClassifyBatch(context.Background(), inputs(2))
	if !errors.Is(res.Err, ErrUnavailable) {
		t.Errorf("Err = %v, want ErrUnavailable", res.Err)
	}
	for _, r := range res.Results {
		if r.Classification != nil {
			t.Error("classification fabricated without provider")
		}
	}
}

func TestClassifyBatch_TruncatesBody(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{text: "[" + item("Automotive", "Other", 0.9) + "]"}}}
	c := New(p, nil, Config{MaxBodyChars: 10})
	c.ClassifyBatch(context.Background(), []Input{{ID: 1, Title: "T", Body: strings.Repeat("z", 50)}})

	if strings.Contains(p.lastReq.User, strings.Repeat("z", 11)) {
		t.Error("body was not truncated to MaxBodyChars")
	}
	if !strings.Contains(p.lastReq.User, strings.Repeat("z", 10)) {
		t.Error("truncated body missing from prompt")
	}
}

func TestValidate_ImportanceAndSentiment(t *testing.T) {
	c := newTestClassifier(nil, nil)
	got, err := c.validate(responseItem{
		Industry: "Energy", Category: "Other", Confidence: 0.8, Importance: 9.0, Sentiment: "mixed",
	})
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if got.Importance != 0 || got.Sentiment != "" {
		t.Errorf("importance %d sentiment %q, want 0 and empty", got.Importance, got.Sentiment)
	}
	if got.KeyEntities == nil || got.Tags == nil {
		t.Error("nil lists, want empty")
	}
}

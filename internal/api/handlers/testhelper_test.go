package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hoanghai1803/autopulse/internal/models"
	"github.com/hoanghai1803/autopulse/internal/storage"
)

// newTestStore creates an in-memory SQLite store with migrations applied and
// default sources seeded. It registers a cleanup function to close the database
// when the test completes.
func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	db, err := storage.OpenDatabase(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := storage.RunMigrations(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	store := storage.NewStore(db)
	if err := store.SeedDefaults(context.Background(), nil); err != nil {
		t.Fatalf("seeding defaults: %v", err)
	}

	return store
}

// withURLParams attaches a chi route context carrying the given key/value
// pairs to r.
func withURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// seedArticle inserts an article for source 1. When industry is non-empty
// the article is also classified with the given values.
func seedArticle(t *testing.T, store *storage.Store, n int, industry, category string, confidence float64) int64 {
	t.Helper()
	ctx := context.Background()

	url := fmt.Sprintf("https://news.example/story-%d", n)
	published := time.Date(2026, 3, n, 9, 0, 0, 0, time.UTC)
	id, err := store.InsertArticle(ctx, &models.NormalizedItem{
		SourceID:           1,
		Title:              fmt.Sprintf("Story %d about batteries", n),
		URL:                url,
		CanonicalURL:       url,
		Snippet:            "Snippet.",
		PublishedAt:        &published,
		TitleFingerprint:   fmt.Sprintf("title-%d", n),
		ContentFingerprint: fmt.Sprintf("content-%d", n),
	})
	if err != nil {
		t.Fatalf("InsertArticle error: %v", err)
	}
	if industry == "" {
		return id
	}

	if err := store.SaveClassification(ctx, &models.Classification{
		ArticleID:        id,
		OriginalIndustry: industry,
		FinalIndustry:    industry,
		Category:         category,
		Summary:          "Summary.",
		Confidence:       confidence,
		Importance:       3,
		RequiresReview:   confidence < 0.6,
	}); err != nil {
		t.Fatalf("SaveClassification error: %v", err)
	}
	return id
}

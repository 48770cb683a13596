package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hoanghai1803/autopulse/internal/models"
)

func TestRuns_CreateFinishList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sourceID := seedTestSource(t, store)

	run := &models.IngestionRun{ID: "run-1", SourceID: sourceID, StartedAt: time.Now().Add(-time.Second)}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}

	run.Status = models.RunPartial
	run.ItemsDiscovered = 10
	run.ItemsSaved = 7
	run.ItemsSkipped = 3
	run.AddError("item 4: database is locked")
	run.DurationMs = 1000
	if err := store.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun error: %v", err)
	}

	// Finished runs are immutable.
	run.ItemsSaved = 0
	if err := store.FinishRun(ctx, run); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second FinishRun error = %v, want ErrInvalidState", err)
	}

	runs, err := store.ListRuns(ctx, sourceID, 10)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	got := runs[0]
	if got.Status != models.RunPartial || got.ItemsSaved != 7 || got.ItemsSkipped != 3 {
		t.Errorf("run = %+v, want partial with 7 saved, 3 skipped", got)
	}
	if len(got.Errors) != 1 || got.FinishedAt == nil {
		t.Errorf("Errors = %v FinishedAt = %v, want one error and a finish time", got.Errors, got.FinishedAt)
	}
	if got.Source != "Test Feed" {
		t.Errorf("Source = %q, want Test Feed", got.Source)
	}
}

func TestFailStaleRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sourceID := seedTestSource(t, store)

	stale := &models.IngestionRun{ID: "stale", SourceID: sourceID, StartedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &models.IngestionRun{ID: "fresh", SourceID: sourceID, StartedAt: time.Now()}
	for _, r := range []*models.IngestionRun{stale, fresh} {
		if err := store.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun error: %v", err)
		}
	}

	n, err := store.FailStaleRuns(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("FailStaleRuns error: %v", err)
	}
	if n != 1 {
		t.Errorf("failed %d stale runs, want 1", n)
	}

	purged, err := store.PurgeRuns(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeRuns error: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged %d runs, want 1", purged)
	}
}

func TestCostBucket_UpsertNeverShrinks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetCostBucket(ctx, "day:2026-03-01"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetCostBucket on empty ledger error = %v, want ErrNotFound", err)
	}

	for _, cost := range []float64{0.5, 0.2} {
		if err := store.UpsertCostBucket(ctx, models.CostBucket{Period: "day:2026-03-01", CostUSD: cost, APICalls: 3}); err != nil {
			t.Fatalf("UpsertCostBucket error: %v", err)
		}
	}
	got, err := store.GetCostBucket(ctx, "day:2026-03-01")
	if err != nil {
		t.Fatalf("GetCostBucket error: %v", err)
	}
	if got.CostUSD != 0.5 || got.APICalls != 3 {
		t.Errorf("bucket = %+v, want cost 0.5 and 3 calls", got)
	}
}

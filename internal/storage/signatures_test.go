package storage

import (
	"context"
	"testing"
	"time"
)

func TestFindSignatureMatches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sourceID := seedTestSource(t, store)
	insertTestArticle(t, store, testItem(sourceID, "1"))

	since := time.Now().Add(-time.Hour)
	got, err := store.FindSignatureMatches(ctx,
		[]string{"https://news.example/a/1", "https://news.example/a/2"},
		[]string{"title-1", "title-2"},
		[]string{"content-9", "content-1"},
		since)
	if err != nil {
		t.Fatalf("FindSignatureMatches error: %v", err)
	}
	if !got.URLs["https://news.example/a/1"] || got.URLs["https://news.example/a/2"] {
		t.Errorf("URLs = %v, want only a/1", got.URLs)
	}
	if !got.TitleFingerprints["title-1"] || len(got.TitleFingerprints) != 1 {
		t.Errorf("TitleFingerprints = %v, want only title-1", got.TitleFingerprints)
	}
	if !got.ContentFingerprints["content-1"] || len(got.ContentFingerprints) != 1 {
		t.Errorf("ContentFingerprints = %v, want only content-1", got.ContentFingerprints)
	}

	// Fingerprints outside the window do not match; URLs always do.
	got, err = store.FindSignatureMatches(ctx, []string{"https://news.example/a/1"}, []string{"title-1"}, nil,
		time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("FindSignatureMatches error: %v", err)
	}
	if !got.URLs["https://news.example/a/1"] || len(got.TitleFingerprints) != 0 {
		t.Errorf("windowed lookup = %+v, want url match only", got)
	}
}

func TestDedupCandidates_EarlierMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sourceID := seedTestSource(t, store)

	first := insertTestArticle(t, store, testItem(sourceID, "1"))
	syndicated := testItem(sourceID, "2")
	syndicated.ContentFingerprint = "content-1"
	second := insertTestArticle(t, store, syndicated)

	cands, err := store.ListDedupCandidates(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListDedupCandidates error: %v", err)
	}
	if len(cands) != 2 || cands[0].ID != first {
		t.Fatalf("candidates = %+v, want both, oldest first", cands)
	}

	id, reason, err := store.FindEarlierMatch(ctx, cands[0])
	if err != nil || id != 0 {
		t.Errorf("FindEarlierMatch(first) = %d, %v; want no match", id, err)
	}
	id, reason, err = store.FindEarlierMatch(ctx, cands[1])
	if err != nil {
		t.Fatalf("FindEarlierMatch error: %v", err)
	}
	if id != first || reason != "content_fingerprint" {
		t.Errorf("FindEarlierMatch(second) = %d %q, want %d content_fingerprint", id, reason, first)
	}

	if err := store.MarkDuplicate(ctx, second, reason, id); err != nil {
		t.Fatalf("MarkDuplicate error: %v", err)
	}
	if err := store.MarkDedupChecked(ctx, first); err != nil {
		t.Fatalf("MarkDedupChecked error: %v", err)
	}
	cands, err = store.ListDedupCandidates(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListDedupCandidates error: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("got %d candidates after verdicts, want 0", len(cands))
	}

	sigs, err := store.LoadSignatures(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("LoadSignatures error: %v", err)
	}
	if len(sigs) != 1 {
		t.Errorf("got %d signatures, want 1 (duplicates excluded)", len(sigs))
	}
}

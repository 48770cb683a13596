// Package dedup decides whether normalized feed items are new, using an
// in-process signature cache backed by persistent lookups.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hoanghai1803/autopulse/internal/metrics"
	"github.com/hoanghai1803/autopulse/internal/models"
	"github.com/hoanghai1803/autopulse/internal/storage"
)

// Decision reasons.
const (
	ReasonUnique          = "unique"
	ReasonSignatureMatch  = "signature_match"
	ReasonRecentDuplicate = "recent_duplicate"
)

// Cache key namespaces.
const (
	nsURL     = "url:"
	nsTitle   = "title:"
	nsContent = "content:"
)

// Decision is the verdict for one item of a batch.
type Decision struct {
	Unique bool   `json:"unique"`
	Reason string `json:"reason"`
	// Key is the namespaced key that matched, empty for unique items.
	Key string `json:"key,omitempty"`
}

// Store is the persistence the deduplicator reads and, during sweeps, writes.
type Store interface {
	FindSignatureMatches(ctx context.Context, urls, titleFPs, contentFPs []string, since time.Time) (*storage.SignatureMatches, error)
	LoadSignatures(ctx context.Context, since time.Time) ([]storage.Signature, error)
	ListDedupCandidates(ctx context.Context, since time.Time, limit int) ([]storage.DedupCandidate, error)
	FindEarlierMatch(ctx context.Context, c storage.DedupCandidate) (int64, string, error)
	MarkDuplicate(ctx context.Context, id int64, reason string, of int64) error
	MarkDedupChecked(ctx context.Context, id int64) error
}

// Config controls cache sizing and the lookup window.
type Config struct {
	// RefreshInterval is how long the cache is trusted before it is
	// reloaded from the store.
	RefreshInterval time.Duration
	// Window bounds fingerprint lookups and the signatures kept in cache.
	Window time.Duration
	// CacheSize is the maximum number of keys held in memory.
	CacheSize int
}

// Deduplicator partitions batches into unique and duplicate items. The cache
// is an accelerator only: a miss always falls through to the store.
type Deduplicator struct {
	store Store
	cfg   Config
	cache *expirable.LRU[string, struct{}]
	now   func() time.Time

	mu          sync.Mutex // protects lastRefresh
	lastRefresh time.Time
}

// New creates a Deduplicator with an empty cache. The first Check loads it.
func New(store Store, cfg Config) *Deduplicator {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 24 * time.Hour
	}
	if cfg.Window <= 0 {
		cfg.Window = 72 * time.Hour
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 30000
	}
	return &Deduplicator{
		store: store,
		cfg:   cfg,
		cache: expirable.NewLRU[string, struct{}](cfg.CacheSize, nil, cfg.Window),
		now:   time.Now,
	}
}

// Refresh reloads the cache with the signatures of live articles inside the
// lookup window.
func (d *Deduplicator) Refresh(ctx context.Context) error {
	sigs, err := d.store.LoadSignatures(ctx, d.now().Add(-d.cfg.Window))
	if err != nil {
		return fmt.Errorf("refreshing signature cache: %w", err)
	}

	d.cache.Purge()
	for _, sig := range sigs {
		d.add(sig.CanonicalURL, sig.TitleFingerprint, sig.ContentFingerprint)
	}

	d.mu.Lock()
	d.lastRefresh = d.now()
	d.mu.Unlock()

	slog.Debug("refreshed dedup cache", "signatures", len(sigs))
	return nil
}

func (d *Deduplicator) refreshIfStale(ctx context.Context) {
	d.mu.Lock()
	stale := d.now().Sub(d.lastRefresh) >= d.cfg.RefreshInterval
	d.mu.Unlock()
	if !stale {
		return
	}
	if err := d.Refresh(ctx); err != nil {
		slog.Warn("dedup cache refresh failed, relying on store lookups", "error", err)
	}
}

// Check returns one decision per item, in input order. It does not mark
// anything as seen, so checking the same batch twice yields the same
// partition. Items repeated inside the batch are reported as signature
// matches against their first occurrence. Cache misses are resolved with a
// single store lookup for the whole batch.
func (d *Deduplicator) Check(ctx context.Context, items []models.NormalizedItem) ([]Decision, error) {
	d.refreshIfStale(ctx)

	decisions := make([]Decision, len(items))
	misses := make([]bool, len(items))
	var urls, titles, contents []string
	for i, item := range items {
		if key, ok := d.cached(item); ok {
			decisions[i] = Decision{Reason: ReasonSignatureMatch, Key: key}
			continue
		}
		misses[i] = true
		urls = append(urls, item.CanonicalURL)
		titles = append(titles, item.TitleFingerprint)
		contents = append(contents, item.ContentFingerprint)
	}

	matches := &storage.SignatureMatches{}
	if len(urls) > 0 {
		var err error
		matches, err = d.store.FindSignatureMatches(ctx, urls, titles, contents, d.now().Add(-d.cfg.Window))
		if err != nil {
			return nil, fmt.Errorf("checking batch against store: %w", err)
		}
	}

	inBatch := make(map[string]bool)
	for i, item := range items {
		if !misses[i] {
			continue
		}
		keys := keysOf(item)
		switch {
		case matches.URLs[item.CanonicalURL]:
			decisions[i] = Decision{Reason: ReasonRecentDuplicate, Key: keys[0]}
		case matches.TitleFingerprints[item.TitleFingerprint]:
			decisions[i] = Decision{Reason: ReasonRecentDuplicate, Key: keys[1]}
		case matches.ContentFingerprints[item.ContentFingerprint]:
			decisions[i] = Decision{Reason: ReasonRecentDuplicate, Key: keys[2]}
		default:
			decisions[i] = Decision{Unique: true, Reason: ReasonUnique}
			for _, k := range keys {
				if inBatch[k] {
					decisions[i] = Decision{Reason: ReasonSignatureMatch, Key: k}
					break
				}
			}
			if decisions[i].Unique {
				for _, k := range keys {
					inBatch[k] = true
				}
			}
		}
	}

	for _, dec := range decisions {
		metrics.DedupDecisions.WithLabelValues(dec.Reason).Inc()
	}
	return decisions, nil
}

// MarkSeen adds a persisted item's keys to the cache.
func (d *Deduplicator) MarkSeen(item models.NormalizedItem) {
	d.add(item.CanonicalURL, item.TitleFingerprint, item.ContentFingerprint)
}

func (d *Deduplicator) add(url, title, content string) {
	for _, k := range []string{nsURL + url, nsTitle + title, nsContent + content} {
		d.cache.Add(k, struct{}{})
	}
}

func (d *Deduplicator) cached(item models.NormalizedItem) (string, bool) {
	for _, k := range keysOf(item) {
		if d.cache.Contains(k) {
			return k, true
		}
	}
	return "", false
}

func keysOf(item models.NormalizedItem) [3]string {
	return [3]string{
		nsURL + item.CanonicalURL,
		nsTitle + item.TitleFingerprint,
		nsContent + item.ContentFingerprint,
	}
}

// SweepResult summarises one deduplication sweep.
type SweepResult struct {
	Checked    int `json:"checked"`
	Duplicates int `json:"duplicates"`
}

// Sweep re-checks recent articles that have no duplicate verdict yet, oldest
// first. An article sharing a title or content fingerprint with an earlier
// live article is flagged as its duplicate.
func (d *Deduplicator) Sweep(ctx context.Context, limit int) (*SweepResult, error) {
	candidates, err := d.store.ListDedupCandidates(ctx, d.now().Add(-d.cfg.Window), limit)
	if err != nil {
		return nil, fmt.Errorf("listing sweep candidates: %w", err)
	}

	var res SweepResult
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return &res, err
		}

		of, reason, err := d.store.FindEarlierMatch(ctx, c)
		if err != nil {
			return &res, err
		}
		res.Checked++

		if of == 0 {
			if err := d.store.MarkDedupChecked(ctx, c.ID); err != nil {
				return &res, err
			}
			continue
		}
		if err := d.store.MarkDuplicate(ctx, c.ID, reason, of); err != nil {
			return &res, err
		}
		res.Duplicates++
		slog.Info("flagged duplicate article", "id", c.ID, "duplicate_of", of, "reason", reason)
	}

	if res.Duplicates > 0 {
		// Flagged rows no longer occupy keys; reload on the next check.
		d.mu.Lock()
		d.lastRefresh = time.Time{}
		d.mu.Unlock()
	}
	return &res, nil
}

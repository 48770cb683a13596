package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Signature holds the three dedup keys of a live article.
type Signature struct {
	CanonicalURL       string
	TitleFingerprint   string
	ContentFingerprint string
}

// SignatureMatches is the set of keys from a lookup that already belong to
// live articles.
type SignatureMatches struct {
	URLs                map[string]bool
	TitleFingerprints   map[string]bool
	ContentFingerprints map[string]bool
}

// FindSignatureMatches looks up all keys of a batch in one query. Canonical
// URLs are matched against every live article; fingerprints only against
// live articles created at or after since.
func (s *Store) FindSignatureMatches(ctx context.Context, urls, titleFPs, contentFPs []string, since time.Time) (*SignatureMatches, error) {
	out := &SignatureMatches{
		URLs:                map[string]bool{},
		TitleFingerprints:   map[string]bool{},
		ContentFingerprints: map[string]bool{},
	}
	if len(urls)+len(titleFPs)+len(contentFPs) == 0 {
		return out, nil
	}

	var (
		parts []string
		args  []any
	)
	if len(urls) > 0 {
		parts = append(parts, `SELECT 'url', canonical_url FROM articles
			WHERE is_duplicate = 0 AND canonical_url IN (`+placeholders(len(urls))+`)`)
		args = appendStrings(args, urls)
	}
	if len(titleFPs) > 0 {
		parts = append(parts, `SELECT 'title', title_fingerprint FROM articles
			WHERE is_duplicate = 0 AND created_at >= ? AND title_fingerprint IN (`+placeholders(len(titleFPs))+`)`)
		args = append(args, formatTime(since))
		args = appendStrings(args, titleFPs)
	}
	if len(contentFPs) > 0 {
		parts = append(parts, `SELECT 'content', content_fingerprint FROM articles
			WHERE is_duplicate = 0 AND created_at >= ? AND content_fingerprint IN (`+placeholders(len(contentFPs))+`)`)
		args = append(args, formatTime(since))
		args = appendStrings(args, contentFPs)
	}

	rows, err := s.db.QueryContext(ctx, strings.Join(parts, " UNION ALL "), args...)
	if err != nil {
		return nil, fmt.Errorf("looking up signatures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, key string
		if err := rows.Scan(&kind, &key); err != nil {
			return nil, fmt.Errorf("scanning signature row: %w", err)
		}
		switch kind {
		case "url":
			out.URLs[key] = true
		case "title":
			out.TitleFingerprints[key] = true
		case "content":
			out.ContentFingerprints[key] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating signature rows: %w", err)
	}
	return out, nil
}

// LoadSignatures returns the keys of every live article created at or after
// since, used to warm the in-process dedup cache.
func (s *Store) LoadSignatures(ctx context.Context, since time.Time) ([]Signature, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT canonical_url, title_fingerprint, content_fingerprint FROM articles
		 WHERE is_duplicate = 0 AND created_at >= ?`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("loading signatures: %w", err)
	}
	defer rows.Close()

	sigs := []Signature{}
	for rows.Next() {
		var sig Signature
		if err := rows.Scan(&sig.CanonicalURL, &sig.TitleFingerprint, &sig.ContentFingerprint); err != nil {
			return nil, fmt.Errorf("scanning signature row: %w", err)
		}
		sigs = append(sigs, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating signature rows: %w", err)
	}
	return sigs, nil
}

// DedupCandidate is a recent article still lacking a duplicate verdict.
type DedupCandidate struct {
	ID                 int64
	TitleFingerprint   string
	ContentFingerprint string
}

// ListDedupCandidates returns unchecked live articles created at or after
// since, oldest first.
func (s *Store) ListDedupCandidates(ctx context.Context, since time.Time, limit int) ([]DedupCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title_fingerprint, content_fingerprint FROM articles
		 WHERE dedup_checked = 0 AND is_duplicate = 0 AND created_at >= ?
		 ORDER BY id LIMIT ?`, formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("listing dedup candidates: %w", err)
	}
	defer rows.Close()

	out := []DedupCandidate{}
	for rows.Next() {
		var c DedupCandidate
		if err := rows.Scan(&c.ID, &c.TitleFingerprint, &c.ContentFingerprint); err != nil {
			return nil, fmt.Errorf("scanning dedup candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dedup candidates: %w", err)
	}
	return out, nil
}

// FindEarlierMatch returns the oldest live article inserted before c that
// shares its title or content fingerprint, with the matching key name. It
// returns 0 when there is none.
func (s *Store) FindEarlierMatch(ctx context.Context, c DedupCandidate) (int64, string, error) {
	var (
		id     int64
		reason string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, CASE WHEN title_fingerprint = ? THEN 'title_fingerprint' ELSE 'content_fingerprint' END
		 FROM articles
		 WHERE id < ? AND is_duplicate = 0 AND (title_fingerprint = ? OR content_fingerprint = ?)
		 ORDER BY id LIMIT 1`,
		c.TitleFingerprint, c.ID, c.TitleFingerprint, c.ContentFingerprint,
	).Scan(&id, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("finding earlier match for article %d: %w", c.ID, err)
	}
	return id, reason, nil
}

// MarkDuplicate flags an article as a duplicate of another. The row is kept
// for audit and no longer takes part in uniqueness checks.
func (s *Store) MarkDuplicate(ctx context.Context, id int64, reason string, of int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE articles SET is_duplicate = 1, duplicate_reason = ?, duplicate_of = ?,
			dedup_checked = 1, updated_at = datetime('now')
		 WHERE id = ?`, reason, of, id)
	if err != nil {
		return fmt.Errorf("marking article %d duplicate: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDedupChecked records a "not a duplicate" verdict.
func (s *Store) MarkDedupChecked(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE articles SET dedup_checked = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("marking article %d checked: %w", id, err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func appendStrings(args []any, values []string) []any {
	for _, v := range values {
		args = append(args, v)
	}
	return args
}

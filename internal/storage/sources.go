package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hoanghai1803/autopulse/internal/models"
)

// avgWindow caps the number of samples in the rolling response-time
// average so recent fetches keep moving it.
const avgWindow = 20

// defaultSources seeds a new database when no sources file is configured.
var defaultSources = []models.Source{
	{Slug: "electrek", Name: "Electrek", URL: "https://electrek.co/feed/", Type: models.SourceTypeRSS, Country: "us", Language: "en", IsActive: true, Priority: 1, RefreshIntervalMinutes: 30},
	{Slug: "insideevs", Name: "InsideEVs", URL: "https://insideevs.com/rss/articles/all/", Type: models.SourceTypeRSS, Country: "us", Language: "en", IsActive: true, Priority: 1, RefreshIntervalMinutes: 30},
	{Slug: "autoblog", Name: "Autoblog", URL: "https://www.autoblog.com/rss.xml", Type: models.SourceTypeRSS, Country: "us", Language: "en", IsActive: true, Priority: 2, RefreshIntervalMinutes: 60},
	{Slug: "motor1", Name: "Motor1", URL: "https://www.motor1.com/rss/news/all/", Type: models.SourceTypeRSS, Country: "us", Language: "en", IsActive: true, Priority: 2, RefreshIntervalMinutes: 60},
	{Slug: "carscoops", Name: "Carscoops", URL: "https://www.carscoops.com/feed/", Type: models.SourceTypeRSS, Country: "us", Language: "en", IsActive: true, Priority: 2, RefreshIntervalMinutes: 60},
	{Slug: "autocar", Name: "Autocar", URL: "https://www.autocar.co.uk/rss", Type: models.SourceTypeRSS, Country: "gb", Language: "en", IsActive: true, Priority: 2, RefreshIntervalMinutes: 60},
	{Slug: "automotive-news-europe", Name: "Automotive News Europe", URL: "https://europe.autonews.com/rss", Type: models.SourceTypeRSS, Country: "de", Language: "en", IsActive: true, Priority: 1, RefreshIntervalMinutes: 60},
	{Slug: "the-drive", Name: "The Drive", URL: "https://www.thedrive.com/feed", Type: models.SourceTypeRSS, Country: "us", Language: "en", IsActive: true, Priority: 3, RefreshIntervalMinutes: 120},
	{Slug: "google-news-automotive", Name: "Google News: automotive industry", URL: "https://news.google.com/rss/search?q=automotive+industry&hl=en-US&gl=US&ceid=US:en", Type: models.SourceTypeRSSSearch, Country: "us", Language: "en", IsActive: true, Priority: 3, RefreshIntervalMinutes: 60},
	{Slug: "google-news-ev", Name: "Google News: electric vehicles", URL: "https://news.google.com/rss/search?q=electric+vehicles&hl=en-US&gl=US&ceid=US:en", Type: models.SourceTypeRSSSearch, Country: "us", Language: "en", IsActive: true, Priority: 3, RefreshIntervalMinutes: 60},
}

// DefaultSources returns a copy of the built-in source list.
func DefaultSources() []models.Source {
	out := make([]models.Source, len(defaultSources))
	copy(out, defaultSources)
	return out
}

const sourceColumns = `id, slug, name, url, type, country, language, is_active, priority,
	refresh_interval_minutes, success_count, error_count, consecutive_errors,
	last_error, avg_response_ms, is_healthy, last_fetched_at, last_success_at, created_at`

// GetAllSources returns every source regardless of active status, ordered by
// priority then name.
func (s *Store) GetAllSources(ctx context.Context) ([]models.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY priority, name`)
	if err != nil {
		return nil, fmt.Errorf("querying all sources: %w", err)
	}
	defer rows.Close()

	return scanSources(rows)
}

// GetActiveSources returns the sources the fetcher should poll. Unhealthy
// sources are included.
func (s *Store) GetActiveSources(ctx context.Context) ([]models.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE is_active = 1 ORDER BY priority, name`)
	if err != nil {
		return nil, fmt.Errorf("querying active sources: %w", err)
	}
	defer rows.Close()

	return scanSources(rows)
}

// GetSource returns the source with the given ID.
func (s *Store) GetSource(ctx context.Context, id int64) (*models.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting source %d: %w", id, err)
	}
	return src, nil
}

// CreateSource inserts a source and returns its ID.
func (s *Store) CreateSource(ctx context.Context, src *models.Source) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (slug, name, url, type, country, language, is_active, priority, refresh_interval_minutes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.Slug, src.Name, src.URL, sourceType(src.Type), src.Country, src.Language,
		boolToInt(src.IsActive), src.Priority, src.RefreshIntervalMinutes,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("source %q: %w", src.Slug, ErrDuplicate)
		}
		return 0, fmt.Errorf("creating source %q: %w", src.Slug, err)
	}
	return res.LastInsertId()
}

// ToggleSource sets the is_active flag for the given source ID.
// It returns ErrNotFound if no source matches the given ID.
func (s *Store) ToggleSource(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("toggling source %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected for source %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// RecordFetchResult applies one poll outcome to the source's health
// counters in a single statement and returns the updated source. The
// source is unhealthy once its consecutive failures exceed threshold; a
// success resets the streak.
func (s *Store) RecordFetchResult(ctx context.Context, id int64, out models.FetchOutcome, threshold int) (*models.Source, error) {
	ms := float64(out.Duration.Milliseconds())
	at := formatTime(out.At)

	// SET expressions see the pre-update row, so every column below refers
	// to the old value.
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET
			success_count      = success_count + CASE WHEN ?1 THEN 1 ELSE 0 END,
			error_count        = error_count + CASE WHEN ?1 THEN 0 ELSE 1 END,
			consecutive_errors = CASE WHEN ?1 THEN 0 ELSE consecutive_errors + 1 END,
			last_error         = CASE WHEN ?1 THEN last_error ELSE ?2 END,
			avg_response_ms    = avg_response_ms + (?3 - avg_response_ms) / MIN(success_count + error_count + 1, ?4),
			is_healthy         = CASE WHEN ?1 THEN 1 WHEN consecutive_errors + 1 > ?5 THEN 0 ELSE is_healthy END,
			last_fetched_at    = ?6,
			last_success_at    = CASE WHEN ?1 THEN ?6 ELSE last_success_at END
		 WHERE id = ?7`,
		boolToInt(out.Success), nullableString(out.Error), ms, avgWindow, threshold, at, id,
	)
	if err != nil {
		return nil, fmt.Errorf("recording fetch result for source %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected for source %d: %w", id, err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.GetSource(ctx, id)
}

// SeedDefaults inserts the given sources if the sources table is empty.
// All inserts happen within a single transaction. Calling it on a non-empty
// table is a no-op.
func (s *Store) SeedDefaults(ctx context.Context, sources []models.Source) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources`).Scan(&count); err != nil {
		return fmt.Errorf("counting sources: %w", err)
	}

	if count > 0 {
		return nil
	}
	if len(sources) == 0 {
		sources = defaultSources
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning seed transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sources (slug, name, url, type, country, language, is_active, priority, refresh_interval_minutes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing seed statement: %w", err)
	}
	defer stmt.Close()

	for _, src := range sources {
		refresh := src.RefreshIntervalMinutes
		if refresh <= 0 {
			refresh = 60
		}
		lang := src.Language
		if lang == "" {
			lang = "en"
		}
		if _, err := stmt.ExecContext(ctx,
			src.Slug, src.Name, src.URL, sourceType(src.Type), strings.ToLower(src.Country), lang,
			boolToInt(src.IsActive), src.Priority, refresh,
		); err != nil {
			return fmt.Errorf("seeding source %q: %w", src.Slug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing seed transaction: %w", err)
	}

	return nil
}

func sourceType(t string) string {
	if t == "" {
		return models.SourceTypeRSS
	}
	return t
}

func scanSource(row scanner) (*models.Source, error) {
	var (
		src           models.Source
		isActive      int
		isHealthy     int
		lastError     sql.NullString
		lastFetchedAt sql.NullString
		lastSuccessAt sql.NullString
		createdAt     string
	)
	if err := row.Scan(
		&src.ID, &src.Slug, &src.Name, &src.URL, &src.Type, &src.Country, &src.Language,
		&isActive, &src.Priority, &src.RefreshIntervalMinutes,
		&src.SuccessCount, &src.ErrorCount, &src.ConsecutiveErrors,
		&lastError, &src.AvgResponseMs, &isHealthy, &lastFetchedAt, &lastSuccessAt, &createdAt,
	); err != nil {
		return nil, err
	}
	src.IsActive = isActive == 1
	src.IsHealthy = isHealthy == 1
	src.LastError = lastError.String
	src.LastFetchedAt = parseTimePtr(lastFetchedAt)
	src.LastSuccessAt = parseTimePtr(lastSuccessAt)
	src.CreatedAt = parseTime(createdAt)
	return &src, nil
}

// scanSources reads all rows from a sources query into a slice.
func scanSources(rows *sql.Rows) ([]models.Source, error) {
	sources := []models.Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning source row: %w", err)
		}
		sources = append(sources, *src)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating source rows: %w", err)
	}

	return sources, nil
}

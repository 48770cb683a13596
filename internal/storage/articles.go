package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hoanghai1803/autopulse/internal/models"
)

// articleSelect joins the source name and, for processed articles, the
// latest classification version.
const articleSelect = `SELECT a.id, a.source_id, COALESCE(s.name, ''), a.title, a.url, a.canonical_url,
		a.snippet, a.published_at, a.title_fingerprint, a.content_fingerprint, a.raw_payload,
		a.content_status, a.clean_text, a.word_count, a.author, a.language, a.images,
		a.is_paywalled, a.content_error, a.extracted_at, a.enrichment,
		a.gpt_status, a.gpt_attempts, a.gpt_error,
		a.is_duplicate, a.duplicate_reason, a.duplicate_of, a.created_at, a.updated_at,
		c.id, c.version, c.model, c.original_industry, c.final_industry, c.industry_filtered,
		c.category, c.ai_title, c.summary, c.confidence, c.key_entities, c.language,
		c.sentiment, c.importance, c.tags, c.requires_review,
		c.prompt_tokens, c.completion_tokens, c.cost_usd, c.created_at
	FROM articles a
	LEFT JOIN sources s ON s.id = a.source_id
	LEFT JOIN article_classifications c ON a.gpt_status = 'processed'
		AND c.article_id = a.id
		AND c.version = (SELECT MAX(version) FROM article_classifications WHERE article_id = a.id)`

// InsertArticle persists a normalized item as a new pending article and
// returns its ID. A collision with a live article on canonical URL or title
// fingerprint returns ErrDuplicate.
func (s *Store) InsertArticle(ctx context.Context, item *models.NormalizedItem) (int64, error) {
	var payload *string
	if len(item.RawPayload) > 0 {
		v := string(item.RawPayload)
		payload = &v
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO articles (source_id, title, url, canonical_url, snippet, published_at,
			title_fingerprint, content_fingerprint, raw_payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.SourceID, item.Title, item.URL, item.CanonicalURL, nullableString(item.Snippet),
		formatTimePtr(item.PublishedAt), item.TitleFingerprint, item.ContentFingerprint, payload,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("inserting article %q: %w", item.CanonicalURL, err)
	}
	return res.LastInsertId()
}

// GetArticle returns the article with the given ID.
// Returns nil, ErrNotFound if no matching row exists.
func (s *Store) GetArticle(ctx context.Context, id int64) (*models.Article, error) {
	row := s.db.QueryRowContext(ctx, articleSelect+` WHERE a.id = ?`, id)
	article, err := scanArticle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting article %d: %w", id, err)
	}
	return article, nil
}

// ArticleFilter narrows ListArticles. Zero values mean "no filter".
type ArticleFilter struct {
	Industry          string
	Category          string
	From              *time.Time
	To                *time.Time
	MinConfidence     *float64
	MinImportance     int
	RequiresReview    *bool
	SourceID          int64
	Status            string
	Query             string
	IncludeDuplicates bool
	Page              int
	Limit             int
}

// ListArticles returns one page of articles matching f, newest first, and
// the total number of matches.
func (s *Store) ListArticles(ctx context.Context, f ArticleFilter) ([]models.Article, int, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Page <= 0 {
		f.Page = 1
	}

	var (
		where []string
		args  []any
	)
	if !f.IncludeDuplicates {
		where = append(where, "a.is_duplicate = 0")
	}
	if f.Industry != "" {
		where = append(where, "a.industry = ?")
		args = append(args, f.Industry)
	}
	if f.Category != "" {
		where = append(where, "a.category = ?")
		args = append(args, f.Category)
	}
	if f.From != nil {
		where = append(where, "COALESCE(a.published_at, a.created_at) >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "COALESCE(a.published_at, a.created_at) <= ?")
		args = append(args, formatTime(*f.To))
	}
	if f.MinConfidence != nil {
		where = append(where, "a.confidence >= ?")
		args = append(args, *f.MinConfidence)
	}
	if f.MinImportance > 0 {
		where = append(where, "a.importance >= ?")
		args = append(args, f.MinImportance)
	}
	if f.RequiresReview != nil {
		where = append(where, "a.gpt_status = 'processed' AND a.requires_review = ?")
		args = append(args, boolToInt(*f.RequiresReview))
	}
	if f.SourceID > 0 {
		where = append(where, "a.source_id = ?")
		args = append(args, f.SourceID)
	}
	if f.Status != "" {
		where = append(where, "a.gpt_status = ?")
		args = append(args, f.Status)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, "(a.title LIKE ? OR a.ai_title LIKE ? OR a.ai_summary LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like, like)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles a`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting articles: %w", err)
	}

	pageArgs := append(append([]any{}, args...), f.Limit, (f.Page-1)*f.Limit)
	rows, err := s.db.QueryContext(ctx,
		articleSelect+clause+` ORDER BY COALESCE(a.published_at, a.created_at) DESC, a.id DESC LIMIT ? OFFSET ?`,
		pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing articles: %w", err)
	}
	defer rows.Close()

	articles, err := scanArticles(rows)
	if err != nil {
		return nil, 0, err
	}
	return articles, total, nil
}

// ListArticlesForExtraction returns live articles whose content has not
// been fetched yet, oldest first.
func (s *Store) ListArticlesForExtraction(ctx context.Context, limit int) ([]models.Article, error) {
	rows, err := s.db.QueryContext(ctx,
		articleSelect+` WHERE a.content_status = 'pending' AND a.is_duplicate = 0 ORDER BY a.id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing articles for extraction: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// ListArticlesForClassification returns live articles waiting for the
// classifier (pending or retry), newest first.
func (s *Store) ListArticlesForClassification(ctx context.Context, limit int) ([]models.Article, error) {
	rows, err := s.db.QueryContext(ctx,
		articleSelect+` WHERE a.gpt_status IN ('pending', 'retry') AND a.is_duplicate = 0
		 ORDER BY COALESCE(a.published_at, a.created_at) DESC, a.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing articles for classification: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// SaveExtraction stores the outcome of a successful content extraction.
func (s *Store) SaveExtraction(ctx context.Context, id int64, c *models.ExtractedContent) error {
	images, err := json.Marshal(c.Metadata.Images)
	if err != nil {
		return fmt.Errorf("encoding images: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE articles SET
			content_status = ?, clean_text = ?, word_count = ?, author = ?, language = ?,
			images = ?, is_paywalled = ?, content_error = NULL, extracted_at = ?,
			published_at = COALESCE(published_at, ?), updated_at = datetime('now')
		 WHERE id = ?`,
		c.ContentStatus, nullableString(c.CleanText), c.WordCount, nullableString(c.Metadata.Author),
		nullableString(c.Metadata.Language), string(images), boolToInt(c.IsPaywalled),
		formatTime(time.Now()), formatTimePtr(c.Metadata.PublishedAt), id,
	)
	if err != nil {
		return fmt.Errorf("saving extraction for article %d: %w", id, err)
	}
	return nil
}

// MarkExtractionFailed records that the article page could not be fetched.
func (s *Store) MarkExtractionFailed(ctx context.Context, id int64, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE articles SET content_status = 'failed', content_error = ?, extracted_at = ?,
			updated_at = datetime('now')
		 WHERE id = ?`, msg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("marking extraction failed for article %d: %w", id, err)
	}
	return nil
}

// SaveEnrichment stores the enrichment output for an article.
func (s *Store) SaveEnrichment(ctx context.Context, id int64, e *models.Enrichment) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding enrichment: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE articles SET enrichment = ?, language = COALESCE(language, ?), updated_at = datetime('now')
		 WHERE id = ?`, string(data), nullableString(e.Language), id)
	if err != nil {
		return fmt.Errorf("saving enrichment for article %d: %w", id, err)
	}
	return nil
}

// RetryArticle moves a failed article back to pending so the next
// classifier sweep picks it up again.
func (s *Store) RetryArticle(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE articles SET gpt_status = 'pending', gpt_error = NULL, gpt_attempts = 0,
			updated_at = datetime('now')
		 WHERE id = ? AND gpt_status = 'failed'`, id)
	if err != nil {
		return fmt.Errorf("retrying article %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected for article %d: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT gpt_status FROM articles WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading status of article %d: %w", id, err)
	}
	return fmt.Errorf("article %d is %s: %w", id, status, ErrInvalidState)
}

// PurgeArticles deletes duplicates created before dupBefore and failed
// articles last updated before failedBefore. It returns the number of rows
// removed.
func (s *Store) PurgeArticles(ctx context.Context, dupBefore, failedBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM articles
		 WHERE (is_duplicate = 1 AND created_at < ?)
		    OR (gpt_status = 'failed' AND updated_at < ?)`,
		formatTime(dupBefore), formatTime(failedBefore))
	if err != nil {
		return 0, fmt.Errorf("purging articles: %w", err)
	}
	return res.RowsAffected()
}

// scanArticle scans a row produced by articleSelect.
func scanArticle(row scanner) (*models.Article, error) {
	var (
		a               models.Article
		snippet         sql.NullString
		publishedAt     sql.NullString
		rawPayload      sql.NullString
		cleanText       sql.NullString
		author          sql.NullString
		language        sql.NullString
		images          sql.NullString
		isPaywalled     int
		contentError    sql.NullString
		extractedAt     sql.NullString
		enrichment      sql.NullString
		gptError        sql.NullString
		isDuplicate     int
		duplicateReason sql.NullString
		duplicateOf     sql.NullInt64
		createdAt       string
		updatedAt       string

		cID               sql.NullInt64
		cVersion          sql.NullInt64
		cModel            sql.NullString
		cOriginalIndustry sql.NullString
		cFinalIndustry    sql.NullString
		cFiltered         sql.NullInt64
		cCategory         sql.NullString
		cAITitle          sql.NullString
		cSummary          sql.NullString
		cConfidence       sql.NullFloat64
		cKeyEntities      sql.NullString
		cLanguage         sql.NullString
		cSentiment        sql.NullString
		cImportance       sql.NullInt64
		cTags             sql.NullString
		cRequiresReview   sql.NullInt64
		cPromptTokens     sql.NullInt64
		cCompletionTokens sql.NullInt64
		cCost             sql.NullFloat64
		cCreatedAt        sql.NullString
	)

	if err := row.Scan(
		&a.ID, &a.SourceID, &a.Source, &a.Title, &a.URL, &a.CanonicalURL,
		&snippet, &publishedAt, &a.TitleFingerprint, &a.ContentFingerprint, &rawPayload,
		&a.ContentStatus, &cleanText, &a.WordCount, &author, &language, &images,
		&isPaywalled, &contentError, &extractedAt, &enrichment,
		&a.GPTStatus, &a.GPTAttempts, &gptError,
		&isDuplicate, &duplicateReason, &duplicateOf, &createdAt, &updatedAt,
		&cID, &cVersion, &cModel, &cOriginalIndustry, &cFinalIndustry, &cFiltered,
		&cCategory, &cAITitle, &cSummary, &cConfidence, &cKeyEntities, &cLanguage,
		&cSentiment, &cImportance, &cTags, &cRequiresReview,
		&cPromptTokens, &cCompletionTokens, &cCost, &cCreatedAt,
	); err != nil {
		return nil, err
	}

	a.Snippet = snippet.String
	a.PublishedAt = parseTimePtr(publishedAt)
	if rawPayload.Valid {
		a.RawPayload = json.RawMessage(rawPayload.String)
	}
	a.CleanText = cleanText.String
	a.Author = author.String
	a.Language = language.String
	a.Images = unmarshalList(images)
	a.IsPaywalled = isPaywalled == 1
	a.ContentError = contentError.String
	a.ExtractedAt = parseTimePtr(extractedAt)
	if enrichment.Valid && enrichment.String != "" {
		var e models.Enrichment
		if err := json.Unmarshal([]byte(enrichment.String), &e); err == nil {
			a.Enrichment = &e
		}
	}
	a.GPTError = gptError.String
	a.IsDuplicate = isDuplicate == 1
	a.DuplicateReason = duplicateReason.String
	if duplicateOf.Valid {
		v := duplicateOf.Int64
		a.DuplicateOf = &v
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)

	if cID.Valid {
		a.Classification = &models.Classification{
			ID:               cID.Int64,
			ArticleID:        a.ID,
			Version:          int(cVersion.Int64),
			Model:            cModel.String,
			OriginalIndustry: cOriginalIndustry.String,
			FinalIndustry:    cFinalIndustry.String,
			IndustryFiltered: cFiltered.Int64 == 1,
			Category:         cCategory.String,
			AITitle:          cAITitle.String,
			Summary:          cSummary.String,
			Confidence:       cConfidence.Float64,
			KeyEntities:      unmarshalList(cKeyEntities),
			Language:         cLanguage.String,
			Sentiment:        cSentiment.String,
			Importance:       int(cImportance.Int64),
			Tags:             unmarshalList(cTags),
			RequiresReview:   cRequiresReview.Int64 == 1,
			PromptTokens:     int(cPromptTokens.Int64),
			CompletionTokens: int(cCompletionTokens.Int64),
			CostUSD:          cCost.Float64,
			CreatedAt:        parseTime(cCreatedAt.String),
		}
	}

	return &a, nil
}

func scanArticles(rows *sql.Rows) ([]models.Article, error) {
	articles := []models.Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning article row: %w", err)
		}
		articles = append(articles, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating article rows: %w", err)
	}
	return articles, nil
}

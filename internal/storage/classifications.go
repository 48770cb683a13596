package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hoanghai1803/autopulse/internal/models"
)

// SaveClassification appends a new classification version for the article
// and marks it processed, mirroring the queryable fields onto the article
// row. The assigned version is written back to c.
func (s *Store) SaveClassification(ctx context.Context, c *models.Classification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var version int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM article_classifications WHERE article_id = ?`,
		c.ArticleID,
	).Scan(&version); err != nil {
		return fmt.Errorf("reading classification version: %w", err)
	}

	var importance *int
	if c.Importance > 0 {
		importance = &c.Importance
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO article_classifications (article_id, version, model, original_industry,
			final_industry, industry_filtered, category, ai_title, summary, confidence,
			key_entities, language, sentiment, importance, tags, requires_review,
			prompt_tokens, completion_tokens, cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ArticleID, version, nullableString(c.Model), c.OriginalIndustry, c.FinalIndustry,
		boolToInt(c.IndustryFiltered), c.Category, nullableString(c.AITitle), c.Summary,
		c.Confidence, marshalList(c.KeyEntities), nullableString(c.Language),
		nullableString(c.Sentiment), importance, marshalList(c.Tags), boolToInt(c.RequiresReview),
		c.PromptTokens, c.CompletionTokens, c.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("inserting classification for article %d: %w", c.ArticleID, err)
	}

	upd, err := tx.ExecContext(ctx,
		`UPDATE articles SET
			gpt_status = 'processed', gpt_error = NULL, gpt_attempts = gpt_attempts + 1,
			industry = ?, category = ?, ai_title = ?, ai_summary = ?, confidence = ?,
			importance = ?, sentiment = ?, requires_review = ?, classified_at = ?,
			updated_at = datetime('now')
		 WHERE id = ?`,
		c.FinalIndustry, c.Category, nullableString(c.AITitle), c.Summary, c.Confidence,
		importance, nullableString(c.Sentiment), boolToInt(c.RequiresReview),
		formatTime(time.Now()), c.ArticleID,
	)
	if err != nil {
		return fmt.Errorf("updating article %d classification: %w", c.ArticleID, err)
	}
	if n, err := upd.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing classification: %w", err)
	}

	c.Version = version
	if id, err := res.LastInsertId(); err == nil {
		c.ID = id
	}
	return nil
}

// MarkClassificationFailed records a failed classification attempt. status
// must be failed or retry. The mirrored classification fields are cleared
// so only processed articles carry them.
func (s *Store) MarkClassificationFailed(ctx context.Context, id int64, status, msg string) error {
	if status != models.StatusFailed && status != models.StatusRetry {
		return fmt.Errorf("status %q: %w", status, ErrInvalidState)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE articles SET
			gpt_status = ?, gpt_error = ?, gpt_attempts = gpt_attempts + 1,
			industry = NULL, category = NULL, ai_title = NULL, ai_summary = NULL,
			confidence = NULL, importance = NULL, sentiment = NULL, requires_review = 0,
			classified_at = NULL, updated_at = datetime('now')
		 WHERE id = ?`, status, msg, id)
	if err != nil {
		return fmt.Errorf("marking article %d %s: %w", id, status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetClassificationNote records why a pending article was not sent to the
// classifier without changing its status or attempt count.
func (s *Store) SetClassificationNote(ctx context.Context, id int64, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE articles SET gpt_error = ?, updated_at = datetime('now')
		 WHERE id = ? AND gpt_status IN ('pending', 'retry')`, msg, id)
	if err != nil {
		return fmt.Errorf("noting article %d: %w", id, err)
	}
	return nil
}

// ListClassifications returns every classification version of an article,
// oldest first.
func (s *Store) ListClassifications(ctx context.Context, articleID int64) ([]models.Classification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, article_id, version, model, original_industry, final_industry,
			industry_filtered, category, ai_title, summary, confidence, key_entities,
			language, sentiment, importance, tags, requires_review,
			prompt_tokens, completion_tokens, cost_usd, created_at
		 FROM article_classifications WHERE article_id = ? ORDER BY version`, articleID)
	if err != nil {
		return nil, fmt.Errorf("listing classifications for article %d: %w", articleID, err)
	}
	defer rows.Close()

	out := []models.Classification{}
	for rows.Next() {
		var (
			c           models.Classification
			model       sql.NullString
			aiTitle     sql.NullString
			keyEntities sql.NullString
			language    sql.NullString
			sentiment   sql.NullString
			importance  sql.NullInt64
			tags        sql.NullString
			filtered    int
			review      int
			createdAt   string
		)
		if err := rows.Scan(
			&c.ID, &c.ArticleID, &c.Version, &model, &c.OriginalIndustry, &c.FinalIndustry,
			&filtered, &c.Category, &aiTitle, &c.Summary, &c.Confidence, &keyEntities,
			&language, &sentiment, &importance, &tags, &review,
			&c.PromptTokens, &c.CompletionTokens, &c.CostUSD, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning classification row: %w", err)
		}
		c.Model = model.String
		c.AITitle = aiTitle.String
		c.KeyEntities = unmarshalList(keyEntities)
		c.Language = language.String
		c.Sentiment = sentiment.String
		c.Importance = int(importance.Int64)
		c.Tags = unmarshalList(tags)
		c.IndustryFiltered = filtered == 1
		c.RequiresReview = review == 1
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating classification rows: %w", err)
	}
	return out, nil
}

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hoanghai1803/autopulse/internal/models"
	"github.com/hoanghai1803/autopulse/internal/storage"
)

const maxPageSize = 100

// articlePage is the response of GET /api/articles.
type articlePage struct {
	Articles []models.Article `json:"articles"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
}

// ListArticles handles GET /api/articles. Duplicates are never listed.
//
// Query parameters: industry, category, from, to, min_confidence,
// min_importance, requires_review, source_id, status, q, page, limit.
func ListArticles(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		f, err := parseArticleFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		articles, total, err := store.ListArticles(ctx, f)
		if err != nil {
			slog.Error("failed to list articles", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to list articles")
			return
		}

		writeJSON(w, http.StatusOK, articlePage{Articles: articles, Total: total, Page: f.Page, Limit: f.Limit})
	}
}

func parseArticleFilter(r *http.Request) (storage.ArticleFilter, error) {
	q := r.URL.Query()
	f := storage.ArticleFilter{
		Industry: q.Get("industry"),
		Category: q.Get("category"),
		Status:   q.Get("status"),
		Query:    q.Get("q"),
	}
	if f.Industry != "" && !models.ValidIndustry(f.Industry) {
		return f, errors.New("unknown industry " + strconv.Quote(f.Industry))
	}
	if f.Category != "" && !models.ValidCategory(f.Category) {
		return f, errors.New("unknown category " + strconv.Quote(f.Category))
	}

	var err error
	if f.From, err = queryTime(r, "from"); err != nil {
		return f, err
	}
	if f.To, err = queryTime(r, "to"); err != nil {
		return f, err
	}
	if raw := q.Get("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return f, errors.New("invalid \"min_confidence\" parameter: want a number in [0,1]")
		}
		f.MinConfidence = &v
	}
	if raw := q.Get("requires_review"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, errors.New("invalid \"requires_review\" parameter: want true or false")
		}
		f.RequiresReview = &v
	}
	if f.MinImportance, err = queryInt(r, "min_importance"); err != nil {
		return f, err
	}
	sourceID, err := queryInt(r, "source_id")
	if err != nil {
		return f, err
	}
	f.SourceID = int64(sourceID)

	if f.Page, err = queryInt(r, "page"); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		return f, err
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	f.Limit = min(f.Limit, maxPageSize)
	return f, nil
}

// GetArticle handles GET /api/articles/{id}.
func GetArticle(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		article, err := store.GetArticle(r.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, "Article not found")
				return
			}
			slog.Error("failed to get article", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to get article")
			return
		}

		writeJSON(w, http.StatusOK, article)
	}
}

// GetClassifications handles GET /api/articles/{id}/classifications. It
// returns every classification version, oldest first.
func GetClassifications(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := parseID(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if _, err := store.GetArticle(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, "Article not found")
				return
			}
			slog.Error("failed to get article", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to get article")
			return
		}

		versions, err := store.ListClassifications(ctx, id)
		if err != nil {
			slog.Error("failed to list classifications", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to list classifications")
			return
		}

		writeJSON(w, http.StatusOK, versions)
	}
}

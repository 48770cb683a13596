package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hoanghai1803/autopulse/internal/classifier"
	"github.com/hoanghai1803/autopulse/internal/feeds"
	"github.com/hoanghai1803/autopulse/internal/pipeline"
	"github.com/hoanghai1803/autopulse/internal/scheduler"
	"github.com/hoanghai1803/autopulse/internal/storage"
)

// Pipeline is the subset of the orchestrator the HTTP layer triggers.
type Pipeline interface {
	Ingest(ctx context.Context) (*pipeline.IngestResult, error)
	ClassifyPending(ctx context.Context) (*pipeline.ClassifyResult, error)
	RetryArticle(ctx context.Context, id int64) error
	TestFeed(ctx context.Context, url string) feeds.TestResult
	Costs() pipeline.CostReport
}

// Jobs exposes the scheduler to the admin and query endpoints.
type Jobs interface {
	RunNow(ctx context.Context, name string) error
	Statuses() []scheduler.Status
}

// detach keeps admin work running after the client disconnects.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// ScrapeFeeds handles POST /admin/scrape-feeds.
func ScrapeFeeds(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := p.Ingest(detach(r))
		if err != nil {
			slog.Error("admin scrape failed", "error", err)
			writeAdminError(w, http.StatusInternalServerError, "Feed scrape failed")
			return
		}

		failed := res.Failed
		if failed == nil {
			failed = []feeds.FailedFeed{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":          true,
			"newArticlesCount": res.NewArticles,
			"sources":          res.Sources,
			"failedSources":    failed,
			"timestamp":        time.Now().UTC(),
		})
	}
}

// ProcessArticles handles POST /admin/process-articles. It classifies the
// pending backlog once.
func ProcessArticles(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := p.ClassifyPending(detach(r))
		if errors.Is(err, classifier.ErrUnavailable) {
			writeAdminError(w, http.StatusServiceUnavailable, "Classification is unavailable: no LLM credential configured")
			return
		}
		if err != nil {
			slog.Error("admin classification failed", "error", err)
			writeAdminError(w, http.StatusInternalServerError, "Article processing failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"processed": res.Processed,
			"failed":    res.Failed,
			"skipped":   res.Skipped,
			"costUsd":   res.CostUSD,
			"timestamp": time.Now().UTC(),
		})
	}
}

// TestFeed handles POST /admin/test-feed. Nothing is persisted.
func TestFeed(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeAdminError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		u, err := url.Parse(body.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			writeAdminError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
			return
		}

		res := p.TestFeed(r.Context(), body.URL)
		writeJSON(w, http.StatusOK, res)
	}
}

// RetryArticle handles POST /admin/articles/{id}/retry. Only failed
// articles can be returned to pending.
func RetryArticle(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r, "id")
		if err != nil {
			writeAdminError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := p.RetryArticle(r.Context(), id); err != nil {
			switch {
			case errors.Is(err, storage.ErrNotFound):
				writeAdminError(w, http.StatusNotFound, "Article not found")
			case errors.Is(err, storage.ErrInvalidState):
				writeAdminError(w, http.StatusConflict, "Only failed articles can be retried")
			default:
				slog.Error("failed to retry article", "id", id, "error", err)
				writeAdminError(w, http.StatusInternalServerError, "Failed to retry article")
			}
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
	}
}

// RunJob handles POST /admin/jobs/{name}/run. The job runs synchronously
// under its configured timeout; its error, if any, is reported in the body.
func RunJob(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		start := time.Now()
		err := jobs.RunNow(detach(r), name)
		if errors.Is(err, scheduler.ErrUnknownJob) {
			writeAdminError(w, http.StatusNotFound, "Unknown job "+name)
			return
		}
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"success":  false,
				"job":      name,
				"error":    err.Error(),
				"duration": time.Since(start).String(),
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"job":      name,
			"duration": time.Since(start).String(),
		})
	}
}

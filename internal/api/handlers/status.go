package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hoanghai1803/autopulse/internal/storage"
)

const defaultRunsLimit = 50

// ListRuns handles GET /api/runs. Optional source_id narrows the result to
// one source; limit defaults to 50 and is capped at 500.
func ListRuns(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID, err := queryInt(r, "source_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if limit <= 0 {
			limit = defaultRunsLimit
		}
		limit = min(limit, 500)

		runs, err := store.ListRuns(r.Context(), int64(sourceID), limit)
		if err != nil {
			slog.Error("failed to list runs", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to list runs")
			return
		}

		writeJSON(w, http.StatusOK, runs)
	}
}

// GetCosts handles GET /api/costs.
func GetCosts(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.Costs())
	}
}

// ListJobs handles GET /api/jobs.
func ListJobs(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, jobs.Statuses())
	}
}

// Health handles GET /healthz. It reports 503 when the database does not
// answer a ping within two seconds.
func Health(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.DB().PingContext(ctx); err != nil {
			slog.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

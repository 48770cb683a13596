// Package api exposes the pipeline over HTTP: admin triggers, the query
// API, the live websocket feed and Prometheus metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hoanghai1803/autopulse/internal/api/handlers"
	"github.com/hoanghai1803/autopulse/internal/storage"
)

// NewRouter creates and configures the HTTP router. live serves the
// websocket event stream at /ws.
func NewRouter(store *storage.Store, p handlers.Pipeline, jobs handlers.Jobs, live http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(RequestLogger)
	r.Use(Recovery)
	r.Use(CORS)

	r.Route("/admin", func(admin chi.Router) {
		admin.Post("/scrape-feeds", handlers.ScrapeFeeds(p))
		admin.Post("/process-articles", handlers.ProcessArticles(p))
		admin.Post("/test-feed", handlers.TestFeed(p))
		admin.Post("/articles/{id}/retry", handlers.RetryArticle(p))
		admin.Post("/jobs/{name}/run", handlers.RunJob(jobs))
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/articles", handlers.ListArticles(store))
		api.Get("/articles/{id}", handlers.GetArticle(store))
		api.Get("/articles/{id}/classifications", handlers.GetClassifications(store))

		api.Get("/sources", handlers.GetSources(store))
		api.Put("/sources/{id}", handlers.ToggleSource(store))

		api.Get("/runs", handlers.ListRuns(store))
		api.Get("/costs", handlers.GetCosts(p))
		api.Get("/jobs", handlers.ListJobs(jobs))
	})

	r.Get("/healthz", handlers.Health(store))
	r.Handle("/metrics", promhttp.Handler())
	if live != nil {
		r.Handle("/ws", live)
	}

	return r
}

// Package metrics provides Prometheus instruments for the ingestion pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "autopulse"

var (
	// FeedFetches counts feed fetches by source and outcome.
	FeedFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "Total number of feed fetches",
		},
		[]string{"source", "status"},
	)

	// FeedFetchDuration measures feed download and parse time.
	FeedFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "Duration of feed fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// ArticlesIngested counts articles persisted by the fetcher.
	ArticlesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_ingested_total",
			Help:      "Total number of articles saved",
		},
		[]string{"source"},
	)

	// DedupDecisions counts deduplicator verdicts by reason.
	DedupDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_decisions_total",
			Help:      "Total number of deduplication decisions",
		},
		[]string{"reason"},
	)

	// Extractions counts content extraction outcomes by content status.
	Extractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Total number of content extractions",
		},
		[]string{"status"},
	)

	// Classifications counts classifier outcomes per article.
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Total number of article classifications",
		},
		[]string{"status"},
	)

	// LLMTokens counts tokens consumed by kind (prompt, completion).
	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Total number of LLM tokens consumed",
		},
		[]string{"kind"},
	)

	// LLMCost accumulates LLM spend in US dollars.
	LLMCost = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Total LLM spend in US dollars",
		},
	)

	// BudgetSkips counts articles held back by the cost guard.
	BudgetSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_skips_total",
			Help:      "Total number of articles skipped by the cost guard",
		},
		[]string{"reason"},
	)

	// JobRuns counts scheduler job runs by outcome.
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job runs",
		},
		[]string{"job", "status"},
	)

	// JobDuration measures scheduled job duration.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled jobs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"job"},
	)

	// BroadcastEvents counts events handed to websocket clients.
	BroadcastEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_events_total",
			Help:      "Total number of broadcast events",
		},
		[]string{"type", "status"},
	)

	// HTTPRequests counts API requests by route pattern and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "code"},
	)

	// BroadcastClients tracks connected websocket clients.
	BroadcastClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_clients",
			Help:      "Number of connected websocket clients",
		},
	)
)

// RecordFetch records one feed fetch.
func RecordFetch(source string, ok bool, d time.Duration) {
	status := "success"
	if !ok {
		status = "error"
	}
	FeedFetches.WithLabelValues(source, status).Inc()
	FeedFetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordUsage records the tokens and cost of one LLM call.
func RecordUsage(promptTokens, completionTokens int, costUSD float64) {
	LLMTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	LLMTokens.WithLabelValues("completion").Add(float64(completionTokens))
	LLMCost.Add(costUSD)
}

// RecordHTTP records one served request.
func RecordHTTP(route string, code int) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// RecordJob records one scheduled job run.
func RecordJob(job string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	JobRuns.WithLabelValues(job, status).Inc()
	JobDuration.WithLabelValues(job).Observe(d.Seconds())
}

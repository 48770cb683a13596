package models

import "time"

// Source types understood by the feed fetcher.
const (
	SourceTypeRSS       = "rss"
	SourceTypeRSSSearch = "rss-search"
	SourceTypeScrape    = "scrape"
)

// Source is a pollable news feed together with its health counters.
type Source struct {
	ID                     int64      `json:"id"`
	Slug                   string     `json:"slug"`
	Name                   string     `json:"name"`
	URL                    string     `json:"url"`
	Type                   string     `json:"type"`
	Country                string     `json:"country,omitempty"`
	Language               string     `json:"language,omitempty"`
	IsActive               bool       `json:"is_active"`
	Priority               int        `json:"priority"`
	RefreshIntervalMinutes int        `json:"refresh_interval_minutes"`
	SuccessCount           int        `json:"success_count"`
	ErrorCount             int        `json:"error_count"`
	ConsecutiveErrors      int        `json:"consecutive_errors"`
	LastError              string     `json:"last_error,omitempty"`
	AvgResponseMs          float64    `json:"avg_response_ms"`
	IsHealthy              bool       `json:"is_healthy"`
	LastFetchedAt          *time.Time `json:"last_fetched_at,omitempty"`
	LastSuccessAt          *time.Time `json:"last_success_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

// FetchOutcome is the result of one poll of a source, applied to its
// health counters.
type FetchOutcome struct {
	Success  bool
	Duration time.Duration
	Error    string
	At       time.Time
}

package models

import (
	"encoding/json"
	"time"
)

// Content extraction states.
const (
	ContentPending   = "pending"
	ContentFull      = "full"
	ContentPartial   = "partial"
	ContentPaywalled = "paywalled"
	ContentFailed    = "failed"
)

// Classification states.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
	StatusRetry     = "retry"
)

// RawItem is a feed entry as it comes out of the parser. Payload holds the
// parser's own representation and is kept for debugging only.
type RawItem struct {
	Title       string
	Link        string
	Description string
	Content     string
	Author      string
	PublishedAt *time.Time
	Payload     json.RawMessage
}

// NormalizedItem is a feed entry after URL canonicalisation and
// fingerprinting.
type NormalizedItem struct {
	SourceID           int64
	Title              string
	URL                string
	CanonicalURL       string
	Snippet            string
	PublishedAt        *time.Time
	TitleFingerprint   string
	ContentFingerprint string
	RawPayload         json.RawMessage
}

// Article is the persisted record of a news item as it moves through
// extraction, enrichment and classification.
type Article struct {
	ID                 int64           `json:"id"`
	SourceID           int64           `json:"source_id"`
	Source             string          `json:"source,omitempty"`
	Title              string          `json:"title"`
	URL                string          `json:"url"`
	CanonicalURL       string          `json:"canonical_url"`
	Snippet            string          `json:"snippet,omitempty"`
	PublishedAt        *time.Time      `json:"published_at,omitempty"`
	TitleFingerprint   string          `json:"-"`
	ContentFingerprint string          `json:"-"`
	RawPayload         json.RawMessage `json:"-"`

	ContentStatus string     `json:"content_status"`
	CleanText     string     `json:"clean_text,omitempty"`
	WordCount     int        `json:"word_count"`
	Author        string     `json:"author,omitempty"`
	Language      string     `json:"language,omitempty"`
	Images        []string   `json:"images,omitempty"`
	IsPaywalled   bool       `json:"is_paywalled"`
	ContentError  string     `json:"content_error,omitempty"`
	ExtractedAt   *time.Time `json:"extracted_at,omitempty"`

	Enrichment *Enrichment `json:"enrichment,omitempty"`

	GPTStatus      string          `json:"gpt_status"`
	GPTAttempts    int             `json:"gpt_attempts"`
	GPTError       string          `json:"gpt_error,omitempty"`
	Classification *Classification `json:"classification,omitempty"`

	IsDuplicate     bool   `json:"is_duplicate"`
	DuplicateReason string `json:"duplicate_reason,omitempty"`
	DuplicateOf     *int64 `json:"duplicate_of,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BodyText returns the best available body for the article: the extracted
// text when present, otherwise the feed snippet.
func (a *Article) BodyText() string {
	if a.CleanText != "" {
		return a.CleanText
	}
	return a.Snippet
}

// ExtractedContent is the outcome of fetching and cleaning an article page.
type ExtractedContent struct {
	Title         string          `json:"title"`
	CleanText     string          `json:"clean_text"`
	RawHTMLPrefix string          `json:"raw_html_prefix"`
	IsPaywalled   bool            `json:"is_paywalled"`
	ContentStatus string          `json:"content_status"`
	Metadata      ContentMetadata `json:"metadata"`
	WordCount     int             `json:"word_count"`
}

// ContentMetadata holds page metadata found during extraction. Every field
// is optional.
type ContentMetadata struct {
	Author      string     `json:"author,omitempty"`
	Language    string     `json:"language,omitempty"`
	Images      []string   `json:"images,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	SiteName    string     `json:"site_name,omitempty"`
}

// Enrichment is the best-effort text analysis attached to an article.
type Enrichment struct {
	Entities    []string           `json:"entities"`
	Topics      []string           `json:"topics"`
	Sentiment   SentimentIndicator `json:"sentiment"`
	Locations   []string           `json:"locations"`
	Dates       []string           `json:"dates"`
	ReadingTime int                `json:"reading_time_minutes"`
	Language    string             `json:"language,omitempty"`
}

// SentimentIndicator lists the lexicon hits behind a sentiment score in
// [-1, 1].
type SentimentIndicator struct {
	Positive []string `json:"positive"`
	Negative []string `json:"negative"`
	Score    float64  `json:"score"`
}

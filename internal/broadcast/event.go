// Package broadcast delivers pipeline events to live subscribers.
package broadcast

import (
	"time"

	"github.com/hoanghai1803/autopulse/internal/models"
)

// Event types.
const (
	EventNewArticle     = "new_article"
	EventArticleUpdated = "article_updated"
)

// Sink receives pipeline events. Publish must not block the caller.
type Sink interface {
	Publish(Event)
}

// Event is the JSON message sent to subscribers.
type Event struct {
	Type      string         `json:"type"`
	Article   ArticlePayload `json:"article"`
	Timestamp time.Time      `json:"timestamp"`
}

// ArticlePayload is the article summary carried by events. Classification
// fields are empty until the article has been processed.
type ArticlePayload struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	AITitle     string     `json:"ai_title,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	Industry    string     `json:"industry,omitempty"`
	Category    string     `json:"category,omitempty"`
	Sentiment   string     `json:"sentiment,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewArticle builds the event fired once a feed item has been persisted.
func NewArticle(id int64, source string, item *models.NormalizedItem) Event {
	now := time.Now().UTC()
	return Event{
		Type: EventNewArticle,
		Article: ArticlePayload{
			ID:          id,
			Title:       item.Title,
			Summary:     item.Snippet,
			URL:         item.URL,
			Source:      source,
			PublishedAt: item.PublishedAt,
			CreatedAt:   now,
		},
		Timestamp: now,
	}
}

// ArticleUpdated builds the event fired once an article is classified.
func ArticleUpdated(a *models.Article) Event {
	p := ArticlePayload{
		ID:          a.ID,
		Title:       a.Title,
		URL:         a.URL,
		Source:      a.Source,
		PublishedAt: a.PublishedAt,
		CreatedAt:   a.CreatedAt,
	}
	if c := a.Classification; c != nil {
		p.AITitle = c.AITitle
		p.Summary = c.Summary
		p.Industry = c.FinalIndustry
		p.Category = c.Category
		p.Sentiment = c.Sentiment
		p.Tags = c.Tags
	}
	return Event{Type: EventArticleUpdated, Article: p, Timestamp: time.Now().UTC()}
}

// Nop discards every event. Used by one-shot CLI commands.
type Nop struct{}

// Publish implements Sink.
func (Nop) Publish(Event) {}

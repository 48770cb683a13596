package feeds

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hoanghai1803/autopulse/internal/models"
)

// parsedFeed is a feed document reduced to what the pipeline needs.
type parsedFeed struct {
	Title string
	Items []models.RawItem
}

// parseFeed parses an RSS or Atom document and converts up to maxItems
// entries, in feed order, into raw items. The gofeed item is kept as the
// opaque payload.
func parseFeed(data []byte, maxItems int) (*parsedFeed, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	return &parsedFeed{Title: feed.Title, Items: feedItems(feed, maxItems)}, nil
}

// feedItems converts gofeed items into raw items. Missing fields are left
// empty; rejecting incomplete items is the normalizer's job.
func feedItems(feed *gofeed.Feed, maxItems int) []models.RawItem {
	items := make([]models.RawItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		if maxItems > 0 && len(items) >= maxItems {
			break
		}

		var publishedAt *time.Time
		switch {
		case item.PublishedParsed != nil:
			t := item.PublishedParsed.UTC()
			publishedAt = &t
		case item.UpdatedParsed != nil:
			t := item.UpdatedParsed.UTC()
			publishedAt = &t
		}

		var author string
		if item.Author != nil {
			author = item.Author.Name
		}

		payload, err := json.Marshal(item)
		if err != nil {
			payload = nil
		}

		items = append(items, models.RawItem{
			Title:       item.Title,
			Link:        item.Link,
			Description: item.Description,
			Content:     item.Content,
			Author:      author,
			PublishedAt: publishedAt,
			Payload:     payload,
		})
	}
	return items
}

package feeds

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hoanghai1803/autopulse/internal/models"
)

// minScrapedTitle filters out navigation links such as "More" or "Next".
const minScrapedTitle = 15

// listingSelectors pick headline links on a news listing page, most
// specific first.
var listingSelectors = []string{
	"article h2 a[href]",
	"article h3 a[href]",
	"article a[href]",
	"h2 a[href]",
	"h3 a[href]",
	".post a[href]",
}

// scrapeListing extracts headline links from a listing page. Links are
// resolved against pageURL, restricted to the page's host and returned in
// document order without repeats.
func scrapeListing(data []byte, pageURL string, maxItems int) ([]models.RawItem, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parsing page url %q: %w", pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing listing page: %w", err)
	}

	seen := make(map[string]bool)
	var items []models.RawItem
	for _, sel := range listingSelectors {
		doc.Find(sel).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if maxItems > 0 && len(items) >= maxItems {
				return false
			}

			href, _ := a.Attr("href")
			link, err := base.Parse(strings.TrimSpace(href))
			if err != nil || link.Hostname() != base.Hostname() || link.Path == "" || link.Path == "/" {
				return true
			}
			link.Fragment = ""
			abs := link.String()
			if seen[abs] {
				return true
			}

			title := collapseSpace(a.Text())
			if t, ok := a.Attr("title"); ok && len(title) < minScrapedTitle {
				title = collapseSpace(t)
			}
			if len(title) < minScrapedTitle {
				return true
			}
			seen[abs] = true

			payload, _ := json.Marshal(map[string]string{"href": href, "text": title, "selector": sel})
			items = append(items, models.RawItem{
				Title:       title,
				Link:        abs,
				Description: nearbySummary(a),
				PublishedAt: nearbyDate(a),
				Payload:     payload,
			})
			return true
		})
	}
	return items, nil
}

// nearbySummary returns the first paragraph inside the link's article
// container, if any.
func nearbySummary(a *goquery.Selection) string {
	container := a.Closest("article, .post, li")
	if container.Length() == 0 {
		return ""
	}
	return collapseSpace(container.Find("p").First().Text())
}

// nearbyDate looks for a <time> element or an element whose class mentions
// "date" in the link's container.
func nearbyDate(a *goquery.Selection) *time.Time {
	container := a.Closest("article, .post, li")
	if container.Length() == 0 {
		container = a.Parent()
	}

	if tm := container.Find("time").First(); tm.Length() > 0 {
		if dt, ok := tm.Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(dt)); err == nil {
				u := t.UTC()
				return &u
			}
			if t := parseHumanDate(strings.TrimSpace(dt)); t != nil {
				return t
			}
		}
		if t := parseHumanDate(collapseSpace(tm.Text())); t != nil {
			return t
		}
	}
	if d := container.Find("[class*='date']").First(); d.Length() > 0 {
		return parseHumanDate(collapseSpace(d.Text()))
	}
	return nil
}

// parseHumanDate tries to parse date strings like "Jan 29, 2026" or "February 5, 2026".
func parseHumanDate(s string) *time.Time {
	layouts := []string{
		"Jan 2, 2006",
		"January 2, 2006",
		"Jan 02, 2006",
		"January 02, 2006",
		"2 January 2006",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

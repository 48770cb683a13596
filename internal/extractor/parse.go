package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/hoanghai1803/autopulse/internal/models"
)

const (
	rawPrefixLen = 1000
	maxImages    = 5
)

// contentSelectors are tried in order; the first with enough text wins.
var contentSelectors = []string{
	"article",
	"[itemprop='articleBody']",
	".article-body",
	".article-content",
	".entry-content",
	".post-content",
	".story-body",
	"main",
	"#content",
	".content",
}

// boilerplate is removed before any text is read.
var boilerplate = strings.Join([]string{
	"script", "style", "noscript", "iframe", "form", "nav", "header", "footer", "aside",
	".ad", ".ads", ".advert", ".advertisement", "[class*='ad-slot']", "[id^='ad-']", "[class*='sponsored']",
	".comments", "#comments", ".comment-list", "#disqus_thread",
	".social-share", ".share-buttons", ".newsletter-signup", ".related-articles",
}, ", ")

var paywallSelector = strings.Join([]string{
	".paywall", ".premium-content", ".subscriber-only", ".metered-content",
	".piano-container", ".tp-container", ".regwall",
}, ", ")

var paywallPhrases = []string{
	"subscribe to continue",
	"subscribe to read",
	"premium content",
	"members only",
	"subscribers only",
	"sign in to continue reading",
	"already a subscriber",
}

// Parse extracts readable content and metadata from an HTML document.
// Every metadata field is best-effort. Text shorter than minLength makes
// the content partial.
func Parse(data []byte, pageURL string, minLength int) (*models.ExtractedContent, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parsing page url %q: %w", pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	// Readability works on its own copy of the document and only feeds
	// the metadata fallbacks.
	var article *readability.Article
	if a, err := readability.FromReader(bytes.NewReader(data), base); err == nil {
		article = &a
	}

	meta := extractMetadata(doc, base, article)
	title := firstNonEmpty(
		metaContent(doc, "meta[property='og:title']"),
		readabilityField(article, func(a *readability.Article) string { return a.Title }),
		doc.Find("title").First().Text(),
		doc.Find("h1").First().Text(),
	)

	doc.Find("script, style, noscript").Remove()
	paywalled := doc.Find(paywallSelector).Length() > 0

	// Phrases are matched outside navigation, footers and sidebars.
	doc.Find(boilerplate).Remove()
	paywalled = paywalled || hasPaywallPhrase(doc.Find("body").Text())
	container, text := mainContent(doc, minLength)
	if text == "" {
		text = readabilityField(article, func(a *readability.Article) string { return collapseSpace(a.TextContent) })
	}
	if container != nil {
		meta.Images = appendImages(meta.Images, container, base)
	}

	status := models.ContentFull
	switch {
	case paywalled:
		status = models.ContentPaywalled
	case utf8.RuneCountInString(text) < minLength:
		status = models.ContentPartial
	}

	return &models.ExtractedContent{
		Title:         collapseSpace(title),
		CleanText:     text,
		RawHTMLPrefix: truncateRunes(string(data), rawPrefixLen),
		IsPaywalled:   paywalled,
		ContentStatus: status,
		Metadata:      meta,
		WordCount:     len(strings.Fields(text)),
	}, nil
}

// mainContent returns the content container and its text. It tries the
// known selectors first and falls back to the largest block of paragraphs.
func mainContent(doc *goquery.Document, minLength int) (*goquery.Selection, string) {
	var (
		best     *goquery.Selection
		bestText string
	)
	for _, sel := range contentSelectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		text := blockText(s)
		if utf8.RuneCountInString(text) >= minLength {
			return s, text
		}
		if len(text) > len(bestText) {
			best, bestText = s, text
		}
	}

	doc.Find("article, section, div").Each(func(_ int, s *goquery.Selection) {
		var parts []string
		s.ChildrenFiltered("p").Each(func(_ int, p *goquery.Selection) {
			if t := collapseSpace(p.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		if text := strings.Join(parts, "\n\n"); len(text) > len(bestText) {
			best, bestText = s, text
		}
	})
	if bestText == "" {
		if p := doc.Find("p"); p.Length() > 0 {
			return p.Parent(), blockText(p.Parent())
		}
		body := doc.Find("body")
		return body, collapseSpace(body.Text())
	}
	return best, bestText
}

// blockText joins the text of block-level descendants with blank lines, or
// returns the flattened text when the container has none.
func blockText(s *goquery.Selection) string {
	var parts []string
	s.Find("p, h2, h3, h4, li, blockquote").Each(func(_ int, b *goquery.Selection) {
		if t := collapseSpace(b.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return collapseSpace(s.Text())
	}
	return strings.Join(parts, "\n\n")
}

func hasPaywallPhrase(text string) bool {
	lower := strings.ToLower(collapseSpace(text))
	for _, p := range paywallPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func extractMetadata(doc *goquery.Document, base *url.URL, article *readability.Article) models.ContentMetadata {
	var meta models.ContentMetadata

	meta.Author = firstNonEmpty(
		metaContent(doc, "meta[name='author']"),
		metaContent(doc, "meta[property='article:author']"),
		doc.Find("[rel='author']").First().Text(),
		readabilityField(article, func(a *readability.Article) string { return a.Byline }),
	)

	lang, _ := doc.Find("html").Attr("lang")
	if lang == "" {
		lang = metaContent(doc, "meta[http-equiv='content-language']")
	}
	if lang != "" {
		lang = strings.ToLower(strings.TrimSpace(strings.SplitN(strings.SplitN(lang, ",", 2)[0], "-", 2)[0]))
	}
	meta.Language = lang

	meta.SiteName = firstNonEmpty(
		metaContent(doc, "meta[property='og:site_name']"),
		readabilityField(article, func(a *readability.Article) string { return a.SiteName }),
	)

	if img := firstNonEmpty(
		metaContent(doc, "meta[property='og:image']"),
		readabilityField(article, func(a *readability.Article) string { return a.Image }),
	); img != "" {
		if abs := absoluteURL(base, img); abs != "" {
			meta.Images = append(meta.Images, abs)
		}
	}

	meta.PublishedAt = publishedAt(doc, article)
	return meta
}

func publishedAt(doc *goquery.Document, article *readability.Article) *time.Time {
	candidates := []string{
		metaContent(doc, "meta[property='article:published_time']"),
		metaContent(doc, "meta[itemprop='datePublished']"),
	}
	if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		candidates = append(candidates, dt)
	}
	for _, c := range candidates {
		if t := parseTimestamp(c); t != nil {
			return t
		}
	}
	if article != nil && article.PublishedTime != nil {
		t := article.PublishedTime.UTC()
		return &t
	}
	return nil
}

func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func appendImages(images []string, container *goquery.Selection, base *url.URL) []string {
	container.Find("img[src]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		if len(images) >= maxImages {
			return false
		}
		src, _ := img.Attr("src")
		abs := absoluteURL(base, src)
		if abs == "" || strings.HasPrefix(src, "data:") {
			return true
		}
		for _, existing := range images {
			if existing == abs {
				return true
			}
		}
		images = append(images, abs)
		return true
	})
	return images
}

func absoluteURL(base *url.URL, ref string) string {
	u, err := base.Parse(strings.TrimSpace(ref))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.String()
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

func readabilityField(a *readability.Article, get func(*readability.Article) string) string {
	if a == nil {
		return ""
	}
	return strings.TrimSpace(get(a))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

package feeds

import (
	"crypto/sha1"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hoanghai1803/autopulse/internal/models"
)

const (
	titleFingerprintLen   = 120
	contentFingerprintLen = 500
	maxSnippetLen         = 1000
)

// trackingParams are dropped from article URLs regardless of case.
var trackingParams = map[string]bool{
	"fbclid": true, "gclid": true, "dclid": true, "gbraid": true, "wbraid": true,
	"msclkid": true, "yclid": true, "twclid": true, "ttclid": true, "igshid": true,
	"li_fat_id": true, "mkt_tok": true, "_hsenc": true, "_hsmi": true,
	"ref": true, "ref_src": true, "ref_url": true, "ocid": true, "cmpid": true,
	"sr_share": true, "spm": true,
}

// trackingPrefixes cover families such as utm_source or mc_cid.
var trackingPrefixes = []string{"utm_", "mc_"}

var (
	nonWordPattern    = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	// qualifierPattern matches editorial tags like "(Updated)" or "[Video]"
	// at either end of a headline.
	qualifierPattern = regexp.MustCompile(`(?i)^\s*[\(\[](updated?|video|photos?|gallery|live|breaking|exclusive|sponsored|watch|podcast)[\)\]]\s*|\s*[\(\[](updated?|video|photos?|gallery|live|breaking|exclusive|sponsored|watch|podcast)[\)\]]\s*$`)
)

var snippetPolicy = bluemonday.StrictPolicy()

// Normalize turns a raw feed item into a NormalizedItem. Items without a
// title or link are rejected (ok == false). A link that does not parse is
// kept verbatim.
func Normalize(raw models.RawItem, sourceID int64) (*models.NormalizedItem, bool) {
	title := collapseSpace(stripHTML(raw.Title))
	link := strings.TrimSpace(raw.Link)
	if title == "" || link == "" {
		return nil, false
	}

	body := raw.Description
	if body == "" {
		body = raw.Content
	}
	snippet := truncateRunes(collapseSpace(stripHTML(body)), maxSnippetLen)

	return &models.NormalizedItem{
		SourceID:           sourceID,
		Title:              title,
		URL:                link,
		CanonicalURL:       CanonicalURL(link),
		Snippet:            snippet,
		PublishedAt:        raw.PublishedAt,
		TitleFingerprint:   TitleFingerprint(title),
		ContentFingerprint: ContentFingerprint(title, snippet),
		RawPayload:         raw.Payload,
	}, true
}

// CanonicalURL strips tracking parameters and fragments, forces https,
// lowercases the host and drops trailing slashes (never the root path).
// Query parameters are sorted so equivalent URLs compare equal. Input that
// does not parse as an absolute URL is returned trimmed but otherwise
// unchanged.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.ForceQuery = false

	// Trim on the escaped form so an encoded slash (%2F) stays distinct
	// from a path separator.
	if len(u.Path) > 1 {
		escaped := strings.TrimRight(u.EscapedPath(), "/")
		if escaped == "" {
			escaped = "/"
		}
		if p, err := url.PathUnescape(escaped); err == nil {
			u.Path = p
			u.RawPath = escaped
		}
	}

	return u.String()
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if trackingParams[k] {
		return true
	}
	for _, p := range trackingPrefixes {
		if strings.HasPrefix(k, p) {
			return true
		}
	}
	return false
}

// TitleFingerprint hashes a headline so that case, punctuation, spacing and
// editorial qualifiers do not matter.
func TitleFingerprint(title string) string {
	for {
		stripped := qualifierPattern.ReplaceAllString(title, "")
		if stripped == title {
			break
		}
		title = stripped
	}
	return digest(truncateRunes(normalizeText(title), titleFingerprintLen))
}

// ContentFingerprint hashes the headline plus body so syndicated copies
// with reworded titles but identical text collide.
func ContentFingerprint(title, body string) string {
	return digest(truncateRunes(normalizeText(title+" "+body), contentFingerprintLen))
}

// normalizeText lowercases s, removes everything but letters, digits,
// underscores and whitespace, and collapses runs of whitespace.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = nonWordPattern.ReplaceAllString(s, "")
	return collapseSpace(s)
}

func digest(s string) string {
	return fmt.Sprintf("%x", sha1.Sum([]byte(s)))
}

// stripHTML removes markup from s and unescapes HTML entities.
func stripHTML(s string) string {
	return html.UnescapeString(snippetPolicy.Sanitize(s))
}

func collapseSpace(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}

// Package enrich derives best-effort metadata from extracted article text:
// entities, topics, sentiment indicators, locations, dates, reading time
// and language.
package enrich

import (
	"math"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/hoanghai1803/autopulse/internal/models"
)

const (
	maxEntities  = 15
	maxLocations = 10
	maxDates     = 10
)

var (
	// capitalisedRun matches two or more capitalised words in a row,
	// e.g. "Jim Farley" or "Model Y Juniper".
	capitalisedRun = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9&\-]+(?:\s+[A-Z][a-zA-Z0-9&\-]+)+\b`)
	isoDate        = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	longDate       = regexp.MustCompile(`\b(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\.?\s+\d{1,2},\s+\d{4}\b`)
	wordPattern    = regexp.MustCompile(`[a-z]+`)
)

// runStopwords start sentences often enough to be mistaken for names.
var runStopwords = map[string]bool{
	"The": true, "A": true, "An": true, "In": true, "On": true, "At": true,
	"This": true, "That": true, "It": true, "But": true, "And": true, "For": true,
}

// Enricher computes Enrichment values. It is safe for concurrent use.
type Enricher struct {
	detector LanguageDetector
}

// New creates an Enricher. A nil detector leaves Language empty.
func New(detector LanguageDetector) *Enricher {
	return &Enricher{detector: detector}
}

// Enrich analyses text. It never fails; missing signals are left empty.
func (e *Enricher) Enrich(text string) *models.Enrichment {
	out := &models.Enrichment{
		Entities:  extractEntities(text),
		Topics:    detectTopics(text),
		Sentiment: scoreSentiment(text),
		Locations: findLocations(text),
		Dates:     findDates(text),
	}
	out.ReadingTime = CalculateReadingTime(text)
	if e.detector != nil {
		out.Language = e.detector.Detect(text)
	}
	return out
}

func extractEntities(text string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] && len(out) < maxEntities {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, org := range knownOrganisations {
		if containsWord(text, org) {
			add(org)
		}
	}
	for _, run := range capitalisedRun.FindAllString(text, -1) {
		words := strings.Fields(run)
		for len(words) > 0 && runStopwords[words[0]] {
			words = words[1:]
		}
		if len(words) < 2 {
			continue
		}
		candidate := strings.Join(words, " ")
		if slices.Contains(knownLocations, candidate) {
			continue
		}
		add(candidate)
	}
	return out
}

func detectTopics(text string) []string {
	lower := " " + strings.ToLower(text) + " "
	var out []string
	for topic, keywords := range topicKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				out = append(out, topic)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func scoreSentiment(text string) models.SentimentIndicator {
	counts := make(map[string]int)
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		counts[w]++
	}

	var s models.SentimentIndicator
	pos, neg := 0, 0
	for _, w := range positiveWords {
		if n := counts[w]; n > 0 {
			s.Positive = append(s.Positive, w)
			pos += n
		}
	}
	for _, w := range negativeWords {
		if n := counts[w]; n > 0 {
			s.Negative = append(s.Negative, w)
			neg += n
		}
	}
	if total := pos + neg; total > 0 {
		s.Score = math.Round(float64(pos-neg)/float64(total)*100) / 100
	}
	return s
}

func findLocations(text string) []string {
	var out []string
	for _, loc := range knownLocations {
		if len(out) >= maxLocations {
			break
		}
		if containsWord(text, loc) {
			out = append(out, loc)
		}
	}
	return out
}

func findDates(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, re := range []*regexp.Regexp{isoDate, longDate} {
		for _, m := range re.FindAllString(text, -1) {
			if !seen[m] && len(out) < maxDates {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// containsWord reports whether phrase occurs in text bounded by non-letters.
func containsWord(text, phrase string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], phrase)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(phrase)
		if !isLetter(text, start-1) && !isLetter(text, end) {
			return true
		}
		i = start + 1
	}
}

func isLetter(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

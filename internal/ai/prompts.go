package ai

import (
	"fmt"
	"strings"

	"github.com/hoanghai1803/autopulse/internal/models"
)

const classifySystemPromptTmpl = `You are an automotive industry news analyst. You will receive %d numbered news articles. Classify each one and return ONLY valid JSON: an array with exactly %d objects, in the same order as the input, one per article. Each object has these fields:
- "industry": one of %s
- "category": one of %s
- "title": a clear, factual headline of at most 15 words
- "summary": 2-3 sentences stating what happened and why it matters
- "confidence": a number between 0 and 1 for how sure you are about industry and category
- "key_entities": up to 8 companies, people, products or places named in the article
- "language": the ISO 639-1 code of the article's language
- "sentiment": one of "positive", "neutral", "negative"
- "importance": an integer from 1 (minor) to 5 (major industry news)
- "tags": up to 6 short lowercase topic tags
Use "Unknown" for industry when the article is not about any listed industry. Do not skip articles and do not add commentary outside the JSON array.`

// PromptArticle is one article as presented to the model.
type PromptArticle struct {
	Title  string
	Source string
	Body   string
}

// ClassificationPrompt builds the system and user prompts for a batch of
// articles. The model must answer with one JSON object per article, in
// input order.
func ClassificationPrompt(articles []PromptArticle) (systemPrompt string, userPrompt string) {
	systemPrompt = fmt.Sprintf(classifySystemPromptTmpl,
		len(articles), len(articles),
		quoteList(models.Industries), quoteList(models.Categories))

	var b strings.Builder
	for i, a := range articles {
		fmt.Fprintf(&b, "Article %d\nTitle: %s\nSource: %s\nContent: %s\n\n", i+1, a.Title, a.Source, a.Body)
	}

	userPrompt = strings.TrimSpace(b.String())
	return systemPrompt, userPrompt
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + v + `"`
	}
	return strings.Join(quoted, ", ")
}

// ExtractJSON strips markdown code fences from a string that may contain
// JSON wrapped in ```json ... ``` or ``` ... ``` blocks, and drops any
// prose around a top-level array.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)

	// Try ```json ... ``` first.
	if after, found := strings.CutPrefix(s, "```json"); found {
		if idx := strings.LastIndex(after, "```"); idx >= 0 {
			after = after[:idx]
		}
		return strings.TrimSpace(after)
	}

	// Try plain ``` ... ```.
	if after, found := strings.CutPrefix(s, "```"); found {
		if idx := strings.LastIndex(after, "```"); idx >= 0 {
			after = after[:idx]
		}
		return strings.TrimSpace(after)
	}

	if start, end := strings.Index(s, "["), strings.LastIndex(s, "]"); start > 0 && end > start {
		return s[start : end+1]
	}
	return s
}

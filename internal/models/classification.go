package models

import "time"

// Industries accepted from the classifier.
var Industries = []string{"Automotive", "Tech", "Finance", "Healthcare", "Energy", "HVAC", "Unknown"}

// Categories accepted from the classifier.
var Categories = []string{"Launch", "Financials", "Competitor", "Regulation", "Research", "Opinion", "Other"}

// IndustryAutomotive is the label whose low-confidence assignments are
// flagged as filtered.
const IndustryAutomotive = "Automotive"

// Classification is one version of the classifier's verdict on an article.
// Versions are append-only; the article row mirrors the latest one.
type Classification struct {
	ID               int64     `json:"id,omitempty"`
	ArticleID        int64     `json:"article_id"`
	Version          int       `json:"version"`
	Model            string    `json:"model,omitempty"`
	OriginalIndustry string    `json:"original_industry"`
	FinalIndustry    string    `json:"final_industry"`
	IndustryFiltered bool      `json:"industry_filtered"`
	Category         string    `json:"category"`
	AITitle          string    `json:"ai_title,omitempty"`
	Summary          string    `json:"summary"`
	Confidence       float64   `json:"confidence"`
	KeyEntities      []string  `json:"key_entities"`
	Language         string    `json:"language,omitempty"`
	Sentiment        string    `json:"sentiment,omitempty"`
	Importance       int       `json:"importance,omitempty"`
	Tags             []string  `json:"tags"`
	RequiresReview   bool      `json:"requires_review"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	CreatedAt        time.Time `json:"created_at"`
}

// ValidIndustry reports whether s is in the industry vocabulary.
func ValidIndustry(s string) bool { return contains(Industries, s) }

// ValidCategory reports whether s is in the category vocabulary.
func ValidCategory(s string) bool { return contains(Categories, s) }

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

package models

import "time"

// Ingestion run states.
const (
	RunStarted   = "started"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunPartial   = "partial"
)

// IngestionRun logs one fetch of one source and the downstream work done
// for the articles it saved.
type IngestionRun struct {
	ID               string     `json:"id"`
	SourceID         int64      `json:"source_id"`
	Source           string     `json:"source,omitempty"`
	Status           string     `json:"status"`
	ItemsDiscovered  int        `json:"items_discovered"`
	ItemsInvalid     int        `json:"items_invalid"`
	ItemsUnique      int        `json:"items_unique"`
	ItemsSaved       int        `json:"items_saved"`
	ItemsSkipped     int        `json:"items_skipped"`
	ContentExtracted int        `json:"content_extracted"`
	Classified       int        `json:"classified"`
	LLMTokens        int        `json:"llm_tokens"`
	LLMCostUSD       float64    `json:"llm_cost_usd"`
	Errors           []string   `json:"errors"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	DurationMs       int64      `json:"duration_ms"`

	// SavedIDs lists the articles persisted by this run. Not stored.
	SavedIDs []int64 `json:"-"`
}

// AddError appends a message to the run's error list.
func (r *IngestionRun) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// CostBucket is the persisted snapshot of one day or month of LLM spend.
// Period is "day:YYYY-MM-DD" or "month:YYYY-MM".
type CostBucket struct {
	Period           string    `json:"period"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	APICalls         int       `json:"api_calls"`
	Extractions      int       `json:"extractions"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Tokens returns prompt plus completion tokens.
func (b CostBucket) Tokens() int {
	return b.PromptTokens + b.CompletionTokens
}

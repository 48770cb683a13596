package enrich

import (
	"slices"
	"strings"
	"testing"
)

const sampleText = `Ford announced on March 3, 2026 that it will recall 90,000 Mustang Mach-E
units in the United States after a battery defect. Chief executive Jim Farley said the
Dearborn company expects the charging software update to be ready by 2026-04-15. Tesla
meanwhile reported record deliveries and strong profit growth in China.`

type fixedDetector string

func (d fixedDetector) Detect(string) string { return string(d) }

func TestEnrich(t *testing.T) {
	got := New(fixedDetector("en")).Enrich(sampleText)

	for _, want := range []string{"Ford", "Tesla", "Jim Farley"} {
		if !slices.Contains(got.Entities, want) {
			t.Errorf("Entities = %v, missing %q", got.Entities, want)
		}
	}
	for _, want := range []string{"recalls", "batteries", "charging"} {
		if !slices.Contains(got.Topics, want) {
			t.Errorf("Topics = %v, missing %q", got.Topics, want)
		}
	}
	for _, want := range []string{"United States", "Dearborn", "China"} {
		if !slices.Contains(got.Locations, want) {
			t.Errorf("Locations = %v, missing %q", got.Locations, want)
		}
	}
	if !slices.Contains(got.Dates, "2026-04-15") || !slices.Contains(got.Dates, "March 3, 2026") {
		t.Errorf("Dates = %v", got.Dates)
	}
	if got.ReadingTime != 1 {
		t.Errorf("ReadingTime = %d, want 1", got.ReadingTime)
	}
	if got.Language != "en" {
		t.Errorf("Language = %q, want en", got.Language)
	}
	if !slices.Contains(got.Sentiment.Negative, "recall") || !slices.Contains(got.Sentiment.Positive, "record") {
		t.Errorf("Sentiment = %+v", got.Sentiment)
	}
}

func TestEnrich_EmptyText(t *testing.T) {
	got := New(nil).Enrich("")
	if got == nil {
		t.Fatal("Enrich returned nil")
	}
	if len(got.Entities) != 0 || len(got.Topics) != 0 || got.ReadingTime != 0 || got.Language != "" {
		t.Errorf("Enrich(\"\") = %+v, want empty", got)
	}
}

func TestScoreSentiment(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"record growth and strong gains", 1},
		{"recall and layoffs after a crash", -1},
		{"record sales despite recall", 0},
		{"the car is blue", 0},
	}
	for _, tt := range tests {
		got := scoreSentiment(tt.text)
		if got.Score != tt.want {
			t.Errorf("scoreSentiment(%q).Score = %v, want %v", tt.text, got.Score, tt.want)
		}
		if got.Score < -1 || got.Score > 1 {
			t.Errorf("score %v out of range", got.Score)
		}
	}
}

func TestContainsWord(t *testing.T) {
	tests := []struct {
		text, phrase string
		want         bool
	}{
		{"GM said", "GM", true},
		{"GMC trucks", "GM", false},
		{"the EPA ruling", "EPA", true},
		{"STEPAHEAD", "EPA", false},
		{"sold by Kia.", "Kia", true},
	}
	for _, tt := range tests {
		if got := containsWord(tt.text, tt.phrase); got != tt.want {
			t.Errorf("containsWord(%q, %q) = %v, want %v", tt.text, tt.phrase, got, tt.want)
		}
	}
}

func TestLinguaDetector(t *testing.T) {
	d := NewLinguaDetector()
	if got := d.Detect("short"); got != "" {
		t.Errorf("Detect(short) = %q, want empty", got)
	}
	de := "Der Autohersteller hat heute ein neues Elektroauto mit einer größeren Batterie vorgestellt."
	if got := d.Detect(de); got != "de" {
		t.Errorf("Detect(german) = %q, want de", got)
	}
	en := strings.Repeat("The carmaker unveiled a new electric pickup truck today. ", 2)
	if got := d.Detect(en); got != "en" {
		t.Errorf("Detect(english) = %q, want en", got)
	}
}

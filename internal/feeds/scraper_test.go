package feeds

import (
	"testing"
)

const testListing = `<html><body>
<nav><a href="/">Home</a><a href="/news">News</a></nav>
<article>
  <h2><a href="/2026/03/hyundai-ioniq-9-pricing#top">Hyundai reveals Ioniq 9 pricing</a></h2>
  <time datetime="2026-03-02T09:30:00Z">March 2</time>
  <p>The three-row EV starts below $60,000.</p>
</article>
<article>
  <h2><a href="https://motors.example/2026/03/bmw-neue-klasse">BMW Neue Klasse production begins</a></h2>
  <span class="post-date">Mar 1, 2026</span>
</article>
<article>
  <h3><a href="https://other.example/offsite-story">An off-site story that should be skipped</a></h3>
</article>
<div class="post"><a href="/2026/03/hyundai-ioniq-9-pricing">Hyundai reveals Ioniq 9 pricing again</a></div>
<div class="post"><a href="/more">More</a></div>
</body></html>`

func TestScrapeListing(t *testing.T) {
	items, err := scrapeListing([]byte(testListing), "https://motors.example/news", 0)
	if err != nil {
		t.Fatalf("scrapeListing error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2: %+v", len(items), items)
	}

	first := items[0]
	if first.Link != "https://motors.example/2026/03/hyundai-ioniq-9-pricing" {
		t.Errorf("Link = %q", first.Link)
	}
	if first.Title != "Hyundai reveals Ioniq 9 pricing" {
		t.Errorf("Title = %q", first.Title)
	}
	if first.Description != "The three-row EV starts below $60,000." {
		t.Errorf("Description = %q", first.Description)
	}
	if first.PublishedAt == nil || first.PublishedAt.Day() != 2 {
		t.Errorf("PublishedAt = %v, want March 2", first.PublishedAt)
	}
	if items[1].PublishedAt == nil || items[1].PublishedAt.Day() != 1 {
		t.Errorf("PublishedAt = %v, want Mar 1 from the date span", items[1].PublishedAt)
	}
}

func TestScrapeListing_MaxItems(t *testing.T) {
	items, err := scrapeListing([]byte(testListing), "https://motors.example/news", 1)
	if err != nil {
		t.Fatalf("scrapeListing error: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("got %d items, want 1", len(items))
	}
}

func TestParseHumanDate(t *testing.T) {
	tests := []struct {
		input   string
		wantNil bool
		wantDay int
	}{
		{"Jan 29, 2026", false, 29},
		{"February 5, 2026", false, 5},
		{"5 February 2026", false, 5},
		{"2026-01-15", false, 15},
		{"not a date", true, 0},
		{"", true, 0},
	}
	for _, tt := range tests {
		got := parseHumanDate(tt.input)
		if tt.wantNil && got != nil {
			t.Errorf("parseHumanDate(%q) = %v, want nil", tt.input, got)
		}
		if !tt.wantNil && got == nil {
			t.Errorf("parseHumanDate(%q) = nil, want day %d", tt.input, tt.wantDay)
		}
		if !tt.wantNil && got != nil && got.Day() != tt.wantDay {
			t.Errorf("parseHumanDate(%q).Day() = %d, want %d", tt.input, got.Day(), tt.wantDay)
		}
	}
}

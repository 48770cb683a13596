package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hoanghai1803/autopulse/internal/models"
)

func writeSources(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing sources file: %v", err)
	}
	return path
}

func TestLoadSources(t *testing.T) {
	path := writeSources(t, `
sources:
  - slug: electrek
    name: Electrek
    url: https://electrek.co/feed/
    country: US
    priority: 2
  - slug: ev-search
    name: EV search
    url: https://news.google.com/rss/search?q=electric+vehicle
    type: rss-search
    active: false
  - slug: autonews
    name: Automotive News
    url: https://www.autonews.com/news
    type: scrape
    refresh_interval_minutes: 30
`)

	got, err := LoadSources(path)
	if err != nil {
		t.Fatalf("LoadSources error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d sources, want 3", len(got))
	}

	if got[0].Type != models.SourceTypeRSS || !got[0].IsActive || got[0].Priority != 2 || got[0].Country != "US" {
		t.Errorf("electrek = %+v, want active rss", got[0])
	}
	if got[1].Type != models.SourceTypeRSSSearch || got[1].IsActive {
		t.Errorf("ev-search = %+v, want inactive rss-search", got[1])
	}
	if got[2].Type != models.SourceTypeScrape || got[2].RefreshIntervalMinutes != 30 {
		t.Errorf("autonews = %+v, want scrape every 30m", got[2])
	}
}

func TestLoadSources_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing slug", "sources:\n  - name: X\n    url: https://x.example/rss\n"},
		{"duplicate slug", "sources:\n  - {slug: a, name: A, url: 'https://a.example'}\n  - {slug: a, name: B, url: 'https://b.example'}\n"},
		{"bad url", "sources:\n  - {slug: a, name: A, url: 'ftp://a.example'}\n"},
		{"unknown type", "sources:\n  - {slug: a, name: A, url: 'https://a.example', type: atom}\n"},
		{"not yaml", "sources: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadSources(writeSources(t, tt.content)); err == nil {
				t.Error("LoadSources accepted invalid file")
			}
		})
	}
}

func TestLoadSources_MissingFile(t *testing.T) {
	if _, err := LoadSources(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadSources accepted a missing file")
	}
}

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hoanghai1803/autopulse/internal/models"
)

// sourcesFile is the layout of the optional source registry file:
//
//	sources:
//	  - slug: electrek
//	    name: Electrek
//	    url: https://electrek.co/feed/
//	    type: rss
type sourcesFile struct {
	Sources []sourceEntry `yaml:"sources"`
}

type sourceEntry struct {
	Slug                   string `yaml:"slug"`
	Name                   string `yaml:"name"`
	URL                    string `yaml:"url"`
	Type                   string `yaml:"type"`
	Country                string `yaml:"country"`
	Language               string `yaml:"language"`
	Active                 *bool  `yaml:"active"`
	Priority               int    `yaml:"priority"`
	RefreshIntervalMinutes int    `yaml:"refresh_interval_minutes"`
}

// LoadSources reads a YAML source registry. Entries default to active RSS
// feeds; every entry needs a slug, a name and an http(s) URL.
func LoadSources(path string) ([]models.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sources file: %w", err)
	}

	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing sources file: %w", err)
	}

	seen := make(map[string]bool, len(file.Sources))
	sources := make([]models.Source, 0, len(file.Sources))
	for i, e := range file.Sources {
		if e.Slug == "" || e.Name == "" {
			return nil, fmt.Errorf("source %d: slug and name are required", i+1)
		}
		if seen[e.Slug] {
			return nil, fmt.Errorf("source %q: duplicate slug", e.Slug)
		}
		seen[e.Slug] = true
		if !strings.HasPrefix(e.URL, "http://") && !strings.HasPrefix(e.URL, "https://") {
			return nil, fmt.Errorf("source %q: url %q must be http or https", e.Slug, e.URL)
		}

		typ := e.Type
		switch typ {
		case "":
			typ = models.SourceTypeRSS
		case models.SourceTypeRSS, models.SourceTypeRSSSearch, models.SourceTypeScrape:
		default:
			return nil, fmt.Errorf("source %q: unknown type %q", e.Slug, e.Type)
		}

		active := true
		if e.Active != nil {
			active = *e.Active
		}
		sources = append(sources, models.Source{
			Slug:                   e.Slug,
			Name:                   e.Name,
			URL:                    e.URL,
			Type:                   typ,
			Country:                e.Country,
			Language:               e.Language,
			IsActive:               active,
			Priority:               e.Priority,
			RefreshIntervalMinutes: e.RefreshIntervalMinutes,
		})
	}
	return sources, nil
}

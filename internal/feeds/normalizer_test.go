package feeds

import (
	"testing"

	"github.com/hoanghai1803/autopulse/internal/models"
)

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips utm", "http://Example.com/news/a?utm_source=rss&utm_medium=feed", "https://example.com/news/a"},
		{"keeps real params", "https://example.com/a?id=7&fbclid=xyz&gclid=1", "https://example.com/a?id=7"},
		{"uppercase tracking", "https://example.com/a?UTM_Campaign=x&MC_cid=2&ref=home", "https://example.com/a"},
		{"trailing slash", "https://example.com/a/", "https://example.com/a"},
		{"root kept", "https://example.com/", "https://example.com/"},
		{"fragment dropped", "https://example.com/a#comments", "https://example.com/a"},
		{"sorted query", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"encoded slash kept", "https://example.com/tags/a%2Fb/", "https://example.com/tags/a%2Fb"},
		{"encoded slash distinct", "https://example.com/tags/a/b/", "https://example.com/tags/a/b"},
		{"relative tolerated", "/just/a/path", "/just/a/path"},
		{"malformed tolerated", "http://[::1:bad", "http://[::1:bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalURL(tt.in); got != tt.want {
				t.Errorf("CanonicalURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanonicalURL_Idempotent(t *testing.T) {
	inputs := []string{
		"http://example.com/a//?utm_source=x&z=1&a=2#frag",
		"https://EXAMPLE.com",
		"https://example.com/",
		"https://example.com/path%20with%20space/?q=a+b",
		"https://news.example/2026/03/ev-sales/?ref=twitter",
		"https://example.com/tags/a%2Fb/",
	}
	for _, in := range inputs {
		once := CanonicalURL(in)
		if twice := CanonicalURL(once); twice != once {
			t.Errorf("CanonicalURL not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestTitleFingerprint_Stable(t *testing.T) {
	groups := [][]string{
		{"Tesla Launches New Model Y", "tesla launches new model y!!!", "  TESLA   launches new Model Y. "},
		{"Ford recalls 100,000 trucks", "Ford recalls 100000 trucks (Updated)", "[Video] Ford Recalls 100,000 Trucks."},
	}
	for _, g := range groups {
		want := TitleFingerprint(g[0])
		for _, title := range g[1:] {
			if got := TitleFingerprint(title); got != want {
				t.Errorf("TitleFingerprint(%q) != TitleFingerprint(%q)", title, g[0])
			}
		}
	}
	if TitleFingerprint("Tesla Launches New Model Y") == TitleFingerprint("Tesla Launches New Model 3") {
		t.Error("different titles collided")
	}
}

func TestTitleFingerprint_Truncated(t *testing.T) {
	base := ""
	for len(base) < 130 {
		base += "word "
	}
	if TitleFingerprint(base+"alpha") != TitleFingerprint(base+"beta") {
		t.Error("titles differing only past 120 characters should collide")
	}
}

func TestContentFingerprint_CatchesSyndication(t *testing.T) {
	body := "General Motors said on Tuesday it would invest $1 billion in a new battery plant in Ohio."
	a := ContentFingerprint("GM to invest $1B in Ohio battery plant", body)
	b := ContentFingerprint("GM to invest $1B in Ohio battery plant!", body)
	if a != b {
		t.Error("identical bodies with punctuation-only title change did not collide")
	}
	if a == ContentFingerprint("GM to invest $1B in Ohio battery plant", "Something else entirely.") {
		t.Error("different bodies collided")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		raw    models.RawItem
		wantOK bool
	}{
		{"missing title", models.RawItem{Link: "https://example.com/a"}, false},
		{"missing link", models.RawItem{Title: "Hello"}, false},
		{"markup-only title", models.RawItem{Title: "<b></b>", Link: "https://example.com/a"}, false},
		{"valid", models.RawItem{Title: "Hello &amp; welcome", Link: "https://example.com/a?utm_source=x"}, true},
		{"malformed url kept", models.RawItem{Title: "Hello", Link: "http://[::1:bad"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.raw, 3)
			if ok != tt.wantOK {
				t.Fatalf("Normalize ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.SourceID != 3 {
				t.Errorf("SourceID = %d, want 3", got.SourceID)
			}
			if got.TitleFingerprint == "" || got.ContentFingerprint == "" {
				t.Error("fingerprints not computed")
			}
		})
	}
}

func TestNormalize_StripsSnippetMarkup(t *testing.T) {
	got, ok := Normalize(models.RawItem{
		Title:       "  Hello &amp; welcome  ",
		Link:        "https://example.com/a",
		Description: "<p>First <b>bold</b> line</p>\n<script>alert(1)</script><p>Second</p>",
	}, 1)
	if !ok {
		t.Fatal("Normalize rejected a valid item")
	}
	if got.Title != "Hello & welcome" {
		t.Errorf("Title = %q, want %q", got.Title, "Hello & welcome")
	}
	if got.Snippet != "First bold lineSecond" && got.Snippet != "First bold line Second" {
		t.Errorf("Snippet = %q, want markup stripped", got.Snippet)
	}
}

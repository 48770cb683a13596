package enrich

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// LanguageDetector returns an ISO 639-1 code for text, or "" when unsure.
type LanguageDetector interface {
	Detect(text string) string
}

// newsLanguages are the languages automotive sources publish in.
var newsLanguages = []lingua.Language{
	lingua.English, lingua.German, lingua.French, lingua.Spanish,
	lingua.Italian, lingua.Portuguese, lingua.Dutch, lingua.Swedish,
	lingua.Polish, lingua.Czech, lingua.Japanese, lingua.Korean,
	lingua.Chinese,
}

// minDetectChars is the shortest text handed to the detector.
const minDetectChars = 20

type linguaDetector struct {
	detector lingua.LanguageDetector
}

// NewLinguaDetector builds a detector restricted to common news languages.
// Building it loads language models, so create one per process.
func NewLinguaDetector() LanguageDetector {
	return &linguaDetector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(newsLanguages...).
			WithMinimumRelativeDistance(0.1).
			Build(),
	}
}

func (d *linguaDetector) Detect(text string) string {
	if len(strings.TrimSpace(text)) < minDetectChars {
		return ""
	}
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

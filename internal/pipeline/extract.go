package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hoanghai1803/autopulse/internal/models"
)

// ExtractResult counts the outcome of one extraction pass.
type ExtractResult struct {
	Attempted int `json:"attempted"`
	Extracted int `json:"extracted"`
	Paywalled int `json:"paywalled"`
	Failed    int `json:"failed"`
}

// ExtractPending fetches the pages of articles whose content is still
// pending and enriches what it finds.
func (p *Pipeline) ExtractPending(ctx context.Context) (*ExtractResult, error) {
	return p.extractPending(ctx, nil)
}

func (p *Pipeline) extractPending(ctx context.Context, tr *tracker) (*ExtractResult, error) {
	articles, err := p.store.ListArticlesForExtraction(ctx, p.cfg.ExtractBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("loading articles for extraction: %w", err)
	}

	res := &ExtractResult{Attempted: len(articles)}
	if len(articles) == 0 {
		return res, nil
	}

	urls := make([]string, len(articles))
	for i, a := range articles {
		urls[i] = a.URL
	}
	results := p.extractor.ExtractBatch(ctx, urls)

	for i, r := range results {
		a := &articles[i]
		if !r.Success {
			res.Failed++
			if err := p.store.MarkExtractionFailed(ctx, a.ID, r.Error); err != nil {
				slog.Warn("failed to record extraction failure", "article_id", a.ID, "error", err)
			}
			// The snippet still deserves best-effort enrichment.
			p.enrichArticle(ctx, a.ID, a.Snippet)
			continue
		}

		if err := p.store.SaveExtraction(ctx, a.ID, r.Content); err != nil {
			slog.Warn("failed to save extraction", "article_id", a.ID, "error", err)
			res.Failed++
			continue
		}
		res.Extracted++
		if r.Content.ContentStatus == models.ContentPaywalled {
			res.Paywalled++
		}
		if p.guard != nil {
			p.guard.RecordExtraction()
		}
		tr.extracted(a.ID)

		text := r.Content.CleanText
		if text == "" {
			text = a.Snippet
		}
		p.enrichArticle(ctx, a.ID, text)
	}

	slog.Info("extracted pending articles",
		"attempted", res.Attempted,
		"extracted", res.Extracted,
		"paywalled", res.Paywalled,
		"failed", res.Failed,
	)
	return res, nil
}

func (p *Pipeline) enrichArticle(ctx context.Context, id int64, text string) {
	if p.enricher == nil || text == "" {
		return
	}
	if err := p.store.SaveEnrichment(ctx, id, p.enricher.Enrich(text)); err != nil {
		slog.Warn("failed to save enrichment", "article_id", id, "error", err)
	}
}

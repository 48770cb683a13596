package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hoanghai1803/autopulse/internal/broadcast"
	"github.com/hoanghai1803/autopulse/internal/classifier"
	"github.com/hoanghai1803/autopulse/internal/cost"
	"github.com/hoanghai1803/autopulse/internal/models"
)

// ClassifyResult counts the outcome of one classifier sweep.
type ClassifyResult struct {
	Processed int     `json:"processed"`
	Failed    int     `json:"failed"`
	Skipped   int     `json:"skipped"`
	Batches   int     `json:"batches"`
	CostUSD   float64 `json:"costUsd"`
}

// ClassifyPending classifies articles still pending or awaiting retry. It
// returns classifier.ErrUnavailable when no provider is configured; the
// articles stay pending with a note explaining why.
func (p *Pipeline) ClassifyPending(ctx context.Context) (*ClassifyResult, error) {
	return p.classifyPending(ctx, nil)
}

func isUnavailable(err error) bool {
	return errors.Is(err, classifier.ErrUnavailable)
}

func (p *Pipeline) classifyPending(ctx context.Context, tr *tracker) (*ClassifyResult, error) {
	articles, err := p.store.ListArticlesForClassification(ctx, p.cfg.ClassifyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading articles for classification: %w", err)
	}

	res := &ClassifyResult{}
	if len(articles) == 0 {
		return res, nil
	}

	if p.classifier == nil || !p.classifier.Available() {
		for _, a := range articles {
			p.note(ctx, a.ID, classifier.ErrUnavailable.Error())
		}
		res.Skipped = len(articles)
		slog.Warn("skipping classification", "pending", len(articles), "reason", classifier.ErrUnavailable)
		return res, classifier.ErrUnavailable
	}

	accepted, skipped := p.guard.OptimizeBatch(articles)
	for _, s := range skipped {
		p.skip(ctx, &s.Article, s.Decision)
	}
	res.Skipped = len(skipped)
	if deferred := len(articles) - len(accepted) - len(skipped); deferred > 0 {
		slog.Info("deferred articles to next sweep", "count", deferred)
	}

	for start := 0; start < len(accepted); start += p.cfg.ClassifyBatchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch := accepted[start:min(start+p.cfg.ClassifyBatchSize, len(accepted))]

		// Spend is re-checked after every call; the rest waits for the
		// next sweep once a budget is gone.
		if d := p.guard.ShouldSkip(&batch[0]); d.Skip && !d.Terminal() {
			for i := range accepted[start:] {
				p.skip(ctx, &accepted[start+i], d)
			}
			res.Skipped += len(accepted) - start
			break
		}

		p.classifyBatch(ctx, batch, res, tr)
		res.Batches++
	}

	slog.Info("classified pending articles",
		"processed", res.Processed,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"batches", res.Batches,
		"cost_usd", res.CostUSD,
	)
	return res, nil
}

func (p *Pipeline) classifyBatch(ctx context.Context, batch []models.Article, res *ClassifyResult, tr *tracker) {
	inputs := make([]classifier.Input, len(batch))
	for i, a := range batch {
		inputs[i] = classifier.Input{ID: a.ID, Title: a.Title, Source: a.Source, Body: a.BodyText()}
	}

	out := p.classifier.ClassifyBatch(ctx, inputs)
	res.CostUSD += out.CostUSD

	for i, r := range out.Results {
		a := &batch[i]
		if r.Err != nil {
			res.Failed++
			status := models.StatusFailed
			// Whole-batch failures are worth another try; a rejected
			// answer for one article is final.
			if out.Err != nil && a.GPTAttempts+1 < p.cfg.MaxArticleAttempts {
				status = models.StatusRetry
			}
			if err := p.store.MarkClassificationFailed(ctx, a.ID, status, r.Err.Error()); err != nil {
				slog.Warn("failed to record classification failure", "article_id", a.ID, "error", err)
			}
			continue
		}

		if err := p.store.SaveClassification(ctx, r.Classification); err != nil {
			res.Failed++
			slog.Warn("failed to save classification", "article_id", a.ID, "error", err)
			continue
		}
		res.Processed++
		tr.classified(r.Classification)

		updated, err := p.store.GetArticle(ctx, a.ID)
		if err != nil {
			slog.Warn("failed to reload classified article", "article_id", a.ID, "error", err)
			continue
		}
		p.sink.Publish(broadcast.ArticleUpdated(updated))
	}
}

// skip records a cost guard decision. Skips that depend on the extracted
// article are final; budget skips, and skips of articles whose page has
// not been fetched yet, leave the article pending.
func (p *Pipeline) skip(ctx context.Context, a *models.Article, d cost.Decision) {
	msg := "skipped: " + d.Reason
	if d.Terminal() && a.ContentStatus != models.ContentPending {
		if err := p.store.MarkClassificationFailed(ctx, a.ID, models.StatusFailed, msg); err != nil {
			slog.Warn("failed to record skipped article", "article_id", a.ID, "error", err)
		}
		return
	}
	p.note(ctx, a.ID, msg)
}

func (p *Pipeline) note(ctx context.Context, id int64, msg string) {
	if err := p.store.SetClassificationNote(ctx, id, msg); err != nil {
		slog.Warn("failed to note article", "article_id", id, "error", err)
	}
}

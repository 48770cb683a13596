package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hoanghai1803/autopulse/internal/classifier"
	"github.com/hoanghai1803/autopulse/internal/config"
	"github.com/hoanghai1803/autopulse/internal/pipeline"
	"github.com/hoanghai1803/autopulse/internal/scheduler"
)

// registerJobs adds the periodic jobs to s. Content extraction only runs
// in full-pipeline; classify works on whatever is pending. Jobs switched off in the
// config are still registered so they can be run on demand.
func registerJobs(s *scheduler.Scheduler, cfg *config.Config, p *pipeline.Pipeline) error {
	jobs := []struct {
		name      string
		retryable bool
		run       func(ctx context.Context) error
	}{
		{config.JobQuickIngest, true, func(ctx context.Context) error {
			_, err := p.Ingest(ctx)
			return err
		}},
		{config.JobFullPipeline, false, func(ctx context.Context) error {
			_, err := p.FullRun(ctx)
			return err
		}},
		{config.JobClassify, true, func(ctx context.Context) error {
			_, err := p.ClassifyPending(ctx)
			if errors.Is(err, classifier.ErrUnavailable) {
				slog.Warn("classify job skipped", "reason", err)
				return nil
			}
			return err
		}},
		{config.JobDedupSweep, true, func(ctx context.Context) error {
			_, err := p.DedupSweep(ctx)
			return err
		}},
		{config.JobCleanup, false, func(ctx context.Context) error {
			_, err := p.Cleanup(ctx)
			return err
		}},
		{config.JobCostSnapshot, true, p.SnapshotCosts},
	}

	for _, j := range jobs {
		err := s.Add(scheduler.Job{
			Name:      j.name,
			Spec:      cfg.JobSpec(j.name),
			Timeout:   cfg.JobTimeout(j.name),
			Retryable: j.retryable,
			Run:       j.run,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

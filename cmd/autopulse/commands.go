package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hoanghai1803/autopulse/internal/api"
	"github.com/hoanghai1803/autopulse/internal/broadcast"
	"github.com/hoanghai1803/autopulse/internal/classifier"
	"github.com/hoanghai1803/autopulse/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

func serveAction(c *cli.Context) error {
	hub := broadcast.NewHub()
	defer hub.Close()

	a, err := newApp(c, hub)
	if err != nil {
		return err
	}
	defer a.close()

	sched := scheduler.New(scheduler.Config{
		Retries:    a.cfg.Scheduler.JobRetries,
		RetryDelay: time.Duration(a.cfg.Scheduler.JobRetryDelaySeconds) * time.Second,
	})
	if err := registerJobs(sched, a.cfg, a.pipeline); err != nil {
		return err
	}
	if a.cfg.Scheduler.Enabled {
		sched.Start()
	} else {
		slog.Warn("scheduler disabled, jobs only run on demand")
	}

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           api.NewRouter(a.store, a.pipeline, sched, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", "http://"+srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			sched.Stop(context.Background())
			return fmt.Errorf("server failed: %w", err)
		}
	case <-c.Context.Done():
		slog.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	sched.Stop(ctx)
	return nil
}

func ingestAction(c *cli.Context) error {
	a, err := newApp(c, broadcast.Nop{})
	if err != nil {
		return err
	}
	defer a.close()

	if c.Bool("full") {
		res, err := a.pipeline.FullRun(c.Context)
		if err != nil {
			return err
		}
		return printJSON(res)
	}
	res, err := a.pipeline.Ingest(c.Context)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func classifyAction(c *cli.Context) error {
	a, err := newApp(c, broadcast.Nop{})
	if err != nil {
		return err
	}
	defer a.close()

	extracted, err := a.pipeline.ExtractPending(c.Context)
	if err != nil {
		return err
	}
	classified, err := a.pipeline.ClassifyPending(c.Context)
	if err != nil && !errors.Is(err, classifier.ErrUnavailable) {
		return err
	}
	if err != nil {
		slog.Warn("classification skipped", "reason", err)
	}
	return printJSON(map[string]any{"extract": extracted, "classify": classified})
}

func sweepAction(c *cli.Context) error {
	a, err := newApp(c, broadcast.Nop{})
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.pipeline.DedupSweep(c.Context)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func cleanupAction(c *cli.Context) error {
	a, err := newApp(c, broadcast.Nop{})
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.pipeline.Cleanup(c.Context)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func testFeedAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: autopulse test-feed <url>", 2)
	}
	a, err := newApp(c, broadcast.Nop{})
	if err != nil {
		return err
	}
	defer a.close()

	res := a.pipeline.TestFeed(c.Context, c.Args().First())
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Success {
		return cli.Exit("", 1)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "autopulse",
		Usage: "automotive news ingestion and classification pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.toml",
				Usage:   "path to config file (created with defaults if missing)",
				EnvVars: []string{"AUTOPULSE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Value:   "./data",
				Usage:   "path to data directory",
				EnvVars: []string{"AUTOPULSE_DATA_DIR"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API, websocket feed and scheduler",
				Action: serveAction,
			},
			{
				Name:   "ingest",
				Usage:  "fetch every active source once",
				Action: ingestAction,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "full", Usage: "also extract content and classify the new articles"},
				},
			},
			{
				Name:   "classify",
				Usage:  "extract and classify pending articles once",
				Action: classifyAction,
			},
			{
				Name:   "sweep",
				Usage:  "re-run duplicate detection over recent articles",
				Action: sweepAction,
			},
			{
				Name:   "cleanup",
				Usage:  "purge old duplicates, failed articles and runs",
				Action: cleanupAction,
			},
			{
				Name:      "test-feed",
				Usage:     "parse one feed URL without saving anything",
				ArgsUsage: "<url>",
				Action:    testFeedAction,
			},
		},
	}
}

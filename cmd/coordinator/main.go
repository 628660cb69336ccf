package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dreamware/linkmill/internal/config"
	"github.com/dreamware/linkmill/internal/coordinator"
	"github.com/dreamware/linkmill/internal/logging"
	"github.com/dreamware/linkmill/internal/storage"
)

// main runs one coordinator run until every page of the source has been
// analyzed and reported, or until interrupted.
//
// Configuration:
//   - -job / JOB_FILE: job file, JSON or YAML (required)
//   - -log-level / LOG_LEVEL: debug, info, warn or error (default info)
//   - COORDINATOR_LISTEN, QUEUE_CAPACITY: override the job file
//
// Exit codes:
//   - 0: Run completed, or stopped by SIGINT/SIGTERM
//   - 1: Bad configuration, source I/O failure or result sink failure
//   - 2: Bad command line
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("coordinator", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jobPath := fs.String("job", getenv("JOB_FILE", ""), "job file (JSON or YAML)")
	logLevel := fs.String("log-level", getenv("LOG_LEVEL", "info"), "log level")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	logging.Init(stderr, *logLevel)

	if *jobPath == "" {
		logging.Error("missing job file", "hint", "pass -job or set JOB_FILE")
		return 1
	}
	cfg, err := config.LoadServer(*jobPath)
	if err != nil {
		logging.Error("invalid job", "err", err)
		return 1
	}

	var sink storage.Sink
	if cfg.OutputPath != "" {
		db, err := storage.OpenSQLite(cfg.OutputPath)
		if err != nil {
			logging.Error("open output", "path", cfg.OutputPath, "err", err)
			return 1
		}
		defer db.Close()
		sink = db
	}

	srv := coordinator.NewServer(cfg, sink)
	answers, err := srv.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			logging.Info("coordinator stopped")
			return 0
		}
		logging.Error("run failed", "err", err)
		return 1
	}

	logging.Info("coordinator finished", "results", answers.Len(), "output", cfg.OutputPath)
	return 0
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

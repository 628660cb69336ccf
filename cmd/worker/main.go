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
	"github.com/dreamware/linkmill/internal/logging"
	"github.com/dreamware/linkmill/internal/worker"
)

// main connects to the coordinator, processes one batch sized to local
// parallelism and reports it.
//
// Configuration:
//   - -server / COORDINATOR_HOST: coordinator host (required)
//   - -port / COORDINATOR_PORT: coordinator port (default 20057)
//   - -parallelism / WORKER_PARALLELISM: batch size (default CPU count)
//   - -log-level / LOG_LEVEL: debug, info, warn or error (default info)
//
// Exit codes:
//   - 0: Batch reported, coordinator hung up, or stopped by signal
//   - 1: Missing configuration, connection refused, protocol error or
//     analysis panic
//   - 2: Bad command line
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(stderr)
	server := fs.String("server", "", "coordinator host")
	port := fs.Int("port", 0, "coordinator port")
	parallelism := fs.Int("parallelism", 0, "tasks per batch")
	logLevel := fs.String("log-level", getenv("LOG_LEVEL", "info"), "log level")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	logging.Init(stderr, *logLevel)

	cfg, err := config.LoadClient(*server, *port)
	if err != nil {
		logging.Error("invalid configuration", "err", err)
		return 1
	}
	if *parallelism > 0 {
		cfg.Parallelism = config.ClampParallelism(*parallelism)
	}

	rt := worker.New(cfg)
	n, err := rt.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			logging.Info("worker stopped", "worker", rt.ID())
			return 0
		}
		logging.Error("worker failed", "worker", rt.ID(), "err", err)
		return 1
	}

	logging.Info("worker finished", "worker", rt.ID(), "tasks", n)
	return 0
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

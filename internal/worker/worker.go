// Package worker implements the worker side of a run: it asks the
// coordinator for a batch sized to local parallelism, analyzes the batch
// across that many goroutines, and reports every result in one Done.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/linkmill/internal/analysis"
	"github.com/dreamware/linkmill/internal/cluster"
	"github.com/dreamware/linkmill/internal/config"
	"github.com/dreamware/linkmill/internal/logging"
)

// ErrChunkPanic wraps a panic raised while analyzing a chunk. The batch
// is abandoned and no Done is sent.
var ErrChunkPanic = errors.New("chunk analysis panicked")

// AnalyzeFunc computes the results for one task.
type AnalyzeFunc func(markup string, actions cluster.ActionSet) cluster.ActionResult

// Runtime is one worker process's participation in a run.
type Runtime struct {
	analyze     AnalyzeFunc
	dialer      net.Dialer
	log         *log.Logger
	addr        string
	id          string
	parallelism int
}

// New creates a runtime for cfg.
func New(cfg *config.ClientConfig) *Runtime {
	id := "worker-" + uuid.New().String()[:8]
	return &Runtime{
		analyze:     analysis.Run,
		log:         logging.With("worker", id),
		addr:        cfg.Addr(),
		id:          id,
		parallelism: config.ClampParallelism(cfg.Parallelism),
	}
}

// ID returns the worker identifier used in logs.
func (r *Runtime) ID() string {
	return r.id
}

// Parallelism returns the batch size this worker asks for.
func (r *Runtime) Parallelism() int {
	return r.parallelism
}

// Run connects, processes one batch and reports it. It returns the number
// of tasks processed.
//
// A connection the coordinator drops is a normal end and returns a nil
// error. Failing to connect, a protocol violation or a panic during
// analysis fails the run.
func (r *Runtime) Run(ctx context.Context) (int, error) {
	conn, err := r.dialer.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return 0, fmt.Errorf("connect %s: %w", r.addr, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	r.log.Info("connected", "coordinator", r.addr, "parallelism", r.parallelism)

	if err := cluster.WriteMessage(conn, cluster.NewReady(uint8(r.parallelism))); err != nil {
		return 0, r.endOfConnection(ctx, "ready not delivered", err)
	}

	tasks, err := r.receive(conn)
	if err != nil {
		return 0, r.endOfConnection(ctx, "batch interrupted", err)
	}

	results, err := Execute(ctx, Partition(tasks, r.parallelism), r.analyze)
	if err != nil {
		return 0, err
	}

	if err := cluster.WriteMessage(conn, cluster.NewDone(results)); err != nil {
		return 0, r.endOfConnection(ctx, "report not delivered", err)
	}

	r.log.Info("batch reported", "tasks", len(tasks))
	return len(tasks), nil
}

// receive reads tasks until the batch is full or the coordinator ends its
// side of the stream.
func (r *Runtime) receive(conn net.Conn) ([]cluster.Task, error) {
	tasks := make([]cluster.Task, 0, r.parallelism)
	for len(tasks) < r.parallelism {
		msg, err := cluster.ReadMessage(conn)
		if errors.Is(err, cluster.ErrClosed) {
			r.log.Debug("coordinator has no more work", "received", len(tasks))
			break
		}
		if err != nil {
			return nil, err
		}
		if msg.Type != cluster.TypeTask {
			return nil, fmt.Errorf("%w: expected task, got %s", cluster.ErrMalformed, msg.Type)
		}
		tasks = append(tasks, *msg.Task)
	}
	return tasks, nil
}

// endOfConnection decides whether a connection error fails the run.
func (r *Runtime) endOfConnection(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if cluster.IsProtocolError(err) {
		return fmt.Errorf("%s: %w", what, err)
	}
	r.log.Warn(what, "err", err)
	return nil
}

// Partition splits tasks into at most p contiguous chunks of
// ceil(len(tasks)/p) tasks each; the last chunk may be shorter.
func Partition(tasks []cluster.Task, p int) [][]cluster.Task {
	if len(tasks) == 0 {
		return nil
	}
	if p < 1 {
		p = 1
	}
	size := (len(tasks) + p - 1) / p

	chunks := make([][]cluster.Task, 0, p)
	for start := 0; start < len(tasks); start += size {
		end := min(start+size, len(tasks))
		chunks = append(chunks, tasks[start:end])
	}
	return chunks
}

type taskResult struct {
	result cluster.ActionResult
	id     uint32
}

// Execute analyzes each chunk in its own goroutine and merges the outputs.
// Chunks share nothing while running; a panic in any chunk fails the
// whole batch with ErrChunkPanic.
func Execute(ctx context.Context, chunks [][]cluster.Task, analyze AnalyzeFunc) (map[uint32]cluster.ActionResult, error) {
	outputs := make([][]taskResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("%w: chunk %d: %v", ErrChunkPanic, i, rec)
				}
			}()

			out := make([]taskResult, 0, len(chunk))
			for _, t := range chunk {
				if err := gctx.Err(); err != nil {
					return err
				}
				out = append(out, taskResult{id: t.ID, result: analyze(t.RawMarkup, t.RequestedActions)})
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make(map[uint32]cluster.ActionResult)
	for _, out := range outputs {
		for _, tr := range out {
			results[tr.id] = tr.result
		}
	}
	return results, nil
}

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/linkmill/internal/analysis"
	"github.com/dreamware/linkmill/internal/config"
	"github.com/dreamware/linkmill/internal/logging"
	"github.com/dreamware/linkmill/internal/queue"
	"github.com/dreamware/linkmill/internal/storage"
)

// completionPoll is how often Run checks whether the run has finished.
const completionPoll = 50 * time.Millisecond

// Server is the coordinator for one run. It owns the queue, the builder
// feeding it, the listener workers connect to and the answer set.
//
// A Server runs once. Create a new one for every run.
type Server struct {
	cfg      *config.ServerConfig
	queue    *queue.Queue
	builder  *queue.Builder
	store    *storage.MemoryStore
	sink     storage.Sink
	sessions *SessionRegistry
	monitor  *Monitor
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer prepares a run. sink may be nil, in which case the answer set
// is only returned from Run.
func NewServer(cfg *config.ServerConfig, sink storage.Sink) *Server {
	q := queue.New(cfg.QueueCapacity)
	return &Server{
		cfg:      cfg,
		queue:    q,
		builder:  queue.NewBuilder(q, cfg.ProgressInterval),
		store:    storage.NewMemoryStore(),
		sink:     sink,
		sessions: NewSessionRegistry(),
		monitor:  NewMonitor(cfg.ProgressInterval),
	}
}

// Listen binds the configured address. Run calls it if needed; calling
// it first lets the caller learn the bound address.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Sessions returns copies of every session seen so far.
func (s *Server) Sessions() []*SessionInfo {
	return s.sessions.All()
}

// Progress returns a snapshot of the run.
func (s *Server) Progress() Progress {
	all := s.sessions.All()
	return Progress{
		Queue:          s.queue.Stats(),
		ActiveSessions: s.sessions.ActiveCount(),
		TotalSessions:  len(all),
		Results:        s.store.Len(),
	}
}

// Run executes the run to completion: the builder streams the source into
// the queue while sessions drain it to workers. The run completes once
// the builder has finished, the queue is exhausted and no session can
// still deliver results. The answer set is then saved to the sink and
// returned.
//
// A source I/O error fails the run. Cancelling ctx abandons in-flight
// sessions and returns ctx's error.
func (s *Server) Run(ctx context.Context) (*storage.MemoryStore, error) {
	if err := s.Listen(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	var built, finished atomic.Bool

	logging.Info("coordinator listening", "addr", s.listener.Addr().String(), "source", s.cfg.SourcePath, "actions", s.cfg.Actions)
	for _, a := range s.cfg.Actions {
		if !analysis.Supported(a) {
			logging.Warn("action has no computation, results will be null", "action", a)
		}
	}

	s.monitor.Start(gctx, s.Progress)
	defer s.monitor.Stop()

	g.Go(func() error {
		if err := s.builder.RunFile(gctx, s.cfg.SourcePath); err != nil {
			return err
		}
		built.Store(true)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.listener.Close()
		return nil
	})

	g.Go(func() error {
		return s.acceptLoop(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(completionPoll)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if built.Load() && s.queue.Exhausted() && s.sessions.PendingCount() == 0 {
					finished.Store(true)
					cancel()
					return nil
				}
			}
		}
	})

	err := g.Wait()
	s.wg.Wait()

	if !finished.Load() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	if s.sink != nil {
		if err := s.sink.Save(ctx, s.store.Entries()); err != nil {
			return nil, fmt.Errorf("save results: %w", err)
		}
	}

	s.logSummary()
	return s.store, nil
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		session, err := NewSession(conn, s.queue, s.store, s.sessions, s.cfg.Actions)
		if err != nil {
			logging.Error("session rejected", "remote", conn.RemoteAddr().String(), "err", err)
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			session.Run(ctx)
		}()
	}
}

func (s *Server) logSummary() {
	qs := s.queue.Stats()
	st := s.store.Stats()
	lost, skipped := 0, 0
	for _, info := range s.sessions.All() {
		lost += info.Outstanding()
		skipped += info.Skipped
	}

	logging.Info("run complete",
		"pages", qs.Pushed,
		"discarded", s.builder.Discarded(),
		"dispatched", qs.Popped,
		"results", st.Jobs,
		"lost", lost,
		"skipped", skipped,
		"sessions", len(s.sessions.All()),
		"targets", st.Targets,
		"links", st.Occurrences,
	)
	for _, lc := range s.store.TopLinks(10) {
		logging.Debug("top link", "target", lc.Target, "count", lc.Count)
	}
}

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dreamware/linkmill/internal/cluster"
	"github.com/dreamware/linkmill/internal/logging"
	"github.com/dreamware/linkmill/internal/queue"
	"github.com/dreamware/linkmill/internal/storage"
)

// errUnexpectedMessage is a protocol violation: a well-formed message the
// coordinator never accepts, such as a Task.
var errUnexpectedMessage = errors.New("unexpected message")

// halfCloser is implemented by connections that can end their write side
// while still reading, such as *net.TCPConn.
type halfCloser interface {
	CloseWrite() error
}

// NewSessionID returns a short random session identifier.
func NewSessionID() string {
	return "session-" + uuid.New().String()[:8]
}

// Session drives the Ready/Task/Done exchange with one worker.
//
// State machine:
//
//	AwaitingReady ──Ready{n}──▶ Dispatching ──n sent or queue drained──▶ AwaitingReady
//	AwaitingReady ──Done──▶ Closed
//	any state ──connection lost / protocol error──▶ Closed
//
// Jobs popped by a session are never returned to the queue. If the worker
// disconnects before reporting, those jobs are lost for the run.
type Session struct {
	conn        net.Conn
	queue       *queue.Queue
	store       storage.Store
	registry    *SessionRegistry
	log         *log.Logger
	outstanding map[uint32]struct{}
	id          string
	actions     cluster.ActionSet
}

// NewSession registers a session for conn. Every task it sends carries
// actions.
func NewSession(conn net.Conn, q *queue.Queue, store storage.Store, registry *SessionRegistry, actions cluster.ActionSet) (*Session, error) {
	id := NewSessionID()
	remote := conn.RemoteAddr().String()
	if err := registry.Register(id, remote); err != nil {
		return nil, err
	}
	return &Session{
		conn:        conn,
		queue:       q,
		store:       store,
		registry:    registry,
		log:         logging.With("session", id, "remote", remote),
		outstanding: make(map[uint32]struct{}),
		id:          id,
		actions:     actions,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Run serves the connection until the worker reports, the connection
// ends, or ctx is done. The connection is always closed on return.
func (s *Session) Run(ctx context.Context) {
	defer s.close()

	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	s.log.Debug("session started")

	for {
		msg, err := cluster.ReadMessage(s.conn)
		if err != nil {
			s.fail(ctx, err)
			return
		}

		switch msg.Type {
		case cluster.TypeReady:
			if err := s.dispatch(ctx, int(msg.Ready.TaskCount)); err != nil {
				s.fail(ctx, err)
				return
			}
		case cluster.TypeDone:
			s.collect(msg.Done)
			return
		default:
			s.fail(ctx, fmt.Errorf("%w: %s", errUnexpectedMessage, msg.Type))
			return
		}
	}
}

// dispatch sends up to n tasks. It stops early, half-closing the
// connection, once the queue is closed and drained.
func (s *Session) dispatch(ctx context.Context, n int) error {
	if err := s.registry.SetState(s.id, StateDispatching); err != nil {
		return err
	}

	sent := 0
	for sent < n {
		job, ok, err := s.queue.Pop(ctx)
		if err != nil {
			return err
		}
		if !ok {
			s.endOfBatch(sent, n)
			break
		}

		// The job is owned by this session from here on.
		if err := cluster.WriteMessage(s.conn, cluster.NewTask(job.ID, job.RawMarkup, s.actions)); err != nil {
			if cluster.IsProtocolError(err) {
				// Refused before anything was written; the connection is intact.
				s.log.Warn("job skipped", "job", job.ID, "err", err)
				s.registry.AddSkipped(s.id, 1)
				continue
			}
			s.log.Warn("job lost", "job", job.ID, "err", err)
			return err
		}
		s.outstanding[job.ID] = struct{}{}
		s.registry.AddDispatched(s.id, 1)
		sent++
	}

	s.log.Debug("batch dispatched", "requested", n, "sent", sent)
	return s.registry.SetState(s.id, StateAwaitingReady)
}

func (s *Session) endOfBatch(sent, requested int) {
	s.log.Debug("queue exhausted", "requested", requested, "sent", sent)
	hc, ok := s.conn.(halfCloser)
	if !ok {
		return
	}
	if err := hc.CloseWrite(); err != nil {
		s.log.Debug("half-close failed", "err", err)
	}
}

// collect merges a worker's report into the answer set.
func (s *Session) collect(done *cluster.Done) {
	added, duplicates := s.store.Merge(done.Results)
	s.registry.AddResults(s.id, len(done.Results))

	var unexpected []uint32
	for id := range done.Results {
		if _, ok := s.outstanding[id]; !ok {
			unexpected = append(unexpected, id)
			continue
		}
		delete(s.outstanding, id)
	}

	if len(duplicates) > 0 {
		s.log.Warn("duplicate results ignored", "jobs", duplicates)
	}
	if len(unexpected) > 0 {
		sort.Slice(unexpected, func(i, j int) bool { return unexpected[i] < unexpected[j] })
		s.log.Warn("results for jobs not dispatched here", "jobs", unexpected)
	}
	if len(s.outstanding) > 0 {
		s.log.Warn("report missing results", "missing", len(s.outstanding))
	}
	s.log.Info("report merged", "results", len(done.Results), "added", added)
}

// fail logs why the session is ending. Transport shutdowns and
// cancellation are routine; everything else is a protocol error.
func (s *Session) fail(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil:
		s.log.Debug("session cancelled")
	case cluster.IsProtocolError(err), errors.Is(err, errUnexpectedMessage):
		s.log.Error("protocol error, dropping connection", "err", err)
	default:
		if len(s.outstanding) > 0 {
			s.log.Warn("connection lost with jobs in flight", "lost", len(s.outstanding), "err", err)
			return
		}
		s.log.Debug("connection closed", "err", err)
	}
}

func (s *Session) close() {
	s.conn.Close()
	s.registry.Close(s.id)
	s.log.Debug("session closed")
}

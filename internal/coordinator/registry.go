package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// SessionState is the dispatch state of one worker connection.
type SessionState string

const (
	// StateAwaitingReady waits for the worker's next Ready or its Done.
	StateAwaitingReady SessionState = "awaiting_ready"
	// StateDispatching pops jobs and sends them as tasks.
	StateDispatching SessionState = "dispatching"
	// StateClosed is terminal. The connection is gone.
	StateClosed SessionState = "closed"
)

// SessionInfo describes one worker connection as seen by the coordinator.
//
// The registry only ever hands out copies, so callers may keep or modify
// a SessionInfo without affecting the registry.
//
// Example:
//
//	info := registry.Get("session-1a2b3c4d")
//	if info != nil && info.State == StateDispatching {
//	    fmt.Printf("%s has %d tasks in flight\n", info.ID, info.Outstanding())
//	}
type SessionInfo struct {
	// Started is when the connection was accepted.
	Started time.Time

	// Ended is when the session reached StateClosed. Zero while open.
	Ended time.Time

	// ID identifies the session in logs, formatted "session-xxxxxxxx".
	ID string

	// Remote is the worker's network address.
	Remote string

	// State is the current position in the dispatch state machine.
	State SessionState

	// Dispatched counts Task messages written to the worker.
	Dispatched int

	// Results counts job results merged from the worker's Done.
	Results int

	// Skipped counts jobs popped for this worker that could not be encoded
	// as a Task and were dropped without being sent.
	Skipped int
}

// Outstanding returns how many dispatched tasks have no result yet.
func (i SessionInfo) Outstanding() int {
	if n := i.Dispatched - i.Results; n > 0 {
		return n
	}
	return 0
}

// Pending reports whether the session may still deliver results: it is
// open and either dispatching or holding tasks it has not reported.
func (i SessionInfo) Pending() bool {
	if i.State == StateClosed {
		return false
	}
	return i.State == StateDispatching || i.Outstanding() > 0
}

// SessionRegistry tracks every session of a run, serving as the source of
// the coordinator's completion decision and progress reports.
//
// Architecture:
//
//	┌─────────────────────────────────────┐
//	│         SessionRegistry             │
//	├─────────────────────────────────────┤
//	│  sessions: map[id]→SessionInfo      │
//	│  order: ids in registration order   │
//	│  mu: RWMutex for thread safety      │
//	├─────────────────────────────────────┤
//	│  awaiting_ready ⇄ dispatching       │
//	│         └──────────→ closed         │
//	└─────────────────────────────────────┘
//
// Concurrency Model:
//   - Each session goroutine writes only its own entry
//   - Read operations use RLock for parallel access
//   - All returned data is copied to prevent races
//
// Closed sessions stay in the registry so the end-of-run summary can
// report on them.
type SessionRegistry struct {
	sessions map[string]*SessionInfo
	order    []string
	mu       sync.RWMutex
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*SessionInfo),
	}
}

// Register adds a new session in StateAwaitingReady.
//
// Returns:
//   - nil on success
//   - Error if id is empty or already registered
func (r *SessionRegistry) Register(id, remote string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("session %s already registered", id)
	}
	r.sessions[id] = &SessionInfo{
		ID:      id,
		Remote:  remote,
		State:   StateAwaitingReady,
		Started: time.Now(),
	}
	r.order = append(r.order, id)
	return nil
}

// SetState moves a session to state. A closed session stays closed.
func (r *SessionRegistry) SetState(id string, state SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not registered", id)
	}
	if info.State == StateClosed {
		return fmt.Errorf("session %s is closed", id)
	}
	info.State = state
	if state == StateClosed {
		info.Ended = time.Now()
	}
	return nil
}

// AddDispatched records n more tasks written to the worker.
func (r *SessionRegistry) AddDispatched(id string, n int) {
	r.update(id, func(info *SessionInfo) { info.Dispatched += n })
}

// AddSkipped records n more jobs dropped before they reached the wire.
func (r *SessionRegistry) AddSkipped(id string, n int) {
	r.update(id, func(info *SessionInfo) { info.Skipped += n })
}

// AddResults records n more job results merged from the worker.
func (r *SessionRegistry) AddResults(id string, n int) {
	r.update(id, func(info *SessionInfo) { info.Results += n })
}

// Close marks a session closed. Closing twice is a no-op.
func (r *SessionRegistry) Close(id string) {
	r.update(id, func(info *SessionInfo) {
		if info.State != StateClosed {
			info.State = StateClosed
			info.Ended = time.Now()
		}
	})
}

func (r *SessionRegistry) update(id string, fn func(*SessionInfo)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.sessions[id]; ok {
		fn(info)
	}
}

// Get returns a copy of one session, or nil if id is unknown.
func (r *SessionRegistry) Get(id string) *SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.sessions[id]
	if !ok {
		return nil
	}
	cp := *info
	return &cp
}

// All returns copies of every session in registration order.
func (r *SessionRegistry) All() []*SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*SessionInfo, 0, len(r.order))
	for _, id := range r.order {
		cp := *r.sessions[id]
		all = append(all, &cp)
	}
	return all
}

// ActiveCount returns the number of sessions not yet closed.
func (r *SessionRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, info := range r.sessions {
		if info.State != StateClosed {
			n++
		}
	}
	return n
}

// PendingCount returns the number of sessions that may still deliver
// results. See SessionInfo.Pending.
func (r *SessionRegistry) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, info := range r.sessions {
		if info.Pending() {
			n++
		}
	}
	return n
}

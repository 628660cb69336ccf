package storage

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/linkmill/internal/cluster"
)

// Entry is the result set of a single job.
type Entry struct {
	Result cluster.ActionResult
	JobID  uint32
}

// LinkCount is one row of an aggregated link ranking.
type LinkCount struct {
	Target string
	Count  uint64
}

// Store defines the interface for the run's answer set
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Merge adds a worker report. Ids already present are kept as first
	// delivered and returned in duplicates.
	Merge(results map[uint32]cluster.ActionResult) (added int, duplicates []uint32)

	// Get returns a job's results
	Get(jobID uint32) (cluster.ActionResult, bool)

	// Entries returns every job in insertion order
	Entries() []Entry

	// Len returns the number of jobs stored
	Len() int

	// Stats returns storage statistics
	Stats() StoreStats
}

// Sink receives the final answer set at the end of a run.
type Sink interface {
	Save(ctx context.Context, entries []Entry) error
	Close() error
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Jobs        int    // Number of jobs with results
	Targets     int    // Distinct link targets across all jobs
	Occurrences uint64 // Sum of all link counts
}

// MemoryStore implements Store in memory, remembering insertion order.
type MemoryStore struct {
	mu      sync.RWMutex                    // Protects results and order
	results map[uint32]cluster.ActionResult // Job id -> results
	order   []uint32                        // Job ids in arrival order
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[uint32]cluster.ActionResult),
	}
}

// Merge adds one Done report. Ids within a report are inserted in
// ascending order.
func (m *MemoryStore) Merge(results map[uint32]cluster.ActionResult) (int, []uint32) {
	ids := make([]uint32, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	m.mu.Lock()
	defer m.mu.Unlock()

	added := 0
	var duplicates []uint32
	for _, id := range ids {
		if _, exists := m.results[id]; exists {
			duplicates = append(duplicates, id)
			continue
		}
		m.results[id] = results[id]
		m.order = append(m.order, id)
		added++
	}
	return added, duplicates
}

// Get returns a job's results
func (m *MemoryStore) Get(jobID uint32) (cluster.ActionResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.results[jobID]
	return r, ok
}

// Entries returns a copy of every entry in insertion order
func (m *MemoryStore) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, 0, len(m.order))
	for _, id := range m.order {
		entries = append(entries, Entry{JobID: id, Result: m.results[id]})
	}
	return entries
}

// Len returns the number of jobs stored
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// LinkTotals sums link frequencies over every job.
func (m *MemoryStore) LinkTotals() map[string]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := make(map[string]uint64)
	for _, r := range m.results {
		for target, n := range r.Frequencies() {
			totals[target] += n
		}
	}
	return totals
}

// TopLinks returns the n most frequent targets, ties broken by name.
func (m *MemoryStore) TopLinks(n int) []LinkCount {
	totals := m.LinkTotals()
	ranked := make([]LinkCount, 0, len(totals))
	for target, count := range totals {
		ranked = append(ranked, LinkCount{Target: target, Count: count})
	}
	slices.SortFunc(ranked, func(a, b LinkCount) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Target, b.Target)
	})
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	totals := m.LinkTotals()

	var occurrences uint64
	for _, n := range totals {
		occurrences += n
	}
	return StoreStats{
		Jobs:        m.Len(),
		Targets:     len(totals),
		Occurrences: occurrences,
	}
}

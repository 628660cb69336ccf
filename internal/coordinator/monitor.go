package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/linkmill/internal/logging"
	"github.com/dreamware/linkmill/internal/queue"
)

// Progress is a point-in-time view of a run.
type Progress struct {
	Queue          queue.Stats // Builder and queue counters
	ActiveSessions int         // Sessions not yet closed
	TotalSessions  int         // Sessions accepted so far
	Results        int         // Jobs in the answer set
}

// Monitor periodically reports run progress.
// Thread-safe: All methods are safe for concurrent access.
type Monitor struct {
	report   func(Progress)     // Called on every tick, logs by default
	ctx      context.Context    // Internal context for Stop
	cancel   context.CancelFunc // Cancel function for shutdown
	interval time.Duration      // How often to report
	mu       sync.RWMutex       // Protects report
	wg       sync.WaitGroup     // Wait group for graceful shutdown
}

// NewMonitor creates a monitor reporting every interval.
//
// Example:
//
//	monitor := NewMonitor(10 * time.Second)
//	monitor.Start(ctx, srv.Progress)
//	defer monitor.Stop()
func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		interval: interval,
		report:   logProgress,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// setReport overrides the default log line. Set it before Start.
func (m *Monitor) setReport(fn func(Progress)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.report = fn
}

// Start reports progress from provider every interval in the background
// until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context, provider func() Progress) {
	m.wg.Add(1)
	go m.run(ctx, provider)
}

func (m *Monitor) run(ctx context.Context, provider func() Progress) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logging.Debug("progress monitor started", "interval", m.interval)

	for {
		select {
		case <-ticker.C:
			m.tick(provider())
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Monitor) tick(p Progress) {
	m.mu.RLock()
	report := m.report
	m.mu.RUnlock()

	report(p)
}

// Stop ends reporting and waits for the background loop to return.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func logProgress(p Progress) {
	logging.Info("progress",
		"produced", p.Queue.Pushed,
		"dispatched", p.Queue.Popped,
		"queued", p.Queue.Depth,
		"sessions", p.ActiveSessions,
		"results", p.Results,
	)
}

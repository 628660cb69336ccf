// Package coordinator implements the master side of a run: it streams the
// page dump into a bounded queue, hands jobs to connected workers as they
// ask for them, and merges their reports into one answer set.
//
// # Overview
//
// A run has one producer and any number of consumers. The producer is the
// queue builder reading the source file. Every accepted TCP connection gets
// its own Session, and all sessions pop from the same queue. Work is pulled
// by workers, never pushed: a session only sends tasks in response to a
// Ready.
//
// # Architecture
//
//	┌─────────────────────────────────────────────┐
//	│                 Server.Run                  │
//	├─────────────────────────────────────────────┤
//	│                                             │
//	│  source ──▶ Builder ──▶ Queue (bounded)     │
//	│                          │    │    │        │
//	│                          ▼    ▼    ▼        │
//	│                     Session Session Session │
//	│                          │    │    │        │
//	│                          ▼    ▼    ▼        │
//	│                       MemoryStore (answers) │
//	│                                             │
//	│  SessionRegistry ◀── state of every session │
//	│  Monitor ──▶ periodic progress log          │
//	└─────────────────────────────────────────────┘
//
// # Core Components
//
// Server: Owns one run
//   - Binds the listener and accepts connections
//   - Runs the builder, accept loop and completion check in one errgroup
//     so a source failure stops everything; the monitor runs beside them
//     until Run stops it
//   - Saves the answer set to the configured sink on completion
//
// Session: One worker connection
//   - awaiting_ready → dispatching on Ready{n}, back once n tasks are sent
//   - Half-closes the connection when the queue runs dry mid-batch
//   - Merges the worker's Done, then closes
//
// SessionRegistry: Bookkeeping for every session
//   - State, tasks dispatched and results received per session
//   - Returns copies only
//
// Monitor: Periodic progress line
//   - Queue depth, pages produced, active sessions, results
//
// # Completion
//
// The run is complete when the builder has consumed the whole source, the
// queue is closed and empty, and no session is dispatching or holding tasks
// it has not reported. Sessions still waiting for a first Ready at that
// point are closed; there is nothing left to give them.
//
// # Failure Handling
//
//   - Source open or read failure: the run fails
//   - Connection lost: the session closes; its unreported jobs are lost
//   - Malformed frame or unexpected message: logged, connection dropped
//   - Cancellation: sessions are abandoned without draining
//
// No job is ever put back on the queue. A worker that disconnects after
// taking a batch costs the run those pages, and the summary line reports
// how many were lost.
//
// # Example Usage
//
//	srv := coordinator.NewServer(cfg, sink)
//	answers, err := srv.Run(ctx)
//	if err != nil {
//	    return err
//	}
//	for _, lc := range answers.TopLinks(10) {
//	    fmt.Println(lc.Target, lc.Count)
//	}
package coordinator

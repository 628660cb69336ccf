// Package storage holds the coordinator's answer set: the per-job,
// per-action results merged from every worker report, and the optional
// sink the finished set is written to.
//
// # Architecture
//
//	┌─────────────┐  ┌─────────────┐
//	│  Session A  │  │  Session B  │   Done{results}
//	└──────┬──────┘  └──────┬──────┘
//	       └───────┬────────┘
//	               ▼
//	┌─────────────────────────────┐
//	│         MemoryStore         │   job id -> ActionResult
//	│   insertion-ordered, RWMutex│
//	└──────────────┬──────────────┘
//	               ▼  end of run
//	┌─────────────────────────────┐
//	│   Sink (SQLiteSink)         │   job_results, link_frequencies
//	└─────────────────────────────┘
//
// # Merge semantics
//
// Job ids are unique per run, so merges from different sessions never
// collide. Should an id arrive twice the first delivery wins and the
// duplicate is reported back to the caller. Entries iterate in the order
// jobs were first merged; within one report ids are merged ascending.
//
// # Persistence
//
// Nothing is persisted unless the job file names an output database.
// SQLiteSink writes the whole set in one transaction using
// modernc.org/sqlite, so no cgo toolchain is needed.
package storage

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/dreamware/linkmill/internal/cluster"
)

// SQLiteSink writes the final answer set to a SQLite database.
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SQLiteSink struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the database at path and its tables.
func OpenSQLite(path string) (*SQLiteSink, error) {
	connStr := path
	if path == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps an in-memory database alive and shared.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &SQLiteSink{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_results (
		job_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		PRIMARY KEY (job_id, action)
	);

	CREATE TABLE IF NOT EXISTS link_frequencies (
		job_id INTEGER NOT NULL,
		target TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (job_id, target)
	);

	CREATE INDEX IF NOT EXISTS idx_link_frequencies_target ON link_frequencies(target);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Save writes entries in one transaction. Re-saving a job replaces its rows.
func (s *SQLiteSink) Save(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	actionStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO job_results (job_id, action) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare job_results: %w", err)
	}
	defer actionStmt.Close()

	linkStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO link_frequencies (job_id, target, count) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare link_frequencies: %w", err)
	}
	defer linkStmt.Close()

	for _, e := range entries {
		for action, value := range e.Result {
			if _, err := actionStmt.ExecContext(ctx, int64(e.JobID), action.String()); err != nil {
				return fmt.Errorf("insert job %d action %s: %w", e.JobID, action, err)
			}
			if action != cluster.LinkFrequencies || value == nil {
				continue
			}
			for target, count := range value.Frequencies {
				if _, err := linkStmt.ExecContext(ctx, int64(e.JobID), target, int64(count)); err != nil {
					return fmt.Errorf("insert job %d link %q: %w", e.JobID, target, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load reads the stored answer set back.
func (s *SQLiteSink) Load(ctx context.Context) (map[uint32]cluster.ActionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make(map[uint32]cluster.ActionResult)

	rows, err := s.db.QueryContext(ctx, `SELECT job_id, action FROM job_results`)
	if err != nil {
		return nil, fmt.Errorf("query job_results: %w", err)
	}
	for rows.Next() {
		var (
			jobID int64
			name  string
		)
		if err := rows.Scan(&jobID, &name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan job_results: %w", err)
		}
		action, err := cluster.ParseAction(name)
		if err != nil {
			rows.Close()
			return nil, err
		}
		id := uint32(jobID)
		if results[id] == nil {
			results[id] = make(cluster.ActionResult)
		}
		var value *cluster.Value
		if action == cluster.LinkFrequencies {
			value = &cluster.Value{Frequencies: make(map[string]uint64)}
		}
		results[id][action] = value
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate job_results: %w", err)
	}
	rows.Close()

	links, err := s.db.QueryContext(ctx, `SELECT job_id, target, count FROM link_frequencies`)
	if err != nil {
		return nil, fmt.Errorf("query link_frequencies: %w", err)
	}
	defer links.Close()
	for links.Next() {
		var (
			jobID  int64
			target string
			count  int64
		)
		if err := links.Scan(&jobID, &target, &count); err != nil {
			return nil, fmt.Errorf("scan link_frequencies: %w", err)
		}
		if freq := results[uint32(jobID)].Frequencies(); freq != nil {
			freq[target] = uint64(count)
		}
	}
	if err := links.Err(); err != nil {
		return nil, fmt.Errorf("iterate link_frequencies: %w", err)
	}
	return results, nil
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

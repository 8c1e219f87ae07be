// Package tracestore persists per-method call statistics in SQLite.
//
// A Store is a vm.CallHook. It aggregates events in memory while the
// program runs and writes them to the database on Flush, so hooks never
// wait on disk.
package tracestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chazu/garnet/vm"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	program    TEXT NOT NULL,
	started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS call_stats (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	owner  TEXT NOT NULL,
	method TEXT NOT NULL,
	family TEXT NOT NULL,
	calls  INTEGER NOT NULL,
	hits   INTEGER NOT NULL,
	errors INTEGER NOT NULL,
	PRIMARY KEY (run_id, owner, method, family)
);`

// Row is the aggregated statistics of one method reached through one
// handler family.
type Row struct {
	Owner  string
	Method string
	Family string
	Calls  int64
	Hits   int64
	Errors int64
}

// Misses returns the calls that missed their call site cache.
func (r Row) Misses() int64 { return r.Calls - r.Hits }

// Run is a recorded program run.
type Run struct {
	ID        int64
	Program   string
	StartedAt time.Time
}

type statKey struct {
	owner, method, family string
}

type stat struct {
	calls, hits, errors int64
}

// Store records call events for one run at a time.
type Store struct {
	db  *sql.DB
	vm  *vm.VM
	log commonlog.Logger

	mu      sync.Mutex
	runID   int64
	pending map[statKey]*stat
}

// Open opens (creating if needed) the trace database at path. Events are
// named through v.
func Open(path string, v *vm.VM) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("tracestore: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tracestore: opening database: %w", err)
	}
	// One connection keeps an in-memory database alive between calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracestore: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracestore: creating tables: %w", err)
	}
	return &Store{
		db:      db,
		vm:      v,
		log:     commonlog.GetLogger("garnet.tracestore"),
		pending: make(map[statKey]*stat),
	}, nil
}

// BeginRun starts a new run. Events recorded afterwards belong to it.
// Pending events of the previous run are flushed first.
func (s *Store) BeginRun(ctx context.Context, program string) (int64, error) {
	if err := s.Flush(ctx); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (program, started_at) VALUES (?, ?)",
		program, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("tracestore: begin run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("tracestore: begin run: %w", err)
	}
	s.mu.Lock()
	s.runID = id
	s.mu.Unlock()
	s.log.Debugf("run %d: %s", id, program)
	return id, nil
}

// BeforeCall does nothing; events are counted once they complete.
func (s *Store) BeforeCall(ec *vm.ExecContext, ev *vm.CallEvent) {}

// AfterCall counts the event against the current run.
func (s *Store) AfterCall(ec *vm.ExecContext, ev *vm.CallEvent) {
	key := statKey{
		owner:  s.vm.EventOwner(ev),
		method: s.vm.EventName(ev),
		family: ev.Family.String(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.pending[key]
	if st == nil {
		st = &stat{}
		s.pending[key] = st
	}
	st.calls++
	if ev.CacheHit {
		st.hits++
	}
	if ev.Err != nil {
		st.errors++
	}
}

// Flush writes the pending counts of the current run to the database.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending, runID := s.pending, s.runID
	s.pending = make(map[statKey]*stat)
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if runID == 0 {
		return fmt.Errorf("tracestore: %d events recorded outside a run", len(pending))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tracestore: flush: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO call_stats (run_id, owner, method, family, calls, hits, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, owner, method, family) DO UPDATE SET
			calls  = calls + excluded.calls,
			hits   = hits + excluded.hits,
			errors = errors + excluded.errors`)
	if err != nil {
		return fmt.Errorf("tracestore: flush: %w", err)
	}
	defer stmt.Close()

	for k, st := range pending {
		if _, err := stmt.ExecContext(ctx, runID, k.owner, k.method, k.family, st.calls, st.hits, st.errors); err != nil {
			return fmt.Errorf("tracestore: flush %s#%s: %w", k.owner, k.method, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tracestore: flush: %w", err)
	}
	s.log.Debugf("flushed %d rows for run %d", len(pending), runID)
	return nil
}

// Top returns up to n rows with the most calls. runID 0 aggregates every
// run.
func (s *Store) Top(ctx context.Context, runID int64, n int) ([]Row, error) {
	query := `
		SELECT owner, method, family, SUM(calls), SUM(hits), SUM(errors)
		FROM call_stats
		WHERE ? = 0 OR run_id = ?
		GROUP BY owner, method, family
		ORDER BY SUM(calls) DESC, owner, method, family
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, runID, runID, n)
	if err != nil {
		return nil, fmt.Errorf("tracestore: top: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Owner, &r.Method, &r.Family, &r.Calls, &r.Hits, &r.Errors); err != nil {
			return nil, fmt.Errorf("tracestore: top: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracestore: top: %w", err)
	}
	return out, nil
}

// Runs lists the recorded runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, program, started_at FROM runs ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("tracestore: runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started int64
		if err := rows.Scan(&r.ID, &r.Program, &started); err != nil {
			return nil, fmt.Errorf("tracestore: runs: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close flushes pending events and closes the database.
func (s *Store) Close() error {
	flushErr := s.Flush(context.Background())
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("tracestore: close: %w", err)
	}
	return flushErr
}

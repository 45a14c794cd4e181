// Package history persists sync runs in a local SQLite database.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Triggers recorded with each run.
const (
	TriggerCLI      = "cli"
	TriggerSchedule = "schedule"
	TriggerFSNotify = "fsnotify"
)

// DefaultKeep is the retention bound used when none is configured.
const DefaultKeep = 500

// Run is one recorded synchronization.
type Run struct {
	ID        string        `json:"id" yaml:"id"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Trigger   string        `json:"trigger" yaml:"trigger"`
	Domains   int           `json:"domains" yaml:"domains"`
	Failed    int           `json:"failed" yaml:"failed"`
	Addresses int           `json:"addresses" yaml:"addresses"`
	OK        bool          `json:"ok" yaml:"ok"`
}

// Store provides persistent storage for sync runs.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	keep int
}

// NewStore opens (or creates) the history database at dbPath. keep
// bounds Prune; values <= 0 fall back to DefaultKeep.
func NewStore(dbPath string, keep int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			"trigger" TEXT NOT NULL,
			domains_total INTEGER NOT NULL,
			domains_failed INTEGER NOT NULL,
			addresses INTEGER NOT NULL,
			ok INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}

	if keep <= 0 {
		keep = DefaultKeep
	}

	return &Store{db: db, keep: keep}, nil
}

// Record persists one run. Every sync gets a row regardless of outcome.
func (s *Store) Record(run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := 0
	if run.OK {
		ok = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO sync_runs (id, started_at, duration_ms, "trigger", domains_total, domains_failed, addresses, ok)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.Unix(), run.Duration.Milliseconds(), run.Trigger,
		run.Domains, run.Failed, run.Addresses, ok)
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, started_at, duration_ms, "trigger", domains_total, domains_failed, addresses, ok
		FROM sync_runs ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt int64
		var durationMS int64
		var ok int

		err := rows.Scan(&run.ID, &startedAt, &durationMS, &run.Trigger,
			&run.Domains, &run.Failed, &run.Addresses, &ok)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}

		run.StartedAt = time.Unix(startedAt, 0)
		run.Duration = time.Duration(durationMS) * time.Millisecond
		run.OK = ok != 0
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Last returns the newest run, if any.
func (s *Store) Last() (Run, bool, error) {
	runs, err := s.Recent(1)
	if err != nil {
		return Run{}, false, err
	}
	if len(runs) == 0 {
		return Run{}, false, nil
	}
	return runs[0], true, nil
}

// Prune deletes all but the newest keep runs and reports how many rows
// went away.
func (s *Store) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		DELETE FROM sync_runs WHERE id NOT IN (
			SELECT id FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT ?
		)
	`, s.keep)
	if err != nil {
		return 0, fmt.Errorf("prune sync runs: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the total number of stored runs.
func (s *Store) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM sync_runs").Scan(&count)
	return count, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

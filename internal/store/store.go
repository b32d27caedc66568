// Package store persists parity run history in SQLite so CI can trend
// results across commits.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"uiparity/internal/compare"
	"uiparity/internal/logging"
	"uiparity/internal/report"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	script TEXT NOT NULL,
	native_target TEXT NOT NULL,
	ported_target TEXT NOT NULL,
	max_severity TEXT NOT NULL,
	incomplete INTEGER NOT NULL DEFAULT 0,
	report TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

// Store is the run-history database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// RunSummary is one history row without the full report payload.
type RunSummary struct {
	ID           string           `json:"id"`
	CreatedAt    time.Time        `json:"created_at"`
	Script       string           `json:"script"`
	NativeTarget string           `json:"native_target"`
	PortedTarget string           `json:"ported_target"`
	MaxSeverity  compare.Severity `json:"max_severity"`
	Incomplete   bool             `json:"incomplete"`
}

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("set sqlite synchronous=NORMAL: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	logging.StoreDebug("opened run-history database at %s", path)
	return &Store{db: db}, nil
}

// Save persists one run, replacing any previous row with the same ID.
func (s *Store) Save(r *report.ParityReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO runs
		(id, created_at, script, native_target, ported_target, max_severity, incomplete, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.CreatedAt, r.Script, r.NativeTarget.ID, r.PortedTarget.ID,
		r.MaxSeverity.String(), r.Incomplete, string(payload))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	logging.Store("saved run %s (severity=%s)", r.RunID, r.MaxSeverity)
	return nil
}

// Load fetches one run's full report by ID.
func (s *Store) Load(id string) (*report.ParityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRow(`SELECT report FROM runs WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	var r report.ParityReport
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("parse stored report: %w", err)
	}
	return &r, nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(limit int) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, created_at, script, native_target, ported_target, max_severity, incomplete
		FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var sev string
		if err := rows.Scan(&rs.ID, &rs.CreatedAt, &rs.Script, &rs.NativeTarget,
			&rs.PortedTarget, &sev, &rs.Incomplete); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		parsed, err := compare.ParseSeverity(sev)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", rs.ID, err)
		}
		rs.MaxSeverity = parsed
		out = append(out, rs)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

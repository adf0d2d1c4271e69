package tracestore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"pipemesh/internal/common"
	"pipemesh/internal/lamport"
)

//go:embed schema.sql
var schemaSQL string

// Store keeps intervals in SQLite. Worker processes of one run open the
// same file; WAL mode and a busy timeout let them write side by side.
type Store struct {
	db *sql.DB
}

// Open creates or opens the trace database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to trace database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Record(ctx context.Context, iv Interval) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cs_intervals (run_id, pid, iteration, enter_at, exit_at) VALUES (?, ?, ?, ?, ?)`,
		iv.RunID, int(iv.Pid), iv.Iteration, int64(iv.Enter), int64(iv.Exit))
	if err != nil {
		return fmt.Errorf("record %v: %w", iv, err)
	}
	return nil
}

func (s *Store) Intervals(ctx context.Context, runID string) ([]Interval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pid, iteration, enter_at, exit_at FROM cs_intervals
		 WHERE run_id = ? ORDER BY enter_at, pid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query intervals: %w", err)
	}
	defer rows.Close()

	var out []Interval
	for rows.Next() {
		iv := Interval{RunID: runID}
		var pid int
		var enter, exit int64
		if err := rows.Scan(&pid, &iv.Iteration, &enter, &exit); err != nil {
			return nil, fmt.Errorf("scan interval: %w", err)
		}
		iv.Pid = common.Pid(pid)
		iv.Enter = lamport.Time(enter)
		iv.Exit = lamport.Time(exit)
		out = append(out, iv)
	}
	return out, rows.Err()
}

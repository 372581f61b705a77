// Package history persists reconciliation run outcomes to SQLite so
// operators can inspect what the sidecar changed and when.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"nexusallow/internal/reconcile"

	_ "modernc.org/sqlite"
)

// Store records reconciliation runs in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Run is one recorded reconciliation pass.
type Run struct {
	ID         int64
	Ecosystem  string
	Mode       string
	Packages   int
	Expression string
	Mutations  int
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewStore opens (creating if needed) the history database at dbPath.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		ecosystem   TEXT NOT NULL,
		mode        TEXT NOT NULL,
		packages    INTEGER NOT NULL,
		expression  TEXT,
		mutations   INTEGER NOT NULL,
		status      TEXT NOT NULL,
		error       TEXT,
		started_at  DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_eco_time ON runs(ecosystem, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// RecordRun implements reconcile.RunRecorder.
func (s *Store) RecordRun(ctx context.Context, run reconcile.RunRecord) error {
	status := "ok"
	errText := ""
	if run.Err != nil {
		status = "failed"
		errText = run.Err.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (ecosystem, mode, packages, expression, mutations, status, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Ecosystem, run.Mode, run.Packages, run.Expression, run.Mutations,
		status, errText, run.StartedAt, run.FinishedAt,
	)
	return err
}

// Recent returns the latest limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ecosystem, mode, packages, expression, mutations, status, error, started_at, finished_at
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Ecosystem, &r.Mode, &r.Packages, &r.Expression,
			&r.Mutations, &r.Status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Prune deletes runs older than the retention window.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned reconciliation history", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

// Package history records every sync run (download or upload) in a local
// SQLite database so past operations can be inspected with `adsync history`.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"adsync/internal/config"
	"adsync/internal/history/migrations"
)

// SyncRun is one recorded CLI operation.
type SyncRun struct {
	ID           int64
	Operation    string
	Parameters   string
	Status       string // "running", "success", or "error"
	TopicCount   int
	ErrorCount   int
	SnapshotName string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
}

// Duration returns the run's wall-clock time, or zero while running.
func (r *SyncRun) Duration() time.Duration {
	if !r.FinishedAt.Valid {
		return 0
	}
	return r.FinishedAt.Time.Sub(r.StartedAt)
}

// DB is the run-history database.
type DB struct {
	db *sql.DB
}

// NewFromConfig opens (and migrates) the history database selected by the
// config. The memory type backs onto an in-process SQLite database.
func NewFromConfig(cfg config.HistoryConfig) (*DB, error) {
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite history")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating history data directory: %w", err)
		}
		return Open(filepath.Join(cfg.DataDir, "history.db"))
	case "memory":
		return Open(":memory:")
	default:
		return nil, fmt.Errorf("unknown history type: %s", cfg.Type)
	}
}

// Open opens the SQLite database at path and applies pending migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	// Single writer; also keeps an in-memory database on one connection.
	db.SetMaxOpenConns(1)

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}

	return &DB{db: db}, nil
}

// StartRun inserts a new running record and returns it with its ID set.
func (h *DB) StartRun(operation, parameters string, startedAt time.Time) (*SyncRun, error) {
	res, err := h.db.Exec(
		`INSERT INTO sync_runs (operation, parameters, status, started_at) VALUES (?, ?, 'running', ?)`,
		operation, parameters, startedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("recording run start: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading run ID: %w", err)
	}

	return &SyncRun{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
		StartedAt:  startedAt.UTC(),
	}, nil
}

// FinishRun closes out a run record with its final status and counts.
func (h *DB) FinishRun(id int64, status string, topicCount, errorCount int, snapshotName string, finishedAt time.Time) error {
	_, err := h.db.Exec(
		`UPDATE sync_runs SET status = ?, topic_count = ?, error_count = ?, snapshot_name = ?, finished_at = ? WHERE id = ?`,
		status, topicCount, errorCount, snapshotName, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (h *DB) RecentRuns(limit int) ([]*SyncRun, error) {
	rows, err := h.db.Query(
		`SELECT id, operation, parameters, status, topic_count, error_count, snapshot_name, started_at, finished_at
		 FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		var r SyncRun
		if err := rows.Scan(&r.ID, &r.Operation, &r.Parameters, &r.Status,
			&r.TopicCount, &r.ErrorCount, &r.SnapshotName, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading runs: %w", err)
	}
	return runs, nil
}

// Close closes the database.
func (h *DB) Close() error {
	return h.db.Close()
}

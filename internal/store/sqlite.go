package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/emoscan/internal/report"
	_ "modernc.org/sqlite"
)

// SQLite is a local single-file results store.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database file at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	for _, q := range []string{runsDDL, videosDDL, frameTableDDL("INTEGER PRIMARY KEY AUTOINCREMENT"), framesIndexDDL} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize database schema: %w", err)
		}
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun records the start of a run.
func (s *SQLite) BeginRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_runs (id, started_at, stride, threshold, backend, pool_size)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.UTC(), run.Stride, run.Threshold, run.Backend, run.PoolSize)
	return err
}

// SaveVideo registers the video and inserts its rows in one transaction.
func (s *SQLite) SaveVideo(ctx context.Context, runID string, v Video, t *report.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO video_metadata (id, path, person, frame_count, frame_rate, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET indexed_at = excluded.indexed_at, path = excluded.path,
			person = excluded.person, frame_count = excluded.frame_count, frame_rate = excluded.frame_rate
	`, v.ID, v.Path, v.Person, v.FrameCount, v.FrameRate, time.Now().UTC())
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM frame_emotions WHERE run_id = ? AND video_id = ?", runID, v.ID); err != nil {
		return err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(frameColumns)), ", ")
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO frame_emotions ("+strings.Join(frameColumns, ", ")+") VALUES ("+placeholders+")")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range t.Rows {
		if _, err := stmt.ExecContext(ctx, frameValues(runID, v.ID, r)...); err != nil {
			return fmt.Errorf("insert frame %d: %w", r.FrameNumber, err)
		}
	}

	return tx.Commit()
}

// FinishRun stamps the run as finished with its totals.
func (s *SQLite) FinishRun(ctx context.Context, runID string, videos, rows int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE analysis_runs SET finished_at = ?, videos = ?, rows_written = ? WHERE id = ?",
		time.Now().UTC(), videos, rows, runID)
	return err
}

// ListRuns returns the most recent runs first.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM analysis_runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset drops all application tables.
func (s *SQLite) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, dropAll)
	return err
}


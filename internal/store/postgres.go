package store

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/emoscan/internal/report"
	"github.com/jackc/pgx/v5"
)

// Postgres manages the PostgreSQL connection.
type Postgres struct {
	conn *pgx.Conn
}

// NewPostgres establishes a connection to the database and ensures the schema is initialized.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initPostgresSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Postgres{conn: conn}, nil
}

func initPostgresSchema(ctx context.Context, conn *pgx.Conn) error {
	for _, q := range []string{runsDDL, videosDDL, frameTableDDL("BIGSERIAL PRIMARY KEY"), framesIndexDDL} {
		if _, err := conn.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Close terminates the database connection.
func (s *Postgres) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.conn.Close(ctx)
}

// BeginRun records the start of a run.
func (s *Postgres) BeginRun(ctx context.Context, run Run) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO analysis_runs (id, started_at, stride, threshold, backend, pool_size)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, run.ID, run.StartedAt.UTC(), run.Stride, run.Threshold, run.Backend, run.PoolSize)
	return err
}

// SaveVideo registers the video and bulk-loads its rows with COPY.
func (s *Postgres) SaveVideo(ctx context.Context, runID string, v Video, t *report.Table) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO video_metadata (id, path, person, frame_count, frame_rate, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET indexed_at = EXCLUDED.indexed_at, path = EXCLUDED.path,
			person = EXCLUDED.person, frame_count = EXCLUDED.frame_count, frame_rate = EXCLUDED.frame_rate
	`, v.ID, v.Path, v.Person, v.FrameCount, v.FrameRate, time.Now().UTC())
	if err != nil {
		return err
	}

	// Clean up old rows so saving the same video twice in a run is idempotent
	if _, err := tx.Exec(ctx, "DELETE FROM frame_emotions WHERE run_id = $1 AND video_id = $2", runID, v.ID); err != nil {
		return err
	}

	rows := make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = frameValues(runID, v.ID, r)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"frame_emotions"}, frameColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy frame rows: %w", err)
	}

	return tx.Commit(ctx)
}

// FinishRun stamps the run as finished with its totals.
func (s *Postgres) FinishRun(ctx context.Context, runID string, videos, rows int) error {
	_, err := s.conn.Exec(ctx, `
		UPDATE analysis_runs SET finished_at = $1, videos = $2, rows_written = $3 WHERE id = $4
	`, time.Now().UTC(), videos, rows, runID)
	return err
}

// ListRuns returns the most recent runs first.
func (s *Postgres) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.conn.Query(ctx, "SELECT "+runColumns+" FROM analysis_runs ORDER BY started_at DESC LIMIT $1", limit)
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

// Reset drops all application tables to clear the database state.
func (s *Postgres) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, dropAll)
	return err
}

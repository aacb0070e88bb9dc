// Package store persists analysis runs and per-frame emotion rows in Postgres or SQLite.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/emoscan/internal/emotion"
	"github.com/andresmejia3/emoscan/internal/report"
)

// Run describes one invocation of the analyze command.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Stride     int
	Threshold  float64
	Backend    string
	PoolSize   int
	Videos     int
	Rows       int
}

// Video identifies an analysed file. ID is derived from the file contents' identity
// (path, size, mtime) so re-analysing an unchanged file maps to the same record.
type Video struct {
	ID         string
	Path       string
	Person     string
	FrameCount int
	FrameRate  float64
}

// Store is the results database.
type Store interface {
	BeginRun(ctx context.Context, run Run) error
	// SaveVideo records v and replaces any rows previously stored for it under runID.
	SaveVideo(ctx context.Context, runID string, v Video, t *report.Table) error
	FinishRun(ctx context.Context, runID string, videos, rows int) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	// Reset drops every table. The schema is recreated on the next Open.
	Reset(ctx context.Context) error
	Close() error
}

// Open picks the backend from the DSN: postgres:// and postgresql:// use Postgres,
// sqlite:// (or a bare file path) uses SQLite.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "":
		return nil, fmt.Errorf("empty database DSN")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	default:
		return NewSQLite(ctx, dsn)
	}
}

// frameColumns is the column list of frame_emotions shared by both backends.
var frameColumns = append(append([]string{"run_id", "video_id", "person", "frame_number", "dominant_emotion"},
	emotion.Categories...), "face_confidence", "region", "raw_output")

// frameValues flattens one row in frameColumns order. Missing optional cells are nil.
func frameValues(runID, videoID string, r report.Row) []any {
	vals := []any{runID, videoID, r.Person, r.FrameNumber, r.Dominant}
	for _, cat := range emotion.Categories {
		vals = append(vals, r.Scores[cat])
	}
	var conf any
	if r.FaceConfidence != nil {
		conf = *r.FaceConfidence
	}
	var region any
	if r.Region != nil {
		region = r.Cell(report.ColRegion)
	}
	return append(vals, conf, region, r.Cell(report.ColRawOutput))
}

func frameTableDDL(serialPK string) string {
	scores := ""
	for _, cat := range emotion.Categories {
		scores += "\n\t\t\t" + cat + " DOUBLE PRECISION NOT NULL DEFAULT 0,"
	}
	return `
		CREATE TABLE IF NOT EXISTS frame_emotions (
			id ` + serialPK + `,
			run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
			video_id TEXT NOT NULL REFERENCES video_metadata(id),
			person TEXT NOT NULL,
			frame_number INTEGER NOT NULL,
			dominant_emotion TEXT NOT NULL,` + scores + `
			face_confidence DOUBLE PRECISION,
			region TEXT,
			raw_output TEXT NOT NULL
		);`
}

const (
	runsDDL = `
		CREATE TABLE IF NOT EXISTS analysis_runs (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			stride INTEGER NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			backend TEXT NOT NULL,
			pool_size INTEGER NOT NULL,
			videos INTEGER NOT NULL DEFAULT 0,
			rows_written INTEGER NOT NULL DEFAULT 0
		);`
	videosDDL = `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			person TEXT NOT NULL,
			frame_count INTEGER NOT NULL,
			frame_rate DOUBLE PRECISION NOT NULL,
			indexed_at TIMESTAMP NOT NULL
		);`
	framesIndexDDL = `CREATE INDEX IF NOT EXISTS frame_emotions_run_video_idx ON frame_emotions (run_id, video_id);`

	runColumns = "id, started_at, finished_at, stride, threshold, backend, pool_size, videos, rows_written"

	dropAll = `
		DROP TABLE IF EXISTS frame_emotions;
		DROP TABLE IF EXISTS analysis_runs;
		DROP TABLE IF EXISTS video_metadata;`
)

// scanner is satisfied by pgx.Rows and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var finished *time.Time
	if err := s.Scan(&r.ID, &r.StartedAt, &finished, &r.Stride, &r.Threshold, &r.Backend, &r.PoolSize, &r.Videos, &r.Rows); err != nil {
		return Run{}, err
	}
	r.FinishedAt = finished
	return r, nil
}

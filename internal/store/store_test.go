package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/emoscan/internal/emotion"
	"github.com/andresmejia3/emoscan/internal/report"
	"github.com/andresmejia3/emoscan/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func sampleTable(t *testing.T, person string, frames ...int) *report.Table {
	t.Helper()
	conf := 0.93
	var outcomes []types.Outcome
	for _, f := range frames {
		outcomes = append(outcomes, types.Outcome{
			FrameNumber:    f,
			Scores:         map[string]float64{"happy": 70, "neutral": 30},
			FaceConfidence: &conf,
			Region:         &types.Region{X: 1, Y: 2, W: 3, H: 4},
		})
	}
	table, err := report.Build(person, outcomes, emotion.DefaultThreshold)
	require.NoError(t, err)
	return table
}

// exerciseStore runs the same scenario against any backend.
func exerciseStore(t *testing.T, s Store, countFrames func(runID, videoID string) int) {
	ctx := context.Background()

	older := Run{ID: "run-1", StartedAt: time.Now().Add(-time.Hour), Stride: 2, Threshold: 50, Backend: "opencv", PoolSize: 4}
	newer := Run{ID: "run-2", StartedAt: time.Now(), Stride: 1, Threshold: 50, Backend: "retinaface", PoolSize: 2}
	require.NoError(t, s.BeginRun(ctx, older))
	require.NoError(t, s.BeginRun(ctx, newer))

	v := Video{ID: "vid_123", Path: "/tmp/alice.mp4", Person: "alice", FrameCount: 10, FrameRate: 25}
	require.NoError(t, s.SaveVideo(ctx, newer.ID, v, sampleTable(t, "alice", 0, 2, 4)))
	assert.Equal(t, 3, countFrames(newer.ID, v.ID))

	// Saving again replaces the rows instead of duplicating them
	require.NoError(t, s.SaveVideo(ctx, newer.ID, v, sampleTable(t, "alice", 0, 2)))
	assert.Equal(t, 2, countFrames(newer.ID, v.ID))

	require.NoError(t, s.FinishRun(ctx, newer.ID, 1, 2))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "retinaface", runs[0].Backend)
	assert.Equal(t, 1, runs[0].Videos)
	assert.Equal(t, 2, runs[0].Rows)
	require.NotNil(t, runs[0].FinishedAt)
	assert.Nil(t, runs[1].FinishedAt)

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, s.Reset(ctx))
	_, err = s.ListRuns(ctx, 10)
	assert.Error(t, err, "tables should be gone after Reset")
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "emoscan.db")
	s, err := Open(context.Background(), "sqlite://"+path)
	require.NoError(t, err)
	defer s.Close()

	lite, ok := s.(*SQLite)
	require.True(t, ok, "sqlite:// DSN should open a SQLite store")

	exerciseStore(t, s, func(runID, videoID string) int {
		var n int
		err := lite.db.QueryRow("SELECT COUNT(*) FROM frame_emotions WHERE run_id = ? AND video_id = ?", runID, videoID).Scan(&n)
		require.NoError(t, err)
		return n
	})
}

func TestSQLiteStoresCells(t *testing.T) {
	s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "emoscan.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.BeginRun(ctx, Run{ID: "r", StartedAt: time.Now(), Stride: 1, Threshold: 50, Backend: "opencv", PoolSize: 1}))
	require.NoError(t, s.SaveVideo(ctx, "r", Video{ID: "v", Path: "bob.mp4", Person: "bob"}, sampleTable(t, "bob", 6)))

	var dominant, region, raw string
	var happy float64
	err = s.db.QueryRow("SELECT dominant_emotion, happy, region, raw_output FROM frame_emotions WHERE frame_number = 6").
		Scan(&dominant, &happy, &region, &raw)
	require.NoError(t, err)
	assert.Equal(t, "happy", dominant)
	assert.Equal(t, 70.0, happy)
	assert.Equal(t, `{"x":1,"y":2,"w":3,"h":4}`, region)
	assert.Equal(t, `{"happy":70,"neutral":30}`, raw)
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}

// TestPostgresStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestPostgresStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("emoscan_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Open runs migrations
	s, err := Open(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close()

	pg, ok := s.(*Postgres)
	if !ok {
		t.Fatalf("Expected a Postgres store, got %T", s)
	}

	exerciseStore(t, s, func(runID, videoID string) int {
		var n int
		err := pg.conn.QueryRow(ctx, "SELECT COUNT(*) FROM frame_emotions WHERE run_id = $1 AND video_id = $2", runID, videoID).Scan(&n)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		return n
	})
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}

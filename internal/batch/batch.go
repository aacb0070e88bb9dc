// Package batch drives the analysis of every video in a directory: one video at a time, one
// worker pool per video, one combined table at the end.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/andresmejia3/emoscan/internal/export"
	"github.com/andresmejia3/emoscan/internal/metrics"
	"github.com/andresmejia3/emoscan/internal/pool"
	"github.com/andresmejia3/emoscan/internal/progress"
	"github.com/andresmejia3/emoscan/internal/report"
	"github.com/andresmejia3/emoscan/internal/sampler"
	"github.com/andresmejia3/emoscan/internal/store"
	"github.com/andresmejia3/emoscan/internal/types"
	"github.com/andresmejia3/emoscan/internal/utils"
	"github.com/andresmejia3/emoscan/internal/video"
	"go.uber.org/zap"
)

// Video status labels for metrics.VideosProcessedTotal.
const (
	statusOK     = "ok"
	statusFailed = "failed"
	statusEmpty  = "empty"
)

// Input is an opened video stream.
type Input interface {
	sampler.FrameReader
	Close() error
}

// Meta is what is known about a video before it is decoded.
type Meta struct {
	Person     string
	FrameCount int
	FrameRate  float64
}

// Opener opens a video for sequential reading.
type Opener func(ctx context.Context, path string) (Input, Meta, error)

// OpenVideo opens path with FFmpeg.
func OpenVideo(ctx context.Context, path string) (Input, Meta, error) {
	v, err := video.Open(ctx, path)
	if err != nil {
		return nil, Meta{}, err
	}
	return v, Meta{Person: v.Person, FrameCount: v.FrameCount, FrameRate: v.FrameRate}, nil
}

// Discover lists the video files directly inside dir, sorted by name.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !video.IsVideo(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, types.ErrNoVideosFound
	}
	return paths, nil
}

// VideoStats summarises one analysed video.
type VideoStats struct {
	Path             string
	Person           string
	FrameCount       int     // as reported by the container
	FrameRate        float64 // as reported by the container
	FramesRead       int
	Sampled          int
	Analysed         int
	Unsuccessful     int
	Histogram        map[string]int
	Started          time.Time
	Duration         time.Duration
	AnalysisDuration time.Duration
}

// VideoFailure records a video that contributed no table.
type VideoFailure struct {
	Path string
	Err  error
}

// Result is the outcome of a batch run.
type Result struct {
	RunID    string
	Combined *report.Table
	Videos   []VideoStats
	Failures []VideoFailure
	Tally    map[string]int
	Started  time.Time
	Duration time.Duration
}

// Runner holds everything needed to analyse videos. The zero values of Open, VideoID, Tally
// and Logger are replaced by working defaults; Exporter and Store are optional.
type Runner struct {
	Stride    int
	Workers   int
	Threshold float64
	Backend   string

	Open      Opener
	NewWorker pool.InitFunc
	Exporter  *export.Exporter
	Store     store.Store
	RunID     string
	VideoID   func(path string) (string, error)
	Tally     *progress.ErrorTally
	Logger    *zap.Logger
	// ProgressOptions is called once per video to decorate its tracker (e.g. with a bar).
	ProgressOptions func(person string) []progress.Option
}

func (r *Runner) defaults() {
	if r.Open == nil {
		r.Open = OpenVideo
	}
	if r.VideoID == nil {
		r.VideoID = utils.GenerateVideoID
	}
	if r.Tally == nil {
		r.Tally = progress.NewErrorTally()
	}
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
}

// AnalyseVideo runs the whole pipeline for one video: open, sample, classify, build, export
// and persist. Frame-level failures never surface here; the returned error means the video
// contributed no table.
func (r *Runner) AnalyseVideo(ctx context.Context, path string) (*report.Table, VideoStats, error) {
	r.defaults()
	stats := &VideoStats{Path: path, Person: video.Person(path), Started: time.Now()}
	table, err := r.analyseVideo(ctx, stats)
	stats.Duration = time.Since(stats.Started)
	if err == nil {
		r.logSummary(r.Logger.With(zap.String("video", path)), *stats)
	}
	return table, *stats, err
}

func (r *Runner) analyseVideo(ctx context.Context, stats *VideoStats) (*report.Table, error) {
	path := stats.Path
	log := r.Logger.With(zap.String("video", path))
	log.Info("starting video analysis", zap.Time("start_time", stats.Started))

	in, meta, err := r.Open(ctx, path)
	if err != nil {
		r.Tally.Increment(progress.VideoOpenError)
		metrics.VideosProcessedTotal.WithLabelValues(statusFailed).Inc()
		return nil, err
	}
	defer func() {
		if err := in.Close(); err != nil {
			log.Warn("failed to close video", zap.Error(err))
		}
	}()
	if meta.Person != "" {
		stats.Person = meta.Person
	}
	stats.FrameCount = meta.FrameCount
	stats.FrameRate = meta.FrameRate

	smp := sampler.Sampler{Stride: r.Stride, Backend: r.Backend, Logger: log}
	tasks, sst, err := smp.Collect(ctx, in)
	stats.FramesRead = sst.FramesRead
	stats.Sampled = sst.TasksEmitted
	if err != nil {
		metrics.VideosProcessedTotal.WithLabelValues(statusFailed).Inc()
		return nil, fmt.Errorf("sampling %s: %w", path, err)
	}

	analysisStart := time.Now()
	outcomes, err := r.classify(ctx, stats.Person, tasks, log)
	stats.AnalysisDuration = time.Since(analysisStart)
	if err != nil {
		metrics.VideosProcessedTotal.WithLabelValues(statusFailed).Inc()
		return nil, err
	}
	for _, o := range outcomes {
		if o.Failed() {
			stats.Unsuccessful++
		}
	}

	table, err := report.Build(stats.Person, outcomes, r.Threshold)
	if err != nil {
		if errors.Is(err, types.ErrEmptyResult) {
			r.Tally.Increment(progress.EmptyResult)
		}
		metrics.VideosProcessedTotal.WithLabelValues(statusEmpty).Inc()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	stats.Analysed = len(table.Rows)
	stats.Histogram = table.Histogram()

	if r.Exporter != nil {
		written, err := r.Exporter.WriteVideo(table)
		if err != nil {
			metrics.VideosProcessedTotal.WithLabelValues(statusFailed).Inc()
			return nil, err
		}
		log.Info("video analysis exported", zap.Strings("files", written))
	}

	if r.Store != nil {
		if err := r.persist(ctx, path, meta, stats.Person, table); err != nil {
			metrics.VideosProcessedTotal.WithLabelValues(statusFailed).Inc()
			return nil, fmt.Errorf("persist %s: %w", path, err)
		}
	}

	metrics.VideosProcessedTotal.WithLabelValues(statusOK).Inc()
	return table, nil
}

// classify runs tasks through a freshly started pool and returns outcomes in completion order.
func (r *Runner) classify(ctx context.Context, person string, tasks []types.ClassificationTask, log *zap.Logger) ([]types.Outcome, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	log.Info("starting worker pool", zap.Int("workers", r.Workers), zap.Int("tasks", len(tasks)))
	p, err := pool.New(ctx, r.Workers, r.NewWorker, pool.WithLogger(log))
	if err != nil {
		r.Tally.Increment(progress.WorkerStartError)
		return nil, err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("worker shutdown reported errors", zap.Error(err))
		}
	}()

	var opts []progress.Option
	if r.ProgressOptions != nil {
		opts = r.ProgressOptions(person)
	}
	tracker := progress.NewTracker(len(tasks), log, opts...)
	defer tracker.Finish()

	outcomes := make([]types.Outcome, 0, len(tasks))
	err = p.Run(ctx, tasks, func(o types.Outcome) {
		tracker.RecordCompletion()
		if o.Failed() {
			log.Warn("frame failed",
				zap.Int("frame_number", o.FrameNumber),
				zap.String("kind", string(o.Err.Kind)),
				zap.String("reason", o.Err.Reason),
			)
		}
		outcomes = append(outcomes, o)
	})
	return outcomes, err
}

func (r *Runner) persist(ctx context.Context, path string, meta Meta, person string, table *report.Table) error {
	id, err := r.VideoID(path)
	if err != nil {
		return err
	}
	return r.Store.SaveVideo(ctx, r.RunID, store.Video{
		ID:         id,
		Path:       path,
		Person:     person,
		FrameCount: meta.FrameCount,
		FrameRate:  meta.FrameRate,
	}, table)
}

func (r *Runner) logSummary(log *zap.Logger, s VideoStats) {
	labels := make([]string, 0, len(s.Histogram))
	for k := range s.Histogram {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	hist := make([]zap.Field, 0, len(labels))
	for _, k := range labels {
		hist = append(hist, zap.Int(k, s.Histogram[k]))
	}

	log.Info("video analysis summary",
		zap.String("person", s.Person),
		zap.Dict("dominant_emotions", hist...),
		zap.Int("total_frames", s.FramesRead),
		zap.Int("frame_count", s.FrameCount),
		zap.Float64("frame_rate", s.FrameRate),
		zap.Int("sampled_frames", s.Sampled),
		zap.Int("analysed_frames", s.Analysed),
		zap.Int("unsuccessful_frames", s.Unsuccessful),
		zap.Int("first_backend_errors", r.Tally.Get(progress.FirstBackendError)),
		zap.Time("end_time", s.Started.Add(s.Duration)),
		zap.Duration("duration", s.Duration),
		zap.Duration("analysis_duration", s.AnalysisDuration),
	)
}

// Run analyses every video in dir in name order. A failing video is logged and skipped; the
// batch only fails when nothing could be combined.
func (r *Runner) Run(ctx context.Context, dir string) (*Result, error) {
	r.defaults()
	res := &Result{RunID: r.RunID, Started: time.Now()}
	defer func() {
		res.Duration = time.Since(res.Started)
		res.Tally = r.Tally.Snapshot()
	}()

	paths, err := Discover(dir)
	if err != nil {
		if errors.Is(err, types.ErrNoVideosFound) {
			r.Logger.Warn("No video files found in the folder", zap.String("dir", dir))
		}
		return res, err
	}
	r.Logger.Info("found video files", zap.Int("count", len(paths)), zap.Strings("files", paths))

	if r.Store != nil {
		if err := r.Store.BeginRun(ctx, store.Run{
			ID:        r.RunID,
			StartedAt: res.Started,
			Stride:    r.Stride,
			Threshold: r.Threshold,
			Backend:   r.Backend,
			PoolSize:  r.Workers,
		}); err != nil {
			return res, fmt.Errorf("record run: %w", err)
		}
	}

	var tables []*report.Table
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		table, stats, err := r.AnalyseVideo(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			r.Logger.Error("failed to analyse video", zap.String("video", path), zap.Error(err))
			res.Failures = append(res.Failures, VideoFailure{Path: path, Err: err})
			continue
		}
		res.Videos = append(res.Videos, stats)
		tables = append(tables, table)
	}

	combined, err := report.Combine(tables)
	if err != nil {
		r.Logger.Error("no analysis data to combine")
		r.finishRun(ctx, 0, 0)
		return res, err
	}
	res.Combined = combined

	if r.Exporter != nil {
		written, err := r.Exporter.WriteCombined(combined)
		if err != nil {
			return res, err
		}
		r.Logger.Info("combined analysis exported", zap.Strings("files", written))
	}
	r.finishRun(ctx, len(tables), len(combined.Rows))

	r.Logger.Info("batch analysis complete",
		zap.Int("videos", len(tables)),
		zap.Int("failed_videos", len(res.Failures)),
		zap.Int("rows", len(combined.Rows)),
		zap.Int("workers", r.Workers),
		zap.Duration("duration", time.Since(res.Started)),
	)
	return res, nil
}

func (r *Runner) finishRun(ctx context.Context, videos, rows int) {
	if r.Store == nil {
		return
	}
	if err := r.Store.FinishRun(ctx, r.RunID, videos, rows); err != nil {
		r.Logger.Warn("failed to record run completion", zap.Error(err))
	}
}

// Package sampler turns a decoded frame stream into classification tasks at a fixed stride.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/andresmejia3/emoscan/internal/types"
	"go.uber.org/zap"
)

// readLogInterval is how many raw frames are read between progress log lines.
const readLogInterval = 1000

// ErrInvalidStride is returned for strides below 1.
var ErrInvalidStride = errors.New("sampling stride must be >= 1")

// FrameReader yields raw frames in decode order and io.EOF at the end.
type FrameReader interface {
	Next() ([]byte, error)
}

// Stats summarises one pass over a video.
type Stats struct {
	FramesRead   int
	TasksEmitted int
}

// Sampler selects every Stride-th frame, counting from frame 0.
type Sampler struct {
	Stride  int
	Backend string
	Logger  *zap.Logger
}

// Each reads every frame sequentially and calls fn for the selected ones, in increasing
// frame number order. Decoding every frame is unavoidable; only selected frames become tasks.
func (s Sampler) Each(ctx context.Context, r FrameReader, fn func(types.ClassificationTask) error) (Stats, error) {
	var stats Stats
	if s.Stride < 1 {
		return stats, fmt.Errorf("%w, got %d", ErrInvalidStride, s.Stride)
	}
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}

	start := time.Now()
	for frameNumber := 0; ; frameNumber++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		frame, err := r.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read frame %d: %w", frameNumber, err)
		}
		stats.FramesRead++

		if frameNumber%s.Stride == 0 {
			task := types.ClassificationTask{
				FrameNumber:     frameNumber,
				Image:           frame,
				DetectorBackend: s.Backend,
			}
			if err := fn(task); err != nil {
				return stats, err
			}
			stats.TasksEmitted++
		}

		if stats.FramesRead%readLogInterval == 0 {
			log.Info("reading input video",
				zap.Int("frames_read", stats.FramesRead),
				zap.Duration("elapsed", time.Since(start)),
			)
		}
	}
}

// Collect gathers the whole task list for a video.
func (s Sampler) Collect(ctx context.Context, r FrameReader) ([]types.ClassificationTask, Stats, error) {
	var tasks []types.ClassificationTask
	stats, err := s.Each(ctx, r, func(t types.ClassificationTask) error {
		tasks = append(tasks, t)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return tasks, stats, nil
}

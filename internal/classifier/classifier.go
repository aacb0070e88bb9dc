// Package classifier wraps the external emotion model: it validates frames, calls the model and
// turns every call into a well-formed types.Outcome.
package classifier

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"time"

	"github.com/andresmejia3/emoscan/internal/emotion"
	"github.com/andresmejia3/emoscan/internal/metrics"
	"github.com/andresmejia3/emoscan/internal/progress"
	"github.com/andresmejia3/emoscan/internal/types"
	"go.uber.org/zap"
)

// ReasonInvalidFrame is the failure reason for frames that never reach the model.
const ReasonInvalidFrame = "invalid frame"

// Model is the black-box classifier: image in, per-category confidence (0-100) out.
type Model interface {
	Analyze(ctx context.Context, image []byte, backend string, enforceDetection bool) (*types.Analysis, error)
}

// Adapter classifies tasks with one Model. It is owned by a single pool worker.
type Adapter struct {
	model     Model
	threshold float64
	tally     *progress.ErrorTally
	logger    *zap.Logger
}

// New wraps model. A nil tally or logger is replaced by a private one.
func New(model Model, threshold float64, tally *progress.ErrorTally, logger *zap.Logger) *Adapter {
	if tally == nil {
		tally = progress.NewErrorTally()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{model: model, threshold: threshold, tally: tally, logger: logger}
}

// Classify never returns an error: failures are reported inside the outcome.
func (a *Adapter) Classify(ctx context.Context, task types.ClassificationTask) types.Outcome {
	if !validFrame(task.Image) {
		metrics.FramesClassifiedTotal.WithLabelValues(metrics.StatusInvalid).Inc()
		return types.Failure(task.FrameNumber, types.KindInvalidFrame, ReasonInvalidFrame)
	}

	start := time.Now()
	analysis, err := a.model.Analyze(ctx, task.Image, task.DetectorBackend, false)
	metrics.ClassificationDuration.Observe(time.Since(start).Seconds())

	if err == nil && (analysis == nil || len(analysis.Emotion) == 0) {
		err = errEmptyScores
	}
	if err != nil {
		a.logger.Error("error analysing frame",
			zap.Int("frame_number", task.FrameNumber),
			zap.String("backend", task.DetectorBackend),
			zap.Error(err),
		)
		a.tally.Increment(progress.FirstBackendError)
		metrics.FramesClassifiedTotal.WithLabelValues(metrics.StatusFailed).Inc()
		return types.Failure(task.FrameNumber, types.KindClassification,
			"no emotion detected with "+task.DetectorBackend+": "+err.Error())
	}

	dominant := emotion.Dominant(analysis.Emotion, a.threshold)
	if dominant == emotion.NoDominant {
		metrics.FramesClassifiedTotal.WithLabelValues(metrics.StatusNoDominant).Inc()
	} else {
		metrics.FramesClassifiedTotal.WithLabelValues(metrics.StatusAnalysed).Inc()
	}
	return types.Success(task.FrameNumber, analysis, dominant)
}

// Alive forwards the model's liveness. Models that cannot die are always alive.
func (a *Adapter) Alive() bool {
	if l, ok := a.model.(interface{ Alive() bool }); ok {
		return l.Alive()
	}
	return true
}

// Close releases the model if it holds resources.
func (a *Adapter) Close() error {
	if c, ok := a.model.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var errEmptyScores = errors.New("empty emotion mapping")

// validFrame reports whether the image decodes to a non-empty picture.
func validFrame(img []byte) bool {
	if len(img) == 0 {
		return false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return false
	}
	return cfg.Width > 0 && cfg.Height > 0
}

// Package progress tracks completed classifications and cumulative error categories.
package progress

import (
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// Tracker counts completed tasks for one video run and logs a milestone roughly every 10%.
type Tracker struct {
	mu        sync.Mutex
	total     int
	completed int
	step      int
	start     time.Time
	logger    *zap.Logger
	bar       *progressbar.ProgressBar
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBar renders a progress bar for the run on w.
func WithBar(w io.Writer, description string) Option {
	return func(t *Tracker) {
		t.bar = progressbar.NewOptions(t.total,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(w),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
}

// NewTracker starts the run clock.
func NewTracker(total int, logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		total:  total,
		step:   max(1, total/10),
		start:  time.Now(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordCompletion counts one consumed result and returns the new count.
// With fewer than 10 tasks the step degenerates to 1, so every completion is a milestone.
func (t *Tracker) RecordCompletion() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed++
	if t.bar != nil {
		t.bar.Add(1)
	}
	if t.completed%t.step == 0 {
		pct := 0.0
		if t.total > 0 {
			pct = float64(t.completed) / float64(t.total) * 100
		}
		t.logger.Info("processed frames",
			zap.Int("completed", t.completed),
			zap.Int("total", t.total),
			zap.String("percent", formatPercent(pct)),
			zap.Duration("elapsed", time.Since(t.start).Round(100*time.Millisecond)),
		)
	}
	return t.completed
}

// Completed returns the current count.
func (t *Tracker) Completed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Finish closes the progress bar, if any.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar != nil {
		t.bar.Finish()
	}
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 1, 64) + "%"
}

// ErrorTally is a process-wide, monotonic per-category counter.
type ErrorTally struct {
	mu     sync.Mutex
	counts map[string]int
}

// Tally categories.
const (
	FirstBackendError = "first_backend_error"
	VideoOpenError    = "video_open_error"
	WorkerStartError  = "worker_start_error"
	EmptyResult       = "empty_result"
)

// NewErrorTally returns an empty tally.
func NewErrorTally() *ErrorTally {
	return &ErrorTally{counts: make(map[string]int)}
}

// Increment adds one to category.
func (e *ErrorTally) Increment(category string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counts[category]++
}

// Get returns the count for category.
func (e *ErrorTally) Get(category string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[category]
}

// Snapshot copies the current counts.
func (e *ErrorTally) Snapshot() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int, len(e.counts))
	for k, v := range e.counts {
		out[k] = v
	}
	return out
}

// Categories lists the categories seen so far in lexical order.
func (e *ErrorTally) Categories() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.counts))
	for k := range e.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

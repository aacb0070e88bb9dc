package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for FramesClassifiedTotal.
const (
	StatusAnalysed   = "analysed"
	StatusNoDominant = "no_dominant"
	StatusInvalid    = "invalid_frame"
	StatusFailed     = "failed"
)

var (
	FramesClassifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emoscan_frames_classified_total",
		Help: "Total number of sampled frames consumed from the worker pool, by outcome",
	}, []string{"status"})

	ClassificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "emoscan_classification_duration_seconds",
		Help:    "Duration of a single model call inside a worker",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	VideosProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emoscan_videos_processed_total",
		Help: "Total number of videos processed, by status",
	}, []string{"status"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emoscan_active_workers",
		Help: "Number of model workers currently alive",
	})
)

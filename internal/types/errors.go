package types

import (
	"errors"
	"fmt"
)

var (
	ErrVideoOpen       = errors.New("could not open video")
	ErrInvalidFrame    = errors.New("invalid frame")
	ErrClassification  = errors.New("classification failed")
	ErrEmptyResult     = errors.New("no analysis results to process")
	ErrNoVideosFound   = errors.New("no video files found")
	ErrNoDataToCombine = errors.New("no analysis data to combine")
)

// FailureKind tells the two per-frame failure paths apart.
type FailureKind string

const (
	KindInvalidFrame   FailureKind = "invalid_frame"
	KindClassification FailureKind = "classification"
)

// FrameError is the failure half of an Outcome. It never crosses the pool as a returned error.
type FrameError struct {
	FrameNumber int
	Kind        FailureKind
	Reason      string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %s", e.FrameNumber, e.Reason)
}

func (e *FrameError) Unwrap() error {
	if e.Kind == KindInvalidFrame {
		return ErrInvalidFrame
	}
	return ErrClassification
}

// VideoOpenError aborts the pipeline for a single video.
type VideoOpenError struct {
	Path string
	Err  error
}

func (e *VideoOpenError) Error() string {
	return fmt.Sprintf("could not open video %s: %v", e.Path, e.Err)
}

func (e *VideoOpenError) Unwrap() []error { return []error{ErrVideoOpen, e.Err} }

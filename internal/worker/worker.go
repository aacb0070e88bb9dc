package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/andresmejia3/emoscan/internal/types"
	"github.com/andresmejia3/emoscan/internal/utils" // Using the SafeCommand wrapper
)

// Config describes how to launch the Python emotion model.
type Config struct {
	Python string // interpreter, default "python3"
	Script string // default "python/emotion_worker.py"
	Model  string // model name preloaded by the script
}

// request is the JSON header sent ahead of each frame.
type request struct {
	DetectorBackend  string `json:"detector_backend"`
	EnforceDetection bool   `json:"enforce_detection"`
}

// PythonWorker owns one persistent Python process with the model loaded once at startup.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	broken atomic.Bool // set once a pipe read or write fails; the process is gone
}

// NewPythonWorker starts the Python process. The model is built before the first frame is read,
// so the returned worker is ready for Analyze calls.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	script := cfg.Script
	if script == "" {
		script = "python/emotion_worker.py"
	}
	args := []string{"-u", script}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}

	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, python, args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	pw := &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}

	// The script writes a ready message once the model is loaded.
	ready, err := pw.readMessage()
	if err != nil {
		pw.Close()
		return nil, &StartError{ID: id, Cmd: py, Err: err}
	}
	var status types.ErrorResult
	if json.Unmarshal(ready, &status) == nil && status.Error != "" {
		pw.Close()
		return nil, &StartError{ID: id, Cmd: py, Err: errors.New(status.Error)}
	}
	return pw, nil
}

// StartError means the Python process died or refused to load the model before it was ready.
// Cmd keeps the process so its captured stderr can be shown.
type StartError struct {
	ID  int
	Cmd *utils.SafeCommand
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("worker %d failed to load model: %v", e.ID, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Communicate sends one framed request and returns the framed response.
// Protocol: [Length][Header JSON][Length][Image] -> [Length][Response JSON]
func (w *PythonWorker) Communicate(header, image []byte) ([]byte, error) {
	for _, part := range [][]byte{header, image} {
		if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(part))); err != nil {
			w.broken.Store(true)
			return nil, err
		}
		if _, err := w.Stdin.Write(part); err != nil {
			w.broken.Store(true)
			return nil, err
		}
	}
	resp, err := w.readMessage()
	if err != nil {
		w.broken.Store(true)
	}
	return resp, err
}

// Alive reports whether the Python process can still answer. A Python-side error reply
// does not count as death; only a broken pipe does.
func (w *PythonWorker) Alive() bool {
	return !w.broken.Load()
}

func (w *PythonWorker) readMessage() ([]byte, error) {
	// We read from the clean DataPipe, so no Magic Byte is needed.
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Analyze classifies one frame. It satisfies classifier.Model.
func (w *PythonWorker) Analyze(ctx context.Context, image []byte, backend string, enforceDetection bool) (*types.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	header, err := json.Marshal(request{DetectorBackend: backend, EnforceDetection: enforceDetection})
	if err != nil {
		return nil, err
	}

	resp, err := w.Communicate(header, image)
	if err != nil {
		return nil, fmt.Errorf("python worker %d: %w", w.ID, err)
	}

	// Check for a Python error object first (e.g. {"error": "..."})
	var errorResult types.ErrorResult
	if json.Unmarshal(resp, &errorResult) == nil && errorResult.Error != "" {
		return nil, errors.New("python worker error: " + errorResult.Error)
	}

	var analysis types.Analysis
	if err := json.Unmarshal(resp, &analysis); err != nil {
		return nil, fmt.Errorf("malformed worker response: %w", err)
	}
	return &analysis, nil
}

// Close shuts the Python process down. Closing stdin lets the script exit on its own.
func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}

package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/emoscan/internal/batch"
	"github.com/andresmejia3/emoscan/internal/config"
	"github.com/andresmejia3/emoscan/internal/emotion"
	"github.com/andresmejia3/emoscan/internal/report"
	"github.com/andresmejia3/emoscan/internal/store"
	"github.com/andresmejia3/emoscan/internal/types"
	"github.com/andresmejia3/emoscan/internal/utils"
	"github.com/andresmejia3/emoscan/internal/worker"
	"github.com/spf13/pflag"
)

func TestApplyAnalyzeFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(*config.Config) bool
		wantErr bool
	}{
		{
			name:  "No flags keeps config",
			args:  nil,
			check: func(c *config.Config) bool { return c.Paths.InputDir == "from-file" && c.Analysis.SamplingRate == 4 },
		},
		{
			name:  "Flags override config",
			args:  []string{"-i", "clips", "-n", "10", "-b", "retinaface"},
			check: func(c *config.Config) bool { return c.Paths.InputDir == "clips" && c.Analysis.SamplingRate == 10 && c.Analysis.Backend == "retinaface" },
		},
		{
			name:    "Zero sampling rate is rejected",
			args:    []string{"--sampling-rate", "0"},
			check:   func(c *config.Config) bool { return c.Analysis.SamplingRate == 0 },
			wantErr: true,
		},
		{
			name:    "Threshold out of range is rejected",
			args:    []string{"-t", "150"},
			check:   func(c *config.Config) bool { return c.Analysis.Threshold == 150 },
			wantErr: true,
		},
		{
			name:    "Unknown format is rejected",
			args:    []string{"--formats", "csv,parquet"},
			check:   func(c *config.Config) bool { return len(c.Export.Formats) == 2 },
			wantErr: true,
		},
		{
			name:  "Workers and formats",
			args:  []string{"-e", "2", "--formats", "xlsx"},
			check: func(c *config.Config) bool { return c.Analysis.Workers == 2 && c.Export.Formats[0] == "xlsx" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := pflag.NewFlagSet("analyze", pflag.ContinueOnError)
			var opts Options
			flags.StringVarP(&opts.InputDir, "input", "i", "videos", "")
			flags.StringVarP(&opts.OutputDir, "output", "o", "analysis_sheets", "")
			flags.IntVarP(&opts.SamplingRate, "sampling-rate", "n", 1, "")
			flags.IntVarP(&opts.Workers, "workers", "e", 1, "")
			flags.Float64VarP(&opts.Threshold, "threshold", "t", 50, "")
			flags.StringVarP(&opts.Backend, "backend", "b", "opencv", "")
			flags.StringSliceVar(&opts.Formats, "formats", nil, "")
			flags.StringVar(&opts.WorkerScript, "worker-script", "", "")
			flags.StringVar(&opts.Python, "python", "", "")
			flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "")
			if err := flags.Parse(tt.args); err != nil {
				t.Fatalf("parse: %v", err)
			}

			cfg := config.Default()
			cfg.Paths.InputDir = "from-file"
			cfg.Analysis.SamplingRate = 4
			applyAnalyzeFlags(flags, &opts, &cfg)

			if !tt.check(&cfg) {
				t.Errorf("unexpected config after flags: %+v", cfg)
			}
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLockOutputDir(t *testing.T) {
	dir := t.TempDir() + "/sheets"

	first, err := lockOutputDir(dir)
	if err != nil {
		t.Fatalf("first lock failed: %v", err)
	}

	if _, err := lockOutputDir(dir); err == nil {
		t.Fatal("expected the second lock to fail while the first is held")
	}

	if err := first.Unlock(); err != nil {
		t.Fatal(err)
	}
	again, err := lockOutputDir(dir)
	if err != nil {
		t.Fatalf("lock after unlock failed: %v", err)
	}
	again.Unlock()
}

func TestPrintSummary(t *testing.T) {
	table, err := report.Build("alice", []types.Outcome{
		{FrameNumber: 0, Scores: map[string]float64{"happy": 90}},
	}, emotion.DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	res := &batch.Result{
		RunID:    "run-42",
		Combined: table,
		Videos: []batch.VideoStats{{
			Person: "alice", FramesRead: 10, Sampled: 5, Analysed: 4, Unsuccessful: 1,
			Histogram: map[string]int{"happy": 3, "sad": 1}, Duration: 1500 * time.Millisecond,
		}},
		Failures: []batch.VideoFailure{{Path: "videos/bob.mp4", Err: errors.New("video could not be opened")}},
		Tally:    map[string]int{"video_open_error": 1},
		Duration: 2 * time.Second,
	}

	var out bytes.Buffer
	printSummary(&out, res)
	got := out.String()

	for _, want := range []string{"run-42", "alice", "happy", "bob.mp4", "video_open_error", "1 rows from 1 video(s)"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}

func TestWorkerCrash(t *testing.T) {
	if workerCrash(nil) != nil {
		t.Error("nil result has no crash")
	}

	cmd := utils.NewSafeCommand(context.Background(), "python3")
	cmd.Stderr.WriteString("ModuleNotFoundError: No module named 'deepface'")
	start := &worker.StartError{ID: 1, Cmd: cmd, Err: errors.New("EOF")}

	res := &batch.Result{Failures: []batch.VideoFailure{
		{Path: "videos/alice.mp4", Err: &types.VideoOpenError{Path: "videos/alice.mp4", Err: errors.New("moov atom not found")}},
		// pool.New joins per-worker errors and wraps them.
		{Path: "videos/bob.mp4", Err: fmt.Errorf("worker startup failed: %w", errors.Join(nil, start))},
	}}

	got := workerCrash(res)
	if got != start {
		t.Fatalf("workerCrash() = %v, want the wrapped start error", got)
	}
	if !strings.Contains(got.Cmd.Stderr.String(), "deepface") {
		t.Errorf("crash log lost: %q", got.Cmd.Stderr.String())
	}
}

func TestTopEmotion(t *testing.T) {
	tests := []struct {
		hist map[string]int
		want string
	}{
		{map[string]int{"happy": 3, "sad": 1}, "happy"},
		{map[string]int{"sad": 2, "angry": 2}, "angry"},
		{map[string]int{}, ""},
	}
	for _, tt := range tests {
		if got := topEmotion(tt.hist); got != tt.want {
			t.Errorf("topEmotion(%v) = %q, want %q", tt.hist, got, tt.want)
		}
	}
}

func TestRenderRuns(t *testing.T) {
	finished := time.Now()
	out := renderRuns([]store.Run{
		{ID: "abc", StartedAt: finished.Add(-time.Minute), FinishedAt: &finished, Videos: 2, Rows: 12345, Backend: "opencv", Stride: 5, PoolSize: 4},
		{ID: "def", StartedAt: finished, Backend: "mtcnn", Stride: 1, PoolSize: 2},
	})
	for _, want := range []string{"abc", "12,345", "1m0s", "def", "running", "mtcnn"} {
		if !strings.Contains(out, want) {
			t.Errorf("runs table missing %q:\n%s", want, out)
		}
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var prompt bytes.Buffer
		got := confirm(&prompt, bufio.NewReader(strings.NewReader(tt.input)), "Proceed?")
		if got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(prompt.String(), "[y/N]") {
			t.Errorf("prompt not written: %q", prompt.String())
		}
	}
}

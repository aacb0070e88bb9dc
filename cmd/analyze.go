package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/andresmejia3/emoscan/internal/batch"
	"github.com/andresmejia3/emoscan/internal/classifier"
	"github.com/andresmejia3/emoscan/internal/config"
	"github.com/andresmejia3/emoscan/internal/export"
	"github.com/andresmejia3/emoscan/internal/logging"
	"github.com/andresmejia3/emoscan/internal/metrics"
	"github.com/andresmejia3/emoscan/internal/pool"
	"github.com/andresmejia3/emoscan/internal/progress"
	"github.com/andresmejia3/emoscan/internal/types"
	"github.com/andresmejia3/emoscan/internal/utils"
	"github.com/andresmejia3/emoscan/internal/worker"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// lockFileName is created inside the output directory while an analysis writes to it.
const lockFileName = ".emoscan.lock"

// Options holds the analyze flags. Only flags the user actually set override the config.
type Options struct {
	InputDir     string
	OutputDir    string
	SamplingRate int
	Workers      int
	Threshold    float64
	Backend      string
	Formats      []string
	WorkerScript string
	Python       string
	MetricsAddr  string
	NoProgress   bool
}

var analyzeOpts Options

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Classify facial emotions in every video of a directory",
	Long: `Samples every Nth frame of each video in the input directory, classifies the dominant
facial emotion with a pool of persistent Python workers and writes one table per video plus a
combined table to the output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyAnalyzeFlags(cmd.Flags(), &analyzeOpts, Cfg)
		if err := Cfg.Validate(); err != nil {
			utils.ShowError("Invalid analysis settings", err, nil)
			return err
		}
		return runAnalyze(cmd.Context(), Cfg, analyzeOpts.NoProgress, cmd.OutOrStdout())
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVarP(&analyzeOpts.InputDir, "input", "i", "videos", "Directory containing the videos")
	f.StringVarP(&analyzeOpts.OutputDir, "output", "o", "analysis_sheets", "Directory for the analysis sheets")
	f.IntVarP(&analyzeOpts.SamplingRate, "sampling-rate", "n", 1, "Analyse every Nth frame")
	f.IntVarP(&analyzeOpts.Workers, "workers", "e", config.DefaultWorkers(), "Number of parallel model workers")
	f.Float64VarP(&analyzeOpts.Threshold, "threshold", "t", 50, "Minimum confidence (0-100] for a dominant emotion")
	f.StringVarP(&analyzeOpts.Backend, "backend", "b", "opencv", "Face detector backend passed to the model")
	f.StringSliceVar(&analyzeOpts.Formats, "formats", []string{export.FormatCSV, export.FormatXLSX}, "Output formats (csv, xlsx)")
	f.StringVar(&analyzeOpts.WorkerScript, "worker-script", "python/emotion_worker.py", "Path to the Python emotion worker")
	f.StringVar(&analyzeOpts.Python, "python", "python3", "Python interpreter used to run the worker")
	f.StringVar(&analyzeOpts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while analysing (e.g. :9090)")
	f.BoolVar(&analyzeOpts.NoProgress, "no-progress", false, "Disable the progress bar")

	rootCmd.AddCommand(analyzeCmd)
}

// applyAnalyzeFlags copies the flags the user set onto cfg.
func applyAnalyzeFlags(flags *pflag.FlagSet, opts *Options, cfg *config.Config) {
	if flags.Changed("input") {
		cfg.Paths.InputDir = opts.InputDir
	}
	if flags.Changed("output") {
		cfg.Paths.OutputDir = opts.OutputDir
	}
	if flags.Changed("sampling-rate") {
		cfg.Analysis.SamplingRate = opts.SamplingRate
	}
	if flags.Changed("workers") {
		cfg.Analysis.Workers = opts.Workers
	}
	if flags.Changed("threshold") {
		cfg.Analysis.Threshold = opts.Threshold
	}
	if flags.Changed("backend") {
		cfg.Analysis.Backend = opts.Backend
	}
	if flags.Changed("formats") {
		cfg.Export.Formats = opts.Formats
	}
	if flags.Changed("worker-script") {
		cfg.Worker.Script = opts.WorkerScript
	}
	if flags.Changed("python") {
		cfg.Worker.Python = opts.Python
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
}

// lockOutputDir takes an exclusive lock so two analyses never interleave their sheets.
func lockOutputDir(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock output directory: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another analysis is already writing to %s", dir)
	}
	return lock, nil
}

func runAnalyze(ctx context.Context, cfg *config.Config, noProgress bool, out io.Writer) error {
	lock, err := lockOutputDir(cfg.Paths.OutputDir)
	if err != nil {
		utils.ShowError("Output directory unavailable", err, nil)
		return err
	}
	defer lock.Unlock()

	if cfg.Metrics.Addr != "" {
		srv := metrics.StartServer(cfg.Metrics.Addr, Logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	tally := progress.NewErrorTally()
	workerCfg := worker.Config{Python: cfg.Worker.Python, Script: cfg.Worker.Script, Model: cfg.Worker.Model}

	runner := &batch.Runner{
		Stride:    cfg.Analysis.SamplingRate,
		Workers:   cfg.Analysis.Workers,
		Threshold: cfg.Analysis.Threshold,
		Backend:   cfg.Analysis.Backend,
		NewWorker: func(ctx context.Context, id int) (pool.Worker, error) {
			pw, err := worker.NewPythonWorker(ctx, id, workerCfg)
			if err != nil {
				return nil, err
			}
			return classifier.New(pw, cfg.Analysis.Threshold, tally, Logger.With(zap.Int("worker", id))), nil
		},
		Exporter: &export.Exporter{Dir: cfg.Paths.OutputDir, Formats: cfg.Export.Formats},
		Store:    DB,
		RunID:    uuid.NewString(),
		Tally:    tally,
		Logger:   Logger,
	}
	if !noProgress && logging.IsTerminal(os.Stderr) {
		runner.ProgressOptions = func(person string) []progress.Option {
			return []progress.Option{progress.WithBar(os.Stderr, "🎭 "+person)}
		}
	}

	Logger.Info("starting batch analysis",
		zap.String("run_id", runner.RunID),
		zap.String("input", cfg.Paths.InputDir),
		zap.String("output", cfg.Paths.OutputDir),
		zap.Int("sampling_rate", cfg.Analysis.SamplingRate),
		zap.Int("workers", cfg.Analysis.Workers),
		zap.Float64("threshold", cfg.Analysis.Threshold),
		zap.String("backend", cfg.Analysis.Backend),
	)

	res, err := runner.Run(ctx, cfg.Paths.InputDir)
	if crash := workerCrash(res); crash != nil {
		utils.ShowError("Python worker failed to start", crash, crash.Cmd)
	}
	switch {
	case errors.Is(err, types.ErrNoVideosFound):
		fmt.Fprintln(out, "No video files found in the folder.")
		return nil
	case errors.Is(err, types.ErrNoDataToCombine):
		printSummary(out, res)
		fmt.Fprintln(out, "No analysis data to combine.")
		return nil
	case err != nil:
		utils.ShowError("Analysis failed", err, nil)
		return err
	}

	printSummary(out, res)
	return nil
}

// workerCrash returns the first worker start failure of the run. The same interpreter problem
// repeats for every video, so one crash log is enough.
func workerCrash(res *batch.Result) *worker.StartError {
	if res == nil {
		return nil
	}
	for _, f := range res.Failures {
		var se *worker.StartError
		if errors.As(f.Err, &se) {
			return se
		}
	}
	return nil
}

// printSummary renders the per-video results and the error tally.
func printSummary(out io.Writer, res *batch.Result) {
	if res == nil {
		return
	}

	rows := make([][]string, 0, len(res.Videos)+len(res.Failures))
	for _, v := range res.Videos {
		rows = append(rows, []string{
			v.Person,
			strconv.Itoa(v.FramesRead),
			strconv.Itoa(v.Sampled),
			strconv.Itoa(v.Analysed),
			strconv.Itoa(v.Unsuccessful),
			topEmotion(v.Histogram),
			v.Duration.Round(time.Millisecond).String(),
		})
	}
	for _, f := range res.Failures {
		rows = append(rows, []string{filepath.Base(f.Path), "-", "-", "-", "-", "failed: " + f.Err.Error(), "-"})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable("Run "+res.RunID,
			[]string{"Person", "Frames", "Sampled", "Analysed", "Unsuccessful", "Top emotion", "Duration"},
			rows, 1, 2, 3, 4, 6))
	}

	if len(res.Tally) > 0 {
		keys := make([]string, 0, len(res.Tally))
		for k := range res.Tally {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		tallyRows := make([][]string, len(keys))
		for i, k := range keys {
			tallyRows[i] = []string{k, strconv.Itoa(res.Tally[k])}
		}
		fmt.Fprintln(out, renderTable("Errors", []string{"Category", "Count"}, tallyRows, 1))
	}

	if res.Combined != nil {
		fmt.Fprintf(out, "✅ %d rows from %d video(s) in %s\n",
			len(res.Combined.Rows), len(res.Videos), res.Duration.Round(time.Millisecond))
	}
}

// topEmotion returns the most frequent label, ties broken lexically.
func topEmotion(hist map[string]int) string {
	best, count := "", -1
	for label, n := range hist {
		if n > count || (n == count && label < best) {
			best, count = label, n
		}
	}
	return best
}

// Package config loads emoscan settings from defaults, an optional TOML file and EMOSCAN_*
// environment variables. Command-line flags are applied on top by the cmd package.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"

	"github.com/andresmejia3/emoscan/internal/emotion"
	"github.com/andresmejia3/emoscan/internal/export"
	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	"github.com/shirou/gopsutil/v4/cpu"
)

// DefaultFile is looked up in the working directory when no --config is given.
const DefaultFile = "emoscan.toml"

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "EMOSCAN_"

type Paths struct {
	InputDir  string `toml:"input_dir" env:"INPUT_DIR"`
	OutputDir string `toml:"output_dir" env:"OUTPUT_DIR"`
	LogDir    string `toml:"log_dir" env:"LOG_DIR"`
}

type Analysis struct {
	SamplingRate int     `toml:"sampling_rate" env:"SAMPLING_RATE"`
	Workers      int     `toml:"workers" env:"WORKERS"`
	Threshold    float64 `toml:"threshold" env:"THRESHOLD"`
	Backend      string  `toml:"backend" env:"BACKEND"`
}

type Worker struct {
	Python string `toml:"python" env:"PYTHON"`
	Script string `toml:"script" env:"WORKER_SCRIPT"`
	Model  string `toml:"model" env:"MODEL"`
}

type Export struct {
	Formats []string `toml:"formats" env:"FORMATS" envSeparator:","`
}

type Logging struct {
	Level  string `toml:"level" env:"LOG_LEVEL"`
	Format string `toml:"format" env:"LOG_FORMAT"`
}

type Database struct {
	DSN string `toml:"dsn" env:"DB"`
}

type Metrics struct {
	Addr string `toml:"addr" env:"METRICS_ADDR"`
}

// Config is the full application configuration.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Analysis Analysis `toml:"analysis"`
	Worker   Worker   `toml:"worker"`
	Export   Export   `toml:"export"`
	Logging  Logging  `toml:"logging"`
	Database Database `toml:"database"`
	Metrics  Metrics  `toml:"metrics"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Paths: Paths{
			InputDir:  "videos",
			OutputDir: "analysis_sheets",
			LogDir:    "logs",
		},
		Analysis: Analysis{
			SamplingRate: 1,
			Workers:      DefaultWorkers(),
			Threshold:    emotion.DefaultThreshold,
			Backend:      "opencv",
		},
		Worker: Worker{
			Python: "python3",
			Script: "python/emotion_worker.py",
		},
		Export: Export{
			Formats: []string{export.FormatCSV, export.FormatXLSX},
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultWorkers is two thirds of the physical cores, at least 1.
func DefaultWorkers() int {
	cores, err := cpu.Counts(false)
	if err != nil || cores < 1 {
		cores = runtime.GOMAXPROCS(0)
	}
	return max(1, cores*2/3)
}

// Load applies the TOML file at path (or DefaultFile if path is empty and it exists) and then the
// environment over the defaults. An explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	file := path
	if file == "" {
		file = DefaultFile
	}
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", file, err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == "":
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	return &cfg, nil
}

// Validate checks the analysis parameters before any video is touched.
func (c *Config) Validate() error {
	if c.Analysis.SamplingRate < 1 {
		return fmt.Errorf("sampling rate must be >= 1, got %d", c.Analysis.SamplingRate)
	}
	if c.Analysis.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Analysis.Workers)
	}
	if c.Analysis.Threshold <= 0 || c.Analysis.Threshold > 100 {
		return fmt.Errorf("threshold must be in (0, 100], got %g", c.Analysis.Threshold)
	}
	if strings.TrimSpace(c.Analysis.Backend) == "" {
		return errors.New("detector backend must not be empty")
	}
	if len(c.Export.Formats) == 0 {
		return errors.New("at least one export format is required")
	}
	for _, f := range c.Export.Formats {
		if !export.Known(f) {
			return fmt.Errorf("unknown export format %q (supported: %s)", f, strings.Join(export.Formats, ", "))
		}
	}
	return nil
}

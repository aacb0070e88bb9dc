package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/emoscan/internal/config"
	"github.com/andresmejia3/emoscan/internal/logging"
	"github.com/andresmejia3/emoscan/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// DB is the optional results store shared by subcommands. It is nil when no DSN is configured.
	DB store.Store
	// Logger is the application logger, ready once PersistentPreRunE has run.
	Logger = zap.NewNop()
	// Cfg is the loaded configuration with persistent flags applied.
	Cfg *config.Config

	configPath string
	dbURL      string
	logLevel   string
	logFormat  string

	closeLog = func() error { return nil }
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "emoscan",
	Short:         "Facial emotion analysis for video batches",
	Version:       Version, // This enables the --version flag
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		// Read the root set: a subcommand may define its own local flag of the same name (reset --db).
		flags := cmd.Root().PersistentFlags()
		if flags.Changed("db") {
			cfg.Database.DSN = dbURL
		}
		if flags.Changed("log-level") {
			cfg.Logging.Level = logLevel
		}
		if flags.Changed("log-format") {
			cfg.Logging.Format = logFormat
		}
		// Fall back to a DSN built from POSTGRES_* variables
		if cfg.Database.DSN == "" {
			if host := os.Getenv("POSTGRES_HOST"); host != "" {
				port := os.Getenv("POSTGRES_PORT")
				if port == "" {
					port = "5432"
				}
				cfg.Database.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
					os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
			}
		}
		Cfg = cfg

		logger, closeFn, err := logging.New(logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Dir:    cfg.Paths.LogDir,
		})
		if err != nil {
			return err
		}
		Logger, closeLog = logger, closeFn

		if cfg.Database.DSN != "" {
			// Use the command's context (which will be cancellable) for the connection
			DB, err = store.Open(cmd.Context(), cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
		}
		return nil
	},
}

// shutdown closes the store and flushes the log file, whether or not the command failed.
func shutdown() {
	if DB != nil {
		if err := DB.Close(); err != nil {
			Logger.Warn("failed to close database", zap.Error(err))
		}
		DB = nil
	}
	_ = closeLog()
	closeLog = func() error { return nil }
	Logger = zap.NewNop()
}

func run(ctx context.Context, args ...string) error {
	defer shutdown()
	if args != nil {
		rootCmd.SetArgs(args)
	}
	return rootCmd.ExecuteContext(ctx)
}

// requireDB fails commands that cannot run without a results store.
func requireDB() error {
	if DB == nil {
		return fmt.Errorf("no results database configured (use --db, EMOSCAN_DB or [database] dsn)")
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a TOML config file (default: ./"+config.DefaultFile+" if present)")
	pf.StringVar(&dbURL, "db", "", "Results database: postgres://... or a SQLite file path (default: none)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "console", "Terminal log format (console, json)")
}

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/emoscan/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB    bool
	resetFiles bool
	resetLogs  bool
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database, Analysis Sheets, Logs)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles && !resetLogs {
			resetDB = true
			resetFiles = true
			resetLogs = true
		}

		out := cmd.OutOrStdout()
		reader := bufio.NewReader(cmd.InOrStdin())

		if resetDB {
			switch {
			case DB == nil:
				fmt.Fprintln(out, "ℹ️  No results database configured, skipping.")
			case confirm(out, reader, "⚠️  Are you sure you want to DROP all database tables?"):
				fmt.Fprintln(out, "🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if resetFiles {
			if confirm(out, reader, "⚠️  Are you sure you want to delete all analysis sheets in "+Cfg.Paths.OutputDir+"?") {
				fmt.Fprintln(out, "🗑️  Clearing Analysis Sheets...")
				removeDir(Cfg.Paths.OutputDir)
			}
		}

		if resetLogs {
			if confirm(out, reader, "⚠️  Are you sure you want to delete all logs in "+Cfg.Paths.LogDir+"?") {
				fmt.Fprintln(out, "🗑️  Clearing Logs...")
				removeDir(Cfg.Paths.LogDir)
			}
		}

		fmt.Fprintln(out, "✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear the results database")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear generated analysis sheets")
	resetCmd.Flags().BoolVar(&resetLogs, "logs", false, "Clear log files")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(w io.Writer, r *bufio.Reader, prompt string) bool {
	if resetYes {
		return true
	}
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}

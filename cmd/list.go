package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/andresmejia3/emoscan/internal/store"
	"github.com/andresmejia3/emoscan/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis runs recorded in the results database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDB(); err != nil {
			return err
		}
		runs, err := DB.ListRuns(cmd.Context(), listLimit)
		if err != nil {
			utils.ShowError("Failed to list runs", err, nil)
			return err
		}

		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No analysis runs found in database.")
			return nil
		}
		fmt.Fprintln(out, renderRuns(runs))
		return nil
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "l", 20, "Maximum number of runs to show")
	rootCmd.AddCommand(listCmd)
}

func renderRuns(runs []store.Run) string {
	rows := make([][]string, len(runs))
	for i, r := range runs {
		duration := "running"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		rows[i] = []string{
			r.ID,
			humanize.Time(r.StartedAt),
			duration,
			strconv.Itoa(r.Videos),
			humanize.Comma(int64(r.Rows)),
			r.Backend,
			strconv.Itoa(r.Stride),
			strconv.Itoa(r.PoolSize),
		}
	}
	return renderTable("", []string{"Run ID", "Started", "Duration", "Videos", "Rows", "Backend", "Stride", "Workers"},
		rows, 3, 4, 6, 7)
}

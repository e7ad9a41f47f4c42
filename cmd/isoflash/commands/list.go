package commands

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/isoflash/isoflash/internal/config"
	"github.com/isoflash/isoflash/pkg/db"
	"github.com/isoflash/isoflash/pkg/errors"
	"github.com/spf13/cobra"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List flash runs and their results",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Number of runs to show (0 for all)")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	runs, err := repo.ListRuns(listLimit)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

func printRuns(w io.Writer, runs []*db.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found")
		return
	}

	fmt.Fprintf(w, "%-36s %-12s %-18s %-14s %-21s %s\n", "RUN", "STATE", "RESULT", "DEVICE", "PROGRESS", "SOURCE")
	fmt.Fprintln(w, "------------------------------------------------------------------------------------------------------------------------")

	for _, run := range runs {
		result := run.Result
		if result == "" {
			result = "-"
		}
		progress := fmt.Sprintf("%s / %s", humanize.Bytes(uint64(run.BytesWritten)), humanize.Bytes(uint64(run.BytesTotal)))

		fmt.Fprintf(w, "%-36s %-12s %-18s %-14s %-21s %s\n",
			run.RunID, run.State, result, run.Device, progress, run.SourcePath)
	}
}

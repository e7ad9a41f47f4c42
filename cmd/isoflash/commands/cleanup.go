package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/isoflash/isoflash/internal/config"
	"github.com/isoflash/isoflash/pkg/db"
	"github.com/isoflash/isoflash/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	cleanupAll      bool
	cleanupRun      string
	cleanupOrphaned bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up run resources (temporary images, downloads, history)",
	Long: `Clean up resources left behind by flash runs:
  --all          Remove every finished run and its temporary images
  --run <id>     Remove one run and its temporary images
  --orphaned     Remove temporary files no live run owns and close interrupted runs`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Clean all finished runs")
	cleanupCmd.Flags().StringVar(&cleanupRun, "run", "", "Clean a specific run by ID")
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Clean orphaned resources")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	out := cmd.OutOrStdout()
	switch {
	case cleanupAll:
		return cleanupAllRuns(out, repo, cfg.WorkDir)
	case cleanupRun != "":
		return cleanupSpecificRun(out, repo, cfg.WorkDir, cleanupRun)
	case cleanupOrphaned:
		return cleanupOrphanedResources(out, repo, cfg.WorkDir)
	default:
		return usageError(cmd, fmt.Errorf("must specify --all, --run, or --orphaned"))
	}
}

func cleanupAllRuns(out io.Writer, repo *db.Repository, workDir string) error {
	runs, err := repo.ListRuns(0)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	fmt.Fprintf(out, "🧹 Cleaning up %d runs...\n", len(runs))

	for _, run := range runs {
		if !run.Finished() {
			fmt.Fprintf(out, "⏭️  Skipped unfinished run: %s (use --orphaned)\n", run.RunID)
			continue
		}
		if err := cleanupRunResources(repo, workDir, run.RunID); err != nil {
			fmt.Fprintf(out, "⚠️  Failed to clean %s: %v\n", run.RunID, err)
		} else {
			fmt.Fprintf(out, "✅ Cleaned: %s\n", run.RunID)
		}
	}

	return nil
}

func cleanupSpecificRun(out io.Writer, repo *db.Repository, workDir, runID string) error {
	run, err := repo.GetRun(runID)
	if err != nil {
		return errors.Wrap(err, "lookup failed")
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", runID)
	}

	fmt.Fprintf(out, "🧹 Cleaning up %s...\n", runID)

	if err := cleanupRunResources(repo, workDir, runID); err != nil {
		return errors.Wrap(err, "cleanup failed")
	}

	fmt.Fprintf(out, "✅ Cleaned: %s\n", runID)
	return nil
}

func cleanupRunResources(repo *db.Repository, workDir, runID string) error {
	paths, err := runArtifacts(workDir, runID)
	if err != nil {
		return errors.Wrap(err, "failed to list temporary images")
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove temporary image")
		}
	}

	return repo.DeleteRun(runID)
}

// cleanupOrphanedResources removes work directory files that no unfinished
// run owns and marks runs left unfinished by a dead process as failed.
// It assumes no other isoflash process is running.
func cleanupOrphanedResources(out io.Writer, repo *db.Repository, workDir string) error {
	fmt.Fprintln(out, "🔍 Scanning for orphaned resources...")

	runs, err := repo.ListRuns(0)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	orphanCount := 0

	// 1. Close runs interrupted without reaching a terminal state
	for _, run := range runs {
		if run.Finished() {
			continue
		}
		run.State = db.StateFailed
		run.Result = "interrupted"
		run.Message = "process exited before the run finished"
		if err := repo.UpdateRun(run); err != nil {
			fmt.Fprintf(out, "⚠️  Failed to close run %s: %v\n", run.RunID, err)
			continue
		}
		fmt.Fprintf(out, "🗑️  Closed interrupted run: %s\n", run.RunID)
		orphanCount++
	}

	// 2. Remove temporary images and downloads
	entries, err := os.ReadDir(workDir)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to read work directory")
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasPrefix(name, "isoflash-") || strings.HasPrefix(name, "download-")) {
			continue
		}
		path := filepath.Join(workDir, name)
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(out, "⚠️  Failed to remove orphaned file %s: %v\n", name, err)
		} else {
			fmt.Fprintf(out, "🗑️  Removed orphaned file: %s\n", name)
			orphanCount++
		}
	}

	fmt.Fprintf(out, "✅ Removed %d orphaned resources\n", orphanCount)
	return nil
}

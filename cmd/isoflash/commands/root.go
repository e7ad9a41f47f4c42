package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/isoflash/isoflash/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LogLevel is the level of the default logger; --verbose lowers it to Debug.
var LogLevel = new(slog.LevelVar)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "isoflash",
	Short: "Write disk images to USB drives",
	Long: `Converts ISO and disk images to raw form, erases the target drive and
writes the image to it with retries, progress reporting and read-back verification.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			LogLevel.Set(slog.LevelDebug)
		}
	},
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return ExitRuntime
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(cmd, err)
	})

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/isoflash.db", "SQLite database path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm", "FSM state directory")
	rootCmd.PersistentFlags().String("work-dir", ".artifacts/work", "Directory for converted and downloaded images")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region for s3:// sources")
	rootCmd.PersistentFlags().String("s3-endpoint", "", "Custom S3 endpoint (path-style)")
	rootCmd.PersistentFlags().Int("max-attempts", 3, "Conversion attempts before giving up")
	rootCmd.PersistentFlags().Duration("attempt-timeout", 600*time.Second, "Per-attempt conversion timeout")
	rootCmd.PersistentFlags().Duration("poll-interval", time.Second, "Progress poll interval")
	rootCmd.PersistentFlags().Int("stall-polls", 30, "Unchanged polls before a conversion counts as stalled")
	rootCmd.PersistentFlags().Duration("retry-delay", 2*time.Second, "Delay between conversion attempts")
	rootCmd.PersistentFlags().Int64("max-image-size", 64*1024*1024*1024, "Largest image accepted, in bytes")

	for _, name := range []string{
		"sqlite-path", "fsm-db-path", "work-dir", "s3-region", "s3-endpoint",
		"max-attempts", "attempt-timeout", "poll-interval", "stall-polls",
		"retry-delay", "max-image-size",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

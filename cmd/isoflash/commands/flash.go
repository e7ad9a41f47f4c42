package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/isoflash/isoflash/internal/config"
	"github.com/isoflash/isoflash/pkg/db"
	"github.com/isoflash/isoflash/pkg/diskutil"
	"github.com/isoflash/isoflash/pkg/errors"
	appfsm "github.com/isoflash/isoflash/pkg/fsm"
	"github.com/isoflash/isoflash/pkg/pipeline"
	"github.com/isoflash/isoflash/pkg/progress"
	"github.com/isoflash/isoflash/pkg/retry"
	"github.com/isoflash/isoflash/pkg/safety"
	"github.com/isoflash/isoflash/pkg/source"
	"github.com/isoflash/isoflash/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/superfly/fsm"
)

var (
	flashDevice string
	flashYes    bool
)

var flashCmd = &cobra.Command{
	Use:   "flash <image>",
	Short: "Convert an image and write it to a USB drive",
	Long: `Writes a local image or an s3://bucket/key object to the target drive.
Without --device the last successfully written device is used.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().StringVarP(&flashDevice, "device", "d", "", "Target device (e.g. /dev/sdb, disk4)")
	flashCmd.Flags().BoolVarP(&flashYes, "yes", "y", false, "Do not ask for confirmation before erasing")
	flashCmd.Flags().String("label", "ISOFLASH", "Volume label applied when erasing")
	flashCmd.Flags().Int64("verify-bytes", 1024*1024, "Bytes read back after writing (0 disables)")
	flashCmd.Flags().Int("chunk-size", 1024*1024, "Write chunk size in bytes")
	flashCmd.Flags().Duration("eject-timeout", 30*time.Second, "Timeout for ejecting after an interrupted write")

	viper.BindPFlag("volume-label", flashCmd.Flags().Lookup("label"))
	viper.BindPFlag("verify-bytes", flashCmd.Flags().Lookup("verify-bytes"))
	viper.BindPFlag("chunk-size", flashCmd.Flags().Lookup("chunk-size"))
	viper.BindPFlag("eject-timeout", flashCmd.Flags().Lookup("eject-timeout"))
}

func runFlash(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ref := args[0]

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return &ExitError{Code: ExitUsage, Err: errors.Wrap(err, "config invalid")}
	}

	// Ensure all necessary directories exist
	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, cfg.WorkDir); err != nil {
		return err
	}

	tool := diskutil.NewTool(diskutil.NewSubprocessRunner())
	if err := safety.CheckPrerequisites(tool.Binaries()); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	settings, err := pipeline.LoadSettings(repo)
	if err != nil {
		return errors.Wrap(err, "settings load failed")
	}

	resolver := source.NewResolver(cfg.WorkDir, source.S3Downloaders(storage.Options{
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
	}))
	image, err := resolver.Resolve(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return &ExitError{Code: ExitCancelled, Err: ctx.Err()}
		}
		return &ExitError{Code: ExitConversionFailed, Err: errors.Wrap(err, "source unavailable")}
	}
	if image.Remote != "" {
		defer os.Remove(image.Path)
	}
	slog.Info("source_resolved",
		"path", image.Path,
		"format", image.Format,
		"size", image.Size,
		"filesystem", image.FSType,
		"label", image.Label,
		"sha256", image.SHA256,
	)

	confirmer := autoConfirm()
	if !flashYes {
		// Show what is attached before anything gets erased.
		if devices, err := tool.ListDevices(ctx); err != nil {
			slog.Warn("device_list_failed", "error", err)
		} else {
			fmt.Fprintln(cmd.ErrOrStderr(), "Attached disks:")
			printDevices(cmd.ErrOrStderr(), devices)
		}
		confirmer = promptConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr())
	}

	history := appfsm.NewHistory(repo)
	p := pipeline.New(tool, confirmer, pipeline.Options{
		WorkDir:      cfg.WorkDir,
		Label:        cfg.VolumeLabel,
		VerifyBytes:  cfg.VerifyBytes,
		ChunkSize:    cfg.ChunkSize,
		EjectTimeout: cfg.EjectTimeout,
		Retry: retry.Config{
			MaxAttempts:  cfg.MaxAttempts,
			Timeout:      cfg.AttemptTimeout,
			Delay:        cfg.RetryDelay,
			PollInterval: cfg.PollInterval,
			StallPolls:   cfg.StallPolls,
		},
	},
		pipeline.WithValidator(safety.NewValidator(cfg.MaxImageSize)),
		pipeline.WithSettingsStore(repo),
		pipeline.WithObserver(history),
		pipeline.WithReporter(progress.NewReporter(os.Stderr)),
	)

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := appfsm.NewMachine(p, history)
	if err := machine.Register(ctx, manager); err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	result := machine.Flash(ctx, pipeline.Request{
		ID:       uuid.NewString(),
		Image:    image,
		Device:   flashDevice,
		Settings: settings,
	})
	printResult(cmd.OutOrStdout(), result)

	if code := exitCode(result.Kind); code != ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}

func printResult(w io.Writer, r pipeline.Result) {
	fmt.Fprintln(w)
	if r.OK() {
		fmt.Fprintf(w, "✅ Wrote %s to %s\n", humanize.IBytes(uint64(r.BytesDone)), r.Device)
	} else {
		fmt.Fprintf(w, "❌ %s: %s\n", r.Kind, r.Message)
	}
	fmt.Fprintf(w, "   run:      %s\n", r.RunID)
	fmt.Fprintf(w, "   source:   %s\n", r.Source)
	fmt.Fprintf(w, "   device:   %s\n", r.Device)
	if r.Kind == pipeline.KindConversionFailed {
		fmt.Fprintf(w, "   converted: %s / %s\n", humanize.IBytes(uint64(r.ConvertedBytes)), humanize.IBytes(uint64(r.BytesTotal)))
	} else {
		fmt.Fprintf(w, "   progress: %s / %s\n", humanize.IBytes(uint64(r.BytesDone)), humanize.IBytes(uint64(r.BytesTotal)))
	}
	if r.Attempts > 0 {
		fmt.Fprintf(w, "   attempts: %d\n", r.Attempts)
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "⚠️  %s\n", warning)
	}
}

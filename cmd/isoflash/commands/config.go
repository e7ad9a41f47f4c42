package commands

import (
	"github.com/isoflash/isoflash/internal/config"
	"github.com/isoflash/isoflash/pkg/errors"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	out, err := cfg.YAML()
	if err != nil {
		return errors.Wrap(err, "config render failed")
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

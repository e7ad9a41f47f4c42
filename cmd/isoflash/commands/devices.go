package commands

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/isoflash/isoflash/pkg/diskutil"
	"github.com/isoflash/isoflash/pkg/errors"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List attached disks that can be flashed",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	tool := diskutil.NewTool(diskutil.NewSubprocessRunner())

	devices, err := tool.ListDevices(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "device listing failed")
	}

	printDevices(cmd.OutOrStdout(), devices)
	return nil
}

func printDevices(w io.Writer, devices []diskutil.DeviceInfo) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No disks found")
		return
	}

	fmt.Fprintf(w, "%-16s %-10s %-10s %-8s %s\n", "DEVICE", "SIZE", "REMOVABLE", "MOUNTED", "DESCRIPTION")
	fmt.Fprintln(w, "------------------------------------------------------------------------")

	for _, d := range devices {
		fmt.Fprintf(w, "%-16s %-10s %-10s %-8s %s\n",
			d.Device, humanize.Bytes(uint64(d.Size)), yesNo(d.Removable), yesNo(d.Mounted), d.Description)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

//go:build linux

package diskutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/isoflash/isoflash/pkg/errors"
	"golang.org/x/sys/unix"
)

// LinuxTool implements Tool with util-linux, dosfstools and qemu-img.
type LinuxTool struct {
	runner     Runner
	mountsPath string
}

// NewTool creates the Linux disk tool.
func NewTool(runner Runner) Tool {
	slog.Info("diskutil_init", "platform", "linux")
	return &LinuxTool{runner: runner, mountsPath: "/proc/self/mounts"}
}

func (t *LinuxTool) Binaries() []string {
	return []string{"qemu-img", "umount", "mkfs.vfat", "eject", "lsblk"}
}

func (t *LinuxTool) OutputPath(destPrefix string) string {
	return destPrefix + ".img"
}

func (t *LinuxTool) PartialExtensions() []string {
	return []string{".img", ".img.part"}
}

func (t *LinuxTool) DevicePath(device string) string {
	return ensureDevPrefix(device)
}

func (t *LinuxTool) Convert(ctx context.Context, sourcePath, destPrefix string) error {
	dest := t.OutputPath(destPrefix)
	slog.Info("convert_image", "source", sourcePath, "dest", dest)

	// qemu-img probes the input format (raw, qcow2, vmdk, vhd, dmg) on its own.
	// -S 0 writes zero runs too, so allocated blocks track real progress.
	spec := ExecSpec{Bin: "qemu-img", Args: []string{"convert", "-S", "0", "-O", "raw", sourcePath, dest}}
	if err := toolError("convert", spec, t.runner.Run(ctx, spec)); err != nil {
		slog.Error("convert_failed", "source", sourcePath, "error", err)
		return err
	}

	slog.Info("convert_complete", "dest", dest)
	return nil
}

// ArtifactSize counts allocated blocks: qemu-img truncates its output to the
// full image size before copying anything.
func (t *LinuxTool) ArtifactSize(path string) (int64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return allocatedBytes(int64(st.Size), int64(st.Blocks)), nil
}

func (t *LinuxTool) mountpoints(device string) ([]string, error) {
	f, err := os.Open(t.mountsPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read mount table")
	}
	defer f.Close()
	return mountpointsOf(f, device)
}

func (t *LinuxTool) Mounted(ctx context.Context, device string) (bool, error) {
	targets, err := t.mountpoints(device)
	if err != nil {
		return false, err
	}
	return len(targets) > 0, nil
}

func (t *LinuxTool) Unmount(ctx context.Context, device string) error {
	device = ensureDevPrefix(device)
	targets, err := t.mountpoints(device)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		slog.Info("unmount_skipped", "device", device, "reason", "not_mounted")
		return nil
	}

	slog.Info("unmount_device", "device", device, "mountpoints", targets)
	spec := ExecSpec{Bin: "umount", Args: targets}
	res := t.runner.Run(ctx, spec)
	if err := toolError("unmount", spec, res); err != nil {
		if notMounted(res.StderrTail) && !res.Interrupted && !res.TimedOut {
			slog.Info("unmount_skipped", "device", device, "reason", "already_unmounted")
			return nil
		}
		slog.Error("unmount_failed", "device", device, "error", err)
		return err
	}

	slog.Info("unmount_complete", "device", device)
	return nil
}

func (t *LinuxTool) Erase(ctx context.Context, device, label string) error {
	device = ensureDevPrefix(device)
	slog.Info("erase_device", "device", device, "label", label, "filesystem", "vfat")

	// -I formats the whole disk without a partition table.
	spec := ExecSpec{Bin: "mkfs.vfat", Args: []string{"-I", "-F", "32", "-n", label, device}}
	if err := toolError("erase", spec, t.runner.Run(ctx, spec)); err != nil {
		slog.Error("erase_failed", "device", device, "error", err)
		return err
	}

	slog.Info("erase_complete", "device", device)
	return nil
}

func (t *LinuxTool) Eject(ctx context.Context, device string) error {
	device = ensureDevPrefix(device)
	slog.Info("eject_device", "device", device)

	spec := ExecSpec{Bin: "eject", Args: []string{device}}
	if err := toolError("eject", spec, t.runner.Run(ctx, spec)); err != nil {
		slog.Warn("eject_failed", "device", device, "error", err)
		return err
	}

	slog.Info("eject_complete", "device", device)
	return nil
}

func (t *LinuxTool) Describe(ctx context.Context, device string) (*DeviceInfo, error) {
	device = ensureDevPrefix(device)
	spec := ExecSpec{Bin: "lsblk", Args: []string{"-b", "-dn", "-o", "SIZE,MODEL", device}}
	res := t.runner.Run(ctx, spec)
	if err := toolError("describe", spec, res); err != nil {
		return nil, err
	}

	description, size, ok := parseLsblk(res.StdoutTail)
	if !ok {
		return nil, fmt.Errorf("describe: cannot parse lsblk output %q for %s", res.StdoutTail, device)
	}
	mounted, err := t.Mounted(ctx, device)
	if err != nil {
		return nil, err
	}
	if description == "" {
		description = device
	}

	return &DeviceInfo{Device: device, Description: description, Size: size, Mounted: mounted}, nil
}

func (t *LinuxTool) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	// MODEL goes last because it may contain blanks.
	spec := ExecSpec{Bin: "lsblk", Args: []string{"-b", "-dn", "-o", "NAME,SIZE,RM,MODEL"}}
	res := t.runner.Run(ctx, spec)
	if err := toolError("list", spec, res); err != nil {
		return nil, err
	}

	devices := parseLsblkDevices(res.StdoutTail)
	for i := range devices {
		targets, err := t.mountpoints(devices[i].Device)
		if err != nil {
			return nil, err
		}
		devices[i].Mounted = len(targets) > 0
	}

	slog.Debug("devices_listed", "count", len(devices))
	return devices, nil
}

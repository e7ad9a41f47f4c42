//go:build darwin

package diskutil

import (
	"context"
	"log/slog"
	"os"
)

// DarwinTool implements Tool with hdiutil and diskutil.
type DarwinTool struct {
	runner Runner
}

// NewTool creates the macOS disk tool.
func NewTool(runner Runner) Tool {
	slog.Info("diskutil_init", "platform", "darwin")
	return &DarwinTool{runner: runner}
}

func (t *DarwinTool) Binaries() []string {
	return []string{"hdiutil", "diskutil", "mount"}
}

// hdiutil always appends .dmg to the -o argument.
func (t *DarwinTool) OutputPath(destPrefix string) string {
	return destPrefix + ".dmg"
}

func (t *DarwinTool) PartialExtensions() []string {
	return []string{".dmg", ".img", ".img.dmg"}
}

// hdiutil writes the UDRW image sequentially, so the file size is progress.
func (t *DarwinTool) ArtifactSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (t *DarwinTool) DevicePath(device string) string {
	return rawDevicePath(device)
}

func (t *DarwinTool) Convert(ctx context.Context, sourcePath, destPrefix string) error {
	slog.Info("convert_image", "source", sourcePath, "dest", t.OutputPath(destPrefix))

	spec := ExecSpec{Bin: "hdiutil", Args: []string{"convert", "-format", "UDRW", "-o", destPrefix, sourcePath}}
	if err := toolError("convert", spec, t.runner.Run(ctx, spec)); err != nil {
		slog.Error("convert_failed", "source", sourcePath, "error", err)
		return err
	}

	slog.Info("convert_complete", "dest", t.OutputPath(destPrefix))
	return nil
}

func (t *DarwinTool) Mounted(ctx context.Context, device string) (bool, error) {
	spec := ExecSpec{Bin: "mount"}
	res := t.runner.Run(ctx, spec)
	if err := toolError("mounted", spec, res); err != nil {
		return false, err
	}
	return mountedFromMountOutput(res.StdoutTail, device), nil
}

func (t *DarwinTool) Unmount(ctx context.Context, device string) error {
	device = ensureDevPrefix(device)
	slog.Info("unmount_device", "device", device)

	spec := ExecSpec{Bin: "diskutil", Args: []string{"unmountDisk", device}}
	res := t.runner.Run(ctx, spec)
	if err := toolError("unmount", spec, res); err != nil {
		if notMounted(res.StderrTail+res.StdoutTail) && !res.Interrupted && !res.TimedOut {
			slog.Info("unmount_skipped", "device", device, "reason", "already_unmounted")
			return nil
		}
		slog.Error("unmount_failed", "device", device, "error", err)
		return err
	}

	slog.Info("unmount_complete", "device", device)
	return nil
}

func (t *DarwinTool) Erase(ctx context.Context, device, label string) error {
	device = ensureDevPrefix(device)
	slog.Info("erase_device", "device", device, "label", label, "filesystem", "FAT32")

	spec := ExecSpec{Bin: "diskutil", Args: []string{"eraseDisk", "FAT32", label, "MBRFormat", device}}
	if err := toolError("erase", spec, t.runner.Run(ctx, spec)); err != nil {
		slog.Error("erase_failed", "device", device, "error", err)
		return err
	}

	slog.Info("erase_complete", "device", device)
	return nil
}

func (t *DarwinTool) Eject(ctx context.Context, device string) error {
	device = ensureDevPrefix(device)
	slog.Info("eject_device", "device", device)

	spec := ExecSpec{Bin: "diskutil", Args: []string{"eject", device}}
	if err := toolError("eject", spec, t.runner.Run(ctx, spec)); err != nil {
		slog.Warn("eject_failed", "device", device, "error", err)
		return err
	}

	slog.Info("eject_complete", "device", device)
	return nil
}

func (t *DarwinTool) Describe(ctx context.Context, device string) (*DeviceInfo, error) {
	device = ensureDevPrefix(device)
	spec := ExecSpec{Bin: "diskutil", Args: []string{"info", device}}
	res := t.runner.Run(ctx, spec)
	if err := toolError("describe", spec, res); err != nil {
		return nil, err
	}

	description, size := parseDiskutilInfo(res.StdoutTail)
	if description == "" {
		description = device
	}
	mounted, err := t.Mounted(ctx, device)
	if err != nil {
		return nil, err
	}

	return &DeviceInfo{Device: device, Description: description, Size: size, Mounted: mounted}, nil
}

func (t *DarwinTool) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	spec := ExecSpec{Bin: "diskutil", Args: []string{"list", "external", "physical"}}
	res := t.runner.Run(ctx, spec)
	if err := toolError("list", spec, res); err != nil {
		return nil, err
	}
	devices := parseDiskutilList(res.StdoutTail)
	if len(devices) == 0 {
		return nil, nil
	}

	mountSpec := ExecSpec{Bin: "mount"}
	mounts := t.runner.Run(ctx, mountSpec)
	if err := toolError("mounted", mountSpec, mounts); err != nil {
		return nil, err
	}
	for i := range devices {
		devices[i].Mounted = mountedFromMountOutput(mounts.StdoutTail, devices[i].Device)
	}

	slog.Debug("devices_listed", "count", len(devices))
	return devices, nil
}

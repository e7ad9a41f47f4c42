//go:build !linux && !darwin

package diskutil

import (
	"context"
	"fmt"
	"os"
	"runtime"
)

// StubTool is a no-op disk tool for platforms without supported utilities.
type StubTool struct{}

// NewTool creates a stub tool on unsupported systems
func NewTool(runner Runner) Tool {
	return &StubTool{}
}

func (t *StubTool) Binaries() []string { return nil }

func (t *StubTool) OutputPath(destPrefix string) string { return destPrefix + ".img" }

func (t *StubTool) PartialExtensions() []string { return []string{".img"} }

func (t *StubTool) DevicePath(device string) string { return device }

func (t *StubTool) ArtifactSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (t *StubTool) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	return nil, fmt.Errorf("device listing not supported on %s", runtime.GOOS)
}

func (t *StubTool) Convert(ctx context.Context, sourcePath, destPrefix string) error {
	return fmt.Errorf("image conversion not supported on %s", runtime.GOOS)
}

func (t *StubTool) Mounted(ctx context.Context, device string) (bool, error) {
	return false, fmt.Errorf("mount inspection not supported on %s", runtime.GOOS)
}

func (t *StubTool) Unmount(ctx context.Context, device string) error {
	return fmt.Errorf("unmount not supported on %s", runtime.GOOS)
}

func (t *StubTool) Erase(ctx context.Context, device, label string) error {
	return fmt.Errorf("erase not supported on %s", runtime.GOOS)
}

func (t *StubTool) Eject(ctx context.Context, device string) error {
	return fmt.Errorf("eject not supported on %s", runtime.GOOS)
}

func (t *StubTool) Describe(ctx context.Context, device string) (*DeviceInfo, error) {
	return nil, fmt.Errorf("device inspection not supported on %s", runtime.GOOS)
}

// Package diskutiltest provides an in-memory diskutil.Tool for tests.
package diskutiltest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/isoflash/isoflash/pkg/diskutil"
)

// Tool records every call. Convert copies the source to OutputPath unless
// ConvertFunc is set.
type Tool struct {
	mu    sync.Mutex
	calls []string

	IsMounted   bool
	StayMounted bool
	Size        int64

	Devices     []diskutil.DeviceInfo

	ConvertFunc func(ctx context.Context, sourcePath, destPrefix string) error
	// ArtifactSizeFunc replaces the plain file size as conversion progress.
	ArtifactSizeFunc func(path string) (int64, error)
	EraseFunc   func(ctx context.Context, device, label string) error
	UnmountErr  error
	MountedErr  error
	EjectErr    error
	DescribeErr error
	ListErr     error
}

var _ diskutil.Tool = (*Tool)(nil)

func (t *Tool) record(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded operations, e.g. "unmount /dev/sdb".
func (t *Tool) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

// Called reports whether an operation with the given name was recorded.
func (t *Tool) Called(op string) bool {
	for _, c := range t.Calls() {
		if c == op || strings.HasPrefix(c, op+" ") {
			return true
		}
	}
	return false
}

func (t *Tool) Binaries() []string { return []string{"true"} }

func (t *Tool) OutputPath(destPrefix string) string { return destPrefix + ".img" }

func (t *Tool) PartialExtensions() []string { return []string{".img", ".img.part"} }

func (t *Tool) DevicePath(device string) string { return device }

func (t *Tool) ArtifactSize(path string) (int64, error) {
	if t.ArtifactSizeFunc != nil {
		return t.ArtifactSizeFunc(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (t *Tool) ListDevices(ctx context.Context) ([]diskutil.DeviceInfo, error) {
	t.record("list")
	if t.ListErr != nil {
		return nil, t.ListErr
	}
	return append([]diskutil.DeviceInfo(nil), t.Devices...), nil
}

func (t *Tool) Convert(ctx context.Context, sourcePath, destPrefix string) error {
	t.record("convert %s", sourcePath)
	if t.ConvertFunc != nil {
		return t.ConvertFunc(ctx, sourcePath, destPrefix)
	}
	return copyFile(sourcePath, t.OutputPath(destPrefix))
}

func (t *Tool) Unmount(ctx context.Context, device string) error {
	t.record("unmount %s", device)
	if t.UnmountErr != nil {
		return t.UnmountErr
	}
	t.mu.Lock()
	if !t.StayMounted {
		t.IsMounted = false
	}
	t.mu.Unlock()
	return nil
}

func (t *Tool) Mounted(ctx context.Context, device string) (bool, error) {
	t.record("mounted %s", device)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.IsMounted, t.MountedErr
}

func (t *Tool) Erase(ctx context.Context, device, label string) error {
	t.record("erase %s %s", device, label)
	if t.EraseFunc != nil {
		return t.EraseFunc(ctx, device, label)
	}
	return nil
}

func (t *Tool) Eject(ctx context.Context, device string) error {
	t.record("eject %s", device)
	return t.EjectErr
}

func (t *Tool) Describe(ctx context.Context, device string) (*diskutil.DeviceInfo, error) {
	t.record("describe %s", device)
	if t.DescribeErr != nil {
		return nil, t.DescribeErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return &diskutil.DeviceInfo{Device: device, Description: "Test Disk", Size: t.Size, Mounted: t.IsMounted}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

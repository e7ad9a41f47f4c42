package diskutil

import "context"

// DeviceInfo describes a target disk as reported by the OS tools.
type DeviceInfo struct {
	Device      string
	Description string
	Size        int64
	Mounted     bool
	Removable   bool
}

// Tool wraps the OS-specific image conversion and disk management utilities.
// Every operation invokes at most one external process, blocks until it exits
// and classifies the outcome by exit status. Failures are *ToolError values.
// Nothing at this layer retries.
type Tool interface {
	// Convert converts sourcePath into a raw, writable image. The artifact
	// lands at OutputPath(destPrefix).
	Convert(ctx context.Context, sourcePath, destPrefix string) error

	// ArtifactSize reports how many bytes of a conversion artifact have
	// actually been written. It can be smaller than the file size when the
	// converter sizes its output up front.
	ArtifactSize(path string) (int64, error)

	// OutputPath returns the artifact path Convert produces for destPrefix.
	OutputPath(destPrefix string) string

	// PartialExtensions lists the extensions of outputs a conversion may leave
	// behind next to destPrefix.
	PartialExtensions() []string

	// Unmount unmounts every volume of device. Unmounting an already
	// unmounted device succeeds.
	Unmount(ctx context.Context, device string) error

	// Mounted reports whether any volume of device is mounted right now.
	Mounted(ctx context.Context, device string) (bool, error)

	// Erase reformats device with a single volume named label.
	Erase(ctx context.Context, device, label string) error

	// Eject releases device so it can be removed safely.
	Eject(ctx context.Context, device string) error

	// Describe returns size and a human description of device.
	Describe(ctx context.Context, device string) (*DeviceInfo, error)

	// ListDevices returns the whole disks attached to the machine.
	ListDevices(ctx context.Context) ([]DeviceInfo, error)

	// DevicePath returns the node the writer should open for device.
	DevicePath(device string) string

	// Binaries lists the external commands this tool depends on.
	Binaries() []string
}

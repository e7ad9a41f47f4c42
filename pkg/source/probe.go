package source

import (
	"log/slog"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/filesystem"
)

// Probe reads the filesystem type and volume label of an unpartitioned
// image. Failures are not errors; most compressed formats are opaque.
func Probe(path string) (fsType, label string) {
	disk, err := diskfs.Open(path, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		slog.Debug("image_probe_skipped", "path", path, "error", err)
		return "", ""
	}
	defer disk.Close()

	fs, err := disk.GetFilesystem(0)
	if err != nil {
		slog.Debug("image_probe_no_filesystem", "path", path, "error", err)
		return "", ""
	}

	return typeName(fs.Type()), strings.TrimSpace(fs.Label())
}

func typeName(t filesystem.Type) string {
	switch t {
	case filesystem.TypeFat32:
		return "fat32"
	case filesystem.TypeISO9660:
		return "iso9660"
	case filesystem.TypeSquashfs:
		return "squashfs"
	case filesystem.TypeExt4:
		return "ext4"
	default:
		return "unknown"
	}
}

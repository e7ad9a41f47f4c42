package safety

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

const DefaultMaxImageSize = 64 << 30

// Validator rejects targets and images that must never be flashed.
type Validator struct {
	maxImageSize int64
	stat         func(string) (os.FileInfo, error)
}

type Option func(*Validator)

// WithStat replaces the device existence check; nil disables it.
func WithStat(stat func(string) (os.FileInfo, error)) Option {
	return func(v *Validator) { v.stat = stat }
}

// NewValidator creates a validator
func NewValidator(maxImageSize int64, opts ...Option) *Validator {
	if maxImageSize <= 0 {
		maxImageSize = DefaultMaxImageSize
	}
	slog.Info("safety_validator_init", "max_image_size", humanize.IBytes(uint64(maxImageSize)))

	v := &Validator{maxImageSize: maxImageSize, stat: os.Stat}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateDevice checks that device names an existing whole disk.
func (v *Validator) ValidateDevice(device string) error {
	device = strings.TrimSpace(device)
	if device == "" {
		return fmt.Errorf("safety: no target device given")
	}
	dev := device
	if !strings.HasPrefix(dev, "/") {
		dev = "/dev/" + dev
	}

	if LooksLikePartition(dev) {
		slog.Error("safety_device_rejected", "device", dev, "reason", "partition")
		return fmt.Errorf("safety: %s looks like a partition; use the whole disk (e.g. sdb, disk4)", dev)
	}

	if v.stat != nil {
		if _, err := v.stat(dev); err != nil {
			slog.Error("safety_device_rejected", "device", dev, "reason", "missing", "error", err)
			return fmt.Errorf("safety: device %s does not exist or is not accessible: %w", dev, err)
		}
	}
	return nil
}

// ValidateImage checks the image size against the configured ceiling and,
// when known, the device capacity.
func (v *Validator) ValidateImage(imageSize, deviceSize int64) error {
	if imageSize <= 0 {
		return fmt.Errorf("safety: image is empty")
	}
	if imageSize > v.maxImageSize {
		slog.Error("safety_image_too_large", "image_size", imageSize, "max_image_size", v.maxImageSize)
		return fmt.Errorf("safety: image size %s exceeds max %s",
			humanize.IBytes(uint64(imageSize)), humanize.IBytes(uint64(v.maxImageSize)))
	}
	if deviceSize > 0 && imageSize > deviceSize {
		slog.Error("safety_device_too_small", "image_size", imageSize, "device_size", deviceSize)
		return fmt.Errorf("safety: image (%s) does not fit on device (%s)",
			humanize.IBytes(uint64(imageSize)), humanize.IBytes(uint64(deviceSize)))
	}
	return nil
}

// LooksLikePartition reports whether dev names a partition rather than a
// disk: sdb1, mmcblk0p1, nvme0n1p2, loop0p1, disk4s1.
func LooksLikePartition(dev string) bool {
	name := strings.TrimPrefix(dev, "/dev/")
	name = strings.TrimPrefix(name, "r")
	if strings.HasPrefix(name, "disk") {
		return strings.Contains(name[len("disk"):], "s")
	}
	name = strings.TrimPrefix(dev, "/dev/")

	for _, prefix := range []string{"mmcblk", "nvme", "loop"} {
		if strings.HasPrefix(name, prefix) {
			idx := strings.LastIndex(name, "p")
			if idx <= len(prefix) || idx == len(name)-1 {
				return false
			}
			_, err := strconv.Atoi(name[idx+1:])
			return err == nil
		}
	}

	if name == "" {
		return false
	}
	last := name[len(name)-1]
	return last >= '0' && last <= '9'
}

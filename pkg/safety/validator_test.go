package safety

import (
	"errors"
	"os"
	"testing"
)

func TestLooksLikePartition(t *testing.T) {
	tests := []struct {
		dev  string
		want bool
	}{
		{"/dev/sdb", false},
		{"/dev/sdb1", true},
		{"sdc", false},
		{"/dev/mmcblk0", false},
		{"/dev/mmcblk0p1", true},
		{"/dev/nvme0n1", false},
		{"/dev/nvme0n1p2", true},
		{"/dev/loop0", false},
		{"/dev/loop0p1", true},
		{"/dev/disk4", false},
		{"/dev/disk4s1", true},
		{"/dev/rdisk4", false},
		{"/dev/rdisk4s2", true},
	}

	for _, tt := range tests {
		if got := LooksLikePartition(tt.dev); got != tt.want {
			t.Errorf("LooksLikePartition(%q) = %v, want %v", tt.dev, got, tt.want)
		}
	}
}

func TestValidateDevice(t *testing.T) {
	exists := func(string) (os.FileInfo, error) { return nil, nil }
	missing := func(string) (os.FileInfo, error) { return nil, os.ErrNotExist }

	tests := []struct {
		name      string
		device    string
		stat      func(string) (os.FileInfo, error)
		shouldErr bool
	}{
		{"whole disk", "/dev/sdb", exists, false},
		{"bare name", "sdb", exists, false},
		{"partition", "/dev/sdb1", exists, true},
		{"empty", "  ", exists, true},
		{"missing node", "/dev/sdz", missing, true},
		{"no stat", "/dev/sdz", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(0, WithStat(tt.stat))
			err := v.ValidateDevice(tt.device)
			if tt.shouldErr && err == nil {
				t.Errorf("expected error for device %q", tt.device)
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("unexpected error for device %q: %v", tt.device, err)
			}
		})
	}
}

func TestValidateImage(t *testing.T) {
	v := NewValidator(1000, WithStat(nil))

	tests := []struct {
		name       string
		imageSize  int64
		deviceSize int64
		shouldErr  bool
	}{
		{"fits", 500, 800, false},
		{"device size unknown", 500, 0, false},
		{"exactly device size", 800, 800, false},
		{"larger than device", 900, 800, true},
		{"over max", 1001, 0, true},
		{"empty", 0, 800, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateImage(tt.imageSize, tt.deviceSize)
			if tt.shouldErr && err == nil {
				t.Errorf("expected error for image %d on device %d", tt.imageSize, tt.deviceSize)
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckPrerequisites(t *testing.T) {
	origEuid, origLook := geteuid, lookPath
	t.Cleanup(func() { geteuid, lookPath = origEuid, origLook })

	lookPath = func(bin string) (string, error) {
		if bin == "qemu-img" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + bin, nil
	}

	geteuid = func() int { return 1000 }
	if err := CheckPrerequisites([]string{"umount"}); err == nil {
		t.Error("expected error when not root")
	}

	geteuid = func() int { return 0 }
	if err := CheckPrerequisites([]string{"umount", "eject"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckPrerequisites([]string{"umount", "qemu-img"}); err == nil {
		t.Error("expected error for missing qemu-img")
	}
}

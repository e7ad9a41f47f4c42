package diskutil

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// ensureDevPrefix turns "sdb" or "disk4" into "/dev/sdb" or "/dev/disk4".
func ensureDevPrefix(dev string) string {
	dev = strings.TrimSpace(dev)
	if dev == "" || strings.HasPrefix(dev, "/") {
		return dev
	}
	return "/dev/" + dev
}

// isVolumeOf reports whether node is disk itself or one of its partitions.
// It understands sdb/sdb1, mmcblk0/mmcblk0p1, nvme0n1/nvme0n1p2 and the
// macOS disk4/disk4s1 naming.
func isVolumeOf(disk, node string) bool {
	disk = ensureDevPrefix(disk)
	node = ensureDevPrefix(node)
	if node == disk {
		return true
	}
	if !strings.HasPrefix(node, disk) {
		return false
	}
	rest := node[len(disk):]
	name := strings.TrimPrefix(disk, "/dev/")
	switch {
	case strings.HasPrefix(name, "disk") || strings.HasPrefix(name, "rdisk"):
		if !strings.HasPrefix(rest, "s") {
			return false
		}
		rest = rest[1:]
	case endsWithDigit(name):
		if !strings.HasPrefix(rest, "p") {
			return false
		}
		rest = rest[1:]
	}
	if rest == "" {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

func endsWithDigit(s string) bool {
	return s != "" && s[len(s)-1] >= '0' && s[len(s)-1] <= '9'
}

// mountpointsOf scans /proc/mounts formatted input and returns the mount
// targets of disk and its partitions.
func mountpointsOf(r io.Reader, disk string) ([]string, error) {
	var targets []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if isVolumeOf(disk, fields[0]) {
			targets = append(targets, unescapeMountField(fields[1]))
		}
	}
	return targets, scanner.Err()
}

// /proc/mounts escapes blanks in paths as octal sequences.
var mountEscapes = strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)

func unescapeMountField(s string) string {
	return mountEscapes.Replace(s)
}

// mountedFromMountOutput parses BSD mount(8) output ("/dev/disk4s1 on /Volumes/X (msdos, ...)").
func mountedFromMountOutput(output, disk string) bool {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[1] != "on" {
			continue
		}
		if isVolumeOf(disk, fields[0]) {
			return true
		}
	}
	return false
}

var diskSizePattern = regexp.MustCompile(`\((\d+) Bytes\)`)

// parseDiskutilInfo extracts the media name and byte size from `diskutil info`.
func parseDiskutilInfo(output string) (description string, size int64) {
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Device / Media Name", "Media Name":
			if description == "" {
				description = value
			}
		case "Disk Size", "Total Size":
			if m := diskSizePattern.FindStringSubmatch(value); m != nil && size == 0 {
				size, _ = strconv.ParseInt(m[1], 10, 64)
			}
		}
	}
	return description, size
}

// parseLsblk parses `lsblk -b -dn -o SIZE,MODEL` output.
func parseLsblk(output string) (description string, size int64, ok bool) {
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) == 0 {
		return "", 0, false
	}
	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return strings.Join(fields[1:], " "), size, true
}

// rawDevicePath maps /dev/diskN to the unbuffered /dev/rdiskN node on macOS.
func rawDevicePath(device string) string {
	device = ensureDevPrefix(device)
	name := strings.TrimPrefix(device, "/dev/")
	if strings.HasPrefix(name, "disk") {
		return "/dev/r" + name
	}
	return device
}

// notMounted recognises the "nothing to unmount" answers of umount/diskutil.
func notMounted(output string) bool {
	output = strings.ToLower(output)
	return strings.Contains(output, "not mounted") || strings.Contains(output, "was already unmounted")
}

// allocatedBytes converts a 512-byte block count into bytes, capped at the
// apparent file size.
func allocatedBytes(size, blocks int64) int64 {
	allocated := blocks * 512
	if allocated > size {
		return size
	}
	return allocated
}

// virtualDisks are block devices that never back a USB drive.
var virtualDisks = []string{"loop", "ram", "zram", "sr", "dm-", "md"}

// parseLsblkDevices parses `lsblk -b -dn -o NAME,SIZE,RM,MODEL` output.
func parseLsblkDevices(output string) []DeviceInfo {
	var devices []DeviceInfo
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || isVirtualDisk(fields[0]) {
			continue
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		device := ensureDevPrefix(fields[0])
		description := strings.Join(fields[3:], " ")
		if description == "" {
			description = device
		}
		devices = append(devices, DeviceInfo{
			Device:      device,
			Description: description,
			Size:        size,
			Removable:   fields[2] == "1",
		})
	}
	return devices
}

func isVirtualDisk(name string) bool {
	for _, prefix := range virtualDisks {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

var diskutilHeader = regexp.MustCompile(`^(/dev/disk\d+)\s+\(([^)]*)\):`)

// parseDiskutilList parses `diskutil list external physical`. The size of
// partition 0 ("*15.5 GB") is the size of the whole disk.
func parseDiskutilList(output string) []DeviceInfo {
	var devices []DeviceInfo
	for _, line := range strings.Split(output, "\n") {
		if m := diskutilHeader.FindStringSubmatch(line); m != nil {
			devices = append(devices, DeviceInfo{
				Device:      m[1],
				Description: m[1],
				Removable:   strings.Contains(m[2], "external"),
			})
			continue
		}
		fields := strings.Fields(line)
		if len(devices) == 0 || len(fields) < 4 || fields[0] != "0:" {
			continue
		}
		current := &devices[len(devices)-1]
		for i, f := range fields {
			if !strings.HasPrefix(f, "*") || i+1 >= len(fields) {
				continue
			}
			if size, err := humanize.ParseBytes(strings.TrimPrefix(f, "*") + " " + fields[i+1]); err == nil {
				current.Size = int64(size)
			}
			if i > 1 {
				current.Description = strings.Join(fields[1:i], " ")
			}
			break
		}
	}
	return devices
}

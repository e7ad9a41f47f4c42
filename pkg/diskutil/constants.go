package diskutil

import "time"

// Default values for the disk tools.
const (
	// DefaultLabel is the volume label used when erasing a target disk.
	DefaultLabel = "ISOFLASH"
	// tailSize bounds the captured stdout/stderr of every tool invocation (64 KiB)
	tailSize = 64 * 1024
	// waitDelay is how long a killed tool may keep its output pipes open
	waitDelay = 5 * time.Second
)

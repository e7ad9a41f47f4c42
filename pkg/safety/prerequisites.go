package safety

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var (
	geteuid  = os.Geteuid
	lookPath = exec.LookPath
)

// CheckPrerequisites ensures the process can manipulate disks and that every
// external tool in binaries is on PATH.
func CheckPrerequisites(binaries []string) error {
	if geteuid() != 0 {
		return fmt.Errorf("isoflash must run as root (use sudo) because it erases and writes block devices")
	}

	var missing []string
	for _, bin := range binaries {
		if _, err := lookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required commands: %s", strings.Join(missing, ", "))
	}
	return nil
}

//go:build linux

package proc

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ReadUptime parses <procRoot>/uptime and returns the first field: time
// since boot on the boot clock, which keeps counting through suspend.
// Comparing it with the monotonic clock, which stops during suspend,
// reveals a sleep cycle after the fact.
func ReadUptime(procRoot string) (time.Duration, error) {
	if procRoot == "" {
		procRoot = "/proc"
	}
	b, err := os.ReadFile(filepath.Join(procRoot, "uptime"))
	if err != nil {
		return 0, err
	}
	fs := strings.Fields(string(b))
	if len(fs) < 1 {
		return 0, ErrNoUptime
	}
	sec, err := strconv.ParseFloat(fs[0], 64)
	if err != nil || sec < 0 {
		return 0, ErrNoUptime
	}
	return time.Duration(sec * float64(time.Second)), nil
}

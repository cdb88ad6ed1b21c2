//go:build linux

package proc

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ReadLidClosed reports whether the first ACPI lid button is closed.
//
// The file looks like "state:      open". Machines without a lid switch
// have no /proc/acpi/button/lid/* entry and get ErrNoLid.
func ReadLidClosed(procRoot string) (bool, error) {
	if procRoot == "" {
		procRoot = "/proc"
	}
	states, _ := filepath.Glob(filepath.Join(procRoot, "acpi", "button", "lid", "*", "state"))
	if len(states) == 0 {
		return false, ErrNoLid
	}

	f, err := os.Open(states[0])
	if err != nil {
		return false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "state:") {
			continue
		}
		switch strings.TrimSpace(strings.TrimPrefix(line, "state:")) {
		case "closed":
			return true, nil
		case "open":
			return false, nil
		}
	}
	if err := sc.Err(); err != nil {
		return false, err
	}
	return false, ErrNoLid
}

//go:build linux

package mount

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

type State int

const (
	Missing   State = iota // no sysfs mount at the requested point
	ReadOnly               // mounted with "ro"
	ReadWrite              // mounted writable
)

func (s State) String() string {
	switch s {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	default:
		return "missing"
	}
}

// Detect reports how sysfs is mounted at mountPoint, reading
// <procRoot>/self/mountinfo.
//
// The line format has a " - fstype " separator; the mount point is field
// 5 and the per-mount options are field 6 of the part before it.
func Detect(procRoot, mountPoint string) (State, string, error) {
	if procRoot == "" {
		procRoot = "/proc"
	}
	f, err := os.Open(filepath.Join(procRoot, "self", "mountinfo"))
	if err != nil {
		return Missing, "", fmt.Errorf("open mountinfo: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	state := Missing
	detail := "no sysfs mount on " + mountPoint
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		sep := " - "
		i := strings.LastIndex(line, sep)
		if i < 0 {
			continue
		}
		tail := strings.Fields(line[i+len(sep):])
		if len(tail) < 1 || tail[0] != "sysfs" {
			continue
		}

		// Ref: man 5 proc
		pre := strings.Fields(line[:i])
		if len(pre) < 6 || pre[4] != mountPoint {
			continue
		}
		opts := strings.Split(pre[5], ",")
		// a later line for the same point overmounts an earlier one
		if slices.Contains(opts, "ro") {
			state = ReadOnly
		} else {
			state = ReadWrite
		}
		detail = fmt.Sprintf("sysfs on %s (%s)", mountPoint, pre[5])
	}
	if err := sc.Err(); err != nil {
		return Missing, "", fmt.Errorf("scan mountinfo: %w", err)
	}
	return state, detail, nil
}

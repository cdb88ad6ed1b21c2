//go:build linux

package platform

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ja7ad/policyd/pkg/hal"
)

// pollInterval bounds how long a watch goes without checking ctx.
const pollInterval = 100 // ms

// watchAttr waits for sysfs_notify on path and calls fn for each change.
// Sysfs attributes signal changes with POLLPRI|POLLERR; the file must be
// re-read from offset 0 to re-arm the notification. Regular files never
// raise POLLPRI, so on a non-sysfs tree the watch idles until ctx ends.
func watchAttr(ctx context.Context, path string, fn func()) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return hal.Unsupportedf("watch %s: %v", path, err)
	}
	defer unix.Close(fd)

	buf := make([]byte, 128)
	if _, err := unix.Pread(fd, buf, 0); err != nil {
		return hal.Unsupportedf("watch %s: arm: %v", path, err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLPRI | unix.POLLERR}}
		n, err := unix.Poll(fds, pollInterval)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return fmt.Errorf("watch %s: poll: %w", path, err)
		}
		if n == 0 || fds[0].Revents&(unix.POLLPRI|unix.POLLERR) == 0 {
			continue
		}

		if _, err := unix.Pread(fd, buf, 0); err != nil {
			return hal.IOError("watch "+path, err)
		}
		fn()
	}
}

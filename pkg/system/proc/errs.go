package proc

import "errors"

var (
	// ErrNoUptime indicates that /proc/uptime was empty or malformed.
	ErrNoUptime = errors.New("proc: malformed or empty uptime")

	// ErrNoLid indicates that no ACPI lid button state could be read.
	ErrNoLid = errors.New("proc: no lid state")
)

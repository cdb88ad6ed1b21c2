// Package proc reads the few procfs files the daemon watches.
//
//   - ReadUptime: first field of /proc/uptime, time since boot on the
//     boot clock. It keeps counting across suspend, so a watcher that
//     compares successive readings with the monotonic clock can tell
//     the machine slept in between.
//   - ReadLidClosed: state of the first ACPI lid button under
//     /proc/acpi/button/lid. Desktops have none and get ErrNoLid.
//
// Both take the procfs root so tests can point them at a temporary
// tree. Errors (errs.go):
//
//	ErrNoUptime : /proc/uptime empty or not a non-negative number
//	ErrNoLid    : no lid button, or its state file has no state line
package proc

package hal

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported means the machine lacks the capability. It is an
	// expected condition, not a fault.
	ErrUnsupported = errors.New("hal: unsupported")

	// ErrInvalidArgument means a value lies outside the control's domain.
	ErrInvalidArgument = errors.New("hal: invalid argument")

	// ErrHardwareIO means a present capability failed to read or write.
	ErrHardwareIO = errors.New("hal: hardware io")
)

// IOError wraps an OS-level failure of op as ErrHardwareIO.
func IOError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrHardwareIO, op, err)
}

// Unsupportedf returns an ErrUnsupported with context.
func Unsupportedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, fmt.Sprintf(format, args...))
}

// Invalidf returns an ErrInvalidArgument with context.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

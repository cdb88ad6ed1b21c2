package rpc

import (
	"errors"
	"fmt"

	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/policy"
)

// Wire error codes.
const (
	CodeUnsupported     = "unsupported"
	CodeInvalidArgument = "invalid_argument"
	CodeHardwareIO      = "hardware_io"
	CodeConfigIO        = "config_io"
	CodeParse           = "parse"
	CodeFailed          = "failed"
)

var codes = []struct {
	code string
	err  error
}{
	{CodeUnsupported, hal.ErrUnsupported},
	{CodeInvalidArgument, hal.ErrInvalidArgument},
	{CodeHardwareIO, hal.ErrHardwareIO},
	{CodeConfigIO, policy.ErrConfigIO},
	{CodeParse, policy.ErrParse},
}

// codeOf classifies err for the wire.
func codeOf(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeFailed
}

// Error is a failure reported by the daemon. It unwraps to the matching
// hal or policy sentinel, so errors.Is works across the socket.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error {
	for _, c := range codes {
		if c.code == e.Code {
			return c.err
		}
	}
	return nil
}

var errBadRequest = fmt.Errorf("%w: bad request", hal.ErrInvalidArgument)

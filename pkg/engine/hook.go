package engine

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// CommandRunner starts the user's power transition commands.
type CommandRunner interface {
	// Start launches cmdline without waiting for it to finish.
	Start(cmdline string) error
}

// ExecRunner splits the command line on whitespace and starts it
// directly, without a shell.
type ExecRunner struct {
	Logger *slog.Logger
}

func (r ExecRunner) Start(cmdline string) error {
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return nil
	}
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s %v failed: %w", args[0], args[1:], err)
	}
	go func() {
		if err := cmd.Wait(); err != nil && r.Logger != nil {
			r.Logger.Info("power command exited", "cmd", args[0], "err", err)
		}
	}()
	return nil
}

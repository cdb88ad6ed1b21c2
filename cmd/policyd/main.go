//go:build linux

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ja7ad/policyd/pkg/version"
)

type globalOpts struct {
	socket    string
	logLevel  string
	logFormat string
	envFile   string
	json      bool
}

// envDefaults maps flags to the environment variables that seed them
// when not given on the command line.
var envDefaults = map[string]string{
	"config":        "POLICYD_CONFIG",
	"socket":        "POLICYD_SOCKET",
	"sysfs":         "POLICYD_SYSFS",
	"procfs":        "POLICYD_PROCFS",
	"log-level":     "POLICYD_LOG_LEVEL",
	"log-format":    "POLICYD_LOG_FORMAT",
	"poll-interval": "POLICYD_POLL_INTERVAL",
}

func main() {
	var g globalOpts

	root := &cobra.Command{
		Use:   "policyd",
		Short: "Laptop hardware policy daemon",
		Long: `policyd keeps a persisted hardware policy (battery charge limit, thermal
throttle policy, CPU energy preference and firmware attribute values) applied
to the machine, and re-applies it when the power source changes, the machine
resumes from suspend or the policy file is edited.

Run without a subcommand to start the daemon. The other subcommands talk to a
running daemon over its Unix socket.

Examples:
  policyd serve --config /etc/policyd/policyd.yaml
  policyd get platform charge_control_end_threshold
  policyd set platform charge_control_end_threshold 80
  policyd set ppt_pl1_spl current_value 45
  policyd call platform next_throttle_thermal_policy
  policyd monitor`,
		Version:       version.Build,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := applyEnv(cmd, g.envFile); err != nil {
				return err
			}
			return setupLogging(g.logLevel, g.logFormat)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.socket, "socket", "/run/policyd.sock", "daemon control socket")
	pf.StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&g.envFile, "env-file", "/etc/default/policyd", "file of POLICYD_* variables to load")
	pf.BoolVar(&g.json, "json", false, "print client output as JSON")

	serveCmd := newServeCmd(&g)
	root.AddCommand(serveCmd, newGetCmd(&g), newSetCmd(&g), newCallCmd(&g), newMonitorCmd(&g), newObjectsCmd(&g), newStatsCmd(&g))
	root.RunE = serveCmd.RunE
	root.Flags().AddFlagSet(serveCmd.Flags())

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// applyEnv loads envFile, if present, without overriding variables
// already set, then fills every flag left at its default from the
// environment.
func applyEnv(cmd *cobra.Command, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("env file %s: %w", envFile, err)
		}
	}
	for flag, env := range envDefaults {
		f := cmd.Flags().Lookup(flag)
		if f == nil || f.Changed {
			continue
		}
		v, ok := os.LookupEnv(env)
		if !ok || v == "" {
			continue
		}
		if err := f.Value.Set(v); err != nil {
			return fmt.Errorf("%s=%q: %w", env, v, err)
		}
	}
	return nil
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "text", "":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("log format %q: want text or json", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

//go:build linux

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ja7ad/policyd/pkg/engine"
	"github.com/ja7ad/policyd/pkg/policy"
	"github.com/ja7ad/policyd/pkg/rpc"
	"github.com/ja7ad/policyd/pkg/system/mount"
	"github.com/ja7ad/policyd/pkg/system/platform"
	"github.com/ja7ad/policyd/pkg/system/proc"
	"github.com/ja7ad/policyd/pkg/version"
	"github.com/ja7ad/policyd/pkg/watch"
)

const shutdownTimeout = 5 * time.Second

type serveOpts struct {
	config string
	sysfs  string
	procfs string
	poll   time.Duration
}

func newServeCmd(g *globalOpts) *cobra.Command {
	var o serveOpts
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the policy daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), g, &o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.config, "config", "/etc/policyd/policyd.yaml", "policy file (.yaml, .json or .jsonc)")
	f.StringVar(&o.sysfs, "sysfs", "/sys", "sysfs mount point")
	f.StringVar(&o.procfs, "procfs", "/proc", "procfs mount point")
	f.DurationVar(&o.poll, "poll-interval", watch.DefaultPollInterval, "mains adapter and lid poll interval")
	return cmd
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

func serve(ctx context.Context, g *globalOpts, o *serveOpts) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	log := slog.Default()
	log.Info("starting", "version", version.Build, "config", o.config, "socket", g.socket)

	state, detail, err := mount.Detect(o.procfs, o.sysfs)
	switch {
	case err != nil:
		log.Warn("cannot inspect sysfs mount", "err", err)
	case state != mount.ReadWrite:
		log.Warn("sysfs not writable, hardware writes will fail", "state", state, "detail", detail)
	}

	file := policy.NewFile(o.config)
	store, err := file.Load()
	if err != nil {
		log.Warn("policy file unusable, starting from defaults", "path", o.config, "err", err)
		store = policy.Default()
	}

	hw := platform.Probe(o.sysfs, log)
	hub := rpc.NewHub()
	eng := engine.New(hw, store, file, engine.Options{
		Logger:   log,
		Notifier: hub,
		Version:  version.Build,
	})
	if err := eng.Reload(ctx); err != nil {
		log.Warn("initial reload", "err", err)
	}

	srv := rpc.NewServer(g.socket, log)
	rpc.NewSurface(eng, hub).Register(srv)

	sources := []watch.Source{
		&watch.ConfigWatcher{File: file, Logger: log},
		&watch.PowerWatcher{Supply: hw.Power, Interval: o.poll, Logger: log},
		&watch.SleepWatcher{
			Uptime: func() (time.Duration, error) { return proc.ReadUptime(o.procfs) },
			Logger: log,
		},
		&watch.LidWatcher{
			Read:     func() (bool, error) { return proc.ReadLidClosed(o.procfs) },
			Interval: o.poll,
			Logger:   log,
		},
	}
	sources = append(sources, watch.DriftSources(hw, eng.Attributes(), log)...)

	events := make(chan engine.Event, 16)
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		// the daemon keeps enforcing policy without its control socket
		if err := srv.Serve(gctx); err != nil {
			log.Error("control socket", "path", g.socket, "err", err)
		}
		return nil
	})
	eg.Go(func() error { return eng.Run(gctx, events) })
	eg.Go(func() error { return watch.Run(gctx, events, sources...) })

	err = eg.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := eng.Shutdown(sctx); serr != nil {
		log.Warn("shutdown", "err", serr)
	}
	log.Info("stopped")
	return err
}

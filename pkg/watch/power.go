package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/ja7ad/policyd/pkg/clock"
	"github.com/ja7ad/policyd/pkg/engine"
	"github.com/ja7ad/policyd/pkg/hal"
)

// PowerWatcher polls the mains adapter and reports transitions.
type PowerWatcher struct {
	Supply   hal.PowerSupply
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

func (p *PowerWatcher) Run(ctx context.Context, out chan<- engine.Event) error {
	log := orLogger(p.Logger)
	if p.Supply == nil {
		log.Info("no mains adapter, power watcher disabled")
		return nil
	}

	last, err := p.Supply.Online()
	known := err == nil

	t := orClock(p.Clock).NewTicker(orDuration(p.Interval, DefaultPollInterval))
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		plugged, err := p.Supply.Online()
		if err != nil {
			log.Debug("read power source", "err", err)
			continue
		}
		if known && plugged == last {
			continue
		}
		last, known = plugged, true
		if !emit(ctx, out, engine.PowerChanged{Plugged: plugged}) {
			return nil
		}
	}
}

package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/ja7ad/policyd/pkg/clock"
	"github.com/ja7ad/policyd/pkg/engine"
)

// LidWatcher polls the lid switch. Machines without one disable it.
type LidWatcher struct {
	Read     func() (closed bool, err error)
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

func (l *LidWatcher) Run(ctx context.Context, out chan<- engine.Event) error {
	log := orLogger(l.Logger)

	last, err := l.Read()
	if err != nil {
		log.Info("lid watcher disabled", "err", err)
		return nil
	}

	t := orClock(l.Clock).NewTicker(orDuration(l.Interval, DefaultPollInterval))
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		closed, err := l.Read()
		if err != nil || closed == last {
			continue
		}
		last = closed
		if !emit(ctx, out, engine.LidChanged{Closed: closed}) {
			return nil
		}
	}
}

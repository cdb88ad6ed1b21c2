// Package watch turns system activity into engine events. Each watcher
// is a Source that blocks until its context ends; a failure to set one
// up disables only that watcher.
package watch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ja7ad/policyd/pkg/clock"
	"github.com/ja7ad/policyd/pkg/engine"
)

const (
	DefaultDebounce      = 50 * time.Millisecond
	DefaultPollInterval  = 2 * time.Second
	DefaultSleepInterval = 5 * time.Second
	DefaultSleepGap      = 3 * time.Second
)

// Source produces events on out until ctx is done.
type Source interface {
	Run(ctx context.Context, out chan<- engine.Event) error
}

// Run starts every source and waits for all of them to return. The first
// error cancels the rest.
func Run(ctx context.Context, out chan<- engine.Event, sources ...Source) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range sources {
		g.Go(func() error { return s.Run(ctx, out) })
	}
	return g.Wait()
}

// emit delivers ev unless ctx ends first.
func emit(ctx context.Context, out chan<- engine.Event, ev engine.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func orClock(c clock.Clock) clock.Clock {
	if c == nil {
		return clock.Real()
	}
	return c
}

func orLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/ja7ad/policyd/pkg/clock"
	"github.com/ja7ad/policyd/pkg/engine"
)

// SleepWatcher detects suspend after the fact. Uptime must follow the
// boot clock, which keeps running while suspended; Clock follows the
// monotonic clock, which does not. When the two drift apart by more than
// Gap between polls the machine slept, and a suspend/resume pair is
// reported.
type SleepWatcher struct {
	Uptime   func() (time.Duration, error)
	Interval time.Duration
	Gap      time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

func (s *SleepWatcher) Run(ctx context.Context, out chan<- engine.Event) error {
	log := orLogger(s.Logger)
	clk := orClock(s.Clock)
	gap := orDuration(s.Gap, DefaultSleepGap)

	up, err := s.Uptime()
	if err != nil {
		log.Info("suspend detection disabled", "err", err)
		return nil
	}
	at := clk.Now()

	t := clk.NewTicker(orDuration(s.Interval, DefaultSleepInterval))
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		u, err := s.Uptime()
		if err != nil {
			log.Debug("read uptime", "err", err)
			continue
		}
		now := clk.Now()
		slept := (u - up) - now.Sub(at)
		up, at = u, now
		if slept < gap {
			continue
		}

		log.Info("resume detected", "asleep", slept.Round(time.Second))
		if !emit(ctx, out, engine.SleepChanged{Entering: true}) ||
			!emit(ctx, out, engine.SleepChanged{Entering: false}) {
			return nil
		}
	}
}

package watch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ja7ad/policyd/pkg/engine"
	"github.com/ja7ad/policyd/pkg/hal"
)

// Sysfs forwards out-of-band changes of one hardware control as Event.
type Sysfs struct {
	Name   string
	Source hal.Watchable
	Event  engine.Event
	Logger *slog.Logger
}

func (s *Sysfs) Run(ctx context.Context, out chan<- engine.Event) error {
	log := orLogger(s.Logger)
	err := s.Source.Watch(ctx, func() {
		emit(ctx, out, s.Event)
	})
	switch {
	case err == nil, ctx.Err() != nil:
	case errors.Is(err, hal.ErrUnsupported):
		log.Info("change watch unavailable", "control", s.Name, "err", err)
	default:
		log.Warn("change watch stopped", "control", s.Name, "err", err)
	}
	return nil
}

// DriftSources builds one Sysfs watcher per control of hw that can report
// changes: the throttle policy, the charge limit and each attribute.
func DriftSources(hw *hal.Platform, attrs *engine.Registry, log *slog.Logger) []Source {
	var out []Source
	if w, ok := hw.Throttle.(hal.Watchable); ok {
		out = append(out, &Sysfs{Name: "throttle_policy", Source: w, Event: engine.ThrottleDrift{}, Logger: log})
	}
	if w, ok := hw.Charge.(hal.Watchable); ok {
		out = append(out, &Sysfs{Name: "charge_limit", Source: w, Event: engine.ChargeDrift{}, Logger: log})
	}
	for _, a := range attrs.All() {
		if w, ok := a.Watchable(); ok {
			out = append(out, &Sysfs{Name: a.Object(), Source: w, Event: engine.AttributeDrift{Name: a.Name()}, Logger: log})
		}
	}
	return out
}

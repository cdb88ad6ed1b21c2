package engine

import (
	"context"
	"errors"

	"github.com/ja7ad/policyd/pkg/policy"
	"github.com/ja7ad/policyd/pkg/types"
)

// Event is a typed notification from a watcher.
type Event interface {
	Kind() string
}

// ConfigChanged carries a freshly parsed policy file and the revision it
// was read at.
type ConfigChanged struct {
	Store    *policy.Store
	Revision policy.Revision
}

// PowerChanged reports the mains state after a transition.
type PowerChanged struct{ Plugged bool }

// SleepChanged reports entering or leaving suspend.
type SleepChanged struct{ Entering bool }

// LidChanged reports the lid switch.
type LidChanged struct{ Closed bool }

// AttributeDrift reports an out-of-band change of a firmware attribute.
type AttributeDrift struct{ Name types.AttrName }

// ThrottleDrift reports an out-of-band throttle policy change, e.g. a
// firmware hotkey.
type ThrottleDrift struct{}

// ChargeDrift reports an out-of-band charge threshold change.
type ChargeDrift struct{}

func (ConfigChanged) Kind() string  { return "config" }
func (PowerChanged) Kind() string   { return "power" }
func (SleepChanged) Kind() string   { return "sleep" }
func (LidChanged) Kind() string     { return "lid" }
func (AttributeDrift) Kind() string { return "attribute" }
func (ThrottleDrift) Kind() string  { return "throttle" }
func (ChargeDrift) Kind() string    { return "charge" }

// Run consumes events in arrival order until ctx is done or events is
// closed. Handler failures are logged; none of them stop the loop.
func (e *Engine) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.Handle(ctx, ev)
		}
	}
}

// Handle dispatches a single event.
func (e *Engine) Handle(ctx context.Context, ev Event) {
	e.stats.EventsHandled.Add(1)

	var err error
	switch ev := ev.(type) {
	case ConfigChanged:
		err = e.ExternalConfigChanged(ctx, ev.Store, ev.Revision)
	case PowerChanged:
		err = e.PowerSourceChanged(ctx, ev.Plugged)
	case SleepChanged:
		err = e.Suspend(ctx, ev.Entering)
	case LidChanged:
		e.LidChanged(ev.Closed)
	case AttributeDrift:
		err = e.AttributeDrifted(ctx, ev.Name)
	case ThrottleDrift:
		err = e.ThrottleDrifted(ctx)
	case ChargeDrift:
		err = e.ChargeDrifted(ctx)
	default:
		e.log.Warn("unknown event", "kind", ev.Kind())
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		e.report("handle "+ev.Kind()+" event", err)
	}
}

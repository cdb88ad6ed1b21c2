// Package engine reconciles the persisted policy with live hardware.
//
// One Engine owns the only live policy.Store. Every entry point, whether
// an RPC call or a watcher event, runs as a single critical section
// under one exclusive lock covering the whole read-decide-write
// sequence. Hardware is written first; the store is replaced by a
// modified copy only after the writes it depends on succeeded, so no
// caller ever observes a half-applied store.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/policy"
	"github.com/ja7ad/policyd/pkg/types"
)

// Persister saves the policy. *policy.File implements it.
type Persister interface {
	Save(s *policy.Store) error
}

// revisioned is implemented by persisters that can identify the version
// of the file currently on disk.
type revisioned interface {
	Revision() (policy.Revision, error)
}

// Options configures an Engine. Zero values are usable.
type Options struct {
	Logger   *slog.Logger
	Notifier Notifier
	Runner   CommandRunner
	Version  string
}

// Stats counts failures that are logged rather than returned.
type Stats struct {
	HardwareErrors   atomic.Uint64
	ConfigSaveErrors atomic.Uint64
	ExternalReloads  atomic.Uint64
	EventsHandled    atomic.Uint64
}

// Snapshot returns the counters by name.
func (s *Stats) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"hardware_errors":    s.HardwareErrors.Load(),
		"config_save_errors": s.ConfigSaveErrors.Load(),
		"external_reloads":   s.ExternalReloads.Load(),
		"events_handled":     s.EventsHandled.Load(),
	}
}

type Engine struct {
	sem *semaphore.Weighted

	// guarded by sem
	store  *policy.Store
	onDisk *policy.Store // what the file holds, as far as we know
	// last throttle policy written or followed; zero until known
	throttleSeen  types.ThrottlePolicy
	throttleKnown bool

	hw       *hal.Platform
	file     Persister
	log      *slog.Logger
	notifier Notifier
	runner   CommandRunner
	version  string
	attrs    *Registry
	stats    Stats
}

// New builds an engine around an already loaded store. The attribute
// registry is built once from hw.Attributes.
func New(hw *hal.Platform, store *policy.Store, file Persister, opts Options) *Engine {
	if hw == nil {
		hw = &hal.Platform{}
	}
	if store == nil {
		store = policy.Default()
	}
	store = store.Clone()
	store.Normalize()

	e := &Engine{
		sem:      semaphore.NewWeighted(1),
		store:    store,
		hw:       hw,
		file:     file,
		log:      opts.Logger,
		notifier: opts.Notifier,
		runner:   opts.Runner,
		version:  opts.Version,
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.runner == nil {
		e.runner = ExecRunner{Logger: e.log}
	}
	e.attrs = newRegistry(e, hw.Attributes)
	return e
}

// Attributes returns the attribute registry.
func (e *Engine) Attributes() *Registry { return e.attrs }

// Stats returns the failure counters.
func (e *Engine) Stats() *Stats { return &e.stats }

// Platform returns the hardware capability set.
func (e *Engine) Platform() *hal.Platform { return e.hw }

// Snapshot returns a copy of the current store.
func (e *Engine) Snapshot(ctx context.Context) (*policy.Store, error) {
	var out *policy.Store
	err := e.do(ctx, func(tx *txn) error {
		out = tx.store.Clone()
		return nil
	})
	return out, err
}

// txn is the state of one critical section: a private copy of the store
// and the notifications to emit once the lock is released.
type txn struct {
	store   *policy.Store
	changes []Change
	dirty   bool
	noSave  bool
}

func (tx *txn) notify(object string, prop string, value any) {
	tx.changes = append(tx.changes, Change{Object: object, Property: prop, Value: value})
}

func (tx *txn) notifyRoot(prop types.Property, value any) {
	tx.notify(ObjectPlatform, string(prop), value)
}

// do runs fn under the engine lock. If fn succeeds and marked the
// transaction dirty, its store replaces the live one and is persisted.
// A failed fn commits nothing and emits nothing.
func (e *Engine) do(ctx context.Context, fn func(tx *txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	tx := &txn{store: e.store.Clone()}
	err := fn(tx)
	e.countHardware(err)
	if err == nil && tx.dirty {
		e.store = tx.store
		if !tx.noSave {
			e.saveLocked()
		}
	}
	e.sem.Release(1)

	if err != nil {
		return err
	}
	for _, c := range tx.changes {
		e.notifier.Notify(c)
	}
	return nil
}

func (e *Engine) saveLocked() {
	if e.file == nil {
		return
	}
	if err := e.file.Save(e.store); err != nil {
		e.stats.ConfigSaveErrors.Add(1)
		e.log.Warn("save policy", "err", err)
		return
	}
	e.onDisk = e.store
}

// logFailure counts and logs a failure that is not returned to the
// caller.
func (e *Engine) logFailure(msg string, err error) {
	e.countHardware(err)
	e.report(msg, err)
}

// report logs err at a level matching its class. Expected conditions
// stay below warning level.
func (e *Engine) report(msg string, err error) {
	switch {
	case errors.Is(err, hal.ErrUnsupported):
		e.log.Debug(msg, "err", err)
	case errors.Is(err, hal.ErrInvalidArgument):
		e.log.Info(msg, "err", err)
	default:
		e.log.Warn(msg, "err", err)
	}
}

func (e *Engine) countHardware(err error) {
	if err != nil && errors.Is(err, hal.ErrHardwareIO) {
		e.stats.HardwareErrors.Add(1)
	}
}

// SupportedProperties lists the root properties this machine supports.
func (e *Engine) SupportedProperties() []types.Property {
	var out []types.Property
	for _, p := range types.Properties {
		if e.requireCapability(p) == nil {
			out = append(out, p)
		}
	}
	return out
}

// requireCapability returns ErrUnsupported when the hardware behind
// prop is absent. Profile-linked settings need throttle control.
func (e *Engine) requireCapability(prop types.Property) error {
	switch prop {
	case types.PropChargeEndThreshold:
		if e.hw.Charge == nil {
			return hal.Unsupportedf("%s: no charge control", prop)
		}
	case types.PropVersion:
	default:
		if e.hw.Throttle == nil {
			return hal.Unsupportedf("%s: no throttle policy control", prop)
		}
	}
	return nil
}

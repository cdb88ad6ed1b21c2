package engine

import (
	"context"

	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/types"
)

// Attribute adapts one firmware attribute. Its writes go through the
// owning engine's lock so the store stays consistent with hardware.
type Attribute struct {
	e    *Engine
	hw   hal.Attribute
	desc hal.Descriptor
}

func (a *Attribute) Name() types.AttrName { return a.desc.Name }

// Object is the RPC object name of the attribute.
func (a *Attribute) Object() string { return AttributeObject(a.desc.Name) }

// Descriptor returns the metadata read at startup.
func (a *Attribute) Descriptor() hal.Descriptor { return a.desc }

// AvailableAttrs lists which optional descriptor fields exist.
func (a *Attribute) AvailableAttrs() []string { return a.desc.AvailableFields() }

// Watchable returns the change notification source, if the hardware
// has one.
func (a *Attribute) Watchable() (hal.Watchable, bool) {
	w, ok := a.hw.(hal.Watchable)
	return w, ok
}

// CurrentValue reads the live value.
func (a *Attribute) CurrentValue() (int32, error) {
	return a.hw.CurrentValue()
}

// SetCurrentValue writes v and records it: power-limit attributes under
// the throttle policy active at call time, others as a generic setting.
func (a *Attribute) SetCurrentValue(ctx context.Context, v int32) error {
	if err := a.desc.Check(v); err != nil {
		return err
	}
	return a.e.do(ctx, func(tx *txn) error {
		scoped := a.desc.Name.IsProfileScoped()
		var p types.ThrottlePolicy
		if scoped {
			var err error
			if p, err = a.e.activePolicy(); err != nil {
				return err
			}
		}
		if err := a.hw.SetCurrentValue(v); err != nil {
			return err
		}
		if scoped {
			tx.store.SetTuning(p, a.desc.Name, v)
		} else {
			tx.store.AttributeSettings[a.desc.Name] = v
		}
		tx.dirty = true
		tx.notify(a.Object(), "current_value", v)
		return nil
	})
}

// applyLocked writes v during reconciliation; failures are logged.
func (a *Attribute) applyLocked(tx *txn, v int32) bool {
	if err := a.hw.SetCurrentValue(v); err != nil {
		a.e.logFailure("apply "+string(a.desc.Name), err)
		return false
	}
	tx.notify(a.Object(), "current_value", v)
	return true
}

// Registry maps attribute names to controllers. It is built once at
// startup and never changes.
type Registry struct {
	byName map[types.AttrName]*Attribute
	order  []*Attribute
}

func newRegistry(e *Engine, attrs []hal.Attribute) *Registry {
	r := &Registry{byName: make(map[types.AttrName]*Attribute, len(attrs))}
	for _, h := range attrs {
		d := h.Descriptor()
		if _, dup := r.byName[d.Name]; dup {
			e.log.Warn("duplicate firmware attribute ignored", "name", d.Name)
			continue
		}
		a := &Attribute{e: e, hw: h, desc: d}
		r.byName[d.Name] = a
		r.order = append(r.order, a)
	}
	return r
}

// Get looks up an attribute by name.
func (r *Registry) Get(name types.AttrName) (*Attribute, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// All returns the attributes in discovery order.
func (r *Registry) All() []*Attribute { return r.order }

// Names returns the attribute names in discovery order.
func (r *Registry) Names() []types.AttrName {
	out := make([]types.AttrName, len(r.order))
	for i, a := range r.order {
		out[i] = a.desc.Name
	}
	return out
}

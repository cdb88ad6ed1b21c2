// Package haltest provides in-memory HAL capabilities that record every
// hardware write in a shared journal.
package haltest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/types"
)

// Journal is an ordered log of hardware writes, e.g. "charge=80",
// "epp=power", "throttle=quiet", "attr:ppt_pl1_spl=40".
type Journal struct {
	mu     sync.Mutex
	writes []string
}

func (j *Journal) record(format string, args ...any) {
	j.mu.Lock()
	j.writes = append(j.writes, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

// Writes returns a copy of the journal.
func (j *Journal) Writes() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.writes)
}

// Len returns the number of recorded writes.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.writes)
}

// Reset empties the journal.
func (j *Journal) Reset() {
	j.mu.Lock()
	j.writes = nil
	j.mu.Unlock()
}

// watchers fans a change out to every active Watch call.
type watchers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
	cond *sync.Cond
}

func (w *watchers) watch(ctx context.Context, fn func()) error {
	w.mu.Lock()
	if w.fns == nil {
		w.fns = make(map[int]func())
	}
	if w.cond == nil {
		w.cond = sync.NewCond(&w.mu)
	}
	id := w.next
	w.next++
	w.fns[id] = fn
	w.cond.Broadcast()
	w.mu.Unlock()

	<-ctx.Done()

	w.mu.Lock()
	delete(w.fns, id)
	w.mu.Unlock()
	return nil
}

func (w *watchers) fire() {
	w.mu.Lock()
	fns := make([]func(), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// WaitWatching blocks until at least n Watch calls are registered.
func (w *watchers) WaitWatching(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cond == nil {
		w.cond = sync.NewCond(&w.mu)
	}
	for len(w.fns) < n {
		w.cond.Wait()
	}
}

// Fixture bundles one fake of every capability sharing a journal.
type Fixture struct {
	Journal  *Journal
	Charge   *Charge
	Throttle *Throttle
	CPU      *CPU
	Power    *Power
	Attrs    map[types.AttrName]*Attribute

	order []types.AttrName
}

// New returns a fully capable fake machine: charge limit 100, Balanced
// policy, powersave governor with every EPP available, mains online.
func New() *Fixture {
	j := &Journal{}
	return &Fixture{
		Journal:  j,
		Charge:   &Charge{j: j, value: 100},
		Throttle: &Throttle{j: j, value: types.Balanced},
		CPU: &CPU{
			j:             j,
			gov:           types.GovernorPowersave,
			epp:           types.EPPBalancePerformance,
			Prefs:         []types.EnergyPreference{types.EPPDefault, types.EPPPerformance, types.EPPBalancePerformance, types.EPPBalancePower, types.EPPPower},
			powersaveOnly: true,
		},
		Power: &Power{online: true},
		Attrs: make(map[types.AttrName]*Attribute),
	}
}

// AddAttribute registers a firmware attribute with an initial value.
func (f *Fixture) AddAttribute(d hal.Descriptor, value int32) *Attribute {
	a := &Attribute{j: f.Journal, desc: d, value: value}
	f.Attrs[d.Name] = a
	f.order = append(f.order, d.Name)
	return a
}

// Platform exposes the fakes as a hal.Platform. Setting a fixture field
// to nil before calling Platform removes that capability.
func (f *Fixture) Platform() *hal.Platform {
	p := &hal.Platform{}
	if f.Charge != nil {
		p.Charge = f.Charge
	}
	if f.Throttle != nil {
		p.Throttle = f.Throttle
	}
	if f.CPU != nil {
		p.CPUs = []hal.CPUControl{f.CPU}
	}
	if f.Power != nil {
		p.Power = f.Power
	}
	for _, name := range f.order {
		p.Attributes = append(p.Attributes, f.Attrs[name])
	}
	return p
}

// Charge is a fake battery charge limiter.
type Charge struct {
	j      *Journal
	mu     sync.Mutex
	value  uint8
	setErr error
}

func (c *Charge) ChargeEndThreshold() (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, nil
}

func (c *Charge) SetChargeEndThreshold(v uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.value = v
	c.j.record("charge=%d", v)
	return nil
}

// FailWrites makes subsequent writes return err; nil restores success.
func (c *Charge) FailWrites(err error) {
	c.mu.Lock()
	c.setErr = err
	c.mu.Unlock()
}

// Value returns the current hardware value.
func (c *Charge) Value() uint8 {
	v, _ := c.ChargeEndThreshold()
	return v
}

// Throttle is a fake throttle policy control.
type Throttle struct {
	watchers

	j      *Journal
	mu     sync.Mutex
	value  types.ThrottlePolicy
	setErr error
}

func (t *Throttle) ThrottlePolicy() (types.ThrottlePolicy, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, nil
}

func (t *Throttle) SetThrottlePolicy(p types.ThrottlePolicy) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.setErr != nil {
		return t.setErr
	}
	t.value = p
	t.j.record("throttle=%s", p)
	return nil
}

func (t *Throttle) Watch(ctx context.Context, fn func()) error { return t.watch(ctx, fn) }

// FailWrites makes subsequent writes return err; nil restores success.
func (t *Throttle) FailWrites(err error) {
	t.mu.Lock()
	t.setErr = err
	t.mu.Unlock()
}

// Drift changes the policy out of band, as a hotkey would, and notifies
// watchers. It is not journaled.
func (t *Throttle) Drift(p types.ThrottlePolicy) {
	t.mu.Lock()
	t.value = p
	t.mu.Unlock()
	t.fire()
}

// Value returns the current hardware value.
func (t *Throttle) Value() types.ThrottlePolicy {
	v, _ := t.ThrottlePolicy()
	return v
}

// CPU is a fake cpufreq policy. With powersaveOnly set, only
// "performance" is offered while another governor is active, matching
// amd-pstate-epp.
type CPU struct {
	j      *Journal
	mu     sync.Mutex
	gov    types.Governor
	epp    types.EnergyPreference
	setErr error

	Prefs         []types.EnergyPreference
	powersaveOnly bool
}

func (c *CPU) AvailableEPP() ([]types.EnergyPreference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Prefs) == 0 {
		return nil, hal.Unsupportedf("cpu: no epp")
	}
	if c.powersaveOnly && c.gov != types.GovernorPowersave {
		return []types.EnergyPreference{types.EPPPerformance}, nil
	}
	return slices.Clone(c.Prefs), nil
}

func (c *CPU) SetEPP(e types.EnergyPreference) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.epp = e
	c.j.record("epp=%s", e)
	return nil
}

func (c *CPU) Governor() (types.Governor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gov, nil
}

func (c *CPU) SetGovernor(g types.Governor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gov = g
	c.j.record("governor=%s", g)
	return nil
}

// UseGovernor sets the governor without journaling.
func (c *CPU) UseGovernor(g types.Governor) {
	c.mu.Lock()
	c.gov = g
	c.mu.Unlock()
}

// FailWrites makes subsequent EPP writes return err.
func (c *CPU) FailWrites(err error) {
	c.mu.Lock()
	c.setErr = err
	c.mu.Unlock()
}

// EPP returns the current preference.
func (c *CPU) EPP() types.EnergyPreference {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epp
}

// Power is a fake mains adapter.
type Power struct {
	mu     sync.Mutex
	online bool
	err    error
}

func (p *Power) Online() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online, p.err
}

// SetOnline changes the adapter state.
func (p *Power) SetOnline(v bool) {
	p.mu.Lock()
	p.online = v
	p.mu.Unlock()
}

// FailReads makes Online return err.
func (p *Power) FailReads(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Attribute is a fake firmware attribute.
type Attribute struct {
	watchers

	j      *Journal
	mu     sync.Mutex
	desc   hal.Descriptor
	value  int32
	setErr error
}

func (a *Attribute) Descriptor() hal.Descriptor { return a.desc }

func (a *Attribute) CurrentValue() (int32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value, nil
}

func (a *Attribute) SetCurrentValue(v int32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.setErr != nil {
		return a.setErr
	}
	a.value = v
	a.j.record("attr:%s=%d", a.desc.Name, v)
	return nil
}

func (a *Attribute) Watch(ctx context.Context, fn func()) error { return a.watch(ctx, fn) }

// FailWrites makes subsequent writes return err; nil restores success.
func (a *Attribute) FailWrites(err error) {
	a.mu.Lock()
	a.setErr = err
	a.mu.Unlock()
}

// Drift changes the value out of band and notifies watchers.
func (a *Attribute) Drift(v int32) {
	a.mu.Lock()
	a.value = v
	a.mu.Unlock()
	a.fire()
}

// Value returns the current hardware value.
func (a *Attribute) Value() int32 {
	v, _ := a.CurrentValue()
	return v
}

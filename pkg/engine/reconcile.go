package engine

import (
	"context"
	"fmt"

	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/policy"
	"github.com/ja7ad/policyd/pkg/types"
)

// Reload re-applies the store to hardware in dependency order: charge
// limit, then throttle policy with its EPP, then the power-limit tunings
// of the now active policy, then generic attribute settings. Failures
// are logged and the remaining steps still run. Power-limit attributes
// without a tuning are left as they are.
func (e *Engine) Reload(ctx context.Context) error {
	return e.do(ctx, func(tx *txn) error {
		e.reloadLocked(tx)
		return nil
	})
}

func (e *Engine) reloadLocked(tx *txn) {
	s := tx.store
	e.log.Info("applying policy")

	e.applyChargeLocked(tx)

	if e.hw.Throttle != nil {
		p, ok := e.targetPolicyLocked(tx)
		if ok {
			e.applyEPPLocked(s.EPP(p), s.PolicyLinkedEPP)
			if err := e.hw.Throttle.SetThrottlePolicy(p); err != nil {
				e.logFailure("apply throttle policy", err)
			} else {
				e.sawThrottleLocked(p)
				tx.notifyRoot(types.PropThrottlePolicy, p)
			}
		}
		if live, err := e.hw.Throttle.ThrottlePolicy(); err != nil {
			e.logFailure("read throttle policy", err)
		} else {
			e.applyTuningsLocked(tx, live, false)
		}
	} else {
		e.applyTuningsLocked(tx, types.Balanced, false)
	}

	e.applySettingsLocked(tx)
}

func (e *Engine) applyChargeLocked(tx *txn) {
	if e.hw.Charge == nil {
		e.log.Debug("no charge control")
		return
	}
	v := tx.store.ChargeLimit
	if err := e.hw.Charge.SetChargeEndThreshold(v); err != nil {
		e.logFailure("apply charge limit", err)
		return
	}
	tx.notifyRoot(types.PropChargeEndThreshold, v)
}

// targetPolicyLocked picks the policy reload should apply: the one
// configured for the current power source when its gate is open,
// otherwise whatever the hardware has now. It also records the observed
// power source.
func (e *Engine) targetPolicyLocked(tx *txn) (types.ThrottlePolicy, bool) {
	s := tx.store
	if e.hw.Power != nil {
		plugged, err := e.hw.Power.Online()
		if err != nil {
			e.logFailure("read power source", err)
		} else {
			if plugged != s.LastPowerPlugged {
				s.LastPowerPlugged = plugged
				tx.dirty = true
			}
			if plugged && s.ChangePolicyOnAC {
				return s.ThrottlePolicyOnAC, true
			}
			if !plugged && s.ChangePolicyOnBattery {
				return s.ThrottlePolicyOnBattery, true
			}
		}
	}
	live, err := e.hw.Throttle.ThrottlePolicy()
	if err != nil {
		e.logFailure("read throttle policy", err)
		return 0, false
	}
	return live, true
}

// PowerSourceChanged handles a mains transition. Duplicate reports of
// the current state are ignored.
func (e *Engine) PowerSourceChanged(ctx context.Context, plugged bool) error {
	return e.do(ctx, func(tx *txn) error {
		e.powerChangedLocked(tx, plugged)
		return nil
	})
}

func (e *Engine) powerChangedLocked(tx *txn, plugged bool) {
	s := tx.store
	if plugged == s.LastPowerPlugged {
		e.log.Debug("power source unchanged", "plugged", plugged)
		return
	}
	e.log.Info("power source changed", "plugged", plugged)

	gate, p, cmd := s.ChangePolicyOnBattery, s.ThrottlePolicyOnBattery, s.BatteryCommand
	if plugged {
		gate, p, cmd = s.ChangePolicyOnAC, s.ThrottlePolicyOnAC, s.ACCommand
	}
	switch {
	case e.hw.Throttle == nil:
	case !gate:
		e.log.Debug("throttle policy change on power source disabled", "plugged", plugged)
	default:
		if err := e.switchProfileLocked(tx, p, true); err != nil {
			e.logFailure("apply throttle policy for power source", err)
		}
	}

	if cmd != "" {
		if err := e.runner.Start(cmd); err != nil {
			e.log.Warn("power source command", "plugged", plugged, "err", err)
		}
	}

	if !plugged {
		e.restoreBaseLocked(tx)
	}

	s.LastPowerPlugged = plugged
	tx.dirty = true
}

// restoreBaseLocked ends a one-shot full charge: the remembered limit is
// written back and the override cleared.
func (e *Engine) restoreBaseLocked(tx *txn) {
	s := tx.store
	if s.BaseChargeLimit == 0 || e.hw.Charge == nil {
		return
	}
	base := s.BaseChargeLimit
	if err := e.hw.Charge.SetChargeEndThreshold(base); err != nil {
		e.logFailure("restore charge limit", err)
		return
	}
	e.log.Info("restored charge limit", "limit", base)
	s.ChargeLimit = base
	s.BaseChargeLimit = 0
	tx.dirty = true
	tx.notifyRoot(types.PropChargeEndThreshold, base)
}

// Suspend handles sleep transitions. Entering suspend changes nothing:
// the firmware owns the charge limit across the sleep. On resume, a
// power source change that happened while asleep is handled first,
// then the whole store is re-applied, charge limit first, since some
// controllers reset during the cycle.
func (e *Engine) Suspend(ctx context.Context, entering bool) error {
	if entering {
		e.log.Debug("entering suspend")
		return nil
	}
	return e.do(ctx, func(tx *txn) error {
		e.log.Info("resumed from suspend")
		if e.hw.Power != nil {
			if plugged, err := e.hw.Power.Online(); err != nil {
				e.logFailure("read power source", err)
			} else {
				e.powerChangedLocked(tx, plugged)
			}
		}
		e.reloadLocked(tx)
		return nil
	})
}

// Shutdown restores the base charge limit if a one-shot full charge is
// active, so the next boot starts from the user's normal ceiling.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.do(ctx, func(tx *txn) error {
		e.restoreBaseLocked(tx)
		return nil
	})
}

// NextThrottlePolicy advances Balanced -> Performance -> Quiet ->
// Balanced from the live policy and returns the new one.
func (e *Engine) NextThrottlePolicy(ctx context.Context) (types.ThrottlePolicy, error) {
	if e.hw.Throttle == nil {
		return 0, hal.Unsupportedf("throttle policy control")
	}
	var next types.ThrottlePolicy
	err := e.do(ctx, func(tx *txn) error {
		cur, err := e.hw.Throttle.ThrottlePolicy()
		if err != nil {
			return err
		}
		next = cur.Next()
		return e.switchProfileLocked(tx, next, true)
	})
	return next, err
}

// OneShotFullCharge raises the limit to 100 until the next unplug or
// shutdown, remembering the current limit. It is a no-op at 100.
func (e *Engine) OneShotFullCharge(ctx context.Context) error {
	if e.hw.Charge == nil {
		return hal.Unsupportedf("charge control")
	}
	return e.do(ctx, func(tx *txn) error {
		s := tx.store
		if s.ChargeLimit == policy.MaxChargeLimit {
			return nil
		}
		if err := e.hw.Charge.SetChargeEndThreshold(policy.MaxChargeLimit); err != nil {
			return err
		}
		s.BaseChargeLimit = s.ChargeLimit
		s.ChargeLimit = policy.MaxChargeLimit
		tx.dirty = true
		tx.notifyRoot(types.PropChargeEndThreshold, policy.MaxChargeLimit)
		return nil
	})
}

// ExternalConfigChanged reconciles a policy file edited by someone
// else. Only fields that differ from the live store and have hardware
// behind them are applied; the candidate then becomes the live store
// without being written back. A candidate identical to what the file
// is known to hold is ignored, and so is one read at a revision the
// file has since moved past: a newer change event follows it. A zero
// rev skips the revision check.
func (e *Engine) ExternalConfigChanged(ctx context.Context, cand *policy.Store, rev policy.Revision) error {
	if cand == nil {
		return nil
	}
	cand = cand.Clone()
	cand.Normalize()
	if err := cand.Validate(); err != nil {
		return fmt.Errorf("%w: %w", policy.ErrParse, err)
	}

	return e.do(ctx, func(tx *txn) error {
		if e.supersededLocked(rev) {
			e.log.Debug("ignoring superseded policy file read")
			return nil
		}
		cur := tx.store
		// the power source is observed state, not user policy
		cand.LastPowerPlugged = cur.LastPowerPlugged
		if cand.Equal(cur) {
			e.onDisk = cand
			return nil
		}
		if e.onDisk != nil && cand.Equal(e.onDisk) {
			e.log.Debug("ignoring echo of own policy write")
			return nil
		}
		e.onDisk = cand.Clone()
		e.stats.ExternalReloads.Add(1)
		e.log.Info("policy file changed externally, reconciling", "file", e.fileName())

		tx.store = cand
		tx.dirty = true
		tx.noSave = true

		if cand.ChargeLimit != cur.ChargeLimit && e.hw.Charge != nil {
			if err := e.hw.Charge.SetChargeEndThreshold(cand.ChargeLimit); err != nil {
				e.logFailure("apply charge limit", err)
				cand.ChargeLimit = cur.ChargeLimit
				cand.BaseChargeLimit = cur.BaseChargeLimit
			}
		}

		if e.hw.Throttle != nil {
			e.reconcileProfileLocked(tx, cur)
		}
		e.reconcileSettingsLocked(tx, cur)

		tx.changes = append(tx.changes, diffProperties(cur, cand)...)
		return nil
	})
}

// supersededLocked reports whether rev is older than the file on disk.
// A file that can no longer be read counts as superseded.
func (e *Engine) supersededLocked(rev policy.Revision) bool {
	if rev.IsZero() {
		return false
	}
	r, ok := e.file.(revisioned)
	if !ok {
		return false
	}
	now, err := r.Revision()
	return err != nil || !now.Same(rev)
}

// reconcileProfileLocked applies profile-related differences between
// cur and the candidate in tx. A changed policy for the current power
// source switches the whole profile; otherwise only the EPP and the
// tunings of the live policy are touched.
func (e *Engine) reconcileProfileLocked(tx *txn, cur *policy.Store) {
	cand := tx.store
	live, err := e.hw.Throttle.ThrottlePolicy()
	if err != nil {
		e.logFailure("read throttle policy", err)
		return
	}

	plugged := cur.LastPowerPlugged
	want := live
	switch {
	case plugged && cand.ChangePolicyOnAC && cand.ThrottlePolicyOnAC != cur.ThrottlePolicyOnAC:
		want = cand.ThrottlePolicyOnAC
	case !plugged && cand.ChangePolicyOnBattery && cand.ThrottlePolicyOnBattery != cur.ThrottlePolicyOnBattery:
		want = cand.ThrottlePolicyOnBattery
	}
	if want != live {
		if err := e.switchProfileLocked(tx, want, true); err != nil {
			e.logFailure("apply throttle policy", err)
			cand.ThrottlePolicyOnAC = cur.ThrottlePolicyOnAC
			cand.ThrottlePolicyOnBattery = cur.ThrottlePolicyOnBattery
		}
		return
	}

	if cand.PolicyLinkedEPP && (!cur.PolicyLinkedEPP || cand.EPP(live) != cur.EPP(live)) {
		e.applyEPPLocked(cand.EPP(live), true)
	}
	for _, a := range e.attrs.All() {
		name := a.Name()
		if !name.IsProfileScoped() {
			continue
		}
		v, ok := cand.Tuning(live, name)
		old, had := cur.Tuning(live, name)
		if ok && (!had || v != old) {
			if !a.applyLocked(tx, v) {
				if had {
					cand.SetTuning(live, name, old)
				} else {
					delete(cand.ProfileTunings[live], name)
				}
			}
		}
	}
}

func (e *Engine) reconcileSettingsLocked(tx *txn, cur *policy.Store) {
	cand := tx.store
	for _, a := range e.attrs.All() {
		name := a.Name()
		if name.IsProfileScoped() {
			continue
		}
		v, ok := cand.AttributeSettings[name]
		old, had := cur.AttributeSettings[name]
		if !ok || (had && v == old) {
			continue
		}
		if !a.applyLocked(tx, v) {
			if had {
				cand.AttributeSettings[name] = old
			} else {
				delete(cand.AttributeSettings, name)
			}
		}
	}
}

func (e *Engine) fileName() string {
	if f, ok := e.file.(interface{ Path() string }); ok {
		return f.Path()
	}
	return ""
}

// diffProperties lists root store properties that differ between a and
// b, valued as in b.
func diffProperties(a, b *policy.Store) []Change {
	var out []Change
	add := func(p types.Property, v any) {
		out = append(out, Change{Object: ObjectPlatform, Property: string(p), Value: v})
	}
	if a.ChargeLimit != b.ChargeLimit {
		add(types.PropChargeEndThreshold, b.ChargeLimit)
	}
	if a.ThrottlePolicyOnAC != b.ThrottlePolicyOnAC {
		add(types.PropThrottlePolicyOnAC, b.ThrottlePolicyOnAC)
	}
	if a.ThrottlePolicyOnBattery != b.ThrottlePolicyOnBattery {
		add(types.PropThrottlePolicyOnBattery, b.ThrottlePolicyOnBattery)
	}
	if a.ChangePolicyOnAC != b.ChangePolicyOnAC {
		add(types.PropChangePolicyOnAC, b.ChangePolicyOnAC)
	}
	if a.ChangePolicyOnBattery != b.ChangePolicyOnBattery {
		add(types.PropChangePolicyOnBattery, b.ChangePolicyOnBattery)
	}
	if a.PolicyLinkedEPP != b.PolicyLinkedEPP {
		add(types.PropThrottleLinkedEPP, b.PolicyLinkedEPP)
	}
	for _, p := range types.ThrottlePolicies {
		if a.EPP(p) != b.EPP(p) {
			add(types.EPPProperty(p), b.EPP(p))
		}
	}
	return out
}

// ThrottleDrifted handles a policy change made outside the daemon, such
// as the firmware's profile hotkey: the EPP and tunings follow it. The
// firmware also signals the daemon's own writes; a notification that
// leaves the policy where the daemon last put it changes nothing.
func (e *Engine) ThrottleDrifted(ctx context.Context) error {
	if e.hw.Throttle == nil {
		return nil
	}
	return e.do(ctx, func(tx *txn) error {
		p, err := e.hw.Throttle.ThrottlePolicy()
		if err != nil {
			return err
		}
		if e.throttleKnown && p == e.throttleSeen {
			return nil
		}
		e.sawThrottleLocked(p)
		e.log.Debug("throttle policy changed externally", "policy", p)
		e.applyEPPLocked(tx.store.EPP(p), tx.store.PolicyLinkedEPP)
		tx.notifyRoot(types.PropThrottlePolicy, p)
		e.applyTuningsLocked(tx, p, true)
		return nil
	})
}

// AttributeDrifted re-reads an attribute changed out of band and
// notifies its new value. The store keeps the user's value.
func (e *Engine) AttributeDrifted(ctx context.Context, name types.AttrName) error {
	a, ok := e.attrs.Get(name)
	if !ok {
		return hal.Invalidf("unknown attribute %q", name)
	}
	return e.do(ctx, func(tx *txn) error {
		v, err := a.CurrentValue()
		if err != nil {
			return err
		}
		tx.notify(a.Object(), "current_value", v)
		return nil
	})
}

// ChargeDrifted notifies a charge threshold changed out of band.
func (e *Engine) ChargeDrifted(ctx context.Context) error {
	if e.hw.Charge == nil {
		return nil
	}
	return e.do(ctx, func(tx *txn) error {
		v, err := e.hw.Charge.ChargeEndThreshold()
		if err != nil {
			return err
		}
		tx.notifyRoot(types.PropChargeEndThreshold, v)
		return nil
	})
}

// LidChanged is informational only; lid state does not affect policy.
func (e *Engine) LidChanged(closed bool) {
	e.log.Debug("lid changed", "closed", closed)
}

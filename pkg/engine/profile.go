package engine

import (
	"slices"

	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/types"
)

// activePolicy reads the live throttle policy. Machines without throttle
// control run a single implicit profile, reported as Balanced.
func (e *Engine) activePolicy() (types.ThrottlePolicy, error) {
	if e.hw.Throttle == nil {
		return types.Balanced, nil
	}
	return e.hw.Throttle.ThrottlePolicy()
}

// switchProfileLocked moves the machine to p: EPP first (when linked),
// then the throttle policy, then the power-limit attributes. Only the
// throttle write is fatal; EPP and attribute failures are logged.
// With resetUntuned, power-limit attributes without a tuning for p go
// back to their firmware default.
func (e *Engine) switchProfileLocked(tx *txn, p types.ThrottlePolicy, resetUntuned bool) error {
	if e.hw.Throttle == nil {
		return hal.Unsupportedf("throttle policy control")
	}
	if !p.Valid() {
		return hal.Invalidf("throttle policy %d", uint8(p))
	}

	e.applyEPPLocked(tx.store.EPP(p), tx.store.PolicyLinkedEPP)

	if err := e.hw.Throttle.SetThrottlePolicy(p); err != nil {
		return err
	}
	e.sawThrottleLocked(p)
	tx.notifyRoot(types.PropThrottlePolicy, p)

	e.applyTuningsLocked(tx, p, resetUntuned)
	return nil
}

func (e *Engine) sawThrottleLocked(p types.ThrottlePolicy) {
	e.throttleSeen, e.throttleKnown = p, true
}

// applyEPPLocked sets pref on every CPU. A CPU whose driver does not
// offer pref under the current governor is switched to powersave and
// retried once, since EPP drivers only expose the full set there.
func (e *Engine) applyEPPLocked(pref types.EnergyPreference, linked bool) {
	if !linked {
		e.log.Debug("throttle policy not linked to epp")
		return
	}
	for i, cpu := range e.hw.CPUs {
		avail, err := cpu.AvailableEPP()
		if err != nil {
			e.logFailure("read available epp", err)
			continue
		}
		if !slices.Contains(avail, pref) {
			gov, err := cpu.Governor()
			if err != nil {
				e.logFailure("read governor", err)
				continue
			}
			if gov == types.GovernorPowersave {
				e.log.Debug("epp not offered by cpu", "cpu", i, "epp", pref, "available", avail)
				continue
			}
			e.log.Warn("powersave governor is not in use, setting it", "cpu", i, "governor", gov)
			if err := cpu.SetGovernor(types.GovernorPowersave); err != nil {
				e.logFailure("set powersave governor", err)
				continue
			}
			if avail, err = cpu.AvailableEPP(); err != nil || !slices.Contains(avail, pref) {
				e.log.Debug("epp still not offered by cpu", "cpu", i, "epp", pref)
				continue
			}
		}
		if err := cpu.SetEPP(pref); err != nil {
			e.logFailure("set epp", err)
		}
	}
}

// applyTuningsLocked writes profile p's power-limit tunings.
func (e *Engine) applyTuningsLocked(tx *txn, p types.ThrottlePolicy, resetUntuned bool) {
	for _, a := range e.attrs.All() {
		name := a.Name()
		if !name.IsProfileScoped() {
			continue
		}
		v, ok := tx.store.Tuning(p, name)
		if !ok {
			if !resetUntuned {
				continue
			}
			if v, ok = a.desc.Default.Get(); !ok {
				continue
			}
		}
		a.applyLocked(tx, v)
	}
}

// applySettingsLocked writes the stored value of every generic attribute.
func (e *Engine) applySettingsLocked(tx *txn) {
	for _, a := range e.attrs.All() {
		name := a.Name()
		if name.IsProfileScoped() {
			continue
		}
		if v, ok := tx.store.AttributeSettings[name]; ok {
			a.applyLocked(tx, v)
		}
	}
}

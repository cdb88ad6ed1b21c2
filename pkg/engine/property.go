package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/policy"
	"github.com/ja7ad/policyd/pkg/types"
)

// GetProperty returns a root property. Hardware-backed properties are
// read live; the rest come from the store.
func (e *Engine) GetProperty(ctx context.Context, prop types.Property) (any, error) {
	if !knownProperty(prop) {
		return nil, hal.Invalidf("unknown property %q", prop)
	}
	if err := e.requireCapability(prop); err != nil {
		return nil, err
	}

	switch prop {
	case types.PropVersion:
		return e.version, nil
	case types.PropChargeEndThreshold:
		return e.hw.Charge.ChargeEndThreshold()
	case types.PropThrottlePolicy:
		return e.hw.Throttle.ThrottlePolicy()
	}

	var out any
	err := e.do(ctx, func(tx *txn) error {
		s := tx.store
		switch prop {
		case types.PropThrottleLinkedEPP:
			out = s.PolicyLinkedEPP
		case types.PropThrottlePolicyOnAC:
			out = s.ThrottlePolicyOnAC
		case types.PropThrottlePolicyOnBattery:
			out = s.ThrottlePolicyOnBattery
		case types.PropChangePolicyOnAC:
			out = s.ChangePolicyOnAC
		case types.PropChangePolicyOnBattery:
			out = s.ChangePolicyOnBattery
		case types.PropThrottleBalancedEPP:
			out = s.EPP(types.Balanced)
		case types.PropThrottlePerformanceEPP:
			out = s.EPP(types.Performance)
		case types.PropThrottleQuietEPP:
			out = s.EPP(types.Quiet)
		}
		return nil
	})
	return out, err
}

// SetProperty validates value against prop's domain, applies it to
// hardware where the property has a live effect, then commits and
// persists the store. On a hardware failure the store is unchanged.
func (e *Engine) SetProperty(ctx context.Context, prop types.Property, value any) error {
	if !knownProperty(prop) {
		return hal.Invalidf("unknown property %q", prop)
	}
	if prop == types.PropVersion {
		return hal.Invalidf("%s is read-only", prop)
	}
	if err := e.requireCapability(prop); err != nil {
		return err
	}

	switch prop {
	case types.PropChargeEndThreshold:
		v, err := toUint8(value)
		if err != nil {
			return hal.Invalidf("%s: %v", prop, err)
		}
		return e.SetChargeLimit(ctx, v)

	case types.PropThrottlePolicy:
		p, err := toThrottlePolicy(value)
		if err != nil {
			return hal.Invalidf("%s: %v", prop, err)
		}
		return e.SetThrottlePolicy(ctx, p)

	case types.PropThrottlePolicyOnAC, types.PropThrottlePolicyOnBattery:
		p, err := toThrottlePolicy(value)
		if err != nil {
			return hal.Invalidf("%s: %v", prop, err)
		}
		return e.setSourcePolicy(ctx, prop == types.PropThrottlePolicyOnAC, p)

	case types.PropChangePolicyOnAC, types.PropChangePolicyOnBattery:
		b, err := toBool(value)
		if err != nil {
			return hal.Invalidf("%s: %v", prop, err)
		}
		return e.do(ctx, func(tx *txn) error {
			if prop == types.PropChangePolicyOnAC {
				tx.store.ChangePolicyOnAC = b
			} else {
				tx.store.ChangePolicyOnBattery = b
			}
			tx.dirty = true
			tx.notifyRoot(prop, b)
			return nil
		})

	case types.PropThrottleLinkedEPP:
		b, err := toBool(value)
		if err != nil {
			return hal.Invalidf("%s: %v", prop, err)
		}
		return e.setLinkedEPP(ctx, b)

	case types.PropThrottleBalancedEPP, types.PropThrottlePerformanceEPP, types.PropThrottleQuietEPP:
		pref, err := toEnergyPreference(value)
		if err != nil {
			return hal.Invalidf("%s: %v", prop, err)
		}
		return e.setPolicyEPP(ctx, eppPolicy(prop), pref)
	}
	return hal.Invalidf("unknown property %q", prop)
}

// SetChargeLimit writes the charge ceiling. An explicit value ends any
// one-shot full charge override.
func (e *Engine) SetChargeLimit(ctx context.Context, v uint8) error {
	if e.hw.Charge == nil {
		return hal.Unsupportedf("charge control")
	}
	if !policy.ValidChargeLimit(v) {
		return hal.Invalidf("charge limit %d outside [%d,%d]", v, policy.MinChargeLimit, policy.MaxChargeLimit)
	}
	return e.do(ctx, func(tx *txn) error {
		if err := e.hw.Charge.SetChargeEndThreshold(v); err != nil {
			return err
		}
		tx.store.ChargeLimit = v
		tx.store.BaseChargeLimit = 0
		tx.dirty = true
		tx.notifyRoot(types.PropChargeEndThreshold, v)
		return nil
	})
}

// SetThrottlePolicy switches the live profile: EPP, policy, tunings.
func (e *Engine) SetThrottlePolicy(ctx context.Context, p types.ThrottlePolicy) error {
	if e.hw.Throttle == nil {
		return hal.Unsupportedf("throttle policy control")
	}
	if !p.Valid() {
		return hal.Invalidf("throttle policy %d", uint8(p))
	}
	return e.do(ctx, func(tx *txn) error {
		return e.switchProfileLocked(tx, p, true)
	})
}

// setSourcePolicy stores the policy for AC or battery. When that source
// is the current one and its gate is open, the policy is applied now.
func (e *Engine) setSourcePolicy(ctx context.Context, ac bool, p types.ThrottlePolicy) error {
	return e.do(ctx, func(tx *txn) error {
		s := tx.store
		live := s.LastPowerPlugged == ac
		var prop types.Property
		if ac {
			s.ThrottlePolicyOnAC = p
			live = live && s.ChangePolicyOnAC
			prop = types.PropThrottlePolicyOnAC
		} else {
			s.ThrottlePolicyOnBattery = p
			live = live && s.ChangePolicyOnBattery
			prop = types.PropThrottlePolicyOnBattery
		}
		if live {
			if err := e.switchProfileLocked(tx, p, true); err != nil {
				return err
			}
		}
		tx.dirty = true
		tx.notifyRoot(prop, p)
		return nil
	})
}

func (e *Engine) setLinkedEPP(ctx context.Context, linked bool) error {
	return e.do(ctx, func(tx *txn) error {
		was := tx.store.PolicyLinkedEPP
		tx.store.PolicyLinkedEPP = linked
		if linked && !was {
			if p, err := e.activePolicy(); err != nil {
				e.logFailure("read throttle policy", err)
			} else {
				e.applyEPPLocked(tx.store.EPP(p), true)
			}
		}
		tx.dirty = true
		tx.notifyRoot(types.PropThrottleLinkedEPP, linked)
		return nil
	})
}

// setPolicyEPP stores the preference for policy p and applies it when p
// is live and linked.
func (e *Engine) setPolicyEPP(ctx context.Context, p types.ThrottlePolicy, pref types.EnergyPreference) error {
	return e.do(ctx, func(tx *txn) error {
		tx.store.EPPForPolicy[p] = pref
		if tx.store.PolicyLinkedEPP {
			if live, err := e.activePolicy(); err != nil {
				e.logFailure("read throttle policy", err)
			} else if live == p {
				e.applyEPPLocked(pref, true)
			}
		}
		tx.dirty = true
		tx.notifyRoot(types.EPPProperty(p), pref)
		return nil
	})
}

func knownProperty(p types.Property) bool {
	for _, k := range types.Properties {
		if k == p {
			return true
		}
	}
	return false
}

func eppPolicy(prop types.Property) types.ThrottlePolicy {
	switch prop {
	case types.PropThrottlePerformanceEPP:
		return types.Performance
	case types.PropThrottleQuietEPP:
		return types.Quiet
	default:
		return types.Balanced
	}
}

// Values arrive from decoders as any of the integer kinds, float64 or
// text, so the coercions below accept all of them.

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d out of range", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}

func toUint8(v any) (uint8, error) {
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxUint8 {
		return 0, fmt.Errorf("%d out of range", n)
	}
	return uint8(n), nil
}

// ToInt32 coerces a decoded value to an attribute value.
func ToInt32(v any) (int32, error) {
	n, err := toInt64(v)
	if err != nil {
		return 0, hal.Invalidf("%v", err)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, hal.Invalidf("%d out of range", n)
	}
	return int32(n), nil
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(b))
	default:
		return false, fmt.Errorf("unexpected %T", v)
	}
}

func toThrottlePolicy(v any) (types.ThrottlePolicy, error) {
	switch p := v.(type) {
	case types.ThrottlePolicy:
		if !p.Valid() {
			return 0, fmt.Errorf("unknown policy %d", uint8(p))
		}
		return p, nil
	case string:
		return types.ParseThrottlePolicy(p)
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > int64(types.Quiet) {
		return 0, fmt.Errorf("unknown policy %d", n)
	}
	return types.ThrottlePolicy(n), nil
}

func toEnergyPreference(v any) (types.EnergyPreference, error) {
	switch e := v.(type) {
	case types.EnergyPreference:
		if !e.Valid() {
			return 0, fmt.Errorf("unknown preference %d", uint8(e))
		}
		return e, nil
	case string:
		return types.ParseEnergyPreference(e)
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > int64(types.EPPPower) {
		return 0, fmt.Errorf("unknown preference %d", n)
	}
	return types.EnergyPreference(n), nil
}

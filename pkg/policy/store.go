// Package policy holds the persisted user hardware policy.
package policy

import (
	"fmt"
	"maps"

	"github.com/ja7ad/policyd/pkg/types"
)

const (
	MinChargeLimit uint8 = 20
	MaxChargeLimit uint8 = 100
)

// Store is the complete user policy. The engine owns the only live
// instance; every other holder works on a Clone.
type Store struct {
	ChargeLimit     uint8 `yaml:"charge_control_end_threshold" json:"charge_control_end_threshold"`
	BaseChargeLimit uint8 `yaml:"base_charge_control_end_threshold" json:"base_charge_control_end_threshold"`

	ThrottlePolicyOnAC      types.ThrottlePolicy `yaml:"throttle_policy_on_ac" json:"throttle_policy_on_ac"`
	ThrottlePolicyOnBattery types.ThrottlePolicy `yaml:"throttle_policy_on_battery" json:"throttle_policy_on_battery"`
	ChangePolicyOnAC        bool                 `yaml:"change_throttle_policy_on_ac" json:"change_throttle_policy_on_ac"`
	ChangePolicyOnBattery   bool                 `yaml:"change_throttle_policy_on_battery" json:"change_throttle_policy_on_battery"`

	PolicyLinkedEPP bool                                            `yaml:"throttle_policy_linked_epp" json:"throttle_policy_linked_epp"`
	EPPForPolicy    map[types.ThrottlePolicy]types.EnergyPreference `yaml:"throttle_epp" json:"throttle_epp"`

	AttributeSettings map[types.AttrName]int32                          `yaml:"attribute_settings" json:"attribute_settings"`
	ProfileTunings    map[types.ThrottlePolicy]map[types.AttrName]int32 `yaml:"profile_tunings" json:"profile_tunings"`

	LastPowerPlugged bool `yaml:"last_power_plugged" json:"last_power_plugged"`

	// Commands run on a real transition to mains or battery power.
	ACCommand      string `yaml:"ac_command" json:"ac_command"`
	BatteryCommand string `yaml:"bat_command" json:"bat_command"`
}

// Default returns the policy used when no file exists.
func Default() *Store {
	return &Store{
		ChargeLimit:             MaxChargeLimit,
		ThrottlePolicyOnAC:      types.Performance,
		ThrottlePolicyOnBattery: types.Quiet,
		ChangePolicyOnAC:        true,
		ChangePolicyOnBattery:   true,
		PolicyLinkedEPP:         true,
		EPPForPolicy:            DefaultEPP(),
		AttributeSettings:       map[types.AttrName]int32{},
		ProfileTunings:          map[types.ThrottlePolicy]map[types.AttrName]int32{},
		LastPowerPlugged:        true,
	}
}

// DefaultEPP is the stock policy to energy preference table.
func DefaultEPP() map[types.ThrottlePolicy]types.EnergyPreference {
	return map[types.ThrottlePolicy]types.EnergyPreference{
		types.Balanced:    types.EPPBalancePerformance,
		types.Performance: types.EPPPerformance,
		types.Quiet:       types.EPPPower,
	}
}

// ValidChargeLimit reports whether v is an acceptable charge ceiling.
func ValidChargeLimit(v uint8) bool {
	return v >= MinChargeLimit && v <= MaxChargeLimit
}

// Normalize fills missing EPP entries with defaults, allocates nil maps
// and drops empty per-profile tuning maps.
func (s *Store) Normalize() {
	if s.EPPForPolicy == nil {
		s.EPPForPolicy = map[types.ThrottlePolicy]types.EnergyPreference{}
	}
	for p, e := range DefaultEPP() {
		if _, ok := s.EPPForPolicy[p]; !ok {
			s.EPPForPolicy[p] = e
		}
	}
	if s.AttributeSettings == nil {
		s.AttributeSettings = map[types.AttrName]int32{}
	}
	if s.ProfileTunings == nil {
		s.ProfileTunings = map[types.ThrottlePolicy]map[types.AttrName]int32{}
	}
	for p, m := range s.ProfileTunings {
		if len(m) == 0 {
			delete(s.ProfileTunings, p)
		}
	}
}

// Validate checks the store invariants.
func (s *Store) Validate() error {
	if !ValidChargeLimit(s.ChargeLimit) {
		return fmt.Errorf("%w: charge limit %d outside [%d,%d]", ErrInvariant, s.ChargeLimit, MinChargeLimit, MaxChargeLimit)
	}
	if s.BaseChargeLimit != 0 && !ValidChargeLimit(s.BaseChargeLimit) {
		return fmt.Errorf("%w: base charge limit %d outside [%d,%d]", ErrInvariant, s.BaseChargeLimit, MinChargeLimit, MaxChargeLimit)
	}
	if !s.ThrottlePolicyOnAC.Valid() || !s.ThrottlePolicyOnBattery.Valid() {
		return fmt.Errorf("%w: unknown throttle policy", ErrInvariant)
	}
	for p, e := range s.EPPForPolicy {
		if !p.Valid() || !e.Valid() {
			return fmt.Errorf("%w: bad epp entry %d=%d", ErrInvariant, p, e)
		}
	}
	for p, m := range s.ProfileTunings {
		if !p.Valid() {
			return fmt.Errorf("%w: profile tunings for unknown policy %d", ErrInvariant, p)
		}
		for name := range m {
			if !name.IsProfileScoped() {
				return fmt.Errorf("%w: %s is not a power-limit attribute", ErrInvariant, name)
			}
		}
	}
	return nil
}

// EPP returns the preference configured for p.
func (s *Store) EPP(p types.ThrottlePolicy) types.EnergyPreference {
	if e, ok := s.EPPForPolicy[p]; ok {
		return e
	}
	return DefaultEPP()[p]
}

// Tuning returns the profile override of attr under p, if any.
func (s *Store) Tuning(p types.ThrottlePolicy, attr types.AttrName) (int32, bool) {
	v, ok := s.ProfileTunings[p][attr]
	return v, ok
}

// SetTuning records a profile override.
func (s *Store) SetTuning(p types.ThrottlePolicy, attr types.AttrName, v int32) {
	if s.ProfileTunings == nil {
		s.ProfileTunings = map[types.ThrottlePolicy]map[types.AttrName]int32{}
	}
	m := s.ProfileTunings[p]
	if m == nil {
		m = map[types.AttrName]int32{}
		s.ProfileTunings[p] = m
	}
	m[attr] = v
}

// Equal reports field-wise equality. Nil and empty maps compare equal.
func (s *Store) Equal(o *Store) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.ChargeLimit == o.ChargeLimit &&
		s.BaseChargeLimit == o.BaseChargeLimit &&
		s.ThrottlePolicyOnAC == o.ThrottlePolicyOnAC &&
		s.ThrottlePolicyOnBattery == o.ThrottlePolicyOnBattery &&
		s.ChangePolicyOnAC == o.ChangePolicyOnAC &&
		s.ChangePolicyOnBattery == o.ChangePolicyOnBattery &&
		s.PolicyLinkedEPP == o.PolicyLinkedEPP &&
		maps.Equal(s.EPPForPolicy, o.EPPForPolicy) &&
		maps.Equal(s.AttributeSettings, o.AttributeSettings) &&
		maps.EqualFunc(s.ProfileTunings, o.ProfileTunings, func(a, b map[types.AttrName]int32) bool {
			return maps.Equal(a, b)
		}) &&
		s.LastPowerPlugged == o.LastPowerPlugged &&
		s.ACCommand == o.ACCommand &&
		s.BatteryCommand == o.BatteryCommand
}

// Clone returns a deep copy.
func (s *Store) Clone() *Store {
	c := *s
	c.EPPForPolicy = maps.Clone(s.EPPForPolicy)
	c.AttributeSettings = maps.Clone(s.AttributeSettings)
	if s.ProfileTunings != nil {
		c.ProfileTunings = make(map[types.ThrottlePolicy]map[types.AttrName]int32, len(s.ProfileTunings))
		for p, m := range s.ProfileTunings {
			c.ProfileTunings[p] = maps.Clone(m)
		}
	}
	return &c
}

package types

import (
	"fmt"
	"strings"
)

// ThrottlePolicy is a platform thermal/performance profile. The numeric
// values match the asus-wmi throttle_thermal_policy encoding.
type ThrottlePolicy uint8

const (
	Balanced ThrottlePolicy = iota
	Performance
	Quiet
)

// ThrottlePolicies lists every policy in cycle order.
var ThrottlePolicies = []ThrottlePolicy{Balanced, Performance, Quiet}

func (p ThrottlePolicy) String() string {
	switch p {
	case Balanced:
		return "balanced"
	case Performance:
		return "performance"
	case Quiet:
		return "quiet"
	default:
		return fmt.Sprintf("throttle(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the known policies.
func (p ThrottlePolicy) Valid() bool { return p <= Quiet }

// Next returns the following policy in the fixed cycle
// Balanced -> Performance -> Quiet -> Balanced.
func (p ThrottlePolicy) Next() ThrottlePolicy {
	switch p {
	case Balanced:
		return Performance
	case Performance:
		return Quiet
	default:
		return Balanced
	}
}

// ParseThrottlePolicy accepts the policy names used in config files and
// by the kernel platform_profile interface ("low-power" maps to Quiet).
func ParseThrottlePolicy(s string) (ThrottlePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "balanced", "0":
		return Balanced, nil
	case "performance", "1":
		return Performance, nil
	case "quiet", "low-power", "2":
		return Quiet, nil
	default:
		return 0, fmt.Errorf("unknown throttle policy %q", s)
	}
}

func (p ThrottlePolicy) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid throttle policy %d", uint8(p))
	}
	return []byte(p.String()), nil
}

func (p *ThrottlePolicy) UnmarshalText(b []byte) error {
	v, err := ParseThrottlePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// EnergyPreference is a cpufreq energy_performance_preference value.
type EnergyPreference uint8

const (
	EPPDefault EnergyPreference = iota
	EPPPerformance
	EPPBalancePerformance
	EPPBalancePower
	EPPPower
)

var eppNames = [...]string{
	EPPDefault:            "default",
	EPPPerformance:        "performance",
	EPPBalancePerformance: "balance_performance",
	EPPBalancePower:       "balance_power",
	EPPPower:              "power",
}

func (e EnergyPreference) String() string {
	if int(e) < len(eppNames) {
		return eppNames[e]
	}
	return fmt.Sprintf("epp(%d)", uint8(e))
}

func (e EnergyPreference) Valid() bool { return int(e) < len(eppNames) }

// ParseEnergyPreference parses the sysfs spelling of an EPP value.
func ParseEnergyPreference(s string) (EnergyPreference, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range eppNames {
		if s == name {
			return EnergyPreference(i), nil
		}
	}
	return 0, fmt.Errorf("unknown energy preference %q", s)
}

func (e EnergyPreference) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("invalid energy preference %d", uint8(e))
	}
	return []byte(e.String()), nil
}

func (e *EnergyPreference) UnmarshalText(b []byte) error {
	v, err := ParseEnergyPreference(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Governor is a cpufreq scaling governor name. Only powersave matters
// to EPP handling, so the type stays an open string.
type Governor string

const (
	GovernorPowersave   Governor = "powersave"
	GovernorPerformance Governor = "performance"
)

// Package hal defines the hardware capability set the policy engine
// drives. Each capability is an interface; a nil capability on Platform
// means the machine does not have it.
package hal

import (
	"context"

	"github.com/ja7ad/policyd/pkg/types"
)

// ChargeControl reads and writes the battery charge ceiling in percent.
type ChargeControl interface {
	ChargeEndThreshold() (uint8, error)
	SetChargeEndThreshold(v uint8) error
}

// ThrottleControl reads and writes the platform throttle policy.
type ThrottleControl interface {
	ThrottlePolicy() (types.ThrottlePolicy, error)
	SetThrottlePolicy(p types.ThrottlePolicy) error
}

// CPUControl is one logical CPU's cpufreq policy.
type CPUControl interface {
	// AvailableEPP lists the preferences the driver accepts. It fails
	// when the active driver has no EPP support at all.
	AvailableEPP() ([]types.EnergyPreference, error)
	SetEPP(e types.EnergyPreference) error
	Governor() (types.Governor, error)
	SetGovernor(g types.Governor) error
}

// PowerSupply reports whether mains power is connected.
type PowerSupply interface {
	Online() (bool, error)
}

// Attribute is one firmware attribute discovered at startup.
type Attribute interface {
	Descriptor() Descriptor
	CurrentValue() (int32, error)
	SetCurrentValue(v int32) error
}

// Watchable is implemented by controls that can report out-of-band
// changes. Watch blocks, calling fn after each change, until ctx is done.
// It returns an error wrapping ErrUnsupported if no notification source
// exists for the control.
type Watchable interface {
	Watch(ctx context.Context, fn func()) error
}

// Platform is the capability set of one machine.
type Platform struct {
	Charge     ChargeControl
	Throttle   ThrottleControl
	CPUs       []CPUControl
	Power      PowerSupply
	Attributes []Attribute
}

// HasEPP reports whether at least one CPU exposes a cpufreq policy.
func (p *Platform) HasEPP() bool { return len(p.CPUs) > 0 }

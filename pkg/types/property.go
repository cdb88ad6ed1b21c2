package types

// Property names a root-object property of the platform bus object.
type Property string

const (
	PropChargeEndThreshold      Property = "charge_control_end_threshold"
	PropThrottlePolicy          Property = "throttle_thermal_policy"
	PropThrottleLinkedEPP       Property = "throttle_policy_linked_epp"
	PropThrottlePolicyOnBattery Property = "throttle_policy_on_battery"
	PropThrottlePolicyOnAC      Property = "throttle_policy_on_ac"
	PropChangePolicyOnBattery   Property = "change_throttle_policy_on_battery"
	PropChangePolicyOnAC        Property = "change_throttle_policy_on_ac"
	PropThrottleQuietEPP        Property = "throttle_quiet_epp"
	PropThrottleBalancedEPP     Property = "throttle_balanced_epp"
	PropThrottlePerformanceEPP  Property = "throttle_performance_epp"
	PropVersion                 Property = "version"
)

// Properties lists every root property in a stable order.
var Properties = []Property{
	PropChargeEndThreshold,
	PropThrottlePolicy,
	PropThrottleLinkedEPP,
	PropThrottlePolicyOnBattery,
	PropThrottlePolicyOnAC,
	PropChangePolicyOnBattery,
	PropChangePolicyOnAC,
	PropThrottleQuietEPP,
	PropThrottleBalancedEPP,
	PropThrottlePerformanceEPP,
	PropVersion,
}

// EPPProperty returns the per-policy EPP property for p.
func EPPProperty(p ThrottlePolicy) Property {
	switch p {
	case Performance:
		return PropThrottlePerformanceEPP
	case Quiet:
		return PropThrottleQuietEPP
	default:
		return PropThrottleBalancedEPP
	}
}

package types

// AttrName is the name of a firmware attribute as exposed under
// /sys/class/firmware-attributes/*/attributes/<name>.
type AttrName string

// Power-limit class attributes. Their effect is scoped to the active
// throttle policy, so user values are stored per profile.
const (
	PptPl1Spl       AttrName = "ppt_pl1_spl"
	PptPl2Sppt      AttrName = "ppt_pl2_sppt"
	PptPl3Fppt      AttrName = "ppt_pl3_fppt"
	PptFppt         AttrName = "ppt_fppt"
	PptApuSppt      AttrName = "ppt_apu_sppt"
	PptPlatformSppt AttrName = "ppt_platform_sppt"
	NvDynamicBoost  AttrName = "nv_dynamic_boost"
	NvTempTarget    AttrName = "nv_temp_target"
	DgpuBaseTgp     AttrName = "dgpu_base_tgp"
	DgpuTgp         AttrName = "dgpu_tgp"
)

var profileScoped = map[AttrName]struct{}{
	PptPl1Spl:       {},
	PptPl2Sppt:      {},
	PptPl3Fppt:      {},
	PptFppt:         {},
	PptApuSppt:      {},
	PptPlatformSppt: {},
	NvDynamicBoost:  {},
	NvTempTarget:    {},
	DgpuBaseTgp:     {},
	DgpuTgp:         {},
}

// IsProfileScoped reports whether n belongs to the power-limit class.
func (n AttrName) IsProfileScoped() bool {
	_, ok := profileScoped[n]
	return ok
}

func (n AttrName) String() string { return string(n) }

//go:build linux

package platform

import (
	"path"
	"strings"

	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/system/sysfs"
	"github.com/ja7ad/policyd/pkg/types"
)

const (
	eppAvailable = "energy_performance_available_preferences"
	eppCurrent   = "energy_performance_preference"
	governorFile = "scaling_governor"
)

// cpuFreq is one devices/system/cpu/cpuN/cpufreq directory.
type cpuFreq struct {
	fs  sysfs.FS
	dir string
}

func (c *cpuFreq) AvailableEPP() ([]types.EnergyPreference, error) {
	rel := path.Join(c.dir, eppAvailable)
	s, err := c.fs.ReadString(rel)
	if err != nil {
		if sysfs.IsNotExist(err) {
			return nil, hal.Unsupportedf("%s: no epp", c.dir)
		}
		return nil, hal.IOError("read "+rel, err)
	}
	var out []types.EnergyPreference
	for _, f := range strings.Fields(s) {
		// drivers may list values outside the known set
		if e, err := types.ParseEnergyPreference(f); err == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *cpuFreq) SetEPP(e types.EnergyPreference) error {
	rel := path.Join(c.dir, eppCurrent)
	if err := c.fs.WriteString(rel, e.String()); err != nil {
		return hal.IOError("write "+rel, err)
	}
	return nil
}

func (c *cpuFreq) Governor() (types.Governor, error) {
	rel := path.Join(c.dir, governorFile)
	s, err := c.fs.ReadString(rel)
	if err != nil {
		return "", hal.IOError("read "+rel, err)
	}
	return types.Governor(s), nil
}

func (c *cpuFreq) SetGovernor(g types.Governor) error {
	rel := path.Join(c.dir, governorFile)
	if err := c.fs.WriteString(rel, string(g)); err != nil {
		return hal.IOError("write "+rel, err)
	}
	return nil
}

func probeCPUs(fs sysfs.FS) []hal.CPUControl {
	dirs, _ := fs.Glob("devices/system/cpu/cpu[0-9]*/cpufreq")
	var out []hal.CPUControl
	for _, d := range dirs {
		if !fs.Exists(path.Join(d, governorFile)) {
			continue
		}
		out = append(out, &cpuFreq{fs: fs, dir: d})
	}
	return out
}

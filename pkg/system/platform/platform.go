//go:build linux

// Package platform implements the hal capability set on Linux sysfs.
//
// Every capability is probed independently; a missing file leaves that
// capability nil rather than failing the probe. The root is injectable
// so tests can run against a synthetic tree.
package platform

import (
	"log/slog"

	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/system/sysfs"
)

// Probe discovers the capabilities present below sysRoot ("" means /sys).
func Probe(sysRoot string, log *slog.Logger) *hal.Platform {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	if log == nil {
		log = slog.Default()
	}
	fs := sysfs.New(sysRoot)
	p := &hal.Platform{}

	if c, ok := probeCharge(fs); ok {
		p.Charge = c
		log.Debug("charge control", "file", c.rel)
	} else {
		log.Info("no battery charge control")
	}

	if m, ok := probeMains(fs); ok {
		p.Power = m
		log.Debug("power supply", "file", m.rel)
	} else {
		log.Info("no mains power supply")
	}

	if t, ok := probeThrottle(fs); ok {
		p.Throttle = t
	} else {
		log.Info("no throttle policy control")
	}

	p.CPUs = probeCPUs(fs)
	log.Debug("cpufreq policies", "count", len(p.CPUs))

	dirs, _ := fs.Glob(firmwareAttributes)
	for _, d := range dirs {
		a, err := newFirmwareAttr(fs, d)
		if err != nil {
			log.Debug("skip firmware attribute", "dir", d, "err", err)
			continue
		}
		p.Attributes = append(p.Attributes, a)
	}
	log.Debug("firmware attributes", "count", len(p.Attributes))

	return p
}

//go:build linux

package platform

import (
	"context"
	"fmt"
	"path"

	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/system/sysfs"
)

const powerSupplyClass = "class/power_supply"

// chargeLimit drives BATx/charge_control_end_threshold.
type chargeLimit struct {
	fs  sysfs.FS
	rel string
}

func (c *chargeLimit) ChargeEndThreshold() (uint8, error) {
	v, err := c.fs.ReadInt(c.rel)
	if err != nil {
		return 0, hal.IOError("read "+c.rel, err)
	}
	if v < 0 || v > 100 {
		return 0, hal.IOError("read "+c.rel, fmt.Errorf("out of range: %d", v))
	}
	return uint8(v), nil
}

func (c *chargeLimit) SetChargeEndThreshold(v uint8) error {
	if v > 100 {
		return hal.Invalidf("charge threshold %d above 100", v)
	}
	if err := c.fs.WriteInt(c.rel, int64(v)); err != nil {
		return hal.IOError("write "+c.rel, err)
	}
	return nil
}

func (c *chargeLimit) Watch(ctx context.Context, fn func()) error {
	return watchAttr(ctx, c.fs.Path(c.rel), fn)
}

// mains reads <supply>/online for the first supply of type Mains.
type mains struct {
	fs  sysfs.FS
	rel string
}

func (m *mains) Online() (bool, error) {
	v, err := m.fs.ReadInt(m.rel)
	if err != nil {
		return false, hal.IOError("read "+m.rel, err)
	}
	return v == 1, nil
}

func probeCharge(fs sysfs.FS) (*chargeLimit, bool) {
	files, _ := fs.Glob(path.Join(powerSupplyClass, "*", "charge_control_end_threshold"))
	for _, f := range files {
		dir := path.Dir(f)
		if t, err := fs.ReadString(path.Join(dir, "type")); err == nil && t != "Battery" {
			continue
		}
		return &chargeLimit{fs: fs, rel: f}, true
	}
	return nil, false
}

func probeMains(fs sysfs.FS) (*mains, bool) {
	kinds, _ := fs.Glob(path.Join(powerSupplyClass, "*", "type"))
	for _, t := range kinds {
		kind, err := fs.ReadString(t)
		if err != nil || kind != "Mains" {
			continue
		}
		online := path.Join(path.Dir(t), "online")
		if fs.Exists(online) {
			return &mains{fs: fs, rel: online}, true
		}
	}
	return nil, false
}

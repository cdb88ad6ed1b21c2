//go:build linux

package platform

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/system/sysfs"
	"github.com/ja7ad/policyd/pkg/types"
)

const (
	wmiThrottle        = "devices/platform/asus-nb-wmi/throttle_thermal_policy"
	acpiProfile        = "firmware/acpi/platform_profile"
	acpiProfileChoices = "firmware/acpi/platform_profile_choices"
)

// wmiThrottleControl uses the vendor's numeric encoding directly.
type wmiThrottleControl struct {
	fs sysfs.FS
}

func (w *wmiThrottleControl) ThrottlePolicy() (types.ThrottlePolicy, error) {
	v, err := w.fs.ReadInt(wmiThrottle)
	if err != nil {
		return 0, hal.IOError("read "+wmiThrottle, err)
	}
	p := types.ThrottlePolicy(v)
	if v < 0 || !p.Valid() {
		return 0, hal.IOError("read "+wmiThrottle, fmt.Errorf("unknown policy %d", v))
	}
	return p, nil
}

func (w *wmiThrottleControl) SetThrottlePolicy(p types.ThrottlePolicy) error {
	if !p.Valid() {
		return hal.Invalidf("throttle policy %d", uint8(p))
	}
	if err := w.fs.WriteInt(wmiThrottle, int64(p)); err != nil {
		return hal.IOError("write "+wmiThrottle, err)
	}
	return nil
}

func (w *wmiThrottleControl) Watch(ctx context.Context, fn func()) error {
	return watchAttr(ctx, w.fs.Path(wmiThrottle), fn)
}

// profileControl uses the generic ACPI platform_profile interface.
type profileControl struct {
	fs      sysfs.FS
	choices []string
}

func (c *profileControl) ThrottlePolicy() (types.ThrottlePolicy, error) {
	s, err := c.fs.ReadString(acpiProfile)
	if err != nil {
		return 0, hal.IOError("read "+acpiProfile, err)
	}
	p, err := types.ParseThrottlePolicy(s)
	if err != nil {
		return 0, hal.IOError("read "+acpiProfile, err)
	}
	return p, nil
}

func (c *profileControl) SetThrottlePolicy(p types.ThrottlePolicy) error {
	name, ok := c.profileName(p)
	if !ok {
		return hal.Invalidf("platform_profile has no choice for %s (have %v)", p, c.choices)
	}
	if err := c.fs.WriteString(acpiProfile, name); err != nil {
		return hal.IOError("write "+acpiProfile, err)
	}
	return nil
}

func (c *profileControl) Watch(ctx context.Context, fn func()) error {
	return watchAttr(ctx, c.fs.Path(acpiProfile), fn)
}

func (c *profileControl) profileName(p types.ThrottlePolicy) (string, bool) {
	var want []string
	switch p {
	case types.Balanced:
		want = []string{"balanced"}
	case types.Performance:
		want = []string{"performance"}
	case types.Quiet:
		want = []string{"quiet", "low-power"}
	}
	for _, w := range want {
		if len(c.choices) == 0 || slices.Contains(c.choices, w) {
			return w, true
		}
	}
	return "", false
}

func probeThrottle(fs sysfs.FS) (hal.ThrottleControl, bool) {
	if fs.Exists(wmiThrottle) {
		return &wmiThrottleControl{fs: fs}, true
	}
	if fs.Exists(acpiProfile) {
		c := &profileControl{fs: fs}
		if s, err := fs.ReadString(acpiProfileChoices); err == nil {
			c.choices = strings.Fields(s)
		}
		return c, true
	}
	return nil, false
}

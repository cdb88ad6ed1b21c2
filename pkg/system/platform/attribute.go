//go:build linux

package platform

import (
	"context"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"

	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/system/sysfs"
	"github.com/ja7ad/policyd/pkg/types"
)

const firmwareAttributes = "class/firmware-attributes/*/attributes/*"

// firmwareAttr is one integer-valued firmware-attributes entry.
type firmwareAttr struct {
	fs   sysfs.FS
	dir  string
	desc hal.Descriptor
}

func (a *firmwareAttr) Descriptor() hal.Descriptor { return a.desc }

func (a *firmwareAttr) CurrentValue() (int32, error) {
	rel := path.Join(a.dir, "current_value")
	v, err := readInt32(a.fs, rel)
	if err != nil {
		return 0, hal.IOError("read "+rel, err)
	}
	return v, nil
}

func (a *firmwareAttr) SetCurrentValue(v int32) error {
	if err := a.desc.Check(v); err != nil {
		return err
	}
	rel := path.Join(a.dir, "current_value")
	if err := a.fs.WriteInt(rel, int64(v)); err != nil {
		return hal.IOError("write "+rel, err)
	}
	return nil
}

func (a *firmwareAttr) Watch(ctx context.Context, fn func()) error {
	return watchAttr(ctx, a.fs.Path(a.dir, "current_value"), fn)
}

func newFirmwareAttr(fs sysfs.FS, dir string) (*firmwareAttr, error) {
	cur := path.Join(dir, "current_value")
	if _, err := readInt32(fs, cur); err != nil {
		return nil, fmt.Errorf("%s: not an integer attribute: %w", dir, err)
	}
	a := &firmwareAttr{fs: fs, dir: dir}
	a.desc = hal.Descriptor{
		Name:     types.AttrName(path.Base(dir)),
		Default:  optInt(fs, path.Join(dir, "default_value")),
		Min:      optInt(fs, path.Join(dir, "min_value")),
		Max:      optInt(fs, path.Join(dir, "max_value")),
		Step:     optInt(fs, path.Join(dir, "scalar_increment")),
		Possible: possibleValues(fs, path.Join(dir, "possible_values")),
	}
	return a, nil
}

func optInt(fs sysfs.FS, rel string) types.Option[int32] {
	v, err := readInt32(fs, rel)
	if err != nil {
		return types.None[int32]()
	}
	return types.Some(v)
}

// readInt32 reads an integer attribute that must fit in 32 bits.
func readInt32(fs sysfs.FS, rel string) (int32, error) {
	v, err := fs.ReadInt(rel)
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%s: %d out of 32-bit range", rel, v)
	}
	return int32(v), nil
}

// possibleValues parses a ';'-separated list; non-integer entries make
// the whole list unusable for validation.
func possibleValues(fs sysfs.FS, rel string) []int32 {
	s, err := fs.ReadString(rel)
	if err != nil {
		return nil
	}
	var out []int32
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			return nil
		}
		out = append(out, int32(v))
	}
	return out
}

package hal

import (
	"slices"

	"github.com/ja7ad/policyd/pkg/types"
)

// Descriptor is the immutable metadata of a firmware attribute.
type Descriptor struct {
	Name     types.AttrName
	Default  types.Option[int32]
	Min      types.Option[int32]
	Max      types.Option[int32]
	Step     types.Option[int32]
	Possible []int32
}

// Descriptor field names as reported by AvailableFields.
const (
	FieldDefault  = "default_value"
	FieldMin      = "min_value"
	FieldMax      = "max_value"
	FieldStep     = "scalar_increment"
	FieldPossible = "possible_values"
)

// AvailableFields lists the optional fields that are populated.
func (d Descriptor) AvailableFields() []string {
	out := make([]string, 0, 5)
	if d.Default.IsSome() {
		out = append(out, FieldDefault)
	}
	if d.Min.IsSome() {
		out = append(out, FieldMin)
	}
	if d.Max.IsSome() {
		out = append(out, FieldMax)
	}
	if d.Step.IsSome() {
		out = append(out, FieldStep)
	}
	if len(d.Possible) > 0 {
		out = append(out, FieldPossible)
	}
	return out
}

// Check validates v against the bounds, the increment and the discrete
// value set. Absent bounds do not constrain. The increment counts from
// the minimum, or from zero when there is none.
func (d Descriptor) Check(v int32) error {
	if lo, ok := d.Min.Get(); ok && v < lo {
		return Invalidf("%s: %d below minimum %d", d.Name, v, lo)
	}
	if hi, ok := d.Max.Get(); ok && v > hi {
		return Invalidf("%s: %d above maximum %d", d.Name, v, hi)
	}
	if step, ok := d.Step.Get(); ok && step > 1 {
		base := d.Min.Or(0)
		if (int64(v)-int64(base))%int64(step) != 0 {
			return Invalidf("%s: %d not a multiple of %d from %d", d.Name, v, step, base)
		}
	}
	if len(d.Possible) > 0 && !slices.Contains(d.Possible, v) {
		return Invalidf("%s: %d not in %v", d.Name, v, d.Possible)
	}
	return nil
}

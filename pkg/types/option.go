package types

// Option holds a value that may be absent. Firmware descriptors use it
// for default/min/max/step so that "no such field" never collides with
// a legitimate value such as -1.
type Option[T any] struct {
	value T
	ok    bool
}

// Some returns a present Option.
func Some[T any](v T) Option[T] { return Option[T]{value: v, ok: true} }

// None returns an absent Option.
func None[T any]() Option[T] { return Option[T]{} }

// Get returns the value and whether it is present.
func (o Option[T]) Get() (T, bool) { return o.value, o.ok }

func (o Option[T]) IsSome() bool { return o.ok }

// Or returns the value, or def when absent.
func (o Option[T]) Or(def T) T {
	if o.ok {
		return o.value
	}
	return def
}

// Ptr returns a pointer to a copy of the value, or nil when absent.
func (o Option[T]) Ptr() *T {
	if !o.ok {
		return nil
	}
	v := o.value
	return &v
}

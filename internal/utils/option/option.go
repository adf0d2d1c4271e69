package option

import "fmt"

// Option represents a value that may or may not be present.
type Option[T any] struct {
	value T
	some  bool
}

// Some creates a new Option holding a value.
func Some[T any](value T) Option[T] {
	return Option[T]{value: value, some: true}
}

// None creates a new empty Option.
func None[T any]() Option[T] {
	return Option[T]{}
}

// IsNone reports whether the Option is empty.
func (o Option[T]) IsNone() bool {
	return !o.some
}

// IsSome reports whether the Option holds a value.
func (o Option[T]) IsSome() bool {
	return o.some
}

// Get returns the value of the Option. Panics if the Option is empty.
func (o Option[T]) Get() T {
	if !o.some {
		panic("option is empty")
	}
	return o.value
}

// Unpack returns the value and whether it was present, in the comma-ok style.
func (o Option[T]) Unpack() (T, bool) {
	return o.value, o.some
}

// GetOrElse returns the value of the Option, or a default value if the Option is empty.
func (o Option[T]) GetOrElse(defaultValue T) T {
	if !o.some {
		return defaultValue
	}
	return o.value
}

// Take returns the current Option and leaves None in its place.
func (o *Option[T]) Take() Option[T] {
	taken := *o
	*o = None[T]()
	return taken
}

func (o Option[T]) String() string {
	if !o.some {
		return "None"
	}
	return fmt.Sprintf("Some(%v)", o.value)
}

package vm

import (
	"github.com/halcyonml/halcyon/errors"
	"github.com/halcyonml/halcyon/internal/ffi"
	"github.com/halcyonml/halcyon/status"
)

// Scalar constrains the Go types that lift into VM primitive values.
type Scalar interface {
	int8 | int16 | int32 | int64 | float32 | float64
}

// Owner is anything that owns a runtime instance, typically
// runtime.Instance. Containers created through it share its lifetime
// rules.
type Owner interface {
	InstanceHandle() ffi.InstanceHandle
}

// Kind names a primitive slot type.
type Kind uint8

const (
	KindNone Kind = Kind(ffi.ValueTypeNone)
	KindI8   Kind = Kind(ffi.ValueTypeI8)
	KindI16  Kind = Kind(ffi.ValueTypeI16)
	KindI32  Kind = Kind(ffi.ValueTypeI32)
	KindI64  Kind = Kind(ffi.ValueTypeI64)
	KindF32  Kind = Kind(ffi.ValueTypeF32)
	KindF64  Kind = Kind(ffi.ValueTypeF64)
)

func (k Kind) String() string {
	return ffi.ValueType(k).String()
}

// KindOf returns the VM kind corresponding to T.
func KindOf[T Scalar]() Kind {
	var zero T
	switch any(zero).(type) {
	case int8:
		return KindI8
	case int16:
		return KindI16
	case int32:
		return KindI32
	case int64:
		return KindI64
	case float32:
		return KindF32
	case float64:
		return KindF64
	default:
		return KindNone
	}
}

// Value is a typed VM primitive.
type Value[T Scalar] struct {
	raw ffi.Value
}

// NewValue lifts a Go scalar into a VM value.
func NewValue[T Scalar](v T) Value[T] {
	return Value[T]{raw: rawValue(v)}
}

func rawValue[T Scalar](v T) ffi.Value {
	switch x := any(v).(type) {
	case int8:
		return ffi.ValueI8(x)
	case int16:
		return ffi.ValueI16(x)
	case int32:
		return ffi.ValueI32(x)
	case int64:
		return ffi.ValueI64(x)
	case float32:
		return ffi.ValueF32(x)
	case float64:
		return ffi.ValueF64(x)
	default:
		return ffi.Value{}
	}
}

func fromRawValue[T Scalar](raw ffi.Value) T {
	var zero T
	switch any(zero).(type) {
	case int8:
		return any(raw.I8()).(T)
	case int16:
		return any(raw.I16()).(T)
	case int32:
		return any(raw.I32()).(T)
	case int64:
		return any(raw.I64()).(T)
	case float32:
		return any(raw.F32()).(T)
	case float64:
		return any(raw.F64()).(T)
	default:
		return zero
	}
}

// ValueFromRaw wraps a core value word, which must carry kind T.
// Wrapping a word of another kind fails rather than reinterpreting its
// payload bits.
func ValueFromRaw[T Scalar](raw ffi.Value) (Value[T], error) {
	if want := KindOf[T](); Kind(raw.Type) != want {
		return Value[T]{}, errors.TypeMismatch(errors.PhaseMarshal, []string{"value"},
			want.String(), Kind(raw.Type).String())
	}
	return Value[T]{raw: raw}, nil
}

// Raw returns the core value word.
func (v Value[T]) Raw() ffi.Value { return v.raw }

// Get lowers the value back to its Go scalar.
func (v Value[T]) Get() T {
	return fromRawValue[T](v.raw)
}

// Kind returns the value's VM kind.
func (v Value[T]) Kind() Kind {
	return Kind(v.raw.Type)
}

func statusErr(st ffi.RawStatus) error {
	return status.FromRaw(st).Consume()
}

package ffi

import "math"

// Ptr is an opaque pointer-sized word crossing the ABI boundary.
// 0 is always invalid.
type Ptr uint64

// Typed handle aliases. The core hands these out; the bindings never
// fabricate them.
type (
	InstanceHandle       Ptr
	DriverRegistryHandle Ptr
	DeviceHandle         Ptr
	SessionHandle        Ptr
	ContextHandle        Ptr
	ModuleHandle         Ptr
	ListHandle           Ptr
	BufferViewHandle     Ptr
	CallHandle           Ptr
)

// ValueType tags a primitive slot in the VM's two-axis type system.
type ValueType uint8

const (
	ValueTypeNone ValueType = iota
	ValueTypeI8
	ValueTypeI16
	ValueTypeI32
	ValueTypeI64
	ValueTypeF32
	ValueTypeF64
)

var valueTypeNames = [...]string{
	ValueTypeNone: "none",
	ValueTypeI8:   "i8",
	ValueTypeI16:  "i16",
	ValueTypeI32:  "i32",
	ValueTypeI64:  "i64",
	ValueTypeF32:  "f32",
	ValueTypeF64:  "f64",
}

func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return "unknown"
}

// RefType identifies a registered reference type. The low RefTypeTagBits
// bits are reserved for the inline refcount tag, so registry entries are
// spaced by 1<<RefTypeTagBits and descriptors store the shifted bits.
type RefType uint64

// RefTypeTagBits is the number of low bits reserved in a RefType word.
const RefTypeTagBits = 3

const (
	// RefTypeNull marks a slot with no reference type.
	RefTypeNull RefType = 0
	// RefTypeAny matches any registered reference type.
	RefTypeAny RefType = ^RefType(0)
)

// refBitsAny is the shifted-bits sentinel for RefTypeAny inside a TypeDef.
const refBitsAny = (uint64(1) << 56) - 1

// RefBits converts a RefType word to descriptor bits, discarding the
// refcount tag bits.
func RefBits(t RefType) uint64 {
	if t == RefTypeAny {
		return refBitsAny
	}
	return uint64(t) >> RefTypeTagBits
}

// TypeDef is a packed per-slot type descriptor: the low byte holds the
// value kind, the remaining bits hold the shifted ref-type bits. Exactly
// one of the two is set, or neither for the untyped variant placeholder.
type TypeDef uint64

// MakeValueTypeDef builds a descriptor for a primitive value kind.
func MakeValueTypeDef(v ValueType) TypeDef {
	return TypeDef(v)
}

// MakeRefTypeDef builds a descriptor for a registered reference type.
func MakeRefTypeDef(t RefType) TypeDef {
	return TypeDef(RefBits(t) << 8)
}

// MakeVariantTypeDef builds the untyped variant descriptor.
func MakeVariantTypeDef() TypeDef {
	return 0
}

func (d TypeDef) ValueType() ValueType { return ValueType(d & 0xff) }
func (d TypeDef) RefBits() uint64      { return uint64(d) >> 8 }
func (d TypeDef) IsValue() bool        { return d.ValueType() != ValueTypeNone }
func (d TypeDef) IsRef() bool          { return d.ValueType() == ValueTypeNone && d.RefBits() != 0 }
func (d TypeDef) IsVariant() bool      { return d == 0 }
func (d TypeDef) IsAnyRef() bool       { return d.RefBits() == refBitsAny }

// Value is the wire representation of a primitive scalar: a type tag and
// a raw 64-bit payload read as a tagged union.
type Value struct {
	Type ValueType
	bits uint64
}

func ValueI8(v int8) Value   { return Value{ValueTypeI8, uint64(uint8(v))} }
func ValueI16(v int16) Value { return Value{ValueTypeI16, uint64(uint16(v))} }
func ValueI32(v int32) Value { return Value{ValueTypeI32, uint64(uint32(v))} }
func ValueI64(v int64) Value { return Value{ValueTypeI64, uint64(v)} }
func ValueF32(v float32) Value {
	return Value{ValueTypeF32, uint64(math.Float32bits(v))}
}
func ValueF64(v float64) Value {
	return Value{ValueTypeF64, math.Float64bits(v)}
}

func (v Value) I8() int8   { return int8(uint8(v.bits)) }
func (v Value) I16() int16 { return int16(uint16(v.bits)) }
func (v Value) I32() int32 { return int32(uint32(v.bits)) }
func (v Value) I64() int64 { return int64(v.bits) }
func (v Value) F32() float32 {
	return math.Float32frombits(uint32(v.bits))
}
func (v Value) F64() float64 {
	return math.Float64frombits(v.bits)
}

// Bits returns the raw payload word.
func (v Value) Bits() uint64 { return v.bits }

// ZeroValue returns the default value used when resizing value lists.
func ZeroValue(t ValueType) Value {
	return Value{Type: t}
}

// Ref is the wire representation of a counted reference: the registered
// type word plus the referenced object's handle.
type Ref struct {
	Type RefType
	Obj  Ptr
}

// NullRef is the empty reference.
var NullRef = Ref{}

func (r Ref) IsNull() bool { return r.Obj == 0 }

// StringCallback receives one enumerated item per invocation together
// with the opaque user-data word supplied at registration.
type StringCallback func(item string, user Ptr)

// ElementType describes the numeric element type of a buffer view.
type ElementType uint32

const (
	ElementTypeNone ElementType = iota
	ElementTypeSInt8
	ElementTypeSInt16
	ElementTypeSInt32
	ElementTypeSInt64
	ElementTypeUInt8
	ElementTypeUInt16
	ElementTypeUInt32
	ElementTypeUInt64
	ElementTypeFloat32
	ElementTypeFloat64
	ElementTypeBool8
)

var elementTypeNames = [...]string{
	ElementTypeNone:    "none",
	ElementTypeSInt8:   "si8",
	ElementTypeSInt16:  "si16",
	ElementTypeSInt32:  "si32",
	ElementTypeSInt64:  "si64",
	ElementTypeUInt8:   "ui8",
	ElementTypeUInt16:  "ui16",
	ElementTypeUInt32:  "ui32",
	ElementTypeUInt64:  "ui64",
	ElementTypeFloat32: "f32",
	ElementTypeFloat64: "f64",
	ElementTypeBool8:   "i1",
}

func (t ElementType) String() string {
	if int(t) < len(elementTypeNames) {
		return elementTypeNames[t]
	}
	return "unknown"
}

// ByteWidth returns the storage width of one element.
func (t ElementType) ByteWidth() int {
	switch t {
	case ElementTypeSInt8, ElementTypeUInt8, ElementTypeBool8:
		return 1
	case ElementTypeSInt16, ElementTypeUInt16:
		return 2
	case ElementTypeSInt32, ElementTypeUInt32, ElementTypeFloat32:
		return 4
	case ElementTypeSInt64, ElementTypeUInt64, ElementTypeFloat64:
		return 8
	default:
		return 0
	}
}

// EncodingType describes the physical layout of a buffer view.
type EncodingType uint32

const (
	EncodingTypeOpaque EncodingType = iota
	EncodingTypeDenseRowMajor
)

// AllocatorCommand selects the operation dispatched through an allocator
// control function.
type AllocatorCommand uint32

const (
	AllocatorCommandMalloc AllocatorCommand = iota
	AllocatorCommandCalloc
	AllocatorCommandRealloc
	AllocatorCommandFree
)

// AllocParams carries the parameters of an allocation command.
type AllocParams struct {
	ByteLength uint64
}

// Memory is linear storage addressed by the pointers an Allocator hands
// out.
type Memory interface {
	Read(addr uint64, length uint64) ([]byte, error)
	Write(addr uint64, data []byte) error
}

// Allocator is the foreign allocator contract: one control entry point
// dispatching malloc/calloc/realloc/free, plus access to the backing
// memory so the core can fill allocated blocks.
type Allocator interface {
	Ctl(cmd AllocatorCommand, params AllocParams, inout *Ptr) RawStatus
	Backing() Memory
}

func allocatorMalloc(a Allocator, n uint64) (Ptr, RawStatus) {
	var p Ptr
	st := a.Ctl(AllocatorCommandMalloc, AllocParams{ByteLength: n}, &p)
	return p, st
}

func allocatorFree(a Allocator, p Ptr) {
	StatusIgnore(a.Ctl(AllocatorCommandFree, AllocParams{}, &p))
}

package vm

import (
	"github.com/halcyonml/halcyon/internal/ffi"
)

// DynamicList is a growable list holding primitive values of one kind.
// Lists are thread-compatible, not thread-safe.
type DynamicList[T Scalar] struct {
	inst ffi.InstanceHandle
	h    ffi.ListHandle
}

// NewDynamicList creates a value list with the given initial capacity.
func NewDynamicList[T Scalar](owner Owner, capacity int) (*DynamicList[T], error) {
	inst := owner.InstanceHandle()
	def := ffi.MakeValueTypeDef(ffi.ValueType(KindOf[T]()))
	h, st := ffi.ListCreate(inst, def, uint64(capacity))
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return &DynamicList[T]{inst: inst, h: h}, nil
}

// Release drops the list. Held elements go with it.
func (l *DynamicList[T]) Release() {
	ffi.ListRelease(l.h)
}

// Size returns the element count.
func (l *DynamicList[T]) Size() (int, error) {
	n, st := ffi.ListSize(l.h)
	if !ffi.StatusIsOK(st) {
		return 0, statusErr(st)
	}
	return int(n), nil
}

// Capacity returns the current capacity.
func (l *DynamicList[T]) Capacity() (int, error) {
	n, st := ffi.ListCapacity(l.h)
	if !ffi.StatusIsOK(st) {
		return 0, statusErr(st)
	}
	return int(n), nil
}

// Reserve grows capacity to at least n.
func (l *DynamicList[T]) Reserve(n int) error {
	return statusErr(ffi.ListReserve(l.h, uint64(n)))
}

// Resize sets the element count; new slots hold T's zero value.
func (l *DynamicList[T]) Resize(n int) error {
	return statusErr(ffi.ListResize(l.h, uint64(n)))
}

// Clear removes all elements.
func (l *DynamicList[T]) Clear() error {
	return statusErr(ffi.ListClear(l.h))
}

// Push appends a value.
func (l *DynamicList[T]) Push(v T) error {
	return statusErr(ffi.ListPushValue(l.h, rawValue(v)))
}

// Get reads the value at index i.
func (l *DynamicList[T]) Get(i int) (T, error) {
	raw, st := ffi.ListGetValueAs(l.h, uint64(i), ffi.ValueType(KindOf[T]()))
	if !ffi.StatusIsOK(st) {
		var zero T
		return zero, statusErr(st)
	}
	return fromRawValue[T](raw), nil
}

// Set writes the value at index i.
func (l *DynamicList[T]) Set(i int, v T) error {
	return statusErr(ffi.ListSetValue(l.h, uint64(i), rawValue(v)))
}

// CopyTo copies count elements starting at srcIndex into dst starting at
// dstIndex. Both ranges must already be in bounds.
func (l *DynamicList[T]) CopyTo(srcIndex int, dst *DynamicList[T], dstIndex, count int) error {
	return statusErr(ffi.ListCopy(l.h, uint64(srcIndex), dst.h, uint64(dstIndex), uint64(count)))
}

// Swap exchanges contents with another list of the same element kind.
func (l *DynamicList[T]) Swap(other *DynamicList[T]) error {
	return statusErr(ffi.ListSwapStorage(l.h, other.h))
}

// StaticList is a value list with fixed capacity: growth past the
// capacity it was initialized with fails.
type StaticList[T Scalar] struct {
	DynamicList[T]
}

// NewStaticList creates a fixed-capacity value list.
func NewStaticList[T Scalar](owner Owner, capacity int) (*StaticList[T], error) {
	inst := owner.InstanceHandle()
	def := ffi.MakeValueTypeDef(ffi.ValueType(KindOf[T]()))
	h, st := ffi.ListInitialize(inst, def, uint64(capacity))
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return &StaticList[T]{DynamicList[T]{inst: inst, h: h}}, nil
}

// StorageSize reports the storage a fixed list of the given capacity
// would occupy, in bytes.
func StorageSize[T Scalar](capacity int) uint64 {
	def := ffi.MakeValueTypeDef(ffi.ValueType(KindOf[T]()))
	return ffi.ListStorageSize(def, uint64(capacity))
}

// Deinitialize releases a static list in place.
func (l *StaticList[T]) Deinitialize() error {
	return statusErr(ffi.ListDeinitialize(l.h))
}

// RefList holds counted references of one registered type.
type RefList[T RefObject] struct {
	inst ffi.InstanceHandle
	h    ffi.ListHandle
}

// NewRefList creates a reference list. The element type is taken from
// T's registered type name.
func NewRefList[T RefObject](owner Owner, capacity int) (*RefList[T], error) {
	inst := owner.InstanceHandle()
	var probe T
	t := ffi.InstanceLookupType(inst, probe.RefTypeName())
	def := ffi.MakeRefTypeDef(t)
	h, st := ffi.ListCreate(inst, def, uint64(capacity))
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return &RefList[T]{inst: inst, h: h}, nil
}

// Release drops the list, releasing every held reference.
func (l *RefList[T]) Release() {
	ffi.ListRelease(l.h)
}

// Size returns the element count.
func (l *RefList[T]) Size() (int, error) {
	n, st := ffi.ListSize(l.h)
	if !ffi.StatusIsOK(st) {
		return 0, statusErr(st)
	}
	return int(n), nil
}

// Push appends a reference; the list retains its own count.
func (l *RefList[T]) Push(r *Ref[T]) error {
	raw, err := r.rawRef()
	if err != nil {
		return err
	}
	return statusErr(ffi.ListPushRefRetain(l.h, raw))
}

// Get returns a retained reference to the element at index i. The caller
// owns the returned reference.
func (l *RefList[T]) Get(i int) (*Ref[T], error) {
	raw, st := ffi.ListGetRefRetain(l.h, uint64(i))
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return adoptRef[T](l.inst, raw), nil
}

// VariantList holds a mix of values and references, as invocation input
// and output lists do.
type VariantList struct {
	inst ffi.InstanceHandle
	h    ffi.ListHandle
}

// NewVariantList creates a variant list.
func NewVariantList(owner Owner, capacity int) (*VariantList, error) {
	inst := owner.InstanceHandle()
	h, st := ffi.ListCreate(inst, ffi.MakeVariantTypeDef(), uint64(capacity))
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return &VariantList{inst: inst, h: h}, nil
}

// Release drops the list.
func (l *VariantList) Release() {
	ffi.ListRelease(l.h)
}

// Size returns the element count.
func (l *VariantList) Size() (int, error) {
	n, st := ffi.ListSize(l.h)
	if !ffi.StatusIsOK(st) {
		return 0, statusErr(st)
	}
	return int(n), nil
}

// Clear removes all elements.
func (l *VariantList) Clear() error {
	return statusErr(ffi.ListClear(l.h))
}

// PushValue appends a primitive value of any kind.
func PushValue[T Scalar](l *VariantList, v T) error {
	return statusErr(ffi.ListPushValue(l.h, rawValue(v)))
}

// GetValue reads the primitive value at index i. The stored kind must
// match T; a mismatched read fails instead of reinterpreting the bits.
func GetValue[T Scalar](l *VariantList, i int) (T, error) {
	raw, st := ffi.ListGetValueAs(l.h, uint64(i), ffi.ValueType(KindOf[T]()))
	if !ffi.StatusIsOK(st) {
		var zero T
		return zero, statusErr(st)
	}
	return fromRawValue[T](raw), nil
}

// PushRef appends a reference of any registered type.
func PushRef[T RefObject](l *VariantList, r *Ref[T]) error {
	raw, err := r.rawRef()
	if err != nil {
		return err
	}
	return statusErr(ffi.ListPushRefRetain(l.h, raw))
}

// GetRef returns a retained reference to the element at index i.
func GetRef[T RefObject](l *VariantList, i int) (*Ref[T], error) {
	raw, st := ffi.ListGetRefRetain(l.h, uint64(i))
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return adoptRef[T](l.inst, raw), nil
}

// Handle exposes the core list handle to sibling packages.
func (l *VariantList) Handle() ffi.ListHandle { return l.h }

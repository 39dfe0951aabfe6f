package vm

import (
	"github.com/halcyonml/halcyon/errors"
	"github.com/halcyonml/halcyon/internal/ffi"
)

// RefObject is implemented by wrapper types that can be held by counted
// references, such as hal.BufferView.
type RefObject interface {
	// RefTypeName is the object's registered type name.
	RefTypeName() string
	// RefHandle is the object's core handle.
	RefHandle() ffi.Ptr
}

// Ref is a counted reference to a runtime object, tied to the instance
// whose registry defines the object's type. Release must be called
// exactly once per Ref; further calls are no-ops.
type Ref[T RefObject] struct {
	inst     ffi.InstanceHandle
	raw      ffi.Ref
	released bool
}

// Retain wraps obj in a new counted reference, retaining it. Fails with
// an instance-mismatch error when obj was created against a different
// instance than owner's.
func Retain[T RefObject](owner Owner, obj T) (*Ref[T], error) {
	inst := owner.InstanceHandle()
	t := ffi.InstanceLookupType(inst, obj.RefTypeName())
	if t == ffi.RefTypeNull {
		return nil, errors.NotFound(errors.PhaseMarshal, "reference type", obj.RefTypeName())
	}
	raw, st := ffi.RefWrapRetain(inst, obj.RefHandle(), t)
	if !ffi.StatusIsOK(st) {
		if ffi.StatusCodeOf(st) == ffi.StatusInvalidArgument {
			ffi.StatusIgnore(st)
			return nil, errors.InstanceMismatch(errors.PhaseMarshal, obj.RefTypeName())
		}
		return nil, statusErr(st)
	}
	return &Ref[T]{inst: inst, raw: raw}, nil
}

// TypeName returns the referenced object's registered type name.
func (r *Ref[T]) TypeName() string {
	return ffi.RefTypeName(r.inst, r.raw.Type)
}

// Handle returns the referenced object's core handle without affecting
// the count.
func (r *Ref[T]) Handle() ffi.Ptr {
	return r.raw.Obj
}

// Clone returns an additional reference to the same object.
func (r *Ref[T]) Clone() (*Ref[T], error) {
	if r.released {
		return nil, errors.Consumed("reference")
	}
	raw, st := ffi.RefRetain(r.raw)
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return &Ref[T]{inst: r.inst, raw: raw}, nil
}

// Release drops this reference. Safe to call more than once.
func (r *Ref[T]) Release() {
	if r.released {
		return
	}
	r.released = true
	ffi.RefRelease(r.raw)
}

func (r *Ref[T]) rawRef() (ffi.Ref, error) {
	if r.released {
		return ffi.NullRef, errors.Consumed("reference")
	}
	return r.raw, nil
}

// adoptRef wraps an already-retained raw ref without retaining again.
func adoptRef[T RefObject](inst ffi.InstanceHandle, raw ffi.Ref) *Ref[T] {
	return &Ref[T]{inst: inst, raw: raw}
}

package ffi

// The list container is the VM's calling-convention workhorse: inputs
// and outputs of every invocation travel as lists. A list is typed by a
// TypeDef — all-values, all-refs-of-one-type, any-ref, or fully variant —
// and every accessor checks the element against that descriptor.

type slotKind uint8

const (
	slotEmpty slotKind = iota
	slotValue
	slotRef
)

// slot is one element of a list's storage. Empty slots exist in resized
// variant lists; value and ref slots hold exactly one of the payloads.
type slot struct {
	kind slotKind
	val  Value
	ref  Ref
}

type list struct {
	def   TypeDef
	inst  InstanceHandle
	slots []slot
	fixed bool
	cap   int
}

func (l *list) destroy() {
	l.releaseRefs()
	tracef("list destroyed")
}

func (l *list) releaseRefs() {
	for i := range l.slots {
		if l.slots[i].kind == slotRef {
			RefRelease(l.slots[i].ref)
			l.slots[i] = slot{}
		}
	}
}

func listFromHandle(h ListHandle) (*list, RawStatus) {
	v, ok := getObject(Ptr(h), objList)
	if !ok {
		return nil, badHandle(objList)
	}
	return v.(*list), RawStatusOK
}

// ListCreate creates a growable list with the given element descriptor
// and initial capacity.
func ListCreate(inst InstanceHandle, def TypeDef, capacity uint64) (ListHandle, RawStatus) {
	if _, st := instanceFromHandle(inst); !StatusIsOK(st) {
		return 0, st
	}
	l := &list{def: def, inst: inst, cap: int(capacity)}
	h := ListHandle(newObject(objList, l))
	tracef("list_create handle=%#x cap=%d", h, capacity)
	return h, RawStatusOK
}

// ListInitialize creates a fixed-capacity list that refuses to grow past
// capacity. This mirrors lists placed in caller-provided storage.
func ListInitialize(inst InstanceHandle, def TypeDef, capacity uint64) (ListHandle, RawStatus) {
	h, st := ListCreate(inst, def, capacity)
	if !StatusIsOK(st) {
		return 0, st
	}
	l, _ := listFromHandle(h)
	l.fixed = true
	return h, RawStatusOK
}

// ListStorageSize reports the storage footprint a fixed list of the given
// capacity would need, in bytes.
func ListStorageSize(def TypeDef, capacity uint64) uint64 {
	// One descriptor word plus a tagged 16-byte slot per element.
	_ = def
	return 8 + capacity*16
}

// ListRetain adds a reference to the list.
func ListRetain(h ListHandle) {
	retainObject(Ptr(h))
}

// ListRelease drops a reference; held refs are released with the list.
func ListRelease(h ListHandle) {
	releaseObject(Ptr(h))
}

// ListDeinitialize clears a fixed list in place, releasing held refs and
// then the list itself.
func ListDeinitialize(h ListHandle) RawStatus {
	l, st := listFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	l.releaseRefs()
	l.slots = l.slots[:0]
	releaseObject(Ptr(h))
	return RawStatusOK
}

// ListCapacity returns the current capacity.
func ListCapacity(h ListHandle) (uint64, RawStatus) {
	l, st := listFromHandle(h)
	if !StatusIsOK(st) {
		return 0, st
	}
	return uint64(l.cap), RawStatusOK
}

// ListReserve grows capacity to at least minimumCapacity. Fixed lists
// fail with out-of-range when asked to grow.
func ListReserve(h ListHandle, minimumCapacity uint64) RawStatus {
	l, st := listFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	if uint64(l.cap) >= minimumCapacity {
		return RawStatusOK
	}
	if l.fixed {
		return StatusAllocf(StatusOutOfRange,
			"fixed list of capacity %d cannot reserve %d", l.cap, minimumCapacity)
	}
	l.cap = int(minimumCapacity)
	return RawStatusOK
}

// ListSize returns the current element count.
func ListSize(h ListHandle) (uint64, RawStatus) {
	l, st := listFromHandle(h)
	if !StatusIsOK(st) {
		return 0, st
	}
	return uint64(len(l.slots)), RawStatusOK
}

// ListResize sets the element count. Growth fills new slots with the
// descriptor's default: zero values for value lists, null refs for ref
// lists, empty slots for variant lists. Shrinking releases refs in the
// truncated tail.
func ListResize(h ListHandle, newSize uint64) RawStatus {
	l, st := listFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	n := int(newSize)
	if n <= len(l.slots) {
		for i := n; i < len(l.slots); i++ {
			if l.slots[i].kind == slotRef {
				RefRelease(l.slots[i].ref)
			}
		}
		l.slots = l.slots[:n]
		return RawStatusOK
	}
	if st := ListReserve(h, newSize); !StatusIsOK(st) {
		return st
	}
	for len(l.slots) < n {
		l.slots = append(l.slots, l.defaultSlot())
	}
	return RawStatusOK
}

func (l *list) defaultSlot() slot {
	if l.def.IsValue() {
		return slot{kind: slotValue, val: ZeroValue(l.def.ValueType())}
	}
	if l.def.IsRef() {
		return slot{kind: slotRef, ref: NullRef}
	}
	return slot{}
}

// ListClear resets the list to zero elements, releasing held refs.
func ListClear(h ListHandle) RawStatus {
	return ListResize(h, 0)
}

func (l *list) checkIndex(i uint64) RawStatus {
	if i >= uint64(len(l.slots)) {
		return StatusAllocf(StatusOutOfRange, "index %d out of range for list of size %d", i, len(l.slots))
	}
	return RawStatusOK
}

func (l *list) acceptsValue(t ValueType) RawStatus {
	if l.def.IsVariant() {
		return RawStatusOK
	}
	if !l.def.IsValue() {
		return StatusAlloc(StatusInvalidArgument, "list does not store primitive values")
	}
	if l.def.ValueType() != t {
		return StatusAllocf(StatusInvalidArgument,
			"list stores %s values, not %s", l.def.ValueType(), t)
	}
	return RawStatusOK
}

func (l *list) acceptsRef(r Ref) RawStatus {
	if l.def.IsVariant() {
		return RawStatusOK
	}
	if !l.def.IsRef() {
		return StatusAlloc(StatusInvalidArgument, "list does not store references")
	}
	if l.def.IsAnyRef() || r.IsNull() {
		return RawStatusOK
	}
	if l.def.RefBits() != RefBits(r.Type) {
		return StatusAlloc(StatusInvalidArgument, "reference type does not match list element type")
	}
	return RawStatusOK
}

// ListGetValue reads a primitive value slot.
func ListGetValue(h ListHandle, i uint64) (Value, RawStatus) {
	l, st := listFromHandle(h)
	if !StatusIsOK(st) {
		return Value{}, st
	}
	if st := l.checkIndex(i); !StatusIsOK(st) {
		return Value{}, st
	}
	s := l.slots[i]
	if s.kind != slotValue {
		return Value{}, StatusAllocf(StatusFailedPrecondition, "list slot %d does not hold a value", i)
	}
	return s.val, RawStatusOK
}

// ListGetValueAs reads a primitive value slot, rejecting the read when
// the stored kind differs from the requested one. Mismatched access is a
// caller logic error; the payload bits are never reinterpreted.
func ListGetValueAs(h ListHandle, i uint64, t ValueType) (Value, RawStatus) {
	v, st := ListGetValue(h, i)
	if !StatusIsOK(st) {
		return Value{}, st
	}
	if v.Type != t {
		return Value{}, StatusAllocf(StatusInvalidArgument,
			"list element %d holds %s, requested %s", i, v.Type, t)
	}
	return v, RawStatusOK
}

// ListSetValue writes a primitive value slot, type-checked against the
// list descriptor.
func ListSetValue(h ListHandle, i uint64, v Value) RawStatus {
	l, st := listFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	if st := l.checkIndex(i); !StatusIsOK(st) {
		return st
	}
	if st := l.acceptsValue(v.Type); !StatusIsOK(st) {
		return st
	}
	if l.slots[i].kind == slotRef {
		RefRelease(l.slots[i].ref)
	}
	l.slots[i] = slot{kind: slotValue, val: v}
	return RawStatusOK
}

// ListPushValue appends a primitive value.
func ListPushValue(h ListHandle, v Value) RawStatus {
	l, st := listFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	if st := l.acceptsValue(v.Type); !StatusIsOK(st) {
		return st
	}
	if l.fixed && len(l.slots) >= l.cap {
		return StatusAllocf(StatusOutOfRange, "fixed list of capacity %d is full", l.cap)
	}
	l.slots = append(l.slots, slot{kind: slotValue, val: v})
	return RawStatusOK
}

// ListPushRefRetain appends a reference, retaining it on behalf of the
// list. References minted by a different instance are rejected.
func ListPushRefRetain(h ListHandle, r Ref) RawStatus {
	l, st := listFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	if st := l.acceptsRef(r); !StatusIsOK(st) {
		return st
	}
	if !r.IsNull() {
		if name := RefTypeName(l.inst, r.Type); name == "" {
			return StatusAlloc(StatusInvalidArgument,
				"reference type is not registered with the list's instance")
		}
	}
	if l.fixed && len(l.slots) >= l.cap {
		return StatusAllocf(StatusOutOfRange, "fixed list of capacity %d is full", l.cap)
	}
	held, st := RefRetain(r)
	if !StatusIsOK(st) {
		return st
	}
	l.slots = append(l.slots, slot{kind: slotRef, ref: held})
	return RawStatusOK
}

// ListGetRefRetain reads a reference slot, retaining the result for the
// caller.
func ListGetRefRetain(h ListHandle, i uint64) (Ref, RawStatus) {
	l, st := listFromHandle(h)
	if !StatusIsOK(st) {
		return NullRef, st
	}
	if st := l.checkIndex(i); !StatusIsOK(st) {
		return NullRef, st
	}
	s := l.slots[i]
	if s.kind != slotRef {
		return NullRef, StatusAllocf(StatusFailedPrecondition, "list slot %d does not hold a reference", i)
	}
	return RefRetain(s.ref)
}

// ListCopy copies count elements from src starting at srcIndex into dst
// starting at dstIndex. The destination descriptor must accept the
// source's elements: identical value kinds, identical ref kinds, or a
// variant destination.
func ListCopy(src ListHandle, srcIndex uint64, dst ListHandle, dstIndex uint64, count uint64) RawStatus {
	sl, st := listFromHandle(src)
	if !StatusIsOK(st) {
		return st
	}
	dl, st := listFromHandle(dst)
	if !StatusIsOK(st) {
		return st
	}
	if srcIndex+count > uint64(len(sl.slots)) {
		return StatusAllocf(StatusOutOfRange,
			"source range [%d, %d) out of range for list of size %d", srcIndex, srcIndex+count, len(sl.slots))
	}
	if dstIndex+count > uint64(len(dl.slots)) {
		return StatusAllocf(StatusOutOfRange,
			"destination range [%d, %d) out of range for list of size %d", dstIndex, dstIndex+count, len(dl.slots))
	}
	if !dl.def.IsVariant() {
		switch {
		case sl.def.IsValue() && dl.def.IsValue():
			if sl.def.ValueType() != dl.def.ValueType() {
				return StatusAlloc(StatusInvalidArgument, "value element types differ")
			}
		case sl.def.IsRef() && dl.def.IsRef():
			if !dl.def.IsAnyRef() && sl.def.RefBits() != dl.def.RefBits() {
				return StatusAlloc(StatusInvalidArgument, "reference element types differ")
			}
		case sl.def.IsVariant():
			return StatusAlloc(StatusInvalidArgument, "cannot copy variant elements into a typed list")
		default:
			return StatusAlloc(StatusInvalidArgument, "list element types are incompatible")
		}
	}
	for i := uint64(0); i < count; i++ {
		s := sl.slots[srcIndex+i]
		d := &dl.slots[dstIndex+i]
		if d.kind == slotRef {
			RefRelease(d.ref)
		}
		if s.kind == slotRef {
			held, st := RefRetain(s.ref)
			if !StatusIsOK(st) {
				return st
			}
			*d = slot{kind: slotRef, ref: held}
		} else {
			*d = s
		}
	}
	return RawStatusOK
}

// ListSwapStorage exchanges the storage of two lists, descriptors
// included. Handles remain stable; only contents move.
func ListSwapStorage(a, b ListHandle) RawStatus {
	la, st := listFromHandle(a)
	if !StatusIsOK(st) {
		return st
	}
	lb, st := listFromHandle(b)
	if !StatusIsOK(st) {
		return st
	}
	la.def, lb.def = lb.def, la.def
	la.slots, lb.slots = lb.slots, la.slots
	la.cap, lb.cap = lb.cap, la.cap
	la.fixed, lb.fixed = lb.fixed, la.fixed
	return RawStatusOK
}

// ListTypeDef returns the list's element descriptor.
func ListTypeDef(h ListHandle) (TypeDef, RawStatus) {
	l, st := listFromHandle(h)
	if !StatusIsOK(st) {
		return 0, st
	}
	return l.def, RawStatusOK
}

package ffi

import (
	"context"
	"os"
	"strings"

	wazeroapi "github.com/tetratelabs/wazero/api"
)

// session ties a device to a VM context and carries the module set loaded
// into it. Sessions are created against an instance and keep both their
// instance and device alive.
type session struct {
	inst    InstanceHandle
	device  DeviceHandle
	context ContextHandle
	modules []ModuleHandle
}

func (s *session) destroy() {
	for _, m := range s.modules {
		ModuleRelease(m)
	}
	if s.context != 0 {
		releaseObject(Ptr(s.context))
	}
	if s.device != 0 {
		DeviceRelease(s.device)
	}
	InstanceRelease(s.inst)
	tracef("session destroyed")
}

func sessionFromHandle(h SessionHandle) (*session, RawStatus) {
	v, ok := getObject(Ptr(h), objSession)
	if !ok {
		return nil, badHandle(objSession)
	}
	return v.(*session), RawStatusOK
}

// SessionCreateWithDevice creates a session bound to an existing device.
// The session retains the instance and the device.
func SessionCreateWithDevice(inst InstanceHandle, dev DeviceHandle) (SessionHandle, RawStatus) {
	if _, st := instanceFromHandle(inst); !StatusIsOK(st) {
		return 0, st
	}
	d, st := deviceFromHandle(dev)
	if !StatusIsOK(st) {
		return 0, st
	}
	if d.instance != inst {
		return 0, StatusAlloc(StatusInvalidArgument, "device belongs to a different instance")
	}
	ctxh, st := ContextCreate(inst)
	if !StatusIsOK(st) {
		return 0, st
	}
	if !retainObject(Ptr(inst)) {
		return 0, badHandle(objInstance)
	}
	if !retainObject(Ptr(dev)) {
		releaseObject(Ptr(inst))
		return 0, badHandle(objDevice)
	}
	s := &session{inst: inst, device: dev, context: ctxh}
	h := SessionHandle(newObject(objSession, s))
	tracef("session_create handle=%#x device=%s", h, d.name)
	return h, RawStatusOK
}

// SessionRetain adds a reference to the session.
func SessionRetain(h SessionHandle) {
	retainObject(Ptr(h))
}

// SessionRelease drops a reference; the last drop releases the context,
// device, and loaded modules.
func SessionRelease(h SessionHandle) {
	releaseObject(Ptr(h))
}

// SessionDevice returns the session's device without transferring
// ownership.
func SessionDevice(h SessionHandle) (DeviceHandle, RawStatus) {
	s, st := sessionFromHandle(h)
	if !StatusIsOK(st) {
		return 0, st
	}
	return s.device, RawStatusOK
}

// SessionInstance returns the session's owning instance without
// transferring ownership.
func SessionInstance(h SessionHandle) (InstanceHandle, RawStatus) {
	s, st := sessionFromHandle(h)
	if !StatusIsOK(st) {
		return 0, st
	}
	return s.inst, RawStatusOK
}

// SessionTrim drops transient caches. The builtin drivers hold none, so
// this only validates the handle.
func SessionTrim(h SessionHandle) RawStatus {
	_, st := sessionFromHandle(h)
	return st
}

// SessionAppendModuleFromBytes parses a module container from memory the
// caller owns and registers it with the session's context. The module
// calls owner's free when destroyed; an owner whose free is a no-op
// keeps ownership with the caller.
func SessionAppendModuleFromBytes(ctx context.Context, h SessionHandle, data []byte, owner Allocator) RawStatus {
	s, st := sessionFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	return sessionAppendModule(ctx, s, data, owner, 0)
}

// SessionAppendModuleFromFile loads a module container from disk into
// memory owned by the instance's host allocator and appends it. The
// staged block is freed when the module is destroyed.
func SessionAppendModuleFromFile(ctx context.Context, h SessionHandle, path string) RawStatus {
	s, st := sessionFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return StatusAllocf(StatusNotFound, "reading module file %q: %v", path, err)
	}
	if len(data) == 0 {
		return StatusAllocf(StatusInvalidArgument, "module file %q is empty", path)
	}
	alloc, st := InstanceHostAllocator(s.inst)
	if !StatusIsOK(st) {
		return st
	}
	var p Ptr
	if st := alloc.Ctl(AllocatorCommandMalloc, AllocParams{ByteLength: uint64(len(data))}, &p); !StatusIsOK(st) {
		return st
	}
	if backing := alloc.Backing(); backing != nil {
		if err := backing.Write(uint64(p), data); err != nil {
			StatusIgnore(alloc.Ctl(AllocatorCommandFree, AllocParams{}, &p))
			return StatusAllocf(StatusInternal, "staging module file %q: %v", path, err)
		}
		if staged, err := backing.Read(uint64(p), uint64(len(data))); err == nil {
			data = staged
		}
	}
	return sessionAppendModule(ctx, s, data, alloc, p)
}

func sessionAppendModule(ctx context.Context, s *session, data []byte, owner Allocator, ptr Ptr) RawStatus {
	mh, st := ModuleCreateFromMemory(ctx, s.inst, "", data, owner, ptr)
	if !StatusIsOK(st) {
		return st
	}
	if st := ContextRegisterModules(s.context, []ModuleHandle{mh}); !StatusIsOK(st) {
		ModuleRelease(mh)
		return st
	}
	s.modules = append(s.modules, mh)
	return RawStatusOK
}

// SessionLookupFunction resolves "module.function" against the session's
// loaded modules.
func SessionLookupFunction(h SessionHandle, fullName string) (Function, RawStatus) {
	s, st := sessionFromHandle(h)
	if !StatusIsOK(st) {
		return Function{}, st
	}
	dot := strings.LastIndexByte(fullName, '.')
	if dot <= 0 || dot == len(fullName)-1 {
		return Function{}, StatusAllocf(StatusInvalidArgument,
			"function name %q is not of the form module.function", fullName)
	}
	modName, fnName := fullName[:dot], fullName[dot+1:]
	for _, mh := range s.modules {
		name, st := ModuleName(mh)
		if !StatusIsOK(st) {
			return Function{}, st
		}
		if name != modName {
			continue
		}
		return ModuleLookupFunction(mh, fnName)
	}
	return Function{}, StatusAllocf(StatusNotFound, "no loaded module named %q", modName)
}

// context is the VM execution scope holding registered modules. Once a
// frozen context refuses further registration.
type vmContext struct {
	inst    InstanceHandle
	modules []ModuleHandle
	frozen  bool
}

func (c *vmContext) destroy() {
	tracef("context destroyed")
}

func contextFromHandle(h ContextHandle) (*vmContext, RawStatus) {
	v, ok := getObject(Ptr(h), objContext)
	if !ok {
		return nil, badHandle(objContext)
	}
	return v.(*vmContext), RawStatusOK
}

// ContextCreate creates an empty execution context.
func ContextCreate(inst InstanceHandle) (ContextHandle, RawStatus) {
	if _, st := instanceFromHandle(inst); !StatusIsOK(st) {
		return 0, st
	}
	c := &vmContext{inst: inst}
	return ContextHandle(newObject(objContext, c)), RawStatusOK
}

// ContextCreateWithModules creates a context pre-registered with modules.
func ContextCreateWithModules(inst InstanceHandle, modules []ModuleHandle) (ContextHandle, RawStatus) {
	h, st := ContextCreate(inst)
	if !StatusIsOK(st) {
		return 0, st
	}
	if st := ContextRegisterModules(h, modules); !StatusIsOK(st) {
		releaseObject(Ptr(h))
		return 0, st
	}
	return h, RawStatusOK
}

// ContextRetain adds a reference to the context.
func ContextRetain(h ContextHandle) {
	retainObject(Ptr(h))
}

// ContextRelease drops a reference to the context.
func ContextRelease(h ContextHandle) {
	releaseObject(Ptr(h))
}

// ContextRegisterModules registers additional modules. Frozen contexts
// fail with failed-precondition.
func ContextRegisterModules(h ContextHandle, modules []ModuleHandle) RawStatus {
	c, st := contextFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	if c.frozen {
		return StatusAlloc(StatusFailedPrecondition, "context is frozen and cannot register modules")
	}
	for _, mh := range modules {
		if _, st := moduleFromHandle(mh); !StatusIsOK(st) {
			return st
		}
	}
	c.modules = append(c.modules, modules...)
	return RawStatusOK
}

// ContextFreeze makes the module set immutable. Freezing twice is a
// no-op.
func ContextFreeze(h ContextHandle) RawStatus {
	c, st := contextFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	c.frozen = true
	return RawStatusOK
}

// ContextModuleCount returns the number of registered modules.
func ContextModuleCount(h ContextHandle) (uint64, RawStatus) {
	c, st := contextFromHandle(h)
	if !StatusIsOK(st) {
		return 0, st
	}
	return uint64(len(c.modules)), RawStatusOK
}

// ContextModuleAt returns the i'th registered module without transferring
// ownership.
func ContextModuleAt(h ContextHandle, i uint64) (ModuleHandle, RawStatus) {
	c, st := contextFromHandle(h)
	if !StatusIsOK(st) {
		return 0, st
	}
	if i >= uint64(len(c.modules)) {
		return 0, StatusAllocf(StatusOutOfRange, "module index %d out of range", i)
	}
	return c.modules[i], RawStatusOK
}

// ContextInstance returns the context's owning instance.
func ContextInstance(h ContextHandle) (InstanceHandle, RawStatus) {
	c, st := contextFromHandle(h)
	if !StatusIsOK(st) {
		return 0, st
	}
	return c.inst, RawStatusOK
}

// SessionContext returns the session's context without transferring
// ownership.
func SessionContext(h SessionHandle) (ContextHandle, RawStatus) {
	s, st := sessionFromHandle(h)
	if !StatusIsOK(st) {
		return 0, st
	}
	return s.context, RawStatusOK
}

// VMInvoke executes a resolved function synchronously on the session's
// device. Inputs are read from inList; results are appended to outList.
func VMInvoke(ctx context.Context, sess SessionHandle, fn Function, inList, outList ListHandle) RawStatus {
	if err := ctx.Err(); err != nil {
		return StatusAllocf(StatusCancelled, "invoke aborted: %v", err)
	}
	s, st := sessionFromHandle(sess)
	if !StatusIsOK(st) {
		return st
	}
	m, st := moduleFromHandle(fn.Module)
	if !StatusIsOK(st) {
		return st
	}
	if int(fn.Ordinal) >= m.exportCount() {
		return StatusAllocf(StatusOutOfRange, "ordinal %d out of range", fn.Ordinal)
	}
	if m.isWasm() {
		return invokeWasm(ctx, m, fn, inList, outList)
	}
	return invokeNative(s, m, fn, inList, outList)
}

func invokeNative(s *session, m *moduleCore, fn Function, inList, outList ListHandle) RawStatus {
	entry := m.funcs[fn.Ordinal]
	spec, ok := deviceKernels[entry.kernel]
	if !ok {
		return StatusAllocf(StatusUnimplemented, "kernel %q is not available on this device", entry.kernel)
	}
	if entry.arity != 2 {
		return StatusAllocf(StatusUnimplemented, "kernel %q dispatch supports binary functions only", entry.kernel)
	}
	n, st := ListSize(inList)
	if !StatusIsOK(st) {
		return st
	}
	if int(n) != entry.arity {
		return StatusAllocf(StatusInvalidArgument,
			"function %q takes %d arguments, got %d", entry.name, entry.arity, n)
	}
	views := make([]*bufferView, entry.arity)
	refs := make([]Ref, entry.arity)
	defer func() {
		for _, r := range refs {
			RefRelease(r)
		}
	}()
	for i := 0; i < entry.arity; i++ {
		r, st := ListGetRefRetain(inList, uint64(i))
		if !StatusIsOK(st) {
			return st
		}
		refs[i] = r
		bv, st := bufferViewFromHandle(BufferViewHandle(r.Obj))
		if !StatusIsOK(st) {
			return st
		}
		views[i] = bv
	}
	lhs, rhs := views[0], views[1]
	if lhs.elem != spec.elem || rhs.elem != spec.elem {
		return StatusAllocf(StatusInvalidArgument,
			"kernel %q expects %s operands", entry.kernel, spec.elem)
	}
	if lhs.elementCount() != rhs.elementCount() {
		return StatusAlloc(StatusInvalidArgument, "operand element counts differ")
	}
	out := &bufferView{
		instance: s.inst,
		shape:    append([]uint64(nil), lhs.shape...),
		elem:     lhs.elem,
		enc:      lhs.enc,
		data:     make([]byte, len(lhs.data)),
	}
	if st := spec.fn(lhs.data, rhs.data, out.data, int(lhs.elementCount())); !StatusIsOK(st) {
		return st
	}
	outHandle := newObject(objBufferView, out)
	outRef, st := RefWrapRetain(s.inst, outHandle, InstanceLookupType(s.inst, BufferViewTypeName))
	if !StatusIsOK(st) {
		releaseObject(outHandle)
		return st
	}
	st = ListPushRefRetain(outList, outRef)
	RefRelease(outRef)
	// drop the creation reference; the list holds its own
	releaseObject(outHandle)
	return st
}

func invokeWasm(ctx context.Context, m *moduleCore, fn Function, inList, outList ListHandle) RawStatus {
	def := m.exports[fn.Ordinal]
	names := def.ExportNames()
	if len(names) == 0 {
		return StatusAlloc(StatusInternal, "export has no name")
	}
	callable := m.wasmMod.ExportedFunction(names[0])
	if callable == nil {
		return StatusAllocf(StatusNotFound, "export %q not found", names[0])
	}
	n, st := ListSize(inList)
	if !StatusIsOK(st) {
		return st
	}
	params := def.ParamTypes()
	if int(n) != len(params) {
		return StatusAllocf(StatusInvalidArgument,
			"function %q takes %d arguments, got %d", names[0], len(params), n)
	}
	raw := make([]uint64, len(params))
	for i, pt := range params {
		v, st := ListGetValue(inList, uint64(i))
		if !StatusIsOK(st) {
			return st
		}
		w, st := valueToWasm(v, pt)
		if !StatusIsOK(st) {
			return st
		}
		raw[i] = w
	}
	results, err := callable.Call(ctx, raw...)
	if err != nil {
		return StatusAllocf(StatusInternal, "wasm trap in %q: %v", names[0], err)
	}
	for i, rt := range def.ResultTypes() {
		v, st := wasmToValue(results[i], rt)
		if !StatusIsOK(st) {
			return st
		}
		if st := ListPushValue(outList, v); !StatusIsOK(st) {
			return st
		}
	}
	return RawStatusOK
}

func valueToWasm(v Value, t wazeroapi.ValueType) (uint64, RawStatus) {
	switch t {
	case wazeroapi.ValueTypeI32:
		if v.Type != ValueTypeI32 {
			return 0, typeMismatchStatus(ValueTypeI32, v.Type)
		}
		return uint64(uint32(v.I32())), RawStatusOK
	case wazeroapi.ValueTypeI64:
		if v.Type != ValueTypeI64 {
			return 0, typeMismatchStatus(ValueTypeI64, v.Type)
		}
		return uint64(v.I64()), RawStatusOK
	case wazeroapi.ValueTypeF32:
		if v.Type != ValueTypeF32 {
			return 0, typeMismatchStatus(ValueTypeF32, v.Type)
		}
		return uint64(wazeroapi.EncodeF32(v.F32())), RawStatusOK
	case wazeroapi.ValueTypeF64:
		if v.Type != ValueTypeF64 {
			return 0, typeMismatchStatus(ValueTypeF64, v.Type)
		}
		return wazeroapi.EncodeF64(v.F64()), RawStatusOK
	default:
		return 0, StatusAllocf(StatusUnimplemented, "unsupported wasm value type %v", t)
	}
}

func wasmToValue(raw uint64, t wazeroapi.ValueType) (Value, RawStatus) {
	switch t {
	case wazeroapi.ValueTypeI32:
		return ValueI32(int32(uint32(raw))), RawStatusOK
	case wazeroapi.ValueTypeI64:
		return ValueI64(int64(raw)), RawStatusOK
	case wazeroapi.ValueTypeF32:
		return ValueF32(wazeroapi.DecodeF32(raw)), RawStatusOK
	case wazeroapi.ValueTypeF64:
		return ValueF64(wazeroapi.DecodeF64(raw)), RawStatusOK
	default:
		return Value{}, StatusAllocf(StatusUnimplemented, "unsupported wasm value type %v", t)
	}
}

func typeMismatchStatus(want, got ValueType) RawStatus {
	return StatusAllocf(StatusInvalidArgument, "expected %s argument, got %s", want, got)
}

// call bundles a resolved function with reusable variant input and
// output lists, mirroring the stateful call API.
type call struct {
	sess SessionHandle
	fn   Function
	in   ListHandle
	out  ListHandle
}

func (c *call) destroy() {
	ListRelease(c.in)
	ListRelease(c.out)
	SessionRelease(c.sess)
	tracef("call destroyed")
}

func callFromHandle(h CallHandle) (*call, RawStatus) {
	v, ok := getObject(Ptr(h), objCall)
	if !ok {
		return nil, badHandle(objCall)
	}
	return v.(*call), RawStatusOK
}

// CallInitialize creates a call for an already-resolved function. The
// call retains the session.
func CallInitialize(sess SessionHandle, fn Function) (CallHandle, RawStatus) {
	s, st := sessionFromHandle(sess)
	if !StatusIsOK(st) {
		return 0, st
	}
	in, st := ListCreate(s.inst, MakeVariantTypeDef(), 4)
	if !StatusIsOK(st) {
		return 0, st
	}
	out, st := ListCreate(s.inst, MakeVariantTypeDef(), 4)
	if !StatusIsOK(st) {
		ListRelease(in)
		return 0, st
	}
	if !retainObject(Ptr(sess)) {
		ListRelease(in)
		ListRelease(out)
		return 0, badHandle(objSession)
	}
	c := &call{sess: sess, fn: fn, in: in, out: out}
	return CallHandle(newObject(objCall, c)), RawStatusOK
}

// CallInitializeByName resolves "module.function" in the session and
// creates a call for it.
func CallInitializeByName(sess SessionHandle, fullName string) (CallHandle, RawStatus) {
	fn, st := SessionLookupFunction(sess, fullName)
	if !StatusIsOK(st) {
		return 0, st
	}
	return CallInitialize(sess, fn)
}

// CallFunction returns the call's resolved function.
func CallFunction(h CallHandle) (Function, RawStatus) {
	c, st := callFromHandle(h)
	if !StatusIsOK(st) {
		return Function{}, st
	}
	return c.fn, RawStatusOK
}

// CallInputsPushBufferView appends a buffer view to the call's inputs,
// wrapping it in a retained reference.
func CallInputsPushBufferView(h CallHandle, bv BufferViewHandle) RawStatus {
	c, st := callFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	s, st := sessionFromHandle(c.sess)
	if !StatusIsOK(st) {
		return st
	}
	ref, st := RefWrapRetain(s.inst, Ptr(bv), InstanceLookupType(s.inst, BufferViewTypeName))
	if !StatusIsOK(st) {
		return st
	}
	st = ListPushRefRetain(c.in, ref)
	RefRelease(ref)
	return st
}

// CallInputsPushValue appends a primitive value to the call's inputs.
func CallInputsPushValue(h CallHandle, v Value) RawStatus {
	c, st := callFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	return ListPushValue(c.in, v)
}

// CallOutputsPopValue removes and returns the frontmost output value,
// which must hold the requested kind. A mismatch fails and leaves the
// output queue untouched.
func CallOutputsPopValue(h CallHandle, t ValueType) (Value, RawStatus) {
	c, st := callFromHandle(h)
	if !StatusIsOK(st) {
		return Value{}, st
	}
	v, st := ListGetValueAs(c.out, 0, t)
	if !StatusIsOK(st) {
		return Value{}, st
	}
	if st := listPopFront(c.out); !StatusIsOK(st) {
		return Value{}, st
	}
	return v, RawStatusOK
}

// CallOutputsPopBufferView removes and returns the frontmost output as a
// retained buffer-view handle. The caller owns the returned handle.
func CallOutputsPopBufferView(h CallHandle) (BufferViewHandle, RawStatus) {
	c, st := callFromHandle(h)
	if !StatusIsOK(st) {
		return 0, st
	}
	ref, st := ListGetRefRetain(c.out, 0)
	if !StatusIsOK(st) {
		return 0, st
	}
	if st := listPopFront(c.out); !StatusIsOK(st) {
		RefRelease(ref)
		return 0, st
	}
	// The caller receives the retained reference as a raw handle.
	return BufferViewHandle(ref.Obj), RawStatusOK
}

// listPopFront removes element 0, shifting the remainder down.
func listPopFront(h ListHandle) RawStatus {
	l, st := listFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	if len(l.slots) == 0 {
		return StatusAlloc(StatusOutOfRange, "list is empty")
	}
	front := l.slots[0]
	if front.kind == slotRef {
		RefRelease(front.ref)
	}
	copy(l.slots, l.slots[1:])
	l.slots = l.slots[:len(l.slots)-1]
	return RawStatusOK
}

// CallInvoke executes the call's function with the accumulated inputs.
func CallInvoke(ctx context.Context, h CallHandle) RawStatus {
	c, st := callFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	return VMInvoke(ctx, c.sess, c.fn, c.in, c.out)
}

// CallReset clears both input and output lists for reuse.
func CallReset(h CallHandle) RawStatus {
	c, st := callFromHandle(h)
	if !StatusIsOK(st) {
		return st
	}
	if st := ListClear(c.in); !StatusIsOK(st) {
		return st
	}
	return ListClear(c.out)
}

// CallDeinitialize releases the call and its lists.
func CallDeinitialize(h CallHandle) {
	releaseObject(Ptr(h))
}

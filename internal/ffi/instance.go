package ffi

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
)

// instance is the shared root of the runtime's object graph: it owns the
// type registry and the set of usable device drivers, and hosts the wasm
// executor for WebAssembly-container modules. Its registry is read-only
// after construction apart from internal synchronization.
type instance struct {
	alloc   Allocator
	drivers []string

	typeMu sync.RWMutex
	types  map[string]RefType
	names  map[RefType]string

	wasmMu sync.Mutex
	wasm   wazero.Runtime
}

// Ref type tags are allocated from a process-wide counter so a tag minted
// by one instance can never collide with a tag minted by another. That
// makes mixing references across instances detectable instead of silently
// aliasing unrelated types.
var nextRefTag atomic.Uint64

func allocRefTag() RefType {
	return RefType(nextRefTag.Add(1) << RefTypeTagBits)
}

// InstanceOptions configures instance creation.
type InstanceOptions struct {
	DriverRegistry DriverRegistryHandle
	UseAllDrivers  bool
}

// BufferViewTypeName is the registry name of the builtin buffer-view
// reference type.
const BufferViewTypeName = "hal.buffer_view"

// InstanceCreate creates a runtime instance against a driver registry and
// a host allocator. Builtin reference types are registered before the
// handle is returned, so lookups never race registration.
func InstanceCreate(opts InstanceOptions, alloc Allocator) (InstanceHandle, RawStatus) {
	if alloc == nil {
		return 0, StatusAlloc(StatusInvalidArgument, "instance requires a host allocator")
	}
	inst := &instance{
		alloc: alloc,
		types: map[string]RefType{},
		names: map[RefType]string{},
	}
	if opts.UseAllDrivers {
		if opts.DriverRegistry == 0 {
			return 0, StatusAlloc(StatusInvalidArgument, "instance requires a driver registry")
		}
		v, ok := getObject(Ptr(opts.DriverRegistry), objDriverRegistry)
		if !ok {
			return 0, badHandle(objDriverRegistry)
		}
		reg := v.(*driverRegistry)
		inst.drivers = append(inst.drivers, reg.names...)
	}
	inst.registerType(BufferViewTypeName)
	h := InstanceHandle(newObject(objInstance, inst))
	tracef("instance_create handle=%#x", h)
	return h, RawStatusOK
}

func (in *instance) registerType(name string) RefType {
	in.typeMu.Lock()
	defer in.typeMu.Unlock()
	if t, ok := in.types[name]; ok {
		return t
	}
	t := allocRefTag()
	in.types[name] = t
	in.names[t] = name
	return t
}

func (in *instance) lookupType(name string) RefType {
	in.typeMu.RLock()
	defer in.typeMu.RUnlock()
	return in.types[name]
}

func (in *instance) typeName(t RefType) string {
	in.typeMu.RLock()
	defer in.typeMu.RUnlock()
	return in.names[t]
}

// wasmRuntime lazily creates the instance's wasm executor.
func (in *instance) wasmRuntime(ctx context.Context) wazero.Runtime {
	in.wasmMu.Lock()
	defer in.wasmMu.Unlock()
	if in.wasm == nil {
		in.wasm = wazero.NewRuntime(ctx)
	}
	return in.wasm
}

func (in *instance) destroy() {
	if in.wasm != nil {
		_ = in.wasm.Close(context.Background())
	}
	tracef("instance destroyed")
}

func instanceFromHandle(h InstanceHandle) (*instance, RawStatus) {
	v, ok := getObject(Ptr(h), objInstance)
	if !ok {
		return nil, badHandle(objInstance)
	}
	return v.(*instance), RawStatusOK
}

// InstanceRetain adds a reference to the instance.
func InstanceRetain(h InstanceHandle) {
	retainObject(Ptr(h))
}

// InstanceRelease drops a reference; the last drop destroys the registry
// and the wasm executor.
func InstanceRelease(h InstanceHandle) {
	releaseObject(Ptr(h))
}

// InstanceHostAllocator returns the allocator the instance was created
// with.
func InstanceHostAllocator(h InstanceHandle) (Allocator, RawStatus) {
	inst, st := instanceFromHandle(h)
	if !StatusIsOK(st) {
		return nil, st
	}
	return inst.alloc, RawStatusOK
}

// InstanceLookupType resolves a registered reference type by full name.
// Unknown names yield RefTypeNull.
func InstanceLookupType(h InstanceHandle, name string) RefType {
	inst, st := instanceFromHandle(h)
	if !StatusIsOK(st) {
		StatusIgnore(st)
		return RefTypeNull
	}
	return inst.lookupType(name)
}

// InstanceTryCreateDefaultDevice creates a device from the first driver
// matching name.
func InstanceTryCreateDefaultDevice(h InstanceHandle, name string) (DeviceHandle, RawStatus) {
	inst, st := instanceFromHandle(h)
	if !StatusIsOK(st) {
		return 0, st
	}
	for _, d := range inst.drivers {
		if d == name {
			dev := &device{name: name, instance: h}
			dh := DeviceHandle(newObject(objDevice, dev))
			tracef("device_create name=%s handle=%#x", name, dh)
			return dh, RawStatusOK
		}
	}
	return 0, StatusAllocf(StatusNotFound, "no device driver registered matching %q", name)
}

// RefWrapRetain wraps an object in a counted reference of the given
// registered type, retaining it. The object's concrete type must match
// the registry entry.
func RefWrapRetain(inst InstanceHandle, obj Ptr, t RefType) (Ref, RawStatus) {
	in, st := instanceFromHandle(inst)
	if !StatusIsOK(st) {
		return NullRef, st
	}
	name := in.typeName(t)
	if name == "" {
		return NullRef, StatusAlloc(StatusInvalidArgument, "unregistered ref type")
	}
	if name == BufferViewTypeName {
		v, ok := getObject(obj, objBufferView)
		if !ok {
			return NullRef, badHandle(objBufferView)
		}
		if bv := v.(*bufferView); bv.instance != inst {
			return NullRef, StatusAlloc(StatusInvalidArgument, "object belongs to a different instance")
		}
	}
	if !retainObject(obj) {
		return NullRef, StatusAlloc(StatusInvalidArgument, "cannot retain released object")
	}
	return Ref{Type: t, Obj: obj}, RawStatusOK
}

// RefRetain retains the referenced object and returns a second reference.
func RefRetain(r Ref) (Ref, RawStatus) {
	if r.IsNull() {
		return NullRef, RawStatusOK
	}
	if !retainObject(r.Obj) {
		return NullRef, StatusAlloc(StatusInvalidArgument, "cannot retain released object")
	}
	return r, RawStatusOK
}

// RefRelease drops one reference to the referenced object.
func RefRelease(r Ref) {
	if r.IsNull() {
		return
	}
	releaseObject(r.Obj)
}

// RefTypeName returns the registered name of a ref type, or "" when the
// instance's registry does not define it.
func RefTypeName(h InstanceHandle, t RefType) string {
	inst, st := instanceFromHandle(h)
	if !StatusIsOK(st) {
		StatusIgnore(st)
		return ""
	}
	return inst.typeName(t)
}

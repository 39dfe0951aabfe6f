package runtime

import (
	"context"

	"github.com/halcyonml/halcyon/hal"
	"github.com/halcyonml/halcyon/internal/ffi"
	"github.com/halcyonml/halcyon/mem"
	"github.com/halcyonml/halcyon/status"
	"github.com/halcyonml/halcyon/vm"
)

// Session binds a device to an execution context and carries the modules
// loaded into it.
type Session struct {
	inst *Instance
	h    ffi.SessionHandle
}

// NewSessionWithDevice opens a session executing on the given device.
func NewSessionWithDevice(inst *Instance, dev *hal.Device) (*Session, error) {
	h, st := ffi.SessionCreateWithDevice(inst.h, dev.Handle())
	if !ffi.StatusIsOK(st) {
		return nil, status.FromRaw(st).Consume()
	}
	return &Session{inst: inst, h: h}, nil
}

// SessionHandle exposes the core handle; this satisfies hal.SessionRef
// so buffer views can allocate against the session's device.
func (s *Session) SessionHandle() ffi.SessionHandle { return s.h }

// InstanceHandle satisfies vm.Owner, letting containers be created
// against the session's instance.
func (s *Session) InstanceHandle() ffi.InstanceHandle { return s.inst.h }

// Instance returns the owning instance.
func (s *Session) Instance() *Instance { return s.inst }

// Release drops the session, its context, and its loaded modules.
func (s *Session) Release() {
	ffi.SessionRelease(s.h)
}

// Trim drops transient caches held by the session.
func (s *Session) Trim() error {
	return status.FromRaw(ffi.SessionTrim(s.h)).Consume()
}

// AppendModuleFromBytes loads a compiled module container into the
// session. The caller keeps ownership of data; the runtime releases its
// side through the null allocator.
func (s *Session) AppendModuleFromBytes(ctx context.Context, data []byte) error {
	return status.FromRaw(ffi.SessionAppendModuleFromBytes(ctx, s.h, data, mem.NullAllocator{})).Consume()
}

// AppendModuleFromFile loads a compiled module container from disk into
// memory owned by the instance's host allocator.
func (s *Session) AppendModuleFromFile(ctx context.Context, path string) error {
	return status.FromRaw(ffi.SessionAppendModuleFromFile(ctx, s.h, path)).Consume()
}

// LookupFunction resolves "module.function" against the session's loaded
// modules.
func (s *Session) LookupFunction(fullName string) (vm.Function, error) {
	fn, st := ffi.SessionLookupFunction(s.h, fullName)
	if !ffi.StatusIsOK(st) {
		return vm.Function{}, status.FromRaw(st).Consume()
	}
	return vm.FunctionFromRaw(fn), nil
}

// Invoke executes a resolved function with explicit input and output
// lists. Results are appended to out.
func Invoke(ctx context.Context, s *Session, fn vm.Function, in, out *vm.VariantList) error {
	return status.FromRaw(ffi.VMInvoke(ctx, s.h, fn.Raw(), in.Handle(), out.Handle())).Consume()
}

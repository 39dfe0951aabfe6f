package vm

import (
	"github.com/halcyonml/halcyon/errors"
	"github.com/halcyonml/halcyon/internal/ffi"
)

// Context is an execution scope holding registered modules. After Freeze
// the module set is immutable.
type Context struct {
	inst ffi.InstanceHandle
	h    ffi.ContextHandle
}

// NewContext creates an empty context.
func NewContext(owner Owner) (*Context, error) {
	inst := owner.InstanceHandle()
	h, st := ffi.ContextCreate(inst)
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return &Context{inst: inst, h: h}, nil
}

// NewContextWithModules creates a context pre-registered with modules.
func NewContextWithModules(owner Owner, modules ...*Module) (*Context, error) {
	inst := owner.InstanceHandle()
	handles := make([]ffi.ModuleHandle, len(modules))
	for i, m := range modules {
		handles[i] = m.h
	}
	h, st := ffi.ContextCreateWithModules(inst, handles)
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return &Context{inst: inst, h: h}, nil
}

// Release drops the context.
func (c *Context) Release() {
	ffi.ContextRelease(c.h)
}

// RegisterModules registers additional modules. A frozen context fails
// with a frozen error.
func (c *Context) RegisterModules(modules ...*Module) error {
	handles := make([]ffi.ModuleHandle, len(modules))
	for i, m := range modules {
		handles[i] = m.h
	}
	st := ffi.ContextRegisterModules(c.h, handles)
	if ffi.StatusCodeOf(st) == ffi.StatusFailedPrecondition {
		ffi.StatusIgnore(st)
		return errors.Frozen("cannot register modules into a frozen context")
	}
	return statusErr(st)
}

// Freeze makes the module set immutable. Freezing a frozen context is a
// no-op.
func (c *Context) Freeze() error {
	return statusErr(ffi.ContextFreeze(c.h))
}

// ModuleCount returns the number of registered modules.
func (c *Context) ModuleCount() (int, error) {
	n, st := ffi.ContextModuleCount(c.h)
	if !ffi.StatusIsOK(st) {
		return 0, statusErr(st)
	}
	return int(n), nil
}

// ModuleAt returns the i'th registered module. The returned module is
// borrowed from the context; do not Release it.
func (c *Context) ModuleAt(i int) (*Module, error) {
	mh, st := ffi.ContextModuleAt(c.h, uint64(i))
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return &Module{inst: c.inst, h: mh}, nil
}

package vm

import (
	"context"

	"github.com/halcyonml/halcyon/internal/ffi"
)

// Module wraps a loaded module container.
type Module struct {
	inst ffi.InstanceHandle
	h    ffi.ModuleHandle
}

// NewModuleFromBytes parses a module container. An empty name keeps the
// name embedded in the container.
func NewModuleFromBytes(ctx context.Context, owner Owner, name string, data []byte) (*Module, error) {
	inst := owner.InstanceHandle()
	h, st := ffi.ModuleCreateFromBytes(ctx, inst, name, data)
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return &Module{inst: inst, h: h}, nil
}

// Release drops the module.
func (m *Module) Release() {
	ffi.ModuleRelease(m.h)
}

// Name returns the module's registered name.
func (m *Module) Name() (string, error) {
	name, st := ffi.ModuleName(m.h)
	if !ffi.StatusIsOK(st) {
		return "", statusErr(st)
	}
	return name, nil
}

// Signature summarizes a module's interface counts.
type Signature struct {
	Version         uint32
	AttrCount       int
	ImportFunctions int
	ExportFunctions int
}

// Signature returns the module's interface summary.
func (m *Module) Signature() (Signature, error) {
	sig, st := ffi.ModuleSignatureOf(m.h)
	if !ffi.StatusIsOK(st) {
		return Signature{}, statusErr(st)
	}
	return Signature{
		Version:         sig.Version,
		AttrCount:       int(sig.AttrCount),
		ImportFunctions: int(sig.ImportFunctionCount),
		ExportFunctions: int(sig.ExportFunctionCount),
	}, nil
}

// LookupAttr returns a reflection attribute value, or "" when unset.
func (m *Module) LookupAttr(key string) (string, error) {
	v, st := ffi.ModuleLookupAttr(m.h, key)
	if !ffi.StatusIsOK(st) {
		return "", statusErr(st)
	}
	return v, nil
}

// LookupFunction resolves an exported function by name.
func (m *Module) LookupFunction(name string) (Function, error) {
	fn, st := ffi.ModuleLookupFunction(m.h, name)
	if !ffi.StatusIsOK(st) {
		return Function{}, statusErr(st)
	}
	return Function{raw: fn}, nil
}

// Handle exposes the core module handle to sibling packages.
func (m *Module) Handle() ffi.ModuleHandle { return m.h }

// Function addresses one exported function of a loaded module.
type Function struct {
	raw ffi.Function
}

// FunctionFromRaw wraps a core function descriptor.
func FunctionFromRaw(raw ffi.Function) Function { return Function{raw: raw} }

// Raw returns the core function descriptor.
func (f Function) Raw() ffi.Function { return f.raw }

// Name returns the function's export name.
func (f Function) Name() (string, error) {
	name, st := ffi.FunctionName(f.raw)
	if !ffi.StatusIsOK(st) {
		return "", statusErr(st)
	}
	return name, nil
}

// CConv returns the function's calling-convention string.
func (f Function) CConv() (string, error) {
	cc, st := ffi.FunctionCConv(f.raw)
	if !ffi.StatusIsOK(st) {
		return "", statusErr(st)
	}
	return cc, nil
}

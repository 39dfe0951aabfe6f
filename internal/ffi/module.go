package ffi

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazero"
	wazeroapi "github.com/tetratelabs/wazero/api"
)

// Two module container formats are understood. The native format is the
// bytecode the bundled compiler emits: a flat little-endian table binding
// exported function names to host dispatch kernels. The second is plain
// WebAssembly, executed through wazero; its exports are restricted to
// value-typed signatures.
//
// Native container layout:
//
//	magic   "HVMB"
//	u32     version (currently 1)
//	u32     name length, name bytes
//	u32     function count
//	per function:
//	  u32 name length, name bytes
//	  u32 kernel length, kernel bytes
//	  u32 arity

var nativeMagic = []byte("HVMB")

const nativeVersion = 1

var wasmMagic = []byte("\x00asm")

// nativeFunc is one exported entry of a native container.
type nativeFunc struct {
	name   string
	kernel string
	arity  int
}

type moduleCore struct {
	inst  InstanceHandle
	name  string
	attrs map[string]string

	// storage handed over with the container bytes, freed on destroy
	owner    Allocator
	ownerPtr Ptr

	// native container state
	funcs []nativeFunc

	// wasm container state
	wasmMod wazeroapi.Module
	exports []wazeroapi.FunctionDefinition
}

func (m *moduleCore) destroy() {
	if m.wasmMod != nil {
		_ = m.wasmMod.Close(context.Background())
	}
	if m.owner != nil {
		p := m.ownerPtr
		StatusIgnore(m.owner.Ctl(AllocatorCommandFree, AllocParams{}, &p))
	}
	tracef("module destroyed name=%s", m.name)
}

func (m *moduleCore) isWasm() bool { return m.wasmMod != nil }

func moduleFromHandle(h ModuleHandle) (*moduleCore, RawStatus) {
	v, ok := getObject(Ptr(h), objModule)
	if !ok {
		return nil, badHandle(objModule)
	}
	return v.(*moduleCore), RawStatusOK
}

// BuildNativeModule emits a native container binding the named exported
// functions to dispatch kernels. The compiler's bytecode output path runs
// through here.
func BuildNativeModule(name string, funcs []nativeFunc) []byte {
	var buf bytes.Buffer
	buf.Write(nativeMagic)
	writeU32(&buf, nativeVersion)
	writeStr(&buf, name)
	writeU32(&buf, uint32(len(funcs)))
	for _, f := range funcs {
		writeStr(&buf, f.name)
		writeStr(&buf, f.kernel)
		writeU32(&buf, uint32(f.arity))
	}
	return buf.Bytes()
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeStr(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) u32() (uint32, bool) {
	if r.off+4 > len(r.data) {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, true
}

func (r *byteReader) str() (string, bool) {
	n, ok := r.u32()
	if !ok || r.off+int(n) > len(r.data) {
		return "", false
	}
	s := string(r.data[r.off : r.off+int(n)])
	r.off += int(n)
	return s, true
}

func parseNativeModule(inst InstanceHandle, data []byte) (*moduleCore, RawStatus) {
	r := &byteReader{data: data, off: len(nativeMagic)}
	version, ok := r.u32()
	if !ok || version != nativeVersion {
		return nil, StatusAllocf(StatusInvalidArgument, "unsupported module container version %d", version)
	}
	name, ok := r.str()
	if !ok {
		return nil, StatusAlloc(StatusInvalidArgument, "truncated module container")
	}
	count, ok := r.u32()
	if !ok {
		return nil, StatusAlloc(StatusInvalidArgument, "truncated module container")
	}
	m := &moduleCore{inst: inst, name: name, attrs: map[string]string{"container": "native"}}
	for i := uint32(0); i < count; i++ {
		fn, ok1 := r.str()
		kernel, ok2 := r.str()
		arity, ok3 := r.u32()
		if !ok1 || !ok2 || !ok3 {
			return nil, StatusAlloc(StatusInvalidArgument, "truncated module container")
		}
		if _, ok := deviceKernels[kernel]; !ok {
			return nil, StatusAllocf(StatusInvalidArgument, "module %q references unknown kernel %q", name, kernel)
		}
		m.funcs = append(m.funcs, nativeFunc{name: fn, kernel: kernel, arity: int(arity)})
	}
	return m, RawStatusOK
}

func parseWasmModule(ctx context.Context, in *instance, inst InstanceHandle, name string, data []byte) (*moduleCore, RawStatus) {
	if name == "" {
		name = "module"
	}
	rt := in.wasmRuntime(ctx)
	compiled, err := rt.CompileModule(ctx, data)
	if err != nil {
		return nil, StatusAllocf(StatusInvalidArgument, "compiling wasm module: %v", err)
	}
	cfg := wazero.NewModuleConfig().WithName(name)
	mod, err := rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, StatusAllocf(StatusInvalidArgument, "instantiating wasm module: %v", err)
	}
	m := &moduleCore{
		inst:    inst,
		name:    name,
		attrs:   map[string]string{"container": "wasm"},
		wasmMod: mod,
	}
	for _, def := range mod.ExportedFunctionDefinitions() {
		m.exports = append(m.exports, def)
	}
	return m, RawStatusOK
}

// ModuleCreateFromBytes parses a module container and registers it with
// the instance. The container format is detected from its magic bytes.
func ModuleCreateFromBytes(ctx context.Context, inst InstanceHandle, name string, data []byte) (ModuleHandle, RawStatus) {
	in, st := instanceFromHandle(inst)
	if !StatusIsOK(st) {
		return 0, st
	}
	var m *moduleCore
	switch {
	case bytes.HasPrefix(data, nativeMagic):
		m, st = parseNativeModule(inst, data)
	case bytes.HasPrefix(data, wasmMagic):
		m, st = parseWasmModule(ctx, in, inst, name, data)
	default:
		return 0, StatusAlloc(StatusInvalidArgument, "unrecognized module container magic")
	}
	if !StatusIsOK(st) {
		return 0, st
	}
	if name != "" {
		m.name = name
	}
	h := ModuleHandle(newObject(objModule, m))
	tracef("module_create name=%s handle=%#x", m.name, h)
	return h, RawStatusOK
}

// ModuleCreateFromMemory parses a module container from memory the
// caller hands over. The module frees ptr through owner when destroyed;
// an owner whose free is a no-op keeps ownership with the caller. On a
// failed parse the memory is handed back immediately.
func ModuleCreateFromMemory(ctx context.Context, inst InstanceHandle, name string, data []byte, owner Allocator, ptr Ptr) (ModuleHandle, RawStatus) {
	h, st := ModuleCreateFromBytes(ctx, inst, name, data)
	if !StatusIsOK(st) {
		if owner != nil {
			p := ptr
			StatusIgnore(owner.Ctl(AllocatorCommandFree, AllocParams{}, &p))
		}
		return 0, st
	}
	m, _ := moduleFromHandle(h)
	m.owner, m.ownerPtr = owner, ptr
	return h, RawStatusOK
}

// ModuleRetain adds a reference to the module.
func ModuleRetain(h ModuleHandle) {
	retainObject(Ptr(h))
}

// ModuleRelease drops a reference to the module.
func ModuleRelease(h ModuleHandle) {
	releaseObject(Ptr(h))
}

// ModuleName returns the module's registered name.
func ModuleName(h ModuleHandle) (string, RawStatus) {
	m, st := moduleFromHandle(h)
	if !StatusIsOK(st) {
		return "", st
	}
	return m.name, RawStatusOK
}

// ModuleSignature summarizes a module's interface.
type ModuleSignature struct {
	Version               uint32
	AttrCount             uint64
	ImportFunctionCount   uint64
	ExportFunctionCount   uint64
	InternalFunctionCount uint64
}

// ModuleSignatureOf returns the module's interface summary.
func ModuleSignatureOf(h ModuleHandle) (ModuleSignature, RawStatus) {
	m, st := moduleFromHandle(h)
	if !StatusIsOK(st) {
		return ModuleSignature{}, st
	}
	sig := ModuleSignature{Version: nativeVersion, AttrCount: uint64(len(m.attrs))}
	if m.isWasm() {
		sig.ExportFunctionCount = uint64(len(m.exports))
	} else {
		sig.ExportFunctionCount = uint64(len(m.funcs))
	}
	return sig, RawStatusOK
}

// ModuleLookupAttr returns the value of a reflection attribute, or "" if
// unset.
func ModuleLookupAttr(h ModuleHandle, key string) (string, RawStatus) {
	m, st := moduleFromHandle(h)
	if !StatusIsOK(st) {
		return "", st
	}
	return m.attrs[key], RawStatusOK
}

// FunctionLinkage distinguishes imported from exported functions.
type FunctionLinkage uint8

const (
	LinkageImport FunctionLinkage = iota
	LinkageExport
)

// Function addresses one function inside a module by export ordinal.
type Function struct {
	Module  ModuleHandle
	Ordinal uint32
	Linkage FunctionLinkage
}

func (m *moduleCore) exportCount() int {
	if m.isWasm() {
		return len(m.exports)
	}
	return len(m.funcs)
}

func (m *moduleCore) exportName(ordinal int) string {
	if m.isWasm() {
		names := m.exports[ordinal].ExportNames()
		if len(names) > 0 {
			return names[0]
		}
		return ""
	}
	return m.funcs[ordinal].name
}

// ModuleLookupFunction resolves an exported function by name.
func ModuleLookupFunction(h ModuleHandle, name string) (Function, RawStatus) {
	m, st := moduleFromHandle(h)
	if !StatusIsOK(st) {
		return Function{}, st
	}
	for i := 0; i < m.exportCount(); i++ {
		if m.exportName(i) == name {
			return Function{Module: h, Ordinal: uint32(i), Linkage: LinkageExport}, RawStatusOK
		}
	}
	return Function{}, StatusAllocf(StatusNotFound, "module %q exports no function %q", m.name, name)
}

// FunctionName returns the export name of a resolved function.
func FunctionName(f Function) (string, RawStatus) {
	m, st := moduleFromHandle(f.Module)
	if !StatusIsOK(st) {
		return "", st
	}
	if int(f.Ordinal) >= m.exportCount() {
		return "", StatusAllocf(StatusOutOfRange, "ordinal %d out of range", f.Ordinal)
	}
	return m.exportName(int(f.Ordinal)), RawStatusOK
}

// FunctionCConv returns the function's calling-convention string: one
// character per input then a '_' then one per result, using 'i'/'I' for
// 32/64-bit integers, 'f'/'F' for floats, and 'r' for references.
func FunctionCConv(f Function) (string, RawStatus) {
	m, st := moduleFromHandle(f.Module)
	if !StatusIsOK(st) {
		return "", st
	}
	if int(f.Ordinal) >= m.exportCount() {
		return "", StatusAllocf(StatusOutOfRange, "ordinal %d out of range", f.Ordinal)
	}
	if !m.isWasm() {
		fn := m.funcs[f.Ordinal]
		var sb bytes.Buffer
		for i := 0; i < fn.arity; i++ {
			sb.WriteByte('r')
		}
		sb.WriteByte('_')
		sb.WriteByte('r')
		return sb.String(), RawStatusOK
	}
	def := m.exports[f.Ordinal]
	var sb bytes.Buffer
	for _, t := range def.ParamTypes() {
		c, err := cconvChar(t)
		if err != nil {
			return "", StatusAllocf(StatusUnimplemented, "%v", err)
		}
		sb.WriteByte(c)
	}
	sb.WriteByte('_')
	for _, t := range def.ResultTypes() {
		c, err := cconvChar(t)
		if err != nil {
			return "", StatusAllocf(StatusUnimplemented, "%v", err)
		}
		sb.WriteByte(c)
	}
	return sb.String(), RawStatusOK
}

func cconvChar(t wazeroapi.ValueType) (byte, error) {
	switch t {
	case wazeroapi.ValueTypeI32:
		return 'i', nil
	case wazeroapi.ValueTypeI64:
		return 'I', nil
	case wazeroapi.ValueTypeF32:
		return 'f', nil
	case wazeroapi.ValueTypeF64:
		return 'F', nil
	default:
		return 0, fmt.Errorf("unsupported wasm value type %v", t)
	}
}

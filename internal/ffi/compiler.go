package ffi

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// The compiler core mirrors the stable compiler embedding ABI: a
// process-global init/shutdown pair, sessions carrying flag state,
// invocations running a source through a pass pipeline, and output
// objects that buffer results until kept. The accepted input is a small
// line-structured tensor dialect; the bytecode output is the native
// module container the runtime loads.

const (
	compilerAPIMajor = 1
	compilerAPIMinor = 5
)

// CompilerRevisionString identifies the compiler build.
const CompilerRevisionString = "halcyon-compiler 20260830"

var (
	compilerMu   sync.Mutex
	compilerInit bool
	compilerCL   []string
)

// CompilerGlobalInitialize prepares process-global compiler state. A
// second call before shutdown fails.
func CompilerGlobalInitialize() RawStatus {
	compilerMu.Lock()
	defer compilerMu.Unlock()
	if compilerInit {
		return StatusAlloc(StatusFailedPrecondition, "compiler is already initialized in this process")
	}
	compilerInit = true
	tracef("compiler_global_initialize")
	return RawStatusOK
}

// CompilerGlobalShutdown tears down process-global compiler state,
// permitting a later re-initialization.
func CompilerGlobalShutdown() {
	compilerMu.Lock()
	compilerInit = false
	compilerCL = nil
	compilerMu.Unlock()
	tracef("compiler_global_shutdown")
}

func compilerReady() RawStatus {
	compilerMu.Lock()
	defer compilerMu.Unlock()
	if !compilerInit {
		return StatusAlloc(StatusFailedPrecondition, "compiler is not initialized")
	}
	return RawStatusOK
}

// CompilerAPIVersion returns the packed stable ABI version,
// major<<16|minor.
func CompilerAPIVersion() uint32 {
	return compilerAPIMajor<<16 | compilerAPIMinor
}

// CompilerRevision returns the build identification string.
func CompilerRevision() string {
	return CompilerRevisionString
}

// CompilerSetupGlobalCL installs process-wide command line flags. Must be
// called after initialization.
func CompilerSetupGlobalCL(args []string) RawStatus {
	if st := compilerReady(); !StatusIsOK(st) {
		return st
	}
	compilerMu.Lock()
	compilerCL = append([]string(nil), args...)
	compilerMu.Unlock()
	return RawStatusOK
}

var targetBackends = []string{"llvm-cpu", "vmvx"}

// CompilerEnumerateRegisteredHALTargetBackends calls cb once per
// registered target backend.
func CompilerEnumerateRegisteredHALTargetBackends(cb StringCallback, user Ptr) {
	for _, b := range targetBackends {
		cb(b, user)
	}
}

// CompilerEnumeratePlugins calls cb once per loaded compiler plugin.
// The builtin build carries none.
func CompilerEnumeratePlugins(cb StringCallback, user Ptr) {
	_ = cb
	_ = user
}

// cError is an owned compiler error object. Message is fetched and the
// object destroyed explicitly, mirroring the two-call ABI shape.
type cError struct {
	message string
}

func (e *cError) destroy() {}

// CErrorHandle identifies an owned compiler error.
type CErrorHandle Ptr

func newCError(format string, args ...any) CErrorHandle {
	return CErrorHandle(newObject(objCompilerError, &cError{message: fmt.Sprintf(format, args...)}))
}

// CErrorMessage returns the error's message.
func CErrorMessage(h CErrorHandle) string {
	v, ok := getObject(Ptr(h), objCompilerError)
	if !ok {
		return ""
	}
	return v.(*cError).message
}

// CErrorDestroy releases the error object.
func CErrorDestroy(h CErrorHandle) {
	releaseObject(Ptr(h))
}

// sessionFlag describes one registered session flag.
type sessionFlag struct {
	def      string
	validate func(string) bool
}

var sessionFlagRegistry = map[string]sessionFlag{
	"target-backends": {def: "llvm-cpu", validate: func(v string) bool {
		for _, b := range targetBackends {
			if v == b {
				return true
			}
		}
		return false
	}},
	"opt-level": {def: "2", validate: func(v string) bool {
		return v == "0" || v == "1" || v == "2" || v == "3"
	}},
	"strip-debug": {def: "false", validate: func(v string) bool {
		return v == "true" || v == "false"
	}},
}

// cSession carries per-session compiler configuration.
type cSession struct {
	mu    sync.Mutex
	flags map[string]string
}

func (s *cSession) destroy() {
	tracef("compiler session destroyed")
}

// CSessionHandle identifies a compiler session.
type CSessionHandle Ptr

func cSessionFromHandle(h CSessionHandle) (*cSession, bool) {
	v, ok := getObject(Ptr(h), objCompilerSession)
	if !ok {
		return nil, false
	}
	return v.(*cSession), true
}

// CSessionCreate creates a compiler session with default flags. Fails if
// the compiler is not initialized.
func CSessionCreate() (CSessionHandle, CErrorHandle) {
	if st := compilerReady(); !StatusIsOK(st) {
		msg := StatusMessage(st)
		StatusIgnore(st)
		return 0, newCError("%s", msg)
	}
	s := &cSession{flags: map[string]string{}}
	for name, f := range sessionFlagRegistry {
		s.flags[name] = f.def
	}
	return CSessionHandle(newObject(objCompilerSession, s)), 0
}

// CSessionDestroy releases the session.
func CSessionDestroy(h CSessionHandle) {
	releaseObject(Ptr(h))
}

// CSessionSetFlags parses and applies "--name=value" (or bare "--name"
// for booleans) flag strings. The first unknown or malformed flag aborts
// the call.
func CSessionSetFlags(h CSessionHandle, argv []string) CErrorHandle {
	s, ok := cSessionFromHandle(h)
	if !ok {
		return newCError("invalid compiler session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, arg := range argv {
		rest, found := strings.CutPrefix(arg, "--")
		if !found || rest == "" {
			return newCError("flag %q is not of the form --name=value", arg)
		}
		name, value, hasValue := strings.Cut(rest, "=")
		reg, ok := sessionFlagRegistry[name]
		if !ok {
			return newCError("unknown flag --%s", name)
		}
		if !hasValue {
			// bare form allowed for booleans only
			if reg.def != "true" && reg.def != "false" {
				return newCError("flag --%s requires a value", name)
			}
			value = "true"
		}
		if !reg.validate(value) {
			return newCError("invalid value %q for flag --%s", value, name)
		}
		s.flags[name] = value
	}
	return 0
}

// CSessionGetFlags enumerates flags as "--name=value" strings in sorted
// order. With nonDefaultOnly set, flags still at their default are
// skipped.
func CSessionGetFlags(h CSessionHandle, nonDefaultOnly bool, cb StringCallback, user Ptr) {
	s, ok := cSessionFromHandle(h)
	if !ok {
		return
	}
	s.mu.Lock()
	names := make([]string, 0, len(s.flags))
	for name := range s.flags {
		if nonDefaultOnly && s.flags[name] == sessionFlagRegistry[name].def {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, fmt.Sprintf("--%s=%s", name, s.flags[name]))
	}
	s.mu.Unlock()
	for _, line := range out {
		cb(line, user)
	}
}

// cSource is a named input buffer.
type cSource struct {
	name string
	data []byte
}

func (s *cSource) destroy() {}

// CSourceHandle identifies a compiler source buffer.
type CSourceHandle Ptr

func cSourceFromHandle(h CSourceHandle) (*cSource, bool) {
	v, ok := getObject(Ptr(h), objCompilerSource)
	if !ok {
		return nil, false
	}
	return v.(*cSource), true
}

// CSourceOpenFile reads a source from disk.
func CSourceOpenFile(sess CSessionHandle, path string) (CSourceHandle, CErrorHandle) {
	if _, ok := cSessionFromHandle(sess); !ok {
		return 0, newCError("invalid compiler session")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, newCError("opening source file %q: %v", path, err)
	}
	src := &cSource{name: path, data: data}
	return CSourceHandle(newObject(objCompilerSource, src)), 0
}

// CSourceWrapBuffer wraps an in-memory buffer as a named source.
func CSourceWrapBuffer(sess CSessionHandle, name string, data []byte) (CSourceHandle, CErrorHandle) {
	if _, ok := cSessionFromHandle(sess); !ok {
		return 0, newCError("invalid compiler session")
	}
	src := &cSource{name: name, data: append([]byte(nil), data...)}
	return CSourceHandle(newObject(objCompilerSource, src)), 0
}

// sourceSplitMarker separates stacked documents inside one source
// buffer.
const sourceSplitMarker = "// -----"

// CSourceSplit splits a source at document markers, yielding one new
// source per document. The original source remains valid.
func CSourceSplit(h CSourceHandle) ([]CSourceHandle, CErrorHandle) {
	src, ok := cSourceFromHandle(h)
	if !ok {
		return nil, newCError("invalid compiler source")
	}
	var parts []string
	var cur []string
	for _, line := range strings.Split(string(src.data), "\n") {
		if strings.TrimSpace(line) == sourceSplitMarker {
			parts = append(parts, strings.Join(cur, "\n"))
			cur = cur[:0]
			continue
		}
		cur = append(cur, line)
	}
	parts = append(parts, strings.Join(cur, "\n"))
	out := make([]CSourceHandle, 0, len(parts))
	for i, p := range parts {
		ns := &cSource{name: fmt.Sprintf("%s#%d", src.name, i), data: []byte(p)}
		out = append(out, CSourceHandle(newObject(objCompilerSource, ns)))
	}
	return out, 0
}

// CSourceDestroy releases a source buffer.
func CSourceDestroy(h CSourceHandle) {
	releaseObject(Ptr(h))
}

// cOutput buffers compiler output. Writes land in a temporary buffer or
// file that is discarded on destroy unless Keep was called.
type cOutput struct {
	path string // "" for memory outputs
	fd   int    // -1 unless fd-backed
	buf  []byte
	keep bool
}

func (o *cOutput) destroy() {
	if o.path != "" && !o.keep {
		_ = os.Remove(o.path)
	}
}

// COutputHandle identifies a compiler output object.
type COutputHandle Ptr

func cOutputFromHandle(h COutputHandle) (*cOutput, bool) {
	v, ok := getObject(Ptr(h), objCompilerOutput)
	if !ok {
		return nil, false
	}
	return v.(*cOutput), true
}

// COutputOpenFile creates an output that writes to path on keep.
func COutputOpenFile(path string) (COutputHandle, CErrorHandle) {
	if path == "" {
		return 0, newCError("output path must not be empty")
	}
	o := &cOutput{path: path, fd: -1}
	return COutputHandle(newObject(objCompilerOutput, o)), 0
}

// COutputOpenFD creates an output that writes through an open descriptor.
func COutputOpenFD(fd int) (COutputHandle, CErrorHandle) {
	if fd < 0 {
		return 0, newCError("invalid output descriptor %d", fd)
	}
	o := &cOutput{fd: fd}
	return COutputHandle(newObject(objCompilerOutput, o)), 0
}

// COutputOpenMembuffer creates an in-memory output.
func COutputOpenMembuffer() (COutputHandle, CErrorHandle) {
	o := &cOutput{fd: -1}
	return COutputHandle(newObject(objCompilerOutput, o)), 0
}

// COutputMapMemory returns the bytes written so far to a memory output.
func COutputMapMemory(h COutputHandle) ([]byte, CErrorHandle) {
	o, ok := cOutputFromHandle(h)
	if !ok {
		return nil, newCError("invalid compiler output")
	}
	return o.buf, 0
}

// COutputWrite appends data to the output.
func COutputWrite(h COutputHandle, data []byte) CErrorHandle {
	o, ok := cOutputFromHandle(h)
	if !ok {
		return newCError("invalid compiler output")
	}
	if o.fd >= 0 {
		f := os.NewFile(uintptr(o.fd), "compiler-output")
		if f == nil {
			return newCError("invalid output descriptor %d", o.fd)
		}
		if _, err := f.Write(data); err != nil {
			return newCError("writing output: %v", err)
		}
		return 0
	}
	o.buf = append(o.buf, data...)
	return 0
}

// COutputKeep commits the output: file outputs are flushed to their path
// and survive destruction.
func COutputKeep(h COutputHandle) CErrorHandle {
	o, ok := cOutputFromHandle(h)
	if !ok {
		return newCError("invalid compiler output")
	}
	o.keep = true
	if o.path != "" {
		if err := os.WriteFile(o.path, o.buf, 0o644); err != nil {
			return newCError("writing output file %q: %v", o.path, err)
		}
	}
	return 0
}

// COutputDestroy releases the output, discarding unkept file contents.
func COutputDestroy(h COutputHandle) {
	releaseObject(Ptr(h))
}

// Diagnostic severities reported through invocation callbacks.
type DiagnosticSeverity uint32

const (
	SeverityNote DiagnosticSeverity = iota
	SeverityWarning
	SeverityError
	SeverityRemark
)

func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityNote:
		return "note"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityRemark:
		return "remark"
	default:
		return "unknown"
	}
}

// DiagnosticCallback receives one diagnostic per invocation.
type DiagnosticCallback func(severity DiagnosticSeverity, message string, user Ptr)

// Compilation phase ordering for from/to phase selection.
var compilePhases = []string{"input", "abi", "flow", "stream", "hal", "vm", "end"}

func phaseIndex(name string) int {
	for i, p := range compilePhases {
		if p == name {
			return i
		}
	}
	return -1
}

// Pipeline selects which pass pipeline an invocation runs.
type Pipeline uint32

const (
	PipelineStd Pipeline = iota
	PipelineHALExecutable
	PipelinePrecompile
)

// irFunc is one parsed function of the input dialect.
type irFunc struct {
	name   string
	params []irParam
	result irTensor
	op     string
}

type irParam struct {
	name   string
	tensor irTensor
}

type irTensor struct {
	dims []uint64
	elem ElementType
}

func (t irTensor) equal(o irTensor) bool {
	if t.elem != o.elem || len(t.dims) != len(o.dims) {
		return false
	}
	for i := range t.dims {
		if t.dims[i] != o.dims[i] {
			return false
		}
	}
	return true
}

type irModule struct {
	name  string
	funcs []irFunc
}

// cInvocation runs one source through the configured pipeline.
type cInvocation struct {
	sess CSessionHandle

	diagCb   DiagnosticCallback
	diagUser Ptr
	console  bool
	verify   bool

	fromPhase int
	toPhase   int

	parsed *irModule
	ran    bool
}

func (i *cInvocation) destroy() {
	tracef("compiler invocation destroyed")
}

// CInvocationHandle identifies a compiler invocation.
type CInvocationHandle Ptr

func cInvocationFromHandle(h CInvocationHandle) (*cInvocation, bool) {
	v, ok := getObject(Ptr(h), objCompilerInvocation)
	if !ok {
		return nil, false
	}
	return v.(*cInvocation), true
}

// CInvocationCreate creates an invocation bound to a session.
func CInvocationCreate(sess CSessionHandle) (CInvocationHandle, CErrorHandle) {
	if _, ok := cSessionFromHandle(sess); !ok {
		return 0, newCError("invalid compiler session")
	}
	inv := &cInvocation{
		sess:      sess,
		verify:    true,
		fromPhase: 0,
		toPhase:   len(compilePhases) - 1,
	}
	return CInvocationHandle(newObject(objCompilerInvocation, inv)), 0
}

// CInvocationDestroy releases the invocation.
func CInvocationDestroy(h CInvocationHandle) {
	releaseObject(Ptr(h))
}

// CInvocationEnableCallbackDiagnostics routes diagnostics to cb with the
// given opaque user word.
func CInvocationEnableCallbackDiagnostics(h CInvocationHandle, cb DiagnosticCallback, user Ptr) CErrorHandle {
	inv, ok := cInvocationFromHandle(h)
	if !ok {
		return newCError("invalid compiler invocation")
	}
	inv.diagCb = cb
	inv.diagUser = user
	return 0
}

// CInvocationEnableConsoleDiagnostics additionally prints diagnostics to
// stderr.
func CInvocationEnableConsoleDiagnostics(h CInvocationHandle) CErrorHandle {
	inv, ok := cInvocationFromHandle(h)
	if !ok {
		return newCError("invalid compiler invocation")
	}
	inv.console = true
	return 0
}

func (i *cInvocation) diag(sev DiagnosticSeverity, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if i.diagCb != nil {
		i.diagCb(sev, msg, i.diagUser)
	}
	if i.console {
		fmt.Fprintf(os.Stderr, "%s: %s\n", sev, msg)
	}
	tracef("compiler diag %s: %s", sev, msg)
}

// CInvocationSetCompileFromPhase sets the first phase to run. Empty
// resets to the beginning.
func CInvocationSetCompileFromPhase(h CInvocationHandle, phase string) CErrorHandle {
	inv, ok := cInvocationFromHandle(h)
	if !ok {
		return newCError("invalid compiler invocation")
	}
	if phase == "" {
		inv.fromPhase = 0
		return 0
	}
	idx := phaseIndex(phase)
	if idx < 0 {
		return newCError("unknown compilation phase %q", phase)
	}
	inv.fromPhase = idx
	return 0
}

// CInvocationSetCompileToPhase sets the last phase to run.
func CInvocationSetCompileToPhase(h CInvocationHandle, phase string) CErrorHandle {
	inv, ok := cInvocationFromHandle(h)
	if !ok {
		return newCError("invalid compiler invocation")
	}
	idx := phaseIndex(phase)
	if idx < 0 {
		return newCError("unknown compilation phase %q", phase)
	}
	inv.toPhase = idx
	return 0
}

// CInvocationSetVerifyIR toggles IR verification between pipeline steps.
func CInvocationSetVerifyIR(h CInvocationHandle, enable bool) {
	if inv, ok := cInvocationFromHandle(h); ok {
		inv.verify = enable
	}
}

var knownOps = map[string]string{
	"vm.add": "add",
	"vm.mul": "mul",
}

// CInvocationParseSource parses a source buffer into the invocation.
// Parse failures are reported through the diagnostic sinks and the call
// returns false.
func CInvocationParseSource(h CInvocationHandle, src CSourceHandle) bool {
	inv, ok := cInvocationFromHandle(h)
	if !ok {
		return false
	}
	s, ok := cSourceFromHandle(src)
	if !ok {
		inv.diag(SeverityError, "invalid source buffer")
		return false
	}
	mod, err := parseIR(string(s.data))
	if err != nil {
		inv.diag(SeverityError, "%s: %v", s.name, err)
		return false
	}
	if inv.verify {
		if err := verifyIR(mod); err != nil {
			inv.diag(SeverityError, "%s: %v", s.name, err)
			return false
		}
	}
	inv.parsed = mod
	inv.ran = false
	return true
}

// CInvocationPipeline runs the selected pass pipeline over the parsed
// module.
func CInvocationPipeline(h CInvocationHandle, p Pipeline) bool {
	inv, ok := cInvocationFromHandle(h)
	if !ok {
		return false
	}
	if inv.parsed == nil {
		inv.diag(SeverityError, "no source has been parsed")
		return false
	}
	switch p {
	case PipelineStd, PipelinePrecompile:
	case PipelineHALExecutable:
		if len(inv.parsed.funcs) != 1 {
			inv.diag(SeverityError, "executable pipeline requires exactly one function, got %d", len(inv.parsed.funcs))
			return false
		}
	default:
		inv.diag(SeverityError, "unknown pipeline %d", p)
		return false
	}
	if inv.fromPhase > inv.toPhase {
		inv.diag(SeverityError, "compile-from phase %q is after compile-to phase %q",
			compilePhases[inv.fromPhase], compilePhases[inv.toPhase])
		return false
	}
	inv.ran = true
	return true
}

var knownPasses = map[string]bool{
	"canonicalize": true,
	"cse":          true,
	"verify":       true,
}

// CInvocationRunPassPipeline runs a comma-separated textual pass list.
func CInvocationRunPassPipeline(h CInvocationHandle, textPassPipeline string) bool {
	inv, ok := cInvocationFromHandle(h)
	if !ok {
		return false
	}
	if inv.parsed == nil {
		inv.diag(SeverityError, "no source has been parsed")
		return false
	}
	for _, pass := range strings.Split(textPassPipeline, ",") {
		pass = strings.TrimSpace(pass)
		if pass == "" {
			continue
		}
		if !knownPasses[pass] {
			inv.diag(SeverityError, "unknown pass %q", pass)
			return false
		}
		if pass == "verify" {
			if err := verifyIR(inv.parsed); err != nil {
				inv.diag(SeverityError, "%v", err)
				return false
			}
		}
	}
	return true
}

func (i *cInvocation) requireRun() CErrorHandle {
	if i.parsed == nil {
		return newCError("no source has been parsed")
	}
	if !i.ran {
		return newCError("pipeline has not been run")
	}
	return 0
}

// CInvocationOutputIR writes the module back out as dialect text.
func CInvocationOutputIR(h CInvocationHandle, out COutputHandle) CErrorHandle {
	inv, ok := cInvocationFromHandle(h)
	if !ok {
		return newCError("invalid compiler invocation")
	}
	if inv.parsed == nil {
		return newCError("no source has been parsed")
	}
	return COutputWrite(out, []byte(printIR(inv.parsed)))
}

// CInvocationOutputIRBytecode writes a compact IR form. The textual form
// is already canonical, so this matches OutputIR for this dialect.
func CInvocationOutputIRBytecode(h CInvocationHandle, out COutputHandle) CErrorHandle {
	return CInvocationOutputIR(h, out)
}

// CInvocationOutputVMBytecode lowers the compiled module to the native
// container format.
func CInvocationOutputVMBytecode(h CInvocationHandle, out COutputHandle) CErrorHandle {
	inv, ok := cInvocationFromHandle(h)
	if !ok {
		return newCError("invalid compiler invocation")
	}
	if e := inv.requireRun(); e != 0 {
		return e
	}
	funcs := make([]nativeFunc, 0, len(inv.parsed.funcs))
	for _, f := range inv.parsed.funcs {
		kernel, err := lowerKernel(f)
		if err != nil {
			return newCError("lowering %s: %v", f.name, err)
		}
		funcs = append(funcs, nativeFunc{name: f.name, kernel: kernel, arity: len(f.params)})
	}
	return COutputWrite(out, BuildNativeModule(inv.parsed.name, funcs))
}

// CInvocationOutputHALExecutable writes a single-function executable
// binary. Requires the executable pipeline to have run.
func CInvocationOutputHALExecutable(h CInvocationHandle, out COutputHandle) CErrorHandle {
	inv, ok := cInvocationFromHandle(h)
	if !ok {
		return newCError("invalid compiler invocation")
	}
	if e := inv.requireRun(); e != 0 {
		return e
	}
	if len(inv.parsed.funcs) != 1 {
		return newCError("executable output requires exactly one function, got %d", len(inv.parsed.funcs))
	}
	f := inv.parsed.funcs[0]
	kernel, err := lowerKernel(f)
	if err != nil {
		return newCError("lowering %s: %v", f.name, err)
	}
	return COutputWrite(out, BuildNativeModule(inv.parsed.name, []nativeFunc{{
		name:   f.name,
		kernel: kernel,
		arity:  len(f.params),
	}}))
}

func lowerKernel(f irFunc) (string, error) {
	op, ok := knownOps[f.op]
	if !ok {
		return "", fmt.Errorf("unsupported op %q", f.op)
	}
	var suffix string
	switch f.result.elem {
	case ElementTypeFloat32:
		suffix = "f32"
	case ElementTypeSInt32:
		suffix = "i32"
	default:
		return "", fmt.Errorf("no kernel for element type %s", f.result.elem)
	}
	kernel := "elementwise." + op + "." + suffix
	if _, ok := deviceKernels[kernel]; !ok {
		return "", fmt.Errorf("no kernel for %s over %s", f.op, f.result.elem)
	}
	return kernel, nil
}

// parseIR parses the line-structured tensor dialect:
//
//	module @name {
//	  func @f(%a: tensor<4xf32>, %b: tensor<4xf32>) -> tensor<4xf32> = vm.add
//	}
func parseIR(text string) (*irModule, error) {
	var mod *irModule
	closed := false
	for lineNo, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "module "):
			if mod != nil {
				return nil, fmt.Errorf("line %d: nested module", lineNo+1)
			}
			rest := strings.TrimPrefix(line, "module ")
			rest = strings.TrimSuffix(strings.TrimSpace(rest), "{")
			rest = strings.TrimSpace(rest)
			if !strings.HasPrefix(rest, "@") || len(rest) < 2 {
				return nil, fmt.Errorf("line %d: module name must be @name", lineNo+1)
			}
			mod = &irModule{name: rest[1:]}
		case line == "}":
			if mod == nil || closed {
				return nil, fmt.Errorf("line %d: unmatched '}'", lineNo+1)
			}
			closed = true
		case strings.HasPrefix(line, "func "):
			if mod == nil || closed {
				return nil, fmt.Errorf("line %d: func outside module", lineNo+1)
			}
			f, err := parseFunc(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %v", lineNo+1, err)
			}
			mod.funcs = append(mod.funcs, *f)
		default:
			return nil, fmt.Errorf("line %d: unrecognized construct %q", lineNo+1, line)
		}
	}
	if mod == nil {
		return nil, fmt.Errorf("source contains no module")
	}
	if !closed {
		return nil, fmt.Errorf("module @%s is not closed", mod.name)
	}
	return mod, nil
}

func parseFunc(line string) (*irFunc, error) {
	rest := strings.TrimPrefix(line, "func ")
	open := strings.IndexByte(rest, '(')
	if open < 0 || !strings.HasPrefix(rest, "@") {
		return nil, fmt.Errorf("func header must be @name(...)")
	}
	name := rest[1:open]
	if name == "" {
		return nil, fmt.Errorf("func name is empty")
	}
	end := strings.IndexByte(rest, ')')
	if end < open {
		return nil, fmt.Errorf("unterminated parameter list")
	}
	f := &irFunc{name: name}
	paramText := strings.TrimSpace(rest[open+1 : end])
	if paramText != "" {
		for _, p := range strings.Split(paramText, ",") {
			pname, ptype, ok := strings.Cut(strings.TrimSpace(p), ":")
			if !ok || !strings.HasPrefix(pname, "%") {
				return nil, fmt.Errorf("parameter %q must be %%name: tensor<...>", p)
			}
			t, err := parseTensor(strings.TrimSpace(ptype))
			if err != nil {
				return nil, err
			}
			f.params = append(f.params, irParam{name: strings.TrimSpace(pname)[1:], tensor: t})
		}
	}
	tail := strings.TrimSpace(rest[end+1:])
	resultText, opText, ok := strings.Cut(tail, "=")
	if !ok {
		return nil, fmt.Errorf("func body must be '-> type = op'")
	}
	resultText = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(resultText), "->"))
	t, err := parseTensor(resultText)
	if err != nil {
		return nil, err
	}
	f.result = t
	f.op = strings.TrimSpace(opText)
	if f.op == "" {
		return nil, fmt.Errorf("func op is empty")
	}
	return f, nil
}

func parseTensor(s string) (irTensor, error) {
	inner, ok := strings.CutPrefix(s, "tensor<")
	if !ok || !strings.HasSuffix(inner, ">") {
		return irTensor{}, fmt.Errorf("type %q is not tensor<...>", s)
	}
	inner = strings.TrimSuffix(inner, ">")
	parts := strings.Split(inner, "x")
	if len(parts) < 2 {
		return irTensor{}, fmt.Errorf("tensor type %q needs at least one dimension", s)
	}
	var t irTensor
	switch parts[len(parts)-1] {
	case "f32":
		t.elem = ElementTypeFloat32
	case "f64":
		t.elem = ElementTypeFloat64
	case "i32":
		t.elem = ElementTypeSInt32
	case "i64":
		t.elem = ElementTypeSInt64
	default:
		return irTensor{}, fmt.Errorf("unsupported element type %q", parts[len(parts)-1])
	}
	for _, d := range parts[:len(parts)-1] {
		var dim uint64
		if _, err := fmt.Sscanf(d, "%d", &dim); err != nil || dim == 0 {
			return irTensor{}, fmt.Errorf("invalid dimension %q", d)
		}
		t.dims = append(t.dims, dim)
	}
	return t, nil
}

func verifyIR(mod *irModule) error {
	seen := map[string]bool{}
	for _, f := range mod.funcs {
		if seen[f.name] {
			return fmt.Errorf("duplicate function @%s", f.name)
		}
		seen[f.name] = true
		if _, ok := knownOps[f.op]; !ok {
			return fmt.Errorf("@%s: unknown op %q", f.name, f.op)
		}
		if len(f.params) != 2 {
			return fmt.Errorf("@%s: op %s takes exactly 2 operands, got %d", f.name, f.op, len(f.params))
		}
		for _, p := range f.params {
			if !p.tensor.equal(f.result) {
				return fmt.Errorf("@%s: operand %%%s type does not match result type", f.name, p.name)
			}
		}
	}
	return nil
}

func printIR(mod *irModule) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "module @%s {\n", mod.name)
	for _, f := range mod.funcs {
		fmt.Fprintf(&sb, "  func @%s(", f.name)
		for i, p := range f.params {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%%%s: %s", p.name, formatTensor(p.tensor))
		}
		fmt.Fprintf(&sb, ") -> %s = %s\n", formatTensor(f.result), f.op)
	}
	sb.WriteString("}\n")
	return sb.String()
}

func formatTensor(t irTensor) string {
	var sb strings.Builder
	sb.WriteString("tensor<")
	for _, d := range t.dims {
		fmt.Fprintf(&sb, "%dx", d)
	}
	sb.WriteString(t.elem.String())
	sb.WriteByte('>')
	return sb.String()
}

package compiler

import (
	"strings"

	"github.com/halcyonml/halcyon/errors"
	"github.com/halcyonml/halcyon/internal/ffi"
)

// Severity grades a compiler diagnostic.
type Severity uint32

const (
	SeverityNote    Severity = Severity(ffi.SeverityNote)
	SeverityWarning Severity = Severity(ffi.SeverityWarning)
	SeverityError   Severity = Severity(ffi.SeverityError)
	SeverityRemark  Severity = Severity(ffi.SeverityRemark)
)

func (s Severity) String() string {
	return ffi.DiagnosticSeverity(s).String()
}

// Diagnostic is one message emitted during compilation.
type Diagnostic struct {
	Severity Severity
	Message  string
}

// Diagnostics is the ordered log of messages one invocation op emitted.
type Diagnostics []Diagnostic

// String renders the log one diagnostic per line.
func (d Diagnostics) String() string {
	var b strings.Builder
	for _, m := range d {
		b.WriteString(m.Severity.String())
		b.WriteString(": ")
		b.WriteString(m.Message)
		b.WriteByte('\n')
	}
	return b.String()
}

// Error lets a log travel as the cause of a failed compile operation.
func (d Diagnostics) Error() string {
	return strings.TrimSuffix(d.String(), "\n")
}

// Pipeline selects which pass pipeline an invocation runs.
type Pipeline uint32

const (
	// PipelineStd is the full source-to-bytecode pipeline.
	PipelineStd Pipeline = Pipeline(ffi.PipelineStd)
	// PipelineHALExecutable compiles a single dispatch function into an
	// executable binary.
	PipelineHALExecutable Pipeline = Pipeline(ffi.PipelineHALExecutable)
	// PipelinePrecompile runs only the phases ahead of code generation.
	PipelinePrecompile Pipeline = Pipeline(ffi.PipelinePrecompile)
)

// Invocation drives one source through the configured pipeline.
// Invocations are thread-compatible.
type Invocation struct {
	sess    *Session
	h       ffi.CInvocationHandle
	release func()

	log    Diagnostics
	userFn func(Diagnostic)
}

// NewInvocation creates an invocation bound to the session. Diagnostics
// are accumulated per operation from creation on.
func (s *Session) NewInvocation() (*Invocation, error) {
	h, e := ffi.CInvocationCreate(s.h)
	if e != 0 {
		return nil, cerr(errors.PhaseCompile, errors.KindInvalidData, e)
	}
	inv := &Invocation{sess: s, h: h}
	cb, user, release := ffi.CaptureDiagnosticFunc(func(sev ffi.DiagnosticSeverity, msg string) {
		d := Diagnostic{Severity: Severity(sev), Message: msg}
		inv.log = append(inv.log, d)
		if inv.userFn != nil {
			inv.userFn(d)
		}
	})
	if e := ffi.CInvocationEnableCallbackDiagnostics(h, cb, user); e != 0 {
		release()
		ffi.CInvocationDestroy(h)
		return nil, cerr(errors.PhaseCompile, errors.KindInvalidData, e)
	}
	inv.release = release
	return inv, nil
}

// Close destroys the invocation and unpins any diagnostic callback.
func (i *Invocation) Close() {
	ffi.CInvocationDestroy(i.h)
	if i.release != nil {
		i.release()
		i.release = nil
	}
}

// EnableCallbackDiagnostics forwards each diagnostic to fn as it is
// emitted, in addition to the invocation's own log.
func (i *Invocation) EnableCallbackDiagnostics(fn func(Diagnostic)) {
	i.userFn = fn
}

// Diagnostics returns the log accumulated since the last operation that
// could emit. The slice is reused; copy it to keep it past the next op.
func (i *Invocation) Diagnostics() Diagnostics {
	return i.log
}

// clearLog resets the log ahead of an operation that can emit.
func (i *Invocation) clearLog() {
	i.log = i.log[:0]
}

// fail builds the error for a failed parse or pipeline run, attaching
// the diagnostics the run emitted.
func (i *Invocation) fail(phase errors.Phase, msg string) error {
	b := errors.New(phase, errors.KindInvalidData).Detail(msg)
	if len(i.log) > 0 {
		b = b.Cause(append(Diagnostics(nil), i.log...))
	}
	return b.Build()
}

// EnableConsoleDiagnostics additionally prints diagnostics to stderr.
func (i *Invocation) EnableConsoleDiagnostics() error {
	return cerr(errors.PhaseCompile, errors.KindInvalidData, ffi.CInvocationEnableConsoleDiagnostics(i.h))
}

// SetCompileFromPhase sets the first pipeline phase to run. An empty
// name resets to the beginning.
func (i *Invocation) SetCompileFromPhase(phase string) error {
	return cerr(errors.PhasePipeline, errors.KindInvalidData, ffi.CInvocationSetCompileFromPhase(i.h, phase))
}

// SetCompileToPhase sets the last pipeline phase to run.
func (i *Invocation) SetCompileToPhase(phase string) error {
	return cerr(errors.PhasePipeline, errors.KindInvalidData, ffi.CInvocationSetCompileToPhase(i.h, phase))
}

// SetVerifyIR toggles verification between pipeline steps. On by
// default.
func (i *Invocation) SetVerifyIR(enable bool) {
	ffi.CInvocationSetVerifyIR(i.h, enable)
}

// ParseSource parses a source into the invocation. A failed parse
// carries the emitted diagnostics on the returned error.
func (i *Invocation) ParseSource(src *Source) error {
	i.clearLog()
	if !ffi.CInvocationParseSource(i.h, src.h) {
		return i.fail(errors.PhaseParse, "source failed to parse")
	}
	return nil
}

// ParseSourceFromFile opens path as a source and parses it.
func (i *Invocation) ParseSourceFromFile(path string) error {
	src, err := i.sess.SourceFromFile(path)
	if err != nil {
		return err
	}
	defer src.Close()
	return i.ParseSource(src)
}

// Pipeline runs the selected pass pipeline over the parsed module. A
// failed run carries the emitted diagnostics on the returned error.
func (i *Invocation) Pipeline(p Pipeline) error {
	i.clearLog()
	if !ffi.CInvocationPipeline(i.h, ffi.Pipeline(p)) {
		return i.fail(errors.PhasePipeline, "pipeline failed")
	}
	return nil
}

// RunPassPipeline runs a comma-separated textual pass list.
func (i *Invocation) RunPassPipeline(passes string) error {
	i.clearLog()
	if !ffi.CInvocationRunPassPipeline(i.h, passes) {
		return i.fail(errors.PhasePipeline, "pass pipeline failed")
	}
	return nil
}

// OutputIR writes the module as dialect text.
func (i *Invocation) OutputIR(out *Output) error {
	i.clearLog()
	return cerr(errors.PhaseOutput, errors.KindInvalidData, ffi.CInvocationOutputIR(i.h, out.h))
}

// OutputIRBytecode writes the module in compact IR form.
func (i *Invocation) OutputIRBytecode(out *Output) error {
	i.clearLog()
	return cerr(errors.PhaseOutput, errors.KindInvalidData, ffi.CInvocationOutputIRBytecode(i.h, out.h))
}

// OutputVMBytecode writes the compiled module as a loadable bytecode
// container.
func (i *Invocation) OutputVMBytecode(out *Output) error {
	i.clearLog()
	return cerr(errors.PhaseOutput, errors.KindInvalidData, ffi.CInvocationOutputVMBytecode(i.h, out.h))
}

// OutputHALExecutable writes a single-function executable binary.
func (i *Invocation) OutputHALExecutable(out *Output) error {
	i.clearLog()
	return cerr(errors.PhaseOutput, errors.KindInvalidData, ffi.CInvocationOutputHALExecutable(i.h, out.h))
}

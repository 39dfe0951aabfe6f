// Package compiler embeds the bytecode compiler: a process-global
// Compiler owning Sessions, which parse Sources and drive Invocations
// producing Outputs loadable by the runtime.
package compiler

import (
	"github.com/halcyonml/halcyon/errors"
	"github.com/halcyonml/halcyon/internal/ffi"
)

// cerr converts an owned compiler error into a Go error, destroying the
// error object.
func cerr(phase errors.Phase, kind errors.Kind, h ffi.CErrorHandle) error {
	if h == 0 {
		return nil
	}
	msg := ffi.CErrorMessage(h)
	ffi.CErrorDestroy(h)
	return errors.New(phase, kind).Detail("%s", msg).Build()
}

// Compiler owns the process-global compiler state. Only one Compiler may
// exist at a time; New fails until the previous one is shut down.
type Compiler struct {
	active bool
}

// New initializes the global compiler.
func New() (*Compiler, error) {
	st := ffi.CompilerGlobalInitialize()
	if !ffi.StatusIsOK(st) {
		ffi.StatusIgnore(st)
		return nil, errors.AlreadyInitialized(errors.PhaseCompile, "global compiler")
	}
	return &Compiler{active: true}, nil
}

// Shutdown tears the global compiler down, allowing a later New.
func (c *Compiler) Shutdown() {
	if !c.active {
		return
	}
	c.active = false
	ffi.CompilerGlobalShutdown()
}

// APIVersion returns the stable embedding ABI version.
func (c *Compiler) APIVersion() (major, minor int) {
	v := ffi.CompilerAPIVersion()
	return int(v >> 16), int(v & 0xffff)
}

// Revision returns the compiler build identification string.
func (c *Compiler) Revision() string {
	return ffi.CompilerRevision()
}

// SetupGlobalCL installs process-wide command line flags.
func (c *Compiler) SetupGlobalCL(args []string) error {
	st := ffi.CompilerSetupGlobalCL(args)
	if !ffi.StatusIsOK(st) {
		msg := ffi.StatusMessage(st)
		ffi.StatusIgnore(st)
		return errors.InvalidData(errors.PhaseCompile, msg)
	}
	return nil
}

// TargetBackends enumerates the registered code generation backends.
func (c *Compiler) TargetBackends() []string {
	var out []string
	cb, user, release := ffi.CaptureStringFunc(func(name string) {
		out = append(out, name)
	})
	defer release()
	ffi.CompilerEnumerateRegisteredHALTargetBackends(cb, user)
	return out
}

// Plugins enumerates loaded compiler plugins.
func (c *Compiler) Plugins() []string {
	var out []string
	cb, user, release := ffi.CaptureStringFunc(func(name string) {
		out = append(out, name)
	})
	defer release()
	ffi.CompilerEnumeratePlugins(cb, user)
	return out
}

// NewSession creates a compiler session with default flags.
func (c *Compiler) NewSession() (*Session, error) {
	h, e := ffi.CSessionCreate()
	if e != 0 {
		return nil, cerr(errors.PhaseCompile, errors.KindInvalidData, e)
	}
	return &Session{h: h}, nil
}

// Session carries per-compilation flag state and creates sources and
// invocations.
type Session struct {
	h ffi.CSessionHandle
}

// Close destroys the session. Sources and invocations created from it
// must be closed first.
func (s *Session) Close() {
	ffi.CSessionDestroy(s.h)
}

// SetFlags applies "--name=value" flag strings. The first unknown or
// malformed flag fails the whole call.
func (s *Session) SetFlags(flags ...string) error {
	return cerr(errors.PhaseCompile, errors.KindInvalidData, ffi.CSessionSetFlags(s.h, flags))
}

// Flags returns the session's flags as "--name=value" strings. With
// nonDefaultOnly set, only flags changed from their default appear.
func (s *Session) Flags(nonDefaultOnly bool) []string {
	var out []string
	cb, user, release := ffi.CaptureStringFunc(func(flag string) {
		out = append(out, flag)
	})
	defer release()
	ffi.CSessionGetFlags(s.h, nonDefaultOnly, cb, user)
	return out
}

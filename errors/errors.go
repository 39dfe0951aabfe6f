package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseStatus   Phase = "status"   // status word conversion
	PhaseAlloc    Phase = "alloc"    // allocator bridge
	PhaseMarshal  Phase = "marshal"  // value/ref conversion
	PhaseList     Phase = "list"     // list container operations
	PhaseRuntime  Phase = "runtime"  // instance/session/call operations
	PhaseLoad     Phase = "load"     // module loading
	PhaseCompile  Phase = "compile"  // compiler global/session operations
	PhaseParse    Phase = "parse"    // source parsing
	PhasePipeline Phase = "pipeline" // compilation pipelines
	PhaseOutput   Phase = "output"   // compiler outputs
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch       Kind = "type_mismatch"
	KindInstanceMismatch   Kind = "instance_mismatch"
	KindOutOfBounds        Kind = "out_of_bounds"
	KindAlreadyInitialized Kind = "already_initialized"
	KindInvalidString      Kind = "invalid_string"
	KindNotFound           Kind = "not_found"
	KindFileNotFound       Kind = "file_not_found"
	KindInvalidData        Kind = "invalid_data"
	KindUnsupported        Kind = "unsupported"
	KindAllocation         Kind = "allocation"
	KindConsumed           Kind = "consumed"
	KindFrozen             Kind = "frozen"
	KindStatus             Kind = "status"
)

// Error is the structured error type used throughout the bindings
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Declared string
	Actual   string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Declared != "" || e.Actual != "" {
		b.WriteString(": ")
		if e.Declared != "" && e.Actual != "" {
			b.WriteString("declared ")
			b.WriteString(e.Declared)
			b.WriteString(", actual ")
			b.WriteString(e.Actual)
		} else if e.Declared != "" {
			b.WriteString("declared ")
			b.WriteString(e.Declared)
		} else {
			b.WriteString("actual ")
			b.WriteString(e.Actual)
		}
	}

	if e.Detail != "" {
		if e.Declared != "" || e.Actual != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the operation path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Declared sets the declared type name
func (b *Builder) Declared(t string) *Builder {
	b.err.Declared = t
	return b
}

// Actual sets the actual type name
func (b *Builder) Actual(t string) *Builder {
	b.err.Actual = t
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, declared, actual string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Path:     path,
		Declared: declared,
		Actual:   actual,
	}
}

// InstanceMismatch creates a cross-instance error
func InstanceMismatch(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInstanceMismatch,
		Detail: fmt.Sprintf("%s was created against a different instance", what),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
	}
}

// AlreadyInitialized creates a double-initialization error
func AlreadyInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAlreadyInitialized,
		Detail: fmt.Sprintf("%s initialized more than once", component),
	}
}

// InvalidString creates an embedded-NUL error
func InvalidString(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidString,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// FileNotFound creates a missing-file error
func FileNotFound(path string) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindFileNotFound,
		Detail: fmt.Sprintf("file not found: %s", path),
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
	}
}

// Consumed creates an error for reuse of an already-consumed status
func Consumed(what string) *Error {
	return &Error{
		Phase:  PhaseStatus,
		Kind:   KindConsumed,
		Detail: fmt.Sprintf("%s already consumed", what),
	}
}

// Frozen creates an error for registration into a frozen context
func Frozen(detail string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindFrozen,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Package status wraps the runtime's tagged status words in a Go-safe
// owner that releases each failure payload exactly once.
package status

import (
	"fmt"

	"github.com/halcyonml/halcyon/internal/ffi"
)

// Code is a canonical status condition.
type Code uint32

const (
	OKCode Code = iota
	Cancelled
	Unknown
	InvalidArgument
	DeadlineExceeded
	NotFound
	AlreadyExists
	PermissionDenied
	ResourceExhausted
	FailedPrecondition
	Aborted
	OutOfRange
	Unimplemented
	Internal
	Unavailable
	DataLoss
	Unauthenticated
	Deferred
)

func (c Code) String() string {
	return ffi.StatusCode(c).String()
}

// Error is the terminal error a failing status converts into.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s; %s", e.Code, e.Message)
}

// Status owns one status word. A failure payload is released by the
// first Consume or Ignore; both are no-ops afterwards. Status values are
// thread-compatible, not thread-safe.
type Status struct {
	raw      ffi.RawStatus
	consumed bool
	err      error
}

// FromRaw wraps a raw status word, taking ownership of any payload.
func FromRaw(raw ffi.RawStatus) *Status {
	return &Status{raw: raw}
}

// New allocates a failure status with a message. An OKCode yields a
// success status and the message is dropped.
func New(c Code, message string) *Status {
	if c == OKCode {
		return OK()
	}
	return FromRaw(ffi.StatusAlloc(ffi.StatusCode(c), message))
}

// Newf allocates a failure status with a formatted message.
func Newf(c Code, format string, args ...any) *Status {
	return New(c, fmt.Sprintf(format, args...))
}

// OK returns a success status.
func OK() *Status {
	return &Status{raw: ffi.RawStatusOK}
}

// IsOK reports whether the status is success.
func (s *Status) IsOK() bool {
	return ffi.StatusIsOK(s.raw)
}

// Code returns the status condition without consuming the status.
func (s *Status) Code() Code {
	return Code(ffi.StatusCodeOf(s.raw))
}

// Message returns the payload message, or "" for success and sentinel
// statuses.
func (s *Status) Message() string {
	return ffi.StatusMessage(s.raw)
}

// Chain composes this status with the result of the next operation: a
// failing receiver wins and other is released, otherwise other carries
// the result. Both inputs are consumed; the returned status owns the
// surviving word.
func (s *Status) Chain(other *Status) *Status {
	if !s.IsOK() {
		other.Ignore()
		out := FromRaw(s.raw)
		s.markConsumed()
		return out
	}
	out := FromRaw(other.raw)
	other.markConsumed()
	s.markConsumed()
	return out
}

func (s *Status) markConsumed() {
	s.consumed = true
}

// Consume releases the status payload and converts it to a Go error:
// nil on success, *Error otherwise. Repeated calls return the same
// result without touching the released payload.
func (s *Status) Consume() error {
	if s.consumed {
		return s.err
	}
	if !s.IsOK() {
		s.err = &Error{Code: s.Code(), Message: s.Message()}
	}
	ffi.StatusIgnore(s.raw)
	s.consumed = true
	return s.err
}

// Ignore releases the status payload without inspecting it.
func (s *Status) Ignore() {
	if s.consumed {
		return
	}
	ffi.StatusIgnore(s.raw)
	s.consumed = true
}

// String renders the status as "CODE" or "CODE; message" without
// consuming it.
func (s *Status) String() string {
	if s.IsOK() {
		return OKCode.String()
	}
	if msg := s.Message(); msg != "" {
		return fmt.Sprintf("%s; %s", s.Code(), msg)
	}
	return s.Code().String()
}

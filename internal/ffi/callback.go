package ffi

import "runtime/cgo"

// Callbacks cross the ABI as a function pointer plus an opaque user-data
// word. Go closures are pinned behind a cgo.Handle so the word stays
// valid for as long as the capture lives; the returned release function
// must be called exactly once when the callback can no longer fire.

// CaptureStringFunc pins fn and returns the trampoline and user word to
// register it with.
func CaptureStringFunc(fn func(string)) (StringCallback, Ptr, func()) {
	h := cgo.NewHandle(fn)
	trampoline := func(item string, user Ptr) {
		cgo.Handle(user).Value().(func(string))(item)
	}
	return trampoline, Ptr(h), func() { h.Delete() }
}

// CaptureDiagnosticFunc pins fn for use as a compiler diagnostic sink.
func CaptureDiagnosticFunc(fn func(DiagnosticSeverity, string)) (DiagnosticCallback, Ptr, func()) {
	h := cgo.NewHandle(fn)
	trampoline := func(severity DiagnosticSeverity, message string, user Ptr) {
		cgo.Handle(user).Value().(func(DiagnosticSeverity, string))(severity, message)
	}
	return trampoline, Ptr(h), func() { h.Delete() }
}

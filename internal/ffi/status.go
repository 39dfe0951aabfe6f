package ffi

import (
	"fmt"
	"sync"
)

// RawStatus is the tagged status word returned by every fallible call:
// 0 is success, values 1..StatusCodeMax reference the static code table
// and must never be freed, and any other value is an owned payload that
// must be released exactly once.
type RawStatus uint64

// StatusCode is one of the canonical condition kinds.
type StatusCode uint32

const (
	StatusOK StatusCode = iota
	StatusCancelled
	StatusUnknown
	StatusInvalidArgument
	StatusDeadlineExceeded
	StatusNotFound
	StatusAlreadyExists
	StatusPermissionDenied
	StatusResourceExhausted
	StatusFailedPrecondition
	StatusAborted
	StatusOutOfRange
	StatusUnimplemented
	StatusInternal
	StatusUnavailable
	StatusDataLoss
	StatusUnauthenticated
	StatusDeferred
)

// StatusCodeMax is the largest sentinel word; raw words above it are
// owned payloads.
const StatusCodeMax = uint64(StatusDeferred)

var statusCodeNames = [...]string{
	StatusOK:                 "OK",
	StatusCancelled:          "CANCELLED",
	StatusUnknown:            "UNKNOWN",
	StatusInvalidArgument:    "INVALID_ARGUMENT",
	StatusDeadlineExceeded:   "DEADLINE_EXCEEDED",
	StatusNotFound:           "NOT_FOUND",
	StatusAlreadyExists:      "ALREADY_EXISTS",
	StatusPermissionDenied:   "PERMISSION_DENIED",
	StatusResourceExhausted:  "RESOURCE_EXHAUSTED",
	StatusFailedPrecondition: "FAILED_PRECONDITION",
	StatusAborted:            "ABORTED",
	StatusOutOfRange:         "OUT_OF_RANGE",
	StatusUnimplemented:      "UNIMPLEMENTED",
	StatusInternal:           "INTERNAL",
	StatusUnavailable:        "UNAVAILABLE",
	StatusDataLoss:           "DATA_LOSS",
	StatusUnauthenticated:    "UNAUTHENTICATED",
	StatusDeferred:           "DEFERRED",
}

func (c StatusCode) String() string {
	if int(c) < len(statusCodeNames) {
		return statusCodeNames[c]
	}
	return "UNKNOWN"
}

type ownedStatus struct {
	code    StatusCode
	message string
}

var (
	statusMu   sync.Mutex
	statuses   = map[RawStatus]*ownedStatus{}
	nextStatus RawStatus = 1 << 20
)

// RawStatusOK is the success sentinel.
const RawStatusOK RawStatus = 0

// StatusFromCode returns the non-owning sentinel for a canonical code.
func StatusFromCode(c StatusCode) RawStatus {
	return RawStatus(c)
}

// StatusAlloc allocates an owned status payload carrying a message.
// The returned word must be released exactly once via StatusIgnore or
// consumed through StatusToString-and-release.
func StatusAlloc(c StatusCode, message string) RawStatus {
	statusMu.Lock()
	defer statusMu.Unlock()
	raw := nextStatus
	nextStatus += 16
	statuses[raw] = &ownedStatus{code: c, message: message}
	return raw
}

// StatusAllocf allocates an owned status with a formatted message.
func StatusAllocf(c StatusCode, format string, args ...any) RawStatus {
	return StatusAlloc(c, fmt.Sprintf(format, args...))
}

// StatusIsOK reports whether raw is the success sentinel.
func StatusIsOK(raw RawStatus) bool { return raw == RawStatusOK }

// StatusCodeOf extracts the canonical code from any status word.
func StatusCodeOf(raw RawStatus) StatusCode {
	if uint64(raw) <= StatusCodeMax {
		return StatusCode(raw)
	}
	statusMu.Lock()
	defer statusMu.Unlock()
	if s, ok := statuses[raw]; ok {
		return s.code
	}
	return StatusUnknown
}

// StatusMessage returns the owned payload's message, or "" for sentinels
// and released words.
func StatusMessage(raw RawStatus) string {
	if uint64(raw) <= StatusCodeMax {
		return ""
	}
	statusMu.Lock()
	defer statusMu.Unlock()
	if s, ok := statuses[raw]; ok {
		return s.message
	}
	return ""
}

// StatusJoin composes two statuses: if base signals failure it wins and
// other is released, otherwise other carries the result.
func StatusJoin(base, other RawStatus) RawStatus {
	if !StatusIsOK(base) {
		StatusIgnore(other)
		return base
	}
	return other
}

// StatusIgnore releases an owned status payload. Sentinels and already
// released words are no-ops.
func StatusIgnore(raw RawStatus) {
	if uint64(raw) <= StatusCodeMax {
		return
	}
	statusMu.Lock()
	delete(statuses, raw)
	statusMu.Unlock()
}

// StatusToString formats a status into a buffer allocated from the given
// allocator, returning the block address and length. The caller owns the
// block and must free it through the same allocator. Returns false if the
// allocator cannot serve the request.
func StatusToString(raw RawStatus, a Allocator) (Ptr, uint64, bool) {
	text := statusCodeNames[StatusOK]
	if !StatusIsOK(raw) {
		code := StatusCodeOf(raw)
		if msg := StatusMessage(raw); msg != "" {
			text = fmt.Sprintf("%s; %s", code, msg)
		} else {
			text = code.String()
		}
	}
	mem := a.Backing()
	if mem == nil {
		return 0, 0, false
	}
	p, st := allocatorMalloc(a, uint64(len(text)))
	if !StatusIsOK(st) {
		StatusIgnore(st)
		return 0, 0, false
	}
	if err := mem.Write(uint64(p), []byte(text)); err != nil {
		allocatorFree(a, p)
		return 0, 0, false
	}
	return p, uint64(len(text)), true
}

// LiveStatuses reports the number of owned status payloads not yet
// released. Used by leak-checking tests.
func LiveStatuses() int {
	statusMu.Lock()
	defer statusMu.Unlock()
	return len(statuses)
}

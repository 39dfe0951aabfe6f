package status

import (
	"testing"

	"github.com/halcyonml/halcyon/internal/ffi"
)

func TestOKStatus(t *testing.T) {
	s := OK()
	if !s.IsOK() {
		t.Fatal("OK() is not ok")
	}
	if s.Code() != OKCode {
		t.Fatalf("code = %s", s.Code())
	}
	if err := s.Consume(); err != nil {
		t.Fatalf("consume of ok status: %v", err)
	}
}

func TestFailureConsume(t *testing.T) {
	before := ffi.LiveStatuses()
	s := New(NotFound, "no such function")
	if s.IsOK() {
		t.Fatal("failure status is ok")
	}
	if s.Code() != NotFound {
		t.Fatalf("code = %s, want NOT_FOUND", s.Code())
	}
	if got := s.String(); got != "NOT_FOUND; no such function" {
		t.Fatalf("String() = %q", got)
	}

	err := s.Consume()
	if err == nil {
		t.Fatal("consume returned nil for failure")
	}
	se, ok := err.(*Error)
	if !ok {
		t.Fatalf("consume returned %T", err)
	}
	if se.Code != NotFound || se.Message != "no such function" {
		t.Fatalf("error = %+v", se)
	}
	if ffi.LiveStatuses() != before {
		t.Fatalf("status payload leaked: %d live, started with %d", ffi.LiveStatuses(), before)
	}
}

func TestConsumeIsIdempotent(t *testing.T) {
	s := New(Internal, "boom")
	first := s.Consume()
	second := s.Consume()
	if first == nil || second == nil {
		t.Fatal("repeated consume lost the error")
	}
	if first.Error() != second.Error() {
		t.Fatalf("consume results differ: %q vs %q", first, second)
	}
	// a consumed status may also be ignored freely
	s.Ignore()
}

func TestIgnoreReleasesPayload(t *testing.T) {
	before := ffi.LiveStatuses()
	s := New(Aborted, "dropped")
	s.Ignore()
	s.Ignore()
	if ffi.LiveStatuses() != before {
		t.Fatalf("ignore leaked payloads: %d live, started with %d", ffi.LiveStatuses(), before)
	}
	if err := s.Consume(); err != nil {
		t.Fatalf("consume after ignore = %v, want nil", err)
	}
}

func TestChain(t *testing.T) {
	failed := New(InvalidArgument, "bad list")
	later := New(Internal, "never seen")
	out := failed.Chain(later)
	if out.Code() != InvalidArgument {
		t.Fatalf("chain kept %s, want INVALID_ARGUMENT", out.Code())
	}
	out.Ignore()

	ok := OK().Chain(New(OutOfRange, "index 9"))
	if ok.Code() != OutOfRange {
		t.Fatalf("chain of ok dropped the follow-up: %s", ok.Code())
	}
	ok.Ignore()
}

func TestSentinelCodes(t *testing.T) {
	s := FromRaw(ffi.StatusFromCode(ffi.StatusUnavailable))
	if s.Code() != Unavailable {
		t.Fatalf("code = %s", s.Code())
	}
	if s.Message() != "" {
		t.Fatalf("sentinel has message %q", s.Message())
	}
	err := s.Consume()
	if err == nil || err.Error() != "UNAVAILABLE" {
		t.Fatalf("consume = %v", err)
	}
}

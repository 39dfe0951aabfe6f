package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := New(PhaseList, KindTypeMismatch).
		Path("list", "get").
		Declared("i32").
		Actual("f64").
		Detail("slot 3").
		Build()

	msg := err.Error()
	for _, want := range []string{"[list]", "type_mismatch", "list.get", "declared i32", "actual f64", "slot 3"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestErrorIs(t *testing.T) {
	err := TypeMismatch(PhaseList, nil, "i32", "f64")
	if !stderrors.Is(err, &Error{Phase: PhaseList, Kind: KindTypeMismatch}) {
		t.Error("expected Is match on phase+kind")
	}
	if stderrors.Is(err, &Error{Phase: PhaseRuntime, Kind: KindTypeMismatch}) {
		t.Error("unexpected Is match across phases")
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(PhaseLoad, KindInvalidData, cause, "load module")
	if !stderrors.Is(err, cause) {
		t.Error("expected cause to unwrap")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("message %q missing cause", err.Error())
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cases := []struct {
		err  *Error
		kind Kind
	}{
		{InstanceMismatch(PhaseList, "ref"), KindInstanceMismatch},
		{OutOfBounds(PhaseList, nil, 4, 2), KindOutOfBounds},
		{AlreadyInitialized(PhaseCompile, "compiler"), KindAlreadyInitialized},
		{InvalidString(PhaseCompile, "embedded NUL"), KindInvalidString},
		{NotFound(PhaseRuntime, "function", "a.b"), KindNotFound},
		{FileNotFound("/no/such"), KindFileNotFound},
		{Frozen("context is frozen"), KindFrozen},
		{Consumed("status"), KindConsumed},
	}
	for _, tc := range cases {
		if tc.err.Kind != tc.kind {
			t.Errorf("got kind %s, want %s", tc.err.Kind, tc.kind)
		}
		if tc.err.Error() == "" {
			t.Error("empty message")
		}
	}
}

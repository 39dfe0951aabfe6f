package halcyon

import (
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNop(t *testing.T) {
	if Logger() == nil {
		t.Fatal("nil default logger")
	}
}

func TestSetLoggerRoundTrip(t *testing.T) {
	l := zap.NewExample()
	SetLogger(l)
	defer SetLogger(nil)
	if Logger() != l {
		t.Fatal("installed logger not returned")
	}
}

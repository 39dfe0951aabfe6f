package hal

import (
	"testing"

	"github.com/halcyonml/halcyon/internal/ffi"
	"github.com/halcyonml/halcyon/mem"
)

type testSession struct {
	h ffi.SessionHandle
}

func (s testSession) SessionHandle() ffi.SessionHandle { return s.h }

func newTestSession(t *testing.T) testSession {
	t.Helper()
	reg := DefaultRegistry()
	t.Cleanup(reg.Free)

	inst, st := ffi.InstanceCreate(ffi.InstanceOptions{
		DriverRegistry: reg.Handle(),
		UseAllDrivers:  true,
	}, mem.NewHostAllocator(1<<20))
	if !ffi.StatusIsOK(st) {
		t.Fatalf("instance: %s", ffi.StatusMessage(st))
	}
	t.Cleanup(func() { ffi.InstanceRelease(inst) })

	dev, st := ffi.InstanceTryCreateDefaultDevice(inst, "local-sync")
	if !ffi.StatusIsOK(st) {
		t.Fatalf("device: %s", ffi.StatusMessage(st))
	}
	t.Cleanup(func() { ffi.DeviceRelease(dev) })

	sess, st := ffi.SessionCreateWithDevice(inst, dev)
	if !ffi.StatusIsOK(st) {
		t.Fatalf("session: %s", ffi.StatusMessage(st))
	}
	t.Cleanup(func() { ffi.SessionRelease(sess) })
	return testSession{h: sess}
}

func TestDefaultRegistryDrivers(t *testing.T) {
	reg := DefaultRegistry()
	defer reg.Free()
	names, err := reg.Drivers()
	if err != nil {
		t.Fatalf("drivers: %v", err)
	}
	want := []string{"local-sync", "cpu"}
	if len(names) != len(want) {
		t.Fatalf("drivers = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("drivers = %v, want %v", names, want)
		}
	}
}

func TestBufferViewRoundTrip(t *testing.T) {
	sess := newTestSession(t)

	bv, err := NewBufferView(sess, []uint64{2, 2}, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("new buffer view: %v", err)
	}
	defer bv.Release()

	shape, err := bv.Shape()
	if err != nil || len(shape) != 2 || shape[0] != 2 || shape[1] != 2 {
		t.Fatalf("shape = %v, %v", shape, err)
	}
	if et, _ := bv.ElementType(); et != ElementFloat32 {
		t.Fatalf("element type = %s", et)
	}
	if n, _ := bv.ByteLength(); n != 16 {
		t.Fatalf("byte length = %d", n)
	}

	elems, err := Elements[float32](bv)
	if err != nil {
		t.Fatalf("elements: %v", err)
	}
	for i, want := range []float32{1, 2, 3, 4} {
		if elems[i] != want {
			t.Fatalf("elems[%d] = %g, want %g", i, elems[i], want)
		}
	}
}

func TestBufferViewShapeMismatch(t *testing.T) {
	sess := newTestSession(t)
	if _, err := NewBufferView(sess, []uint64{3}, []float32{1, 2, 3, 4}); err == nil {
		t.Fatal("mismatched shape accepted")
	}
}

func TestBufferViewTypedReadMismatch(t *testing.T) {
	sess := newTestSession(t)
	bv, err := NewBufferView(sess, []uint64{4}, []int32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("new buffer view: %v", err)
	}
	defer bv.Release()

	if _, err := Elements[float32](bv); err == nil {
		t.Fatal("f32 read of si32 buffer succeeded")
	}
}

func TestBufferViewMapRangeBounds(t *testing.T) {
	sess := newTestSession(t)
	bv, err := NewBufferView(sess, []uint64{4}, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("new buffer view: %v", err)
	}
	defer bv.Release()

	if _, err := bv.MapRange(8, 8); err != nil {
		t.Fatalf("in-bounds range: %v", err)
	}
	if _, err := bv.MapRange(8, 16); err == nil {
		t.Fatal("out-of-bounds range succeeded")
	}
}

func TestBufferViewFormat(t *testing.T) {
	sess := newTestSession(t)
	bv, err := NewBufferView(sess, []uint64{4}, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("new buffer view: %v", err)
	}
	defer bv.Release()

	s, err := bv.Format(0)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if s != "4xf32=[1 2 3 4]" {
		t.Fatalf("format = %q", s)
	}

	short, err := bv.Format(2)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if short != "4xf32=[1 2...]" {
		t.Fatalf("truncated format = %q", short)
	}
}

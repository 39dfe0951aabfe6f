package vm

import (
	stderrors "errors"
	"testing"

	"github.com/halcyonml/halcyon/errors"
	"github.com/halcyonml/halcyon/internal/ffi"
	"github.com/halcyonml/halcyon/mem"
)

// testOwner is a minimal Owner for container tests; the full Instance
// lives in the runtime package.
type testOwner struct {
	h ffi.InstanceHandle
}

func (o testOwner) InstanceHandle() ffi.InstanceHandle { return o.h }

func newTestOwner(t *testing.T) testOwner {
	t.Helper()
	h, st := ffi.InstanceCreate(ffi.InstanceOptions{}, mem.NewHostAllocator(1<<20))
	if !ffi.StatusIsOK(st) {
		t.Fatalf("instance create: %s", ffi.StatusMessage(st))
	}
	t.Cleanup(func() { ffi.InstanceRelease(h) })
	return testOwner{h: h}
}

func TestValueRoundTrip(t *testing.T) {
	if got := NewValue(int32(-7)).Get(); got != -7 {
		t.Fatalf("i32 round trip = %d", got)
	}
	if got := NewValue(float32(1.5)).Get(); got != 1.5 {
		t.Fatalf("f32 round trip = %g", got)
	}
	if got := NewValue(int8(-128)).Get(); got != -128 {
		t.Fatalf("i8 round trip = %d", got)
	}
	if got := NewValue(3.25).Get(); got != 3.25 {
		t.Fatalf("f64 round trip = %g", got)
	}
	if k := NewValue(int64(1)).Kind(); k != KindI64 {
		t.Fatalf("kind = %s, want i64", k)
	}
}

func TestDynamicListPushGetSet(t *testing.T) {
	owner := newTestOwner(t)
	l, err := NewDynamicList[int32](owner, 4)
	if err != nil {
		t.Fatalf("new list: %v", err)
	}
	defer l.Release()

	for _, v := range []int32{10, 20, 30} {
		if err := l.Push(v); err != nil {
			t.Fatalf("push %d: %v", v, err)
		}
	}
	if n, _ := l.Size(); n != 3 {
		t.Fatalf("size = %d", n)
	}
	if v, err := l.Get(1); err != nil || v != 20 {
		t.Fatalf("get(1) = %d, %v", v, err)
	}
	if err := l.Set(1, 99); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, _ := l.Get(1); v != 99 {
		t.Fatalf("get after set = %d", v)
	}
	if _, err := l.Get(7); err == nil {
		t.Fatal("out-of-range get succeeded")
	}
}

func TestDynamicListReserveGrowsCapacity(t *testing.T) {
	owner := newTestOwner(t)
	l, err := NewDynamicList[float32](owner, 2)
	if err != nil {
		t.Fatalf("new list: %v", err)
	}
	defer l.Release()

	before, err := l.Capacity()
	if err != nil {
		t.Fatalf("capacity: %v", err)
	}
	if err := l.Reserve(before + 6); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	grown, _ := l.Capacity()
	if grown < before+6 {
		t.Fatalf("capacity after reserve = %d, want >= %d", grown, before+6)
	}

	// Reserving less than the current capacity never shrinks it.
	if err := l.Reserve(1); err != nil {
		t.Fatalf("reserve smaller: %v", err)
	}
	if after, _ := l.Capacity(); after != grown {
		t.Fatalf("capacity shrank from %d to %d", grown, after)
	}
}

func TestDynamicListResizeFillsZero(t *testing.T) {
	owner := newTestOwner(t)
	l, err := NewDynamicList[float32](owner, 0)
	if err != nil {
		t.Fatalf("new list: %v", err)
	}
	defer l.Release()

	if err := l.Resize(5); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if n, _ := l.Size(); n != 5 {
		t.Fatalf("size after resize = %d", n)
	}
	if v, err := l.Get(4); err != nil || v != 0 {
		t.Fatalf("new slot = %g, %v", v, err)
	}
	if err := l.Resize(2); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if n, _ := l.Size(); n != 2 {
		t.Fatalf("size after shrink = %d", n)
	}
}

func TestStaticListRefusesGrowth(t *testing.T) {
	owner := newTestOwner(t)
	l, err := NewStaticList[int64](owner, 2)
	if err != nil {
		t.Fatalf("new static list: %v", err)
	}

	if err := l.Push(1); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := l.Push(2); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := l.Push(3); err == nil {
		t.Fatal("push past fixed capacity succeeded")
	}
	if err := l.Reserve(8); err == nil {
		t.Fatal("reserve past fixed capacity succeeded")
	}
	if err := l.Deinitialize(); err != nil {
		t.Fatalf("deinitialize: %v", err)
	}
}

func TestListKindChecking(t *testing.T) {
	owner := newTestOwner(t)
	l, err := NewDynamicList[int32](owner, 2)
	if err != nil {
		t.Fatalf("new list: %v", err)
	}
	defer l.Release()

	// the raw core sees the kind mismatch that generics hide
	st := ffi.ListPushValue(l.h, ffi.ValueF32(1.0))
	if ffi.StatusCodeOf(st) != ffi.StatusInvalidArgument {
		t.Fatalf("mismatched push status = %s", ffi.StatusCodeOf(st))
	}
	ffi.StatusIgnore(st)
}

func TestGetValueRejectsKindMismatch(t *testing.T) {
	owner := newTestOwner(t)
	l, err := NewVariantList(owner, 4)
	if err != nil {
		t.Fatalf("new list: %v", err)
	}
	defer l.Release()

	if err := PushValue(l, int32(42)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if v, err := GetValue[float64](l, 0); err == nil {
		t.Fatalf("f64 read of i32 slot succeeded, returned %g", v)
	}
	if _, err := GetValue[int64](l, 0); err == nil {
		t.Fatal("i64 read of i32 slot succeeded")
	}
	// The slot is untouched and still reads back under its own kind.
	if v, err := GetValue[int32](l, 0); err != nil || v != 42 {
		t.Fatalf("i32 read after rejected reads = %d, %v", v, err)
	}
}

func TestValueFromRawRejectsKindMismatch(t *testing.T) {
	raw := NewValue(int32(7)).Raw()
	if _, err := ValueFromRaw[float64](raw); err == nil {
		t.Fatal("wrapping an i32 word as f64 succeeded")
	}
	var e *errors.Error
	_, err := ValueFromRaw[int64](raw)
	if !stderrors.As(err, &e) || e.Kind != errors.KindTypeMismatch {
		t.Fatalf("error = %v, want type mismatch", err)
	}
	if v, err := ValueFromRaw[int32](raw); err != nil || v.Get() != 7 {
		t.Fatalf("matching wrap = %v, %v", v, err)
	}
}

func TestListCopyCompatibility(t *testing.T) {
	owner := newTestOwner(t)
	src, _ := NewDynamicList[int32](owner, 4)
	defer src.Release()
	dst, _ := NewDynamicList[int32](owner, 4)
	defer dst.Release()

	for _, v := range []int32{1, 2, 3} {
		if err := src.Push(v); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if err := dst.Resize(3); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if err := src.CopyTo(0, dst, 0, 3); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if v, _ := dst.Get(2); v != 3 {
		t.Fatalf("copied value = %d", v)
	}
}

func TestListSwap(t *testing.T) {
	owner := newTestOwner(t)
	a, _ := NewDynamicList[int32](owner, 2)
	defer a.Release()
	b, _ := NewDynamicList[int32](owner, 2)
	defer b.Release()

	if err := a.Push(42); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := a.Swap(b); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if n, _ := a.Size(); n != 0 {
		t.Fatalf("a size after swap = %d", n)
	}
	if v, err := b.Get(0); err != nil || v != 42 {
		t.Fatalf("b contents after swap = %d, %v", v, err)
	}
}

func TestVariantListMixesKinds(t *testing.T) {
	owner := newTestOwner(t)
	l, err := NewVariantList(owner, 4)
	if err != nil {
		t.Fatalf("new variant list: %v", err)
	}
	defer l.Release()

	if err := PushValue(l, int32(5)); err != nil {
		t.Fatalf("push i32: %v", err)
	}
	if err := PushValue(l, float64(2.5)); err != nil {
		t.Fatalf("push f64: %v", err)
	}
	if v, err := GetValue[int32](l, 0); err != nil || v != 5 {
		t.Fatalf("get i32 = %d, %v", v, err)
	}
	if v, err := GetValue[float64](l, 1); err != nil || v != 2.5 {
		t.Fatalf("get f64 = %g, %v", v, err)
	}
}

func TestContextFreeze(t *testing.T) {
	owner := newTestOwner(t)
	c, err := NewContext(owner)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	defer c.Release()

	if err := c.Freeze(); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	// idempotent
	if err := c.Freeze(); err != nil {
		t.Fatalf("second freeze: %v", err)
	}
	err = c.RegisterModules()
	if err == nil {
		t.Fatal("register into frozen context succeeded")
	}
	var fe *errors.Error
	if !stderrors.As(err, &fe) || fe.Kind != errors.KindFrozen {
		t.Fatalf("error = %v, want frozen kind", err)
	}
	if n, _ := c.ModuleCount(); n != 0 {
		t.Fatalf("module count = %d", n)
	}
}

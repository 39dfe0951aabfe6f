package runtime

import (
	"context"

	"github.com/halcyonml/halcyon/hal"
	"github.com/halcyonml/halcyon/internal/ffi"
	"github.com/halcyonml/halcyon/status"
	"github.com/halcyonml/halcyon/vm"
)

// Call is a reusable invocation of one resolved function: push inputs,
// Invoke, pop outputs, Reset, repeat. Calls are thread-compatible.
type Call struct {
	sess *Session
	h    ffi.CallHandle
}

// NewCall creates a call for an already-resolved function.
func NewCall(s *Session, fn vm.Function) (*Call, error) {
	h, st := ffi.CallInitialize(s.h, fn.Raw())
	if !ffi.StatusIsOK(st) {
		return nil, status.FromRaw(st).Consume()
	}
	return &Call{sess: s, h: h}, nil
}

// NewCallByName resolves "module.function" in the session and creates a
// call for it.
func NewCallByName(s *Session, fullName string) (*Call, error) {
	h, st := ffi.CallInitializeByName(s.h, fullName)
	if !ffi.StatusIsOK(st) {
		return nil, status.FromRaw(st).Consume()
	}
	return &Call{sess: s, h: h}, nil
}

// Function returns the call's resolved function.
func (c *Call) Function() (vm.Function, error) {
	fn, st := ffi.CallFunction(c.h)
	if !ffi.StatusIsOK(st) {
		return vm.Function{}, status.FromRaw(st).Consume()
	}
	return vm.FunctionFromRaw(fn), nil
}

// PushInputBufferView appends a buffer view to the call's inputs. The
// call retains its own reference; the caller keeps ownership of bv.
func (c *Call) PushInputBufferView(bv *hal.BufferView) error {
	return status.FromRaw(ffi.CallInputsPushBufferView(c.h, bv.Handle())).Consume()
}

// PushInputValue appends a primitive value to the call's inputs.
func PushInputValue[T vm.Scalar](c *Call, v T) error {
	return status.FromRaw(ffi.CallInputsPushValue(c.h, vm.NewValue(v).Raw())).Consume()
}

// Invoke executes the function with the accumulated inputs. Outputs are
// queued on the call until popped.
func (c *Call) Invoke(ctx context.Context) error {
	return status.FromRaw(ffi.CallInvoke(ctx, c.h)).Consume()
}

// PopOutputView removes the frontmost output as a buffer view. The
// caller owns the returned view and must Release it.
func (c *Call) PopOutputView() (*hal.BufferView, error) {
	h, st := ffi.CallOutputsPopBufferView(c.h)
	if !ffi.StatusIsOK(st) {
		return nil, status.FromRaw(st).Consume()
	}
	return hal.BufferViewFromHandle(h), nil
}

// PopOutputBufferView removes the frontmost output buffer view and
// unpacks its payload as a typed slice, releasing the view.
func PopOutputBufferView[T hal.Element](c *Call) ([]T, error) {
	bv, err := c.PopOutputView()
	if err != nil {
		return nil, err
	}
	defer bv.Release()
	return hal.Elements[T](bv)
}

// PopOutputValue removes the frontmost output as a primitive value of
// kind T. Popping with the wrong kind fails and leaves the output in
// place.
func PopOutputValue[T vm.Scalar](c *Call) (T, error) {
	raw, st := ffi.CallOutputsPopValue(c.h, ffi.ValueType(vm.KindOf[T]()))
	if !ffi.StatusIsOK(st) {
		var zero T
		return zero, status.FromRaw(st).Consume()
	}
	v, err := vm.ValueFromRaw[T](raw)
	if err != nil {
		var zero T
		return zero, err
	}
	return v.Get(), nil
}

// Reset clears the call's input and output lists for reuse.
func (c *Call) Reset() error {
	return status.FromRaw(ffi.CallReset(c.h)).Consume()
}

// Release drops the call and its lists.
func (c *Call) Release() {
	ffi.CallDeinitialize(c.h)
}

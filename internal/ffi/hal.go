package ffi

import (
	"fmt"
	"strings"
)

// driverRegistry is an ordered set of device driver names available to
// instances created against it.
type driverRegistry struct {
	names []string
}

func (r *driverRegistry) destroy() {}

var defaultDrivers = []string{"local-sync", "cpu"}

// DriverRegistryDefault returns a registry preloaded with the builtin
// host drivers.
func DriverRegistryDefault() DriverRegistryHandle {
	reg := &driverRegistry{names: append([]string(nil), defaultDrivers...)}
	return DriverRegistryHandle(newObject(objDriverRegistry, reg))
}

// DriverRegistryFree releases a registry handle.
func DriverRegistryFree(h DriverRegistryHandle) {
	releaseObject(Ptr(h))
}

// DriverRegistryEnumerate calls cb once per registered driver name in
// registration order.
func DriverRegistryEnumerate(h DriverRegistryHandle, cb StringCallback, user Ptr) RawStatus {
	v, ok := getObject(Ptr(h), objDriverRegistry)
	if !ok {
		return badHandle(objDriverRegistry)
	}
	for _, name := range v.(*driverRegistry).names {
		cb(name, user)
	}
	return RawStatusOK
}

// device is a synchronous host-local execution target. All builtin
// drivers execute on the calling goroutine.
type device struct {
	name     string
	instance InstanceHandle
}

func (d *device) destroy() {
	tracef("device destroyed name=%s", d.name)
}

func deviceFromHandle(h DeviceHandle) (*device, RawStatus) {
	v, ok := getObject(Ptr(h), objDevice)
	if !ok {
		return nil, badHandle(objDevice)
	}
	return v.(*device), RawStatusOK
}

// DeviceRetain adds a reference to the device.
func DeviceRetain(h DeviceHandle) {
	retainObject(Ptr(h))
}

// DeviceRelease drops a reference to the device.
func DeviceRelease(h DeviceHandle) {
	releaseObject(Ptr(h))
}

// DeviceDriverName returns the driver the device was created from.
func DeviceDriverName(h DeviceHandle) (string, RawStatus) {
	dev, st := deviceFromHandle(h)
	if !StatusIsOK(st) {
		return "", st
	}
	return dev.name, RawStatusOK
}

// kernelFunc is an elementwise operation over two packed operand buffers.
type kernelFunc func(lhs, rhs, out []byte, count int) RawStatus

func kernelAddF32(lhs, rhs, out []byte, count int) RawStatus {
	for i := 0; i < count; i++ {
		putF32(out, i, getF32(lhs, i)+getF32(rhs, i))
	}
	return RawStatusOK
}

func kernelMulF32(lhs, rhs, out []byte, count int) RawStatus {
	for i := 0; i < count; i++ {
		putF32(out, i, getF32(lhs, i)*getF32(rhs, i))
	}
	return RawStatusOK
}

func kernelAddI32(lhs, rhs, out []byte, count int) RawStatus {
	for i := 0; i < count; i++ {
		putI32(out, i, getI32(lhs, i)+getI32(rhs, i))
	}
	return RawStatusOK
}

func kernelMulI32(lhs, rhs, out []byte, count int) RawStatus {
	for i := 0; i < count; i++ {
		putI32(out, i, getI32(lhs, i)*getI32(rhs, i))
	}
	return RawStatusOK
}

// deviceKernels maps dispatch symbols in native module containers onto
// host kernels.
var deviceKernels = map[string]struct {
	fn   kernelFunc
	elem ElementType
}{
	"elementwise.add.f32": {kernelAddF32, ElementTypeFloat32},
	"elementwise.mul.f32": {kernelMulF32, ElementTypeFloat32},
	"elementwise.add.i32": {kernelAddI32, ElementTypeSInt32},
	"elementwise.mul.i32": {kernelMulI32, ElementTypeSInt32},
}

// bufferView is a shaped, typed view over device-visible memory. The
// builtin drivers store the payload host-side.
type bufferView struct {
	instance InstanceHandle
	shape    []uint64
	elem     ElementType
	enc      EncodingType
	data     []byte
}

func (b *bufferView) destroy() {
	tracef("buffer_view destroyed shape=%v elem=%s", b.shape, b.elem)
}

func (b *bufferView) elementCount() uint64 {
	n := uint64(1)
	for _, d := range b.shape {
		n *= d
	}
	return n
}

func bufferViewFromHandle(h BufferViewHandle) (*bufferView, RawStatus) {
	v, ok := getObject(Ptr(h), objBufferView)
	if !ok {
		return nil, badHandle(objBufferView)
	}
	return v.(*bufferView), RawStatusOK
}

// BufferViewAllocate allocates a device-visible buffer on the session's
// device and copies data into it. The byte length of data must match the
// product of shape times the element width exactly.
func BufferViewAllocate(sess SessionHandle, shape []uint64, elem ElementType, enc EncodingType, data []byte) (BufferViewHandle, RawStatus) {
	s, st := sessionFromHandle(sess)
	if !StatusIsOK(st) {
		return 0, st
	}
	w := elem.ByteWidth()
	if w == 0 {
		return 0, StatusAllocf(StatusInvalidArgument, "element type %s has no storage width", elem)
	}
	n := uint64(1)
	for _, d := range shape {
		n *= d
	}
	if uint64(len(data)) != n*uint64(w) {
		return 0, StatusAllocf(StatusInvalidArgument,
			"buffer length %d does not match shape (%d elements of %s)", len(data), n, elem)
	}
	bv := &bufferView{
		instance: s.inst,
		shape:    append([]uint64(nil), shape...),
		elem:     elem,
		enc:      enc,
		data:     append([]byte(nil), data...),
	}
	h := BufferViewHandle(newObject(objBufferView, bv))
	tracef("buffer_view_allocate handle=%#x shape=%v elem=%s", h, shape, elem)
	return h, RawStatusOK
}

// BufferViewRetain adds a reference to the view.
func BufferViewRetain(h BufferViewHandle) {
	retainObject(Ptr(h))
}

// BufferViewRelease drops a reference to the view.
func BufferViewRelease(h BufferViewHandle) {
	releaseObject(Ptr(h))
}

// BufferViewShape returns a copy of the view's dimensions.
func BufferViewShape(h BufferViewHandle) ([]uint64, RawStatus) {
	bv, st := bufferViewFromHandle(h)
	if !StatusIsOK(st) {
		return nil, st
	}
	return append([]uint64(nil), bv.shape...), RawStatusOK
}

// BufferViewElementType returns the view's element type.
func BufferViewElementType(h BufferViewHandle) (ElementType, RawStatus) {
	bv, st := bufferViewFromHandle(h)
	if !StatusIsOK(st) {
		return ElementTypeNone, st
	}
	return bv.elem, RawStatusOK
}

// BufferViewByteLength returns the total payload size in bytes.
func BufferViewByteLength(h BufferViewHandle) (uint64, RawStatus) {
	bv, st := bufferViewFromHandle(h)
	if !StatusIsOK(st) {
		return 0, st
	}
	return uint64(len(bv.data)), RawStatusOK
}

// BufferViewMapRange copies out a byte range of the payload. Ranges past
// the end of the payload fail with out-of-range.
func BufferViewMapRange(h BufferViewHandle, offset, length uint64) ([]byte, RawStatus) {
	bv, st := bufferViewFromHandle(h)
	if !StatusIsOK(st) {
		return nil, st
	}
	end := offset + length
	if end < offset || end > uint64(len(bv.data)) {
		return nil, StatusAllocf(StatusOutOfRange,
			"range [%d, %d) exceeds buffer of %d bytes", offset, end, len(bv.data))
	}
	return append([]byte(nil), bv.data[offset:end]...), RawStatusOK
}

// BufferViewFormat renders the view as "DIMSxTYPE=[elem elem ...]", e.g.
// "4xf32=[1 2 3 4]". maxElementCount truncates long payloads with "...".
func BufferViewFormat(h BufferViewHandle, maxElementCount uint64) (string, RawStatus) {
	bv, st := bufferViewFromHandle(h)
	if !StatusIsOK(st) {
		return "", st
	}
	var sb strings.Builder
	for _, d := range bv.shape {
		fmt.Fprintf(&sb, "%dx", d)
	}
	sb.WriteString(bv.elem.String())
	sb.WriteString("=[")
	n := bv.elementCount()
	shown := n
	if maxElementCount != 0 && shown > maxElementCount {
		shown = maxElementCount
	}
	for i := uint64(0); i < shown; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(bv.formatElement(int(i)))
	}
	if shown < n {
		sb.WriteString("...")
	}
	sb.WriteByte(']')
	return sb.String(), RawStatusOK
}

func (b *bufferView) formatElement(i int) string {
	switch b.elem {
	case ElementTypeFloat32:
		return fmt.Sprintf("%g", getF32(b.data, i))
	case ElementTypeFloat64:
		return fmt.Sprintf("%g", getF64(b.data, i))
	case ElementTypeSInt32:
		return fmt.Sprintf("%d", getI32(b.data, i))
	case ElementTypeSInt64:
		return fmt.Sprintf("%d", getI64(b.data, i))
	case ElementTypeSInt8:
		return fmt.Sprintf("%d", int8(b.data[i]))
	case ElementTypeUInt8, ElementTypeBool8:
		return fmt.Sprintf("%d", b.data[i])
	default:
		return "?"
	}
}

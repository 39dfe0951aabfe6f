package hal

import (
	"encoding/binary"
	"math"

	"github.com/halcyonml/halcyon/errors"
	"github.com/halcyonml/halcyon/internal/ffi"
)

// SessionRef is anything owning a runtime session, typically
// runtime.Session. Buffer views allocate against a session's device.
type SessionRef interface {
	SessionHandle() ffi.SessionHandle
}

// BufferView is a shaped, typed view over device-visible memory. The
// view holds one reference to the underlying buffer; Release drops it.
type BufferView struct {
	h ffi.BufferViewHandle
}

// RefTypeName implements vm.RefObject.
func (b *BufferView) RefTypeName() string { return ffi.BufferViewTypeName }

// RefHandle implements vm.RefObject.
func (b *BufferView) RefHandle() ffi.Ptr { return ffi.Ptr(b.h) }

// BufferViewFromHandle adopts an owned core handle.
func BufferViewFromHandle(h ffi.BufferViewHandle) *BufferView {
	return &BufferView{h: h}
}

// AllocateBufferView copies raw bytes into a new device-visible buffer.
// The byte length must match the shape and element type exactly.
func AllocateBufferView(s SessionRef, shape []uint64, elem ElementType, enc Encoding, data []byte) (*BufferView, error) {
	h, st := ffi.BufferViewAllocate(s.SessionHandle(), shape, ffi.ElementType(elem), ffi.EncodingType(enc), data)
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return &BufferView{h: h}, nil
}

// Element maps Go scalar types usable as buffer elements to their
// ElementType.
type Element interface {
	int8 | int32 | int64 | uint8 | uint32 | uint64 | float32 | float64
}

// ElementTypeOf returns the ElementType corresponding to T.
func ElementTypeOf[T Element]() ElementType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return ElementSInt8
	case int32:
		return ElementSInt32
	case int64:
		return ElementSInt64
	case uint8:
		return ElementUInt8
	case uint32:
		return ElementUInt32
	case uint64:
		return ElementUInt64
	case float32:
		return ElementFloat32
	case float64:
		return ElementFloat64
	default:
		return ElementNone
	}
}

// NewBufferView packs a typed element slice into a dense row-major
// buffer view. The element count must match the shape's product.
func NewBufferView[T Element](s SessionRef, shape []uint64, elems []T) (*BufferView, error) {
	elemType := ElementTypeOf[T]()
	data := make([]byte, 0, len(elems)*elemType.ByteWidth())
	for _, e := range elems {
		data = packElement(data, e)
	}
	return AllocateBufferView(s, shape, elemType, EncodingDenseRowMajor, data)
}

func packElement[T Element](dst []byte, e T) []byte {
	switch v := any(e).(type) {
	case int8:
		return append(dst, byte(v))
	case uint8:
		return append(dst, v)
	case int32:
		return binary.LittleEndian.AppendUint32(dst, uint32(v))
	case uint32:
		return binary.LittleEndian.AppendUint32(dst, v)
	case int64:
		return binary.LittleEndian.AppendUint64(dst, uint64(v))
	case uint64:
		return binary.LittleEndian.AppendUint64(dst, v)
	case float32:
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	case float64:
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
	default:
		return dst
	}
}

// Release drops the view's reference to its buffer.
func (b *BufferView) Release() {
	ffi.BufferViewRelease(b.h)
}

// Shape returns the view's dimensions.
func (b *BufferView) Shape() ([]uint64, error) {
	shape, st := ffi.BufferViewShape(b.h)
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return shape, nil
}

// ElementType returns the view's element type.
func (b *BufferView) ElementType() (ElementType, error) {
	t, st := ffi.BufferViewElementType(b.h)
	if !ffi.StatusIsOK(st) {
		return ElementNone, statusErr(st)
	}
	return ElementType(t), nil
}

// ByteLength returns the total payload size in bytes.
func (b *BufferView) ByteLength() (uint64, error) {
	n, st := ffi.BufferViewByteLength(b.h)
	if !ffi.StatusIsOK(st) {
		return 0, statusErr(st)
	}
	return n, nil
}

// MapRange copies out a byte range of the payload.
func (b *BufferView) MapRange(offset, length uint64) ([]byte, error) {
	data, st := ffi.BufferViewMapRange(b.h, offset, length)
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return data, nil
}

// Format renders the view as "4xf32=[1 2 3 4]". Payloads longer than
// maxElements are truncated with "...". Zero means no limit.
func (b *BufferView) Format(maxElements int) (string, error) {
	s, st := ffi.BufferViewFormat(b.h, uint64(maxElements))
	if !ffi.StatusIsOK(st) {
		return "", statusErr(st)
	}
	return s, nil
}

// Elements unpacks the full payload as a typed slice. Fails when T does
// not match the view's element type.
func Elements[T Element](b *BufferView) ([]T, error) {
	elemType, err := b.ElementType()
	if err != nil {
		return nil, err
	}
	want := ElementTypeOf[T]()
	if elemType != want {
		return nil, errors.TypeMismatch(errors.PhaseMarshal, []string{"buffer_view"},
			want.String(), elemType.String())
	}
	n, err := b.ByteLength()
	if err != nil {
		return nil, err
	}
	data, err := b.MapRange(0, n)
	if err != nil {
		return nil, err
	}
	width := want.ByteWidth()
	out := make([]T, 0, len(data)/width)
	for off := 0; off+width <= len(data); off += width {
		out = append(out, unpackElement[T](data[off:off+width]))
	}
	return out, nil
}

func unpackElement[T Element](b []byte) T {
	var zero T
	switch any(zero).(type) {
	case int8:
		return any(int8(b[0])).(T)
	case uint8:
		return any(b[0]).(T)
	case int32:
		return any(int32(binary.LittleEndian.Uint32(b))).(T)
	case uint32:
		return any(binary.LittleEndian.Uint32(b)).(T)
	case int64:
		return any(int64(binary.LittleEndian.Uint64(b))).(T)
	case uint64:
		return any(binary.LittleEndian.Uint64(b)).(T)
	case float32:
		return any(math.Float32frombits(binary.LittleEndian.Uint32(b))).(T)
	case float64:
		return any(math.Float64frombits(binary.LittleEndian.Uint64(b))).(T)
	default:
		return zero
	}
}

// Handle exposes the core buffer-view handle to sibling packages.
func (b *BufferView) Handle() ffi.BufferViewHandle { return b.h }

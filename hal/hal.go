// Package hal wraps the hardware abstraction layer objects: device
// driver registries, devices, and the shaped buffer views tensor data
// moves through.
package hal

import (
	"github.com/halcyonml/halcyon/internal/ffi"
	"github.com/halcyonml/halcyon/status"
)

// ElementType names the numeric element type of a buffer view.
type ElementType uint32

const (
	ElementNone    ElementType = ElementType(ffi.ElementTypeNone)
	ElementSInt8   ElementType = ElementType(ffi.ElementTypeSInt8)
	ElementSInt16  ElementType = ElementType(ffi.ElementTypeSInt16)
	ElementSInt32  ElementType = ElementType(ffi.ElementTypeSInt32)
	ElementSInt64  ElementType = ElementType(ffi.ElementTypeSInt64)
	ElementUInt8   ElementType = ElementType(ffi.ElementTypeUInt8)
	ElementUInt16  ElementType = ElementType(ffi.ElementTypeUInt16)
	ElementUInt32  ElementType = ElementType(ffi.ElementTypeUInt32)
	ElementUInt64  ElementType = ElementType(ffi.ElementTypeUInt64)
	ElementFloat32 ElementType = ElementType(ffi.ElementTypeFloat32)
	ElementFloat64 ElementType = ElementType(ffi.ElementTypeFloat64)
	ElementBool8   ElementType = ElementType(ffi.ElementTypeBool8)
)

func (t ElementType) String() string {
	return ffi.ElementType(t).String()
}

// ByteWidth returns the storage width of one element.
func (t ElementType) ByteWidth() int {
	return ffi.ElementType(t).ByteWidth()
}

// Encoding names the physical layout of a buffer view.
type Encoding uint32

const (
	EncodingOpaque        Encoding = Encoding(ffi.EncodingTypeOpaque)
	EncodingDenseRowMajor Encoding = Encoding(ffi.EncodingTypeDenseRowMajor)
)

func statusErr(st ffi.RawStatus) error {
	return status.FromRaw(st).Consume()
}

// DriverRegistry is the set of device drivers instances may create
// devices from.
type DriverRegistry struct {
	h ffi.DriverRegistryHandle
}

// DefaultRegistry returns a registry preloaded with the builtin host
// drivers.
func DefaultRegistry() *DriverRegistry {
	return &DriverRegistry{h: ffi.DriverRegistryDefault()}
}

// Drivers returns the registered driver names in registration order.
func (r *DriverRegistry) Drivers() ([]string, error) {
	var names []string
	st := ffi.DriverRegistryEnumerate(r.h, func(name string, _ ffi.Ptr) {
		names = append(names, name)
	}, 0)
	if !ffi.StatusIsOK(st) {
		return nil, statusErr(st)
	}
	return names, nil
}

// Free releases the registry. Instances created against it keep their
// own driver sets.
func (r *DriverRegistry) Free() {
	ffi.DriverRegistryFree(r.h)
}

// Handle exposes the core registry handle to sibling packages.
func (r *DriverRegistry) Handle() ffi.DriverRegistryHandle { return r.h }

// Device is a synchronous host-local execution target.
type Device struct {
	h ffi.DeviceHandle
}

// DeviceFromHandle wraps a core device handle.
func DeviceFromHandle(h ffi.DeviceHandle) *Device {
	return &Device{h: h}
}

// DriverName returns the driver the device was created from.
func (d *Device) DriverName() (string, error) {
	name, st := ffi.DeviceDriverName(d.h)
	if !ffi.StatusIsOK(st) {
		return "", statusErr(st)
	}
	return name, nil
}

// Release drops the device.
func (d *Device) Release() {
	ffi.DeviceRelease(d.h)
}

// Handle exposes the core device handle to sibling packages.
func (d *Device) Handle() ffi.DeviceHandle { return d.h }

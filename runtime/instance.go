package runtime

import (
	"github.com/halcyonml/halcyon/hal"
	"github.com/halcyonml/halcyon/internal/ffi"
	"github.com/halcyonml/halcyon/mem"
	"github.com/halcyonml/halcyon/status"
)

// defaultArenaSize sizes the host allocator arena when the caller does
// not supply an allocator.
const defaultArenaSize = 16 << 20

// InstanceOptions configures instance creation.
type InstanceOptions struct {
	// Registry supplies the drivers available to the instance.
	// Required when UseAllAvailableDrivers is set.
	Registry *hal.DriverRegistry
	// UseAllAvailableDrivers makes every registered driver usable for
	// device creation.
	UseAllAvailableDrivers bool
	// Allocator overrides the host allocator. Defaults to a fresh
	// mem.HostAllocator.
	Allocator ffi.Allocator
}

// Instance is the root object sharing type registries and device drivers
// across sessions. Safe for concurrent use.
type Instance struct {
	h     ffi.InstanceHandle
	alloc ffi.Allocator
}

// NewInstance creates a runtime instance.
func NewInstance(opts InstanceOptions) (*Instance, error) {
	alloc := opts.Allocator
	if alloc == nil {
		alloc = mem.NewHostAllocator(defaultArenaSize)
	}
	var reg ffi.DriverRegistryHandle
	if opts.Registry != nil {
		reg = opts.Registry.Handle()
	}
	h, st := ffi.InstanceCreate(ffi.InstanceOptions{
		DriverRegistry: reg,
		UseAllDrivers:  opts.UseAllAvailableDrivers,
	}, alloc)
	if !ffi.StatusIsOK(st) {
		return nil, status.FromRaw(st).Consume()
	}
	return &Instance{h: h, alloc: alloc}, nil
}

// InstanceHandle exposes the core handle; this satisfies vm.Owner so
// containers can be created against the instance.
func (i *Instance) InstanceHandle() ffi.InstanceHandle { return i.h }

// HostAllocator returns the allocator the instance serves host requests
// from.
func (i *Instance) HostAllocator() ffi.Allocator { return i.alloc }

// Release drops the instance. Objects created from it keep it alive
// until they are released themselves.
func (i *Instance) Release() {
	ffi.InstanceRelease(i.h)
}

// TryCreateDefaultDevice creates a device from the named driver, failing
// when the instance has no matching driver.
func (i *Instance) TryCreateDefaultDevice(driver string) (*hal.Device, error) {
	dh, st := ffi.InstanceTryCreateDefaultDevice(i.h, driver)
	if !ffi.StatusIsOK(st) {
		return nil, status.FromRaw(st).Consume()
	}
	return hal.DeviceFromHandle(dh), nil
}

package halcyon

import (
	"go.uber.org/zap"

	"github.com/halcyonml/halcyon/internal/ffi"
)

// Logger returns the logger the runtime traces through. A no-op logger
// is installed by default.
func Logger() *zap.Logger {
	return ffi.Logger()
}

// SetLogger routes runtime and compiler tracing through l. Passing nil
// restores the no-op default.
func SetLogger(l *zap.Logger) {
	ffi.SetLogger(l)
}

// Memory is linear byte-addressable storage owned by the binding and
// readable/writable by the runtime through pointers handed across the
// allocator boundary. Address 0 is never a valid block address.
type Memory interface {
	Read(addr uint64, length uint64) ([]byte, error)
	Write(addr uint64, data []byte) error
}

// MemorySizer provides the current size of a Memory in bytes.
type MemorySizer interface {
	Size() uint64
}

// Allocator allocates blocks inside a Memory on behalf of the runtime.
// Implementations satisfy the foreign allocator control contract:
// malloc, calloc, realloc and free dispatched through one entry point.
type Allocator interface {
	Malloc(size uint64) (uint64, error)
	Calloc(size uint64) (uint64, error)
	Realloc(addr uint64, size uint64) (uint64, error)
	Free(addr uint64)
}

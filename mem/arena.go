package mem

import (
	"sync"

	"github.com/halcyonml/halcyon/errors"
)

// arenaBase keeps address 0 out of the issued range so a zero pointer is
// always invalid.
const arenaBase = 1 << 16

// Arena is linear host memory addressed by the pointers a HostAllocator
// hands out. It is safe for concurrent use.
type Arena struct {
	mu  sync.RWMutex
	buf []byte
}

// NewArena creates an arena with the given capacity in bytes.
func NewArena(size uint64) *Arena {
	return &Arena{buf: make([]byte, size)}
}

// Size returns the arena capacity in bytes.
func (a *Arena) Size() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return uint64(len(a.buf))
}

func (a *Arena) checkRange(addr, length uint64) error {
	off := addr - arenaBase
	if addr < arenaBase || off+length < off || off+length > uint64(len(a.buf)) {
		return errors.New(errors.PhaseAlloc, errors.KindOutOfBounds).
			Detail("range [%#x, +%d) outside arena of %d bytes", addr, length, len(a.buf)).
			Build()
	}
	return nil
}

// Read copies length bytes starting at addr.
func (a *Arena) Read(addr uint64, length uint64) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.checkRange(addr, length); err != nil {
		return nil, err
	}
	off := addr - arenaBase
	out := make([]byte, length)
	copy(out, a.buf[off:off+length])
	return out, nil
}

// Write copies data into the arena starting at addr.
func (a *Arena) Write(addr uint64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkRange(addr, uint64(len(data))); err != nil {
		return err
	}
	copy(a.buf[addr-arenaBase:], data)
	return nil
}

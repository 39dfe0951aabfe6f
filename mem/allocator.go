package mem

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/halcyonml/halcyon"
	"github.com/halcyonml/halcyon/internal/ffi"
	"github.com/halcyonml/halcyon/status"
)

// headerSize is the bookkeeping prefix placed before every allocated
// block. The byte length of the block lives in the first 8 bytes; the
// remainder keeps user payloads 16-byte aligned.
const headerSize = 16

// maxAllocSize rejects requests that would overflow the platform's
// signed size once the header is added.
const maxAllocSize = math.MaxInt - headerSize

var (
	_ halcyon.Memory      = (*Arena)(nil)
	_ halcyon.MemorySizer = (*Arena)(nil)
	_ halcyon.Allocator   = (*HostAllocator)(nil)
)

// HostAllocator serves the runtime's allocation control contract from an
// Arena using a bump pointer with per-block size headers. It is safe for
// concurrent use.
type HostAllocator struct {
	mu    sync.Mutex
	arena *Arena
	next  uint64

	liveBlocks int
	liveBytes  uint64
}

// NewHostAllocator creates an allocator over a fresh arena of the given
// capacity.
func NewHostAllocator(arenaSize uint64) *HostAllocator {
	return &HostAllocator{arena: NewArena(arenaSize), next: arenaBase}
}

// Backing returns the arena the allocator issues pointers into.
func (h *HostAllocator) Backing() ffi.Memory {
	return h.arena
}

// LiveBlocks reports allocated-but-unfreed block count.
func (h *HostAllocator) LiveBlocks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.liveBlocks
}

// LiveBytes reports allocated-but-unfreed payload bytes.
func (h *HostAllocator) LiveBytes() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.liveBytes
}

// Ctl dispatches one allocation command. inout carries the block pointer:
// in for realloc and free, out for all commands that allocate.
func (h *HostAllocator) Ctl(cmd ffi.AllocatorCommand, params ffi.AllocParams, inout *ffi.Ptr) ffi.RawStatus {
	if inout == nil {
		return ffi.StatusAlloc(ffi.StatusInvalidArgument, "allocator requires an inout pointer")
	}
	switch cmd {
	case ffi.AllocatorCommandMalloc:
		return h.alloc(params.ByteLength, false, inout)
	case ffi.AllocatorCommandCalloc:
		return h.alloc(params.ByteLength, true, inout)
	case ffi.AllocatorCommandRealloc:
		return h.realloc(params.ByteLength, inout)
	case ffi.AllocatorCommandFree:
		h.free(*inout)
		*inout = 0
		return ffi.RawStatusOK
	default:
		return ffi.StatusAllocf(ffi.StatusUnimplemented, "unknown allocator command %d", cmd)
	}
}

// Malloc allocates an uninitialized block and returns its address.
func (h *HostAllocator) Malloc(size uint64) (uint64, error) {
	return h.ctlAddr(ffi.AllocatorCommandMalloc, size, 0)
}

// Calloc allocates a zeroed block and returns its address.
func (h *HostAllocator) Calloc(size uint64) (uint64, error) {
	return h.ctlAddr(ffi.AllocatorCommandCalloc, size, 0)
}

// Realloc resizes a block, preserving the smaller of the old and new
// payloads. A zero addr behaves like Malloc.
func (h *HostAllocator) Realloc(addr uint64, size uint64) (uint64, error) {
	return h.ctlAddr(ffi.AllocatorCommandRealloc, size, addr)
}

// Free releases a block. Freeing address zero is a no-op.
func (h *HostAllocator) Free(addr uint64) {
	p := ffi.Ptr(addr)
	h.Ctl(ffi.AllocatorCommandFree, ffi.AllocParams{}, &p)
}

func (h *HostAllocator) ctlAddr(cmd ffi.AllocatorCommand, size uint64, addr uint64) (uint64, error) {
	p := ffi.Ptr(addr)
	st := h.Ctl(cmd, ffi.AllocParams{ByteLength: size}, &p)
	if !ffi.StatusIsOK(st) {
		return 0, status.FromRaw(st).Consume()
	}
	return uint64(p), nil
}

func (h *HostAllocator) alloc(size uint64, zero bool, out *ffi.Ptr) ffi.RawStatus {
	if size == 0 {
		return ffi.StatusAlloc(ffi.StatusInvalidArgument, "zero-byte allocation")
	}
	if size > maxAllocSize {
		return ffi.StatusAllocf(ffi.StatusResourceExhausted, "allocation of %d bytes overflows the signed size limit", size)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	total := headerSize + size
	base := h.next
	if base+total < base || base+total-arenaBase > h.arena.Size() {
		return ffi.StatusAllocf(ffi.StatusResourceExhausted,
			"arena exhausted: %d bytes requested, %d available", size, h.arena.Size()-(h.next-arenaBase))
	}
	h.next += total
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint64(hdr[:], size)
	if err := h.arena.Write(base, hdr[:]); err != nil {
		return ffi.StatusAllocf(ffi.StatusInternal, "writing block header: %v", err)
	}
	if zero {
		if err := h.arena.Write(base+headerSize, make([]byte, size)); err != nil {
			return ffi.StatusAllocf(ffi.StatusInternal, "zeroing block: %v", err)
		}
	}
	h.liveBlocks++
	h.liveBytes += size
	*out = ffi.Ptr(base + headerSize)
	return ffi.RawStatusOK
}

func (h *HostAllocator) blockSize(p ffi.Ptr) (uint64, bool) {
	hdr, err := h.arena.Read(uint64(p)-headerSize, 8)
	if err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint64(hdr), true
}

func (h *HostAllocator) realloc(size uint64, inout *ffi.Ptr) ffi.RawStatus {
	old := *inout
	if old == 0 {
		// realloc of a null block degenerates to malloc
		return h.alloc(size, false, inout)
	}
	oldSize, ok := h.blockSize(old)
	if !ok {
		return ffi.StatusAlloc(ffi.StatusInvalidArgument, "realloc of unknown block")
	}
	var fresh ffi.Ptr
	if st := h.alloc(size, false, &fresh); !ffi.StatusIsOK(st) {
		return st
	}
	n := oldSize
	if size < n {
		n = size
	}
	data, err := h.arena.Read(uint64(old), n)
	if err == nil {
		err = h.arena.Write(uint64(fresh), data)
	}
	if err != nil {
		return ffi.StatusAllocf(ffi.StatusInternal, "moving block contents: %v", err)
	}
	h.free(old)
	*inout = fresh
	return ffi.RawStatusOK
}

func (h *HostAllocator) free(p ffi.Ptr) {
	if p == 0 {
		return
	}
	size, ok := h.blockSize(p)
	if !ok {
		return
	}
	h.mu.Lock()
	h.liveBlocks--
	h.liveBytes -= size
	h.mu.Unlock()
}

// NullAllocator satisfies the allocator contract without any backing
// storage: every allocation fails and free is a no-op. It stands in for
// memory the runtime was handed but does not own, so the runtime's
// release calls must succeed without touching anything.
type NullAllocator struct{}

// Backing returns nil; the null allocator owns no memory.
func (NullAllocator) Backing() ffi.Memory { return nil }

// Ctl accepts only free, as a no-op.
func (NullAllocator) Ctl(cmd ffi.AllocatorCommand, params ffi.AllocParams, inout *ffi.Ptr) ffi.RawStatus {
	if cmd == ffi.AllocatorCommandFree {
		if inout != nil {
			*inout = 0
		}
		return ffi.RawStatusOK
	}
	return ffi.StatusAlloc(ffi.StatusUnimplemented, "null allocator cannot allocate")
}

package ffi

import (
	"encoding/binary"
	"math"
)

// Packed little-endian element accessors used by the host kernels and
// buffer-view formatting. Index i is in elements, not bytes.

func getF32(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}

func putF32(b []byte, i int, v float32) {
	binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
}

func getF64(b []byte, i int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
}

func getI32(b []byte, i int) int32 {
	return int32(binary.LittleEndian.Uint32(b[i*4:]))
}

func putI32(b []byte, i int, v int32) {
	binary.LittleEndian.PutUint32(b[i*4:], uint32(v))
}

func getI64(b []byte, i int) int64 {
	return int64(binary.LittleEndian.Uint64(b[i*8:]))
}

// Package mem provides the host memory primitives the runtime allocates
// through: a linear arena addressed by opaque pointers and allocators
// implementing the runtime's single-entry control contract.
package mem

// Package ffi is the raw ABI surface of the Halcyon runtime and compiler.
//
// The declarations here mirror what a header-generated binding presents:
// opaque pointer-sized handles, tagged status words, an allocator control
// contract, and C-style enumeration callbacks taking an opaque user-data
// word. Out-pointer parameters became multiple return values; everything
// else keeps the foreign API's shape, including manual retain/release
// pairs and the single-ownership rules that go with them.
//
// The reference core behind this surface implements the runtime's object
// graph in process: a refcounted handle registry, per-instance type
// registries, kind-checked list storage, the local-sync CPU device, two
// module container loaders (native kernel-dispatch and WebAssembly via
// wazero), and the compiler's session/invocation machinery.
//
// Nothing outside internal/ may see these types. The public packages wrap
// every call and convert every status at the point of invocation.
package ffi

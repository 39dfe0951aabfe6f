// Package vm exposes the virtual machine's data plane: primitive values,
// counted references, the kind-checked list containers invocations pass
// data through, and the module and context objects functions live in.
//
// Lists and values are typed at compile time through generics and
// revalidated by the runtime core on every operation, so a type confusion
// surfaces as an error rather than a corrupted slot.
package vm

// Package runtime provides the high level execution API: create an
// Instance, open a Session against a Device, load compiled modules, and
// invoke their functions through stateful Calls.
//
// Instances are safe for concurrent use. Sessions and Calls are
// thread-compatible: confine each to one goroutine or synchronize
// externally.
package runtime

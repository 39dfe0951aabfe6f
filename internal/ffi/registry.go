package ffi

import "sync"

// The object registry is the core's heap: every handle the ABI hands out
// maps to a refcounted entry here. Release drops one reference; the entry
// is destroyed when the count reaches zero. A released handle is invalid
// and lookups on it fail, which is how the bindings' exactly-once
// ownership rules are enforced rather than trusted.

type objectKind uint8

const (
	objInstance objectKind = iota + 1
	objDriverRegistry
	objDevice
	objSession
	objContext
	objModule
	objList
	objBufferView
	objCall
	objCompilerSession
	objCompilerInvocation
	objCompilerSource
	objCompilerOutput
	objCompilerError
)

var objectKindNames = [...]string{
	objInstance:           "instance",
	objDriverRegistry:     "driver_registry",
	objDevice:             "device",
	objSession:            "session",
	objContext:            "context",
	objModule:             "module",
	objList:               "list",
	objBufferView:         "buffer_view",
	objCall:               "call",
	objCompilerSession:    "compiler_session",
	objCompilerInvocation: "compiler_invocation",
	objCompilerSource:     "compiler_source",
	objCompilerOutput:     "compiler_output",
	objCompilerError:      "compiler_error",
}

func (k objectKind) String() string {
	if int(k) < len(objectKindNames) && objectKindNames[k] != "" {
		return objectKindNames[k]
	}
	return "unknown"
}

// destroyer is optionally implemented by core objects needing cleanup when
// their last reference drops.
type destroyer interface {
	destroy()
}

type object struct {
	kind objectKind
	refs int32
	val  any
}

var (
	objMu      sync.Mutex
	objects    = map[Ptr]*object{}
	nextHandle Ptr = 1 << 12
)

func newObject(kind objectKind, val any) Ptr {
	objMu.Lock()
	defer objMu.Unlock()
	h := nextHandle
	nextHandle += 16
	objects[h] = &object{kind: kind, refs: 1, val: val}
	return h
}

func retainObject(h Ptr) bool {
	objMu.Lock()
	defer objMu.Unlock()
	o, ok := objects[h]
	if !ok {
		return false
	}
	o.refs++
	return true
}

func releaseObject(h Ptr) {
	objMu.Lock()
	o, ok := objects[h]
	if !ok {
		objMu.Unlock()
		return
	}
	o.refs--
	done := o.refs == 0
	if done {
		delete(objects, h)
	}
	objMu.Unlock()

	if done {
		if d, ok := o.val.(destroyer); ok {
			d.destroy()
		}
	}
}

func getObject(h Ptr, kind objectKind) (any, bool) {
	objMu.Lock()
	defer objMu.Unlock()
	o, ok := objects[h]
	if !ok || o.kind != kind {
		return nil, false
	}
	return o.val, true
}

func objectRefs(h Ptr) int32 {
	objMu.Lock()
	defer objMu.Unlock()
	if o, ok := objects[h]; ok {
		return o.refs
	}
	return 0
}

// LiveObjects reports the number of live core objects. Used by
// leak-checking tests.
func LiveObjects() int {
	objMu.Lock()
	defer objMu.Unlock()
	return len(objects)
}

func badHandle(kind objectKind) RawStatus {
	return StatusAllocf(StatusInvalidArgument, "invalid or released %s handle", kind)
}

// Package halcyon provides safe Go bindings for the Halcyon ML virtual
// machine runtime and its companion compiler.
//
// The Halcyon runtime is a reference-counted, dynamically-typed VM that
// executes compiled machine-learning programs. Its native API deals in
// opaque handles (instances, sessions, devices, modules, functions, lists,
// buffer views) that must be manually retained and released, resolves
// element types at call time through small type tags, and reports failures
// through tagged status words. This library encodes that model into Go
// types so that call sites never touch a raw handle, a refcount, or an
// unconverted status.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	halcyon/        Root package with core Memory and Allocator interfaces
//	├── runtime/    Instance, Session and Call lifecycle hierarchy
//	├── vm/         Value/Ref type tags and the kind-checked list container
//	├── hal/        Devices, driver registry and buffer views
//	├── compiler/   Compiler sessions, invocations, sources and outputs
//	├── status/     Tagged status words bridged to Go errors
//	├── mem/        Host allocator bridge over a linear arena
//	└── errors/     Structured error types for debugging
//
// The raw ABI surface lives in internal/ffi and is never exposed. The
// reference core behind it executes kernel-dispatch modules on the
// local-sync CPU device and WebAssembly-container modules through wazero.
//
// # Quick Start
//
// Run a compiled module:
//
//	registry := hal.DefaultRegistry()
//	defer registry.Free()
//
//	instance, err := runtime.NewInstance(runtime.InstanceOptions{
//	    Registry:               registry,
//	    UseAllAvailableDrivers: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer instance.Release()
//
//	device, _ := instance.TryCreateDefaultDevice("local-sync")
//	session, _ := runtime.NewSessionWithDevice(instance, device)
//	defer session.Release()
//
//	_ = session.AppendModuleFromBytes(ctx, moduleBytes)
//	call, _ := runtime.NewCallByName(session, "arithmetic.simple_mul")
//	defer call.Release()
//
//	_ = call.PushInputBufferView(input)
//	_ = call.Invoke(ctx)
//	out, _ := runtime.PopOutputBufferView[float32](call)
//
// # Thread Safety
//
// Instance is safe for concurrent use from multiple goroutines. Session,
// Call and the list types are thread-compatible only: they may move
// between goroutines but concurrent use requires external locking.
//
// # Ownership
//
// Every wrapper owns exactly one foreign reference and releases it exactly
// once. Cloning a wrapper retains a new reference. Typed references and
// lists carry the Instance whose type registry defined them and reject use
// against any other Instance.
package halcyon

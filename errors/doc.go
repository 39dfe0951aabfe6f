// Package errors provides structured error types for the halcyon bindings.
//
// Errors are categorized by Phase (where the error occurred) and Kind
// (error category). The Error type includes the operation path, declared
// and actual type names for mismatches, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseList, errors.KindTypeMismatch).
//		Path("list", "get").
//		Declared("i32").
//		Actual("f64").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(errors.PhaseList, path, "i32", "f64")
//	err := errors.OutOfBounds(errors.PhaseList, path, 10, 5)
//
// All errors implement the standard error interface and support
// errors.Is/As; Is matches on Phase and Kind.
package errors

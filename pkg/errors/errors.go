// Package errors defines the error taxonomy shared across monocore's
// subsystems. It follows the sentinel-plus-wrapping style used by
// containerd/errdefs: a small set of comparable base errors that callers
// match with errors.Is, wrapped with context via fmt.Errorf("%w").
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every error kind from the design surfaces as one of
// these, wrapped with operation-specific context.
var (
	ErrPathValidation     = errors.New("path validation failed")
	ErrIO                 = errors.New("io error")
	ErrDB                 = errors.New("database error")
	ErrOCINetwork         = errors.New("oci registry network error")
	ErrOCIAuth            = errors.New("oci registry authentication required")
	ErrOCIDigestMismatch  = errors.New("oci layer digest mismatch")
	ErrUnsupportedCodec   = errors.New("unsupported codec")
	ErrBlockNotFound      = errors.New("block not found")
	ErrRawBlockTooLarge   = errors.New("raw block exceeds maximum size")
	ErrNodeBlockTooLarge  = errors.New("node block exceeds maximum size")
	ErrVmmFailure         = errors.New("vmm ffi call failed")
	ErrTimeout            = errors.New("operation timed out")
	ErrAlreadyRunning     = errors.New("service already running")
	ErrNotFound           = errors.New("not found")
	ErrDependencyCycle    = errors.New("dependency graph has a cycle")
	ErrFfiString          = errors.New("non-utf8 string at ffi boundary")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// InvalidConfig wraps ErrInvalidConfig with the offending reason.
func InvalidConfig(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, reason)
}

// PathValidation wraps ErrPathValidation with the offending path.
func PathValidation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPathValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the entity name.
func NotFound(name string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Timeout wraps ErrTimeout with the operation name.
func Timeout(op string) error {
	return fmt.Errorf("%w: %s", ErrTimeout, op)
}

// VmmFailure wraps ErrVmmFailure with the failing FFI operation and its
// returned code.
func VmmFailure(op string, code int) error {
	return fmt.Errorf("%w: %s returned %d", ErrVmmFailure, op, code)
}

// UnsupportedCodec wraps ErrUnsupportedCodec with the unrecognized tag.
func UnsupportedCodec(tag uint64) error {
	return fmt.Errorf("%w: 0x%x", ErrUnsupportedCodec, tag)
}

// Is reports whether err matches target per errors.Is, re-exported so
// callers that only import this package don't need the stdlib one too.
func Is(err, target error) bool { return errors.Is(err, target) }

// As re-exports errors.As for the same reason.
func As(err error, target any) bool { return errors.As(err, target) }

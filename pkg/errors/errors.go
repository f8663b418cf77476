// Package errors provides a structured error system for the cache proxy and
// server, with error codes that map onto the POSIX-ish negative-integer
// wire codes the proxy/server RPC protocol exchanges.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a class of failure independent of its string message.
type ErrorCode string

const (
	// Lookup / validation errors, surfaced to the client unchanged.
	ErrCodeNotExist      ErrorCode = "ENOENT"
	ErrCodeExist         ErrorCode = "EEXIST"
	ErrCodePermission    ErrorCode = "EPERM"
	ErrCodeIsDirectory   ErrorCode = "EISDIR"
	ErrCodeBadDescriptor ErrorCode = "EBADF"
	ErrCodeInvalid       ErrorCode = "EINVAL"

	// Resource and transport errors.
	ErrCodeOutOfMemory ErrorCode = "ENOMEM"
	ErrCodeIO          ErrorCode = "EIO"

	// Internal errors that should never reach a client unchanged.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Errno is the wire-level signed integer a client or RPC reply carries.
// Negative values mirror POSIX convention; zero/positive means success.
type Errno int32

const (
	OK           Errno = 0
	ENOENT       Errno = -1
	EEXIST       Errno = -2
	EPERM        Errno = -3
	EISDIR       Errno = -4
	EBADF        Errno = -5
	EINVAL       Errno = -6
	ENOMEM       Errno = -7
	EIO          Errno = -8
)

var errnoByCode = map[ErrorCode]Errno{
	ErrCodeNotExist:      ENOENT,
	ErrCodeExist:         EEXIST,
	ErrCodePermission:    EPERM,
	ErrCodeIsDirectory:   EISDIR,
	ErrCodeBadDescriptor: EBADF,
	ErrCodeInvalid:       EINVAL,
	ErrCodeOutOfMemory:   ENOMEM,
	ErrCodeIO:            EIO,
	ErrCodeInternal:      EIO,
}

var codeByErrno = map[Errno]ErrorCode{
	ENOENT: ErrCodeNotExist,
	EEXIST: ErrCodeExist,
	EPERM:  ErrCodePermission,
	EISDIR: ErrCodeIsDirectory,
	EBADF:  ErrCodeBadDescriptor,
	EINVAL: ErrCodeInvalid,
	ENOMEM: ErrCodeOutOfMemory,
	EIO:    ErrCodeIO,
}

// CacheError is a structured error carrying the wire error code plus
// operational context, grounded on the richer teacher error type but
// trimmed to the concerns this protocol actually needs.
type CacheError struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Timestamp time.Time
	Component string
	Operation string
	Retryable bool
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" && e.Operation != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
	}
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a CacheError with the same Code.
func (e *CacheError) Is(target error) bool {
	other, ok := target.(*CacheError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// Errno returns the wire-level signed integer for this error.
func (e *CacheError) Errno() Errno {
	if errno, ok := errnoByCode[e.Code]; ok {
		return errno
	}
	return EIO
}

// New creates a CacheError with the given code and message.
func New(code ErrorCode, format string, args ...interface{}) *CacheError {
	return &CacheError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
		Retryable: code == ErrCodeIO,
	}
}

// Wrap creates a CacheError with the given code that wraps cause.
func Wrap(code ErrorCode, cause error, format string, args ...interface{}) *CacheError {
	e := New(code, format, args...)
	e.Cause = cause
	return e
}

// WithComponent sets the component that raised the error and returns e.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation during which the error occurred and returns e.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// FromErrno converts a wire-level errno back into a CacheError. OK errnos
// produce a nil error.
func FromErrno(errno Errno, message string) error {
	if errno == OK {
		return nil
	}
	code, ok := codeByErrno[errno]
	if !ok {
		code = ErrCodeInternal
	}
	if message == "" {
		message = strings.ToLower(string(code))
	}
	return New(code, "%s", message)
}

// ToErrno converts any error into its wire-level errno, defaulting to EIO
// for errors that are not a *CacheError (e.g. raw transport failures).
func ToErrno(err error) Errno {
	if err == nil {
		return OK
	}
	var ce *CacheError
	if as(err, &ce) {
		return ce.Errno()
	}
	return EIO
}

// as is a tiny local stand-in for errors.As restricted to *CacheError, kept
// here to avoid importing the stdlib errors package under a name that
// shadows this package's own name throughout the file.
func as(err error, target **CacheError) bool {
	for err != nil {
		if ce, ok := err.(*CacheError); ok {
			*target = ce
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

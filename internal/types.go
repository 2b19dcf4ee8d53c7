// internal/types.go - Common types for internal packages
package internal

import (
	"errors"
	"fmt"
)

// SourceType represents the kind of backing store raster samples are read from
type SourceType string

const (
	SourceTypeMemory SourceType = "memory"
	SourceTypeFile   SourceType = "file"
	SourceTypeS3     SourceType = "s3"
)

// Error represents application-specific errors
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause so errors.As can reach it
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error carrying the same code.
// This lets callers match a whole class with errors.Is(err, ErrTransform).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// NewError creates a new application error
func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Errorf creates a new application error with a formatted message and no cause
func Errorf(code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrorCode constants for common error types
const (
	ErrorCodeTransform    = "TRANSFORM_ERROR"
	ErrorCodeRetrieval    = "RETRIEVAL_ERROR"
	ErrorCodeResource     = "RESOURCE_ERROR"
	ErrorCodePrecondition = "PRECONDITION_ERROR"
	ErrorCodeUnit         = "UNIT_ERROR"
	ErrorCodeValidation   = "VALIDATION_ERROR"
	ErrorCodeConfig       = "CONFIG_ERROR"
	ErrorCodeNotFound     = "NOT_FOUND"
	ErrorCodeFileSystem   = "FILESYSTEM_ERROR"
)

// Class sentinels for errors.Is matching
var (
	ErrTransform    = &Error{Code: ErrorCodeTransform}
	ErrRetrieval    = &Error{Code: ErrorCodeRetrieval}
	ErrResource     = &Error{Code: ErrorCodeResource}
	ErrPrecondition = &Error{Code: ErrorCodePrecondition}
	ErrUnit         = &Error{Code: ErrorCodeUnit}
	ErrNotFound     = &Error{Code: ErrorCodeNotFound}
)

// CodeOf returns the code of the first *Error in err's chain, or "" if none
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Package apperror defines the typed failures surfaced by the upload pipeline.
// Every failure is returned to the caller of the failing operation; nothing is
// retried internally.
package apperror

import (
	"errors"
	"fmt"
)

// Code identifies a failure category. String based so it serializes naturally.
type Code string

const (
	// CodeInvalidSession means the connection id is unknown.
	CodeInvalidSession Code = "INVALID_SESSION"

	// CodeHashMismatch means the caller's declared hash differs from the session record.
	CodeHashMismatch Code = "HASH_MISMATCH"

	// CodeOffsetMismatch means the byte range does not start at the durable size.
	CodeOffsetMismatch Code = "OFFSET_MISMATCH"

	// CodeArtifactNotFound means verification was requested before any byte was persisted.
	CodeArtifactNotFound Code = "ARTIFACT_NOT_FOUND"

	// CodeIOFailure means reading or writing the artifact failed mid-stream.
	CodeIOFailure Code = "IO_FAILURE"

	// CodeStructuralValidation means the request payload is malformed.
	CodeStructuralValidation Code = "STRUCTURAL_VALIDATION"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so sentinels such as
// ErrInvalidSession work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

var (
	ErrInvalidSession       = New(CodeInvalidSession, "invalid connectionId")
	ErrHashMismatch         = New(CodeHashMismatch, "hash does not match connection record")
	ErrOffsetMismatch       = New(CodeOffsetMismatch, "offset mismatch")
	ErrArtifactNotFound     = New(CodeArtifactNotFound, "uploaded file not found")
	ErrIOFailure            = New(CodeIOFailure, "artifact i/o failed")
	ErrStructuralValidation = New(CodeStructuralValidation, "invalid request")
)

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

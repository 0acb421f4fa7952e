// Package errors provides coded errors for the flowboard CLI and HTTP API.
//
// Library packages return plain sentinels (layout.ErrNotFound,
// persist.ErrClosed) and wrap with fmt.Errorf. A code is attached where an
// error leaves the library: request validation, backend opening, imports.
// The code decides the HTTP status of an API response and the exit status
// of the CLI.
//
// # Error Codes
//
//   - INVALID_*: the caller sent something unusable (400, exit 65)
//   - *_NOT_FOUND: a referenced entity, link or file does not exist (404)
//   - CONFLICT, CLOSED: the request does not fit the engine's state
//   - STORAGE*, TIMEOUT: a backend failed or was too slow
//   - INTERNAL_ERROR, UNSUPPORTED: everything else
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidEntity, "unknown region %q", e.Region)
//	if errors.Is(err, errors.ErrCodeInvalidEntity) {
//	    // reject the request
//	}
//
//	err = errors.Wrap(errors.ErrCodeStorage, cause, "save entity %s", id)
//	w.WriteHeader(errors.GetCode(err).HTTPStatus())
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

// Error codes.
const (
	// Validation
	ErrCodeInvalidInput    Code = "INVALID_INPUT"
	ErrCodeInvalidConfig   Code = "INVALID_CONFIG"
	ErrCodeInvalidFormat   Code = "INVALID_FORMAT"
	ErrCodeInvalidEntity   Code = "INVALID_ENTITY"
	ErrCodeInvalidLink     Code = "INVALID_LINK"
	ErrCodeInvalidPosition Code = "INVALID_POSITION"

	// Lookup
	ErrCodeNotFound       Code = "NOT_FOUND"
	ErrCodeEntityNotFound Code = "ENTITY_NOT_FOUND"
	ErrCodeLinkNotFound   Code = "LINK_NOT_FOUND"
	ErrCodeFileNotFound   Code = "FILE_NOT_FOUND"

	// Engine state
	ErrCodeConflict Code = "CONFLICT"
	ErrCodeClosed   Code = "CLOSED"

	// Storage
	ErrCodeStorage            Code = "STORAGE"
	ErrCodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	ErrCodeTimeout            Code = "TIMEOUT"

	// Internal
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Exit statuses follow sysexits.h.
const (
	ExitFailure     = 1
	exitUsage       = 64
	exitDataErr     = 65
	exitNoInput     = 66
	exitUnavailable = 69
	exitSoftware    = 70
	exitIOErr       = 74
	exitTempFail    = 75
	exitConfig      = 78
)

type disposition struct {
	status int
	exit   int
}

var dispositions = map[Code]disposition{
	ErrCodeInvalidInput:       {http.StatusBadRequest, exitDataErr},
	ErrCodeInvalidConfig:      {http.StatusBadRequest, exitConfig},
	ErrCodeInvalidFormat:      {http.StatusBadRequest, exitUsage},
	ErrCodeInvalidEntity:      {http.StatusBadRequest, exitDataErr},
	ErrCodeInvalidLink:        {http.StatusBadRequest, exitDataErr},
	ErrCodeInvalidPosition:    {http.StatusBadRequest, exitDataErr},
	ErrCodeNotFound:           {http.StatusNotFound, exitDataErr},
	ErrCodeEntityNotFound:     {http.StatusNotFound, exitDataErr},
	ErrCodeLinkNotFound:       {http.StatusNotFound, exitDataErr},
	ErrCodeFileNotFound:       {http.StatusNotFound, exitNoInput},
	ErrCodeConflict:           {http.StatusConflict, exitSoftware},
	ErrCodeClosed:             {http.StatusServiceUnavailable, exitSoftware},
	ErrCodeStorage:            {http.StatusBadGateway, exitIOErr},
	ErrCodeStorageUnavailable: {http.StatusServiceUnavailable, exitUnavailable},
	ErrCodeTimeout:            {http.StatusGatewayTimeout, exitTempFail},
	ErrCodeInternal:           {http.StatusInternalServerError, exitSoftware},
	ErrCodeUnsupported:        {http.StatusNotImplemented, exitUsage},
}

// HTTPStatus returns the response status for c. Unknown codes are 500.
func (c Code) HTTPStatus() int {
	if d, ok := dispositions[c]; ok {
		return d.status
	}
	return http.StatusInternalServerError
}

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

func (e *Error) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the cause, so errors.Is and errors.As see through e.
func (e *Error) Unwrap() error { return e.Cause }

// New returns an Error with code and a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error with code that wraps cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether the outermost *Error in err's chain has code.
func Is(err error, code Code) bool {
	return GetCode(err) == code && code != ""
}

// GetCode returns the code of the outermost *Error in err's chain, or ""
// when there is none.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns err's message without the code prefix or cause.
// Uncoded errors are returned as is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// ExitCode returns the process exit status for err: 0 for nil, a
// sysexits.h value for coded errors, and ExitFailure otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if d, ok := dispositions[GetCode(err)]; ok {
		return d.exit
	}
	return ExitFailure
}

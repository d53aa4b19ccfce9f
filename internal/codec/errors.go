package codec

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes codec failures.
type ErrorCode string

const (
	// ErrCodeMalformedJSON indicates the input is not valid JSON.
	ErrCodeMalformedJSON ErrorCode = "MALFORMED_JSON"

	// ErrCodeUnresolvedType indicates a type tag is missing, unknown, or
	// names a type that does not fit the declared type.
	ErrCodeUnresolvedType ErrorCode = "UNRESOLVED_TYPE"

	// ErrCodeUnsupportedValue indicates a value cannot be written, or a
	// JSON value does not fit the declared property type.
	ErrCodeUnsupportedValue ErrorCode = "UNSUPPORTED_VALUE"
)

// Error is a codec failure at a JSON path.
type Error struct {
	Code    ErrorCode
	Path    string // "$.blogs[1].name"
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s at %s: %s", e.Code, e.Path, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, path string, err error, format string, args ...any) *Error {
	if path == "" {
		path = "$"
	}
	return &Error{Code: code, Path: path, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsMalformedJSON returns true if err is a malformed JSON failure.
func IsMalformedJSON(err error) bool {
	return hasCode(err, ErrCodeMalformedJSON)
}

// IsUnresolvedType returns true if err is a type resolution failure.
func IsUnresolvedType(err error) bool {
	return hasCode(err, ErrCodeUnresolvedType)
}

// IsUnsupportedValue returns true if err is an unsupported value failure.
func IsUnsupportedValue(err error) bool {
	return hasCode(err, ErrCodeUnsupportedValue)
}

func hasCode(err error, code ErrorCode) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == code
}

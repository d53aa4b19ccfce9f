package syntax

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes query-language errors.
type ErrorCode string

const (
	// ErrCodeLexical indicates the input could not be tokenized
	// (unterminated string, unknown character).
	ErrCodeLexical ErrorCode = "LEXICAL"

	// ErrCodeSyntax indicates a structural violation (unexpected token,
	// missing closing parenthesis or bracket).
	ErrCodeSyntax ErrorCode = "SYNTAX"

	// ErrCodeBind indicates a name could not be resolved against the model
	// (unknown member or function, wrong arity, expand on a non-navigation
	// property, duplicate expansion).
	ErrCodeBind ErrorCode = "BIND"
)

// Error is a positioned query-language error.
//
// Pos is the 0-based offset of the next unread character when the error
// was raised, or -1 when the error was produced outside of a parse (binders
// raise position-less errors; the parser attaches the position).
type Error struct {
	Code    ErrorCode
	Message string
	Pos     int
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%s at position %d: %s", e.Code, e.Pos, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewLexicalError creates a lexical error at pos.
func NewLexicalError(pos int, format string, args ...any) *Error {
	return &Error{Code: ErrCodeLexical, Message: fmt.Sprintf(format, args...), Pos: pos}
}

// NewSyntaxError creates a syntax error at pos.
func NewSyntaxError(pos int, format string, args ...any) *Error {
	return &Error{Code: ErrCodeSyntax, Message: fmt.Sprintf(format, args...), Pos: pos}
}

// NewBindError creates a position-less bind error. The parser attaches
// position information with WithPosition.
func NewBindError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeBind, Message: fmt.Sprintf(format, args...), Pos: -1}
}

// WithPosition attaches pos to err.
//
// A position-less *Error is copied with pos filled in. Errors that already
// carry a position are returned unchanged. Any other error is wrapped as a
// bind error at pos.
func WithPosition(err error, pos int) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		if se.Pos >= 0 {
			return err
		}
		cp := *se
		cp.Pos = pos
		return &cp
	}
	return &Error{Code: ErrCodeBind, Message: err.Error(), Pos: pos, Err: err}
}

// IsLexicalError returns true if err is a lexical error.
func IsLexicalError(err error) bool {
	return hasCode(err, ErrCodeLexical)
}

// IsSyntaxError returns true if err is a syntax error.
func IsSyntaxError(err error) bool {
	return hasCode(err, ErrCodeSyntax)
}

// IsBindError returns true if err is a bind error.
func IsBindError(err error) bool {
	return hasCode(err, ErrCodeBind)
}

// Position returns the position carried by err, if any.
func Position(err error) (int, bool) {
	var se *Error
	if errors.As(err, &se) && se.Pos >= 0 {
		return se.Pos, true
	}
	return 0, false
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

package options

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes query parameter errors.
type ErrorCode string

const (
	// ErrCodeDuplicateParameter indicates a single-valued parameter was
	// given more than once.
	ErrCodeDuplicateParameter ErrorCode = "DUPLICATE_PARAMETER"

	// ErrCodeInvalidParameter indicates a parameter value could not be
	// parsed or bound.
	ErrCodeInvalidParameter ErrorCode = "INVALID_PARAMETER"

	// ErrCodeLimitExceeded indicates a parameter exceeds a configured
	// limit.
	ErrCodeLimitExceeded ErrorCode = "LIMIT_EXCEEDED"
)

// ParamError records the failure of one query parameter.
type ParamError struct {
	Param string
	Code  ErrorCode
	Err   error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("$%s: %s: %v", e.Param, e.Code, e.Err)
}

func (e *ParamError) Unwrap() error {
	return e.Err
}

// Errors aggregates every parameter failure of one request.
type Errors []*ParamError

func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (es Errors) Unwrap() []error {
	out := make([]error, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// ForParam returns the failures recorded against param.
func (es Errors) ForParam(param string) []*ParamError {
	var out []*ParamError
	for _, e := range es {
		if e.Param == param {
			out = append(out, e)
		}
	}
	return out
}

// IsDuplicateParameter returns true if err contains a duplicate parameter
// failure.
func IsDuplicateParameter(err error) bool {
	return hasCode(err, ErrCodeDuplicateParameter)
}

// IsInvalidParameter returns true if err contains an invalid parameter
// failure.
func IsInvalidParameter(err error) bool {
	return hasCode(err, ErrCodeInvalidParameter)
}

// IsLimitExceeded returns true if err contains a limit failure.
func IsLimitExceeded(err error) bool {
	return hasCode(err, ErrCodeLimitExceeded)
}

func hasCode(err error, code ErrorCode) bool {
	var es Errors
	if errors.As(err, &es) {
		for _, e := range es {
			if e.Code == code {
				return true
			}
		}
		return false
	}
	var pe *ParamError
	return errors.As(err, &pe) && pe.Code == code
}

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique identifier for specific error conditions in telemos.
type ErrorCode int

const (
	ErrCodeUnknown       ErrorCode = 1000
	ErrCodeConfigInvalid ErrorCode = 1001

	// Session start
	ErrCodeSessionStart     ErrorCode = 2001
	ErrCodeDictionaryLoad   ErrorCode = 2002
	ErrCodeFeatureInit      ErrorCode = 2003
	ErrCodeClockUnavailable ErrorCode = 2004
	ErrCodeUnknownFeature   ErrorCode = 2005
	ErrCodeArchive          ErrorCode = 2006

	// Running
	ErrCodeRawInput   ErrorCode = 3001
	ErrCodeMessageBus ErrorCode = 3002

	// Teardown
	ErrCodeShutdown ErrorCode = 4001
)

// TelemosError is a custom error type that provides structured error information,
// including an error code, the operation being performed, and the underlying cause.
type TelemosError struct {
	// Code is the specific error code.
	Code ErrorCode
	// Msg is a human-readable description of the error.
	Msg string
	// Operation describes the action being performed when the error occurred.
	Operation string
	// Err is the underlying error that caused this error, if any.
	Err error
}

// Error returns a formatted string representation of the error.
func (e *TelemosError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %s (cause: %v)", e.Code, e.Operation, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Operation, e.Msg)
}

// Unwrap returns the underlying error.
func (e *TelemosError) Unwrap() error {
	return e.Err
}

// New creates a new TelemosError with the specified code, operation, message, and underlying error.
func New(code ErrorCode, op, msg string, err error) error {
	return &TelemosError{
		Code:      code,
		Msg:       msg,
		Operation: op,
		Err:       err,
	}
}

// HasCode reports whether any TelemosError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var te *TelemosError
		if !stderrors.As(err, &te) {
			return false
		}
		if te.Code == code {
			return true
		}
		err = te.Err
	}
	return false
}

// IsRawInput reports whether err is a transport failure raised by the raw
// input service. Callers use it to tell input problems apart from generic
// processing failures.
func IsRawInput(err error) bool {
	return HasCode(err, ErrCodeRawInput)
}

// Personal.AI order the ending

// Package errors defines the failure taxonomy surfaced at the HTTP boundary.
package errors

import "fmt"

// Code is a machine-readable error kind.
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeChain      Code = "CHAIN_ERROR"
	CodeStore      Code = "STORE_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
)

// AppError carries a Code alongside a message and optional cause.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

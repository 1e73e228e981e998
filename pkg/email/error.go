package email

import (
	"errors"
	"fmt"
)

type ErrorReason string

const (
	REASON_VALIDATION ErrorReason = "VALIDATION_ERROR"
	REASON_CONFLICT   ErrorReason = "CONFLICT"
	REASON_NOT_FOUND  ErrorReason = "NOT_FOUND"
	REASON_STORE      ErrorReason = "STORE_ERROR"
	REASON_PROVIDER   ErrorReason = "PROVIDER_ERROR"
)

var _ error = &Error{}

// Error is the single error type surfaced by the lifecycle core. Reason tells
// callers which class of failure occurred.
type Error struct {
	Message string
	Reason  ErrorReason
	Cause   error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Reason, e.Message)
	if e.Cause != nil {
		s += fmt.Sprintf(": %s", e.Cause)
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(reason ErrorReason, message string, cause error) *Error {
	return &Error{
		Message: message,
		Reason:  reason,
		Cause:   cause,
	}
}

func NewValidationError(message string, cause error) *Error {
	return newError(REASON_VALIDATION, message, cause)
}

func NewConflictError(message string, cause error) *Error {
	return newError(REASON_CONFLICT, message, cause)
}

func NewNotFoundError(message string, cause error) *Error {
	return newError(REASON_NOT_FOUND, message, cause)
}

func NewStoreError(message string, cause error) *Error {
	return newError(REASON_STORE, message, cause)
}

func NewProviderError(message string, cause error) *Error {
	return newError(REASON_PROVIDER, message, cause)
}

// ReasonOf returns the reason of the first *Error in err's chain, or "" when
// err carries none.
func ReasonOf(err error) ErrorReason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func IsValidation(err error) bool { return ReasonOf(err) == REASON_VALIDATION }
func IsConflict(err error) bool   { return ReasonOf(err) == REASON_CONFLICT }
func IsNotFound(err error) bool   { return ReasonOf(err) == REASON_NOT_FOUND }
func IsStore(err error) bool      { return ReasonOf(err) == REASON_STORE }
func IsProvider(err error) bool   { return ReasonOf(err) == REASON_PROVIDER }

package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound         = newInternal(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = newInternal(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation       = newInternal(ErrCodeValidation, "validation error")
	ErrInvalidOperation = newInternal(ErrCodeInvalidOperation, "invalid operation")
	ErrDatabase         = newInternal(ErrCodeDatabase, "database error")
	ErrSystem           = newInternal(ErrCodeSystemError, "system error")

	// ErrNothingToGenerate is the "nothing to do" outcome of invoice
	// generation: no new items and no adjustment was warranted. Callers
	// treat it as a distinguishable empty result, not a failure.
	ErrNothingToGenerate = newInternal(ErrCodeNothingToGenerate, "no invoice to generate")

	// ErrLockAcquisition means the account-scoped lock could not be taken
	// within the retry budget; the whole operation may be retried.
	ErrLockAcquisition = newInternal(ErrCodeLockAcquisition, "lock acquisition failed")

	// ErrPluginTimeout means a gateway call exceeded its deadline while the
	// account lock was held; the attempt outcome is unknown.
	ErrPluginTimeout = newInternal(ErrCodePluginTimeout, "payment plugin timeout")

	// ErrPluginFailure marks gateway exceptions and unexpected plugin
	// statuses, retried on a separate counter from payment declines.
	ErrPluginFailure = newInternal(ErrCodePluginFailure, "payment plugin failure")
)

const (
	ErrCodeSystemError       = "system_error"
	ErrCodeNotFound          = "not_found"
	ErrCodeAlreadyExists     = "already_exists"
	ErrCodeValidation        = "validation_error"
	ErrCodeInvalidOperation  = "invalid_operation"
	ErrCodeDatabase          = "database_error"
	ErrCodeNothingToGenerate = "invoice_nothing_to_generate"
	ErrCodeLockAcquisition   = "lock_acquisition_failed"
	ErrCodePluginTimeout     = "payment_plugin_timeout"
	ErrCodePluginFailure     = "payment_plugin_failure"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func newInternal(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// Code returns the stable machine-readable code of an error, so automated
// clients can branch without string matching.
func Code(err error) string {
	var internal *InternalError
	if errors.As(err, &internal) {
		return internal.Code
	}
	for _, sentinel := range []*InternalError{
		ErrNotFound, ErrAlreadyExists, ErrValidation, ErrInvalidOperation,
		ErrDatabase, ErrNothingToGenerate, ErrLockAcquisition,
		ErrPluginTimeout, ErrPluginFailure,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Code
		}
	}
	return ErrCodeSystemError
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidOperation checks if an error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsNothingToGenerate checks if an error is the "nothing to do" generation outcome
func IsNothingToGenerate(err error) bool {
	return errors.Is(err, ErrNothingToGenerate)
}

// IsLockAcquisition checks if an error is a lock acquisition failure
func IsLockAcquisition(err error) bool {
	return errors.Is(err, ErrLockAcquisition)
}

// IsPluginTimeout checks if an error is a plugin timeout
func IsPluginTimeout(err error) bool {
	return errors.Is(err, ErrPluginTimeout)
}

// IsPluginFailure checks if an error is a plugin failure
func IsPluginFailure(err error) bool {
	return errors.Is(err, ErrPluginFailure)
}

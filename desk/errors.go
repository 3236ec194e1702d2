package desk

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrOrderRejected          = errors.New("order rejected")
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")
	ErrPersistence            = errors.New("persistence failure")
	ErrNotFound               = errors.New("not found")
	ErrClosingInFlight        = errors.New("close already in flight")
	ErrInsufficientQuantity   = errors.New("insufficient quantity")
	ErrNothingToClose         = errors.New("no open positions")
)

// ValidationError reports a request rejected before it reached the gateway.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

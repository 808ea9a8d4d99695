package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderNotFound is returned when no order matches an id or merchant reference.
	ErrOrderNotFound = errors.New("order not found")
	// ErrIllegalTransition is returned when a requested status change is not an edge of the
	// order lifecycle.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrNoSupplierOrder is returned by supplier passthroughs for orders never forwarded.
	ErrNoSupplierOrder = errors.New("order has no supplier order")
	// ErrNotEligible is returned by sweep helpers called on an order they do not apply to.
	ErrNotEligible = errors.New("order not eligible")
)

// ValidationError rejects an order request synchronously; nothing is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// timeout reports whether err is a vendor call that ended without an answer.
func timeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

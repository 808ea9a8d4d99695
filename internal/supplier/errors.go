package supplier

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrTooManyIDs is returned when a batch call is given more than MaxBatch ids.
var ErrTooManyIDs = fmt.Errorf("supplier: at most %d ids per batch", MaxBatch)

// Error is a failed supplier call: either a transport failure (Err set) or a vendor-reported
// failure (Message carries the raw vendor diagnostic).
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("supplier %s: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("supplier %s: http %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("supplier %s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the call ended without a vendor answer, so its outcome is unknown.
func (e *Error) Timeout() bool {
	if e.Err == nil {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error is a failed gateway call. Code/Message carry the raw vendor diagnostic when the vendor
// answered; Err is set for transport failures.
type Error struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	case e.Code != "":
		return fmt.Sprintf("gateway %s: http %d: %s: %s", e.Op, e.StatusCode, e.Code, e.Message)
	default:
		return fmt.Sprintf("gateway %s: http %d: %s", e.Op, e.StatusCode, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the call ended without a vendor answer.
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

package transport

import "fmt"

// Error is a connectivity or HTTP-layer failure. During polling it is
// transient; during submission it fails the call.
type Error struct {
	Endpoint   string
	StatusCode int
	Err        error
}

// Error formats transport failures for logs and UI.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport %s: http %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Endpoint, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

package jobs

import (
	"errors"
	"fmt"

	"translate-rx/internal/domain"
)

var (
	// ErrAlreadyInFlight is returned when a slot already hosts a live job.
	ErrAlreadyInFlight = fmt.Errorf("%w: job already in flight for slot", domain.ErrPrecondition)
	// ErrNotTerminal is returned when clearing a job a scheduler still owns.
	ErrNotTerminal = fmt.Errorf("%w: job is not terminal, cancel polling first", domain.ErrPrecondition)
	// ErrSchedulerActive is returned when a second poller targets a slot.
	ErrSchedulerActive = fmt.Errorf("%w: scheduler already running for slot", domain.ErrPrecondition)
	// ErrEmptyMedia is returned when submitting an empty payload.
	ErrEmptyMedia = fmt.Errorf("%w: media payload is empty", domain.ErrPrecondition)

	ErrUnknownSlot       = errors.New("unknown slot")
	ErrUnsupportedSlot   = errors.New("slot does not support this operation")
	ErrNoJob             = errors.New("no job for slot")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrMissingJobID      = errors.New("backend returned no job id")
	ErrCancelled         = errors.New("polling cancelled")
	ErrNotRunning        = errors.New("no scheduler running for slot")
)

// BackendRejectedError is a well-formed submission response whose
// embedded status code signals an application-level rejection.
type BackendRejectedError struct {
	Slot       domain.Slot
	StatusCode int
	Message    string
}

// Error formats the rejection for logs and UI.
func (e *BackendRejectedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s rejected (status %d): %s", e.Slot, e.StatusCode, e.Message)
}

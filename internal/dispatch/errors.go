package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning  = errors.New("dispatch: another scheduler holds the lock")
	ErrAwaitTimeout    = errors.New("dispatch: await timed out")
	ErrCancelled       = errors.New("dispatch: ticket cancelled before dispatch")
	ErrDeserialization = errors.New("dispatch: payload does not match schema")
	ErrNoExecutor      = errors.New("dispatch: executor is nil")
)

// AlreadyRunningError reports a lock that is held by another scheduler
// instance, in this process or another one.
type AlreadyRunningError struct {
	Name     string
	LockPath string
	Err      error
}

func (e *AlreadyRunningError) Error() string {
	msg := fmt.Sprintf("dispatch: scheduler %q already running (lock %s)", e.Name, e.LockPath)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AlreadyRunningError) Is(target error) bool { return target == ErrAlreadyRunning }
func (e *AlreadyRunningError) Unwrap() error        { return e.Err }

// DeserializationError means the call completed but its payload could not be
// decoded into the expected type.
type DeserializationError struct {
	TicketID string
	Target   string
	Err      error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("dispatch: decode payload of ticket %s (%s): %v", e.TicketID, e.Target, e.Err)
}

func (e *DeserializationError) Is(target error) bool { return target == ErrDeserialization }
func (e *DeserializationError) Unwrap() error        { return e.Err }

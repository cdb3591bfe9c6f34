package engine

import (
	"errors"
	"time"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: already queued or running")
	ErrCircuitOpen = errors.New("task skipped: circuit breaker open")
)

// Job errors may carry a retry verdict. A 4xx from the API is permanent; a
// 429 names its own delay.

// NoRetry marks err as permanent so the task finishes on this attempt.
func NoRetry(err error) error {
	if err == nil || IsNoRetry(err) {
		return err
	}
	return &permanentError{err}
}

func IsNoRetry(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryAfter asks for the next attempt no sooner than after. The engine
// still caps the delay at RetryMaxDelay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &delayedError{err: err, after: max(after, 0)}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

type delayedError struct {
	err   error
	after time.Duration
}

func (e *delayedError) Error() string {
	return e.err.Error() + " (retry after " + e.after.String() + ")"
}
func (e *delayedError) Unwrap() error             { return e.err }
func (e *delayedError) RetryAfter() time.Duration { return e.after }

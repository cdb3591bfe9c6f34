package nsapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tagtimer/internal/task/engine"
)

var (
	// ErrStatus matches every *StatusError.
	ErrStatus = errors.New("nsapi: unexpected status")
	// ErrBodyTooLarge is a shard response over the client's size cap.
	ErrBodyTooLarge = errors.New("nsapi: response body too large")
)

// StatusError is a non-2xx API response.
type StatusError struct {
	Code       int
	Target     string
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("nsapi: %s: status %d", e.Target, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// Classify marks err for the task engine: a 429 carries its retry hint,
// any other 4xx or an oversized body is permanent. Other errors are
// returned unchanged.
func Classify(err error) error {
	if errors.Is(err, ErrBodyTooLarge) {
		return engine.NoRetry(err)
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Code == http.StatusTooManyRequests:
		return engine.RetryAfter(err, se.RetryAfter)
	case se.Code >= 400 && se.Code < 500:
		return engine.NoRetry(err)
	}
	return err
}

// retryAfter reads the delay NationStates sends with a 429.
func retryAfter(h http.Header) time.Duration {
	for _, key := range []string{"Retry-After", "X-Retry-After"} {
		v := strings.TrimSpace(h.Get(key))
		if v == "" {
			continue
		}
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			return max(time.Until(at), 0)
		}
	}
	return 0
}

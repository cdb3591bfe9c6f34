package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Await waits for t to complete, for at most timeout (zero waits until ctx
// is done). Expiry returns an error matching ErrAwaitTimeout. The call's own
// error is returned as is.
func Await(ctx context.Context, t *Ticket, timeout time.Duration) ([]byte, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-t.done:
		return t.payload, t.err
	case <-expired:
		t.sink.AwaitTimeout(t.scheduler)
		return nil, fmt.Errorf("%w: ticket %s (%s) after %s", ErrAwaitTimeout, t.ID, t.Target, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AwaitDecoded awaits t and decodes its payload with decode. A decode failure
// is a *DeserializationError, distinct from a timeout.
func AwaitDecoded[T any](ctx context.Context, t *Ticket, timeout time.Duration, decode func([]byte, any) error) (T, error) {
	var out T
	payload, err := Await(ctx, t, timeout)
	if err != nil {
		return out, err
	}
	if err := decode(payload, &out); err != nil {
		return out, &DeserializationError{TicketID: t.ID, Target: t.Target, Err: err}
	}
	return out, nil
}

// AwaitJSON is AwaitDecoded with encoding/json.
func AwaitJSON[T any](ctx context.Context, t *Ticket, timeout time.Duration) (T, error) {
	return AwaitDecoded[T](ctx, t, timeout, json.Unmarshal)
}

package dispatch

import "context"

// Guard serializes outbound calls. Schedulers and the dump downloader that
// share one Guard never run concurrently.
type Guard struct {
	ch chan struct{}
}

func NewGuard() *Guard { return &Guard{ch: make(chan struct{}, 1)} }

// Acquire blocks until the slot is free or ctx is done. A nil Guard always
// succeeds.
func (g *Guard) Acquire(ctx context.Context) (release func(), err error) {
	if g == nil {
		return func() {}, nil
	}
	select {
	case g.ch <- struct{}{}:
		return g.releaser(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Guard) TryAcquire() (release func(), ok bool) {
	if g == nil {
		return func() {}, true
	}
	select {
	case g.ch <- struct{}{}:
		return g.releaser(), true
	default:
		return nil, false
	}
}

func (g *Guard) releaser() func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-g.ch
	}
}

package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"tagtimer/internal/metrics"
)

// Category selects the cooldown applied after a ticket is dispatched.
type Category string

const (
	CategoryGeneric        Category = "generic"
	CategoryRecruitment    Category = "recruitment"
	CategoryNonRecruitment Category = "non_recruitment"
)

func (c Category) String() string { return string(c) }

// Ticket is a caller's handle on one queued call.
//
// Target and Category never change after Enqueue. The payload and error are
// written once by the scheduler loop, then Done is closed.
type Ticket struct {
	ID         string
	Target     string
	Category   Category
	EnqueuedAt time.Time

	done chan struct{}
	once sync.Once

	payload []byte
	err     error

	scheduler string
	sink      metrics.Sink
}

func newTicket(target string, cat Category, now time.Time, scheduler string, sink metrics.Sink) *Ticket {
	return &Ticket{
		ID:         uuid.NewString(),
		Target:     target,
		Category:   cat,
		EnqueuedAt: now,
		done:       make(chan struct{}),
		scheduler:  scheduler,
		sink:       metrics.OrNoop(sink),
	}
}

// Done is closed once the ticket has been executed.
func (t *Ticket) Done() <-chan struct{} { return t.done }

func (t *Ticket) Completed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Result returns the payload and call error. Both are nil until Completed.
func (t *Ticket) Result() ([]byte, error) {
	if !t.Completed() {
		return nil, nil
	}
	return t.payload, t.err
}

func (t *Ticket) complete(payload []byte, err error) {
	t.once.Do(func() {
		t.payload = payload
		t.err = err
		close(t.done)
	})
}

package dispatch

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"tagtimer/internal/eventbus"
	"tagtimer/internal/metrics"
	logx "tagtimer/pkg/logx"
)

// Executor performs the outbound call for one ticket. ctx is not cancelled on
// shutdown; it only carries the per-call timeout.
type Executor interface {
	Execute(ctx context.Context, t *Ticket) ([]byte, error)
}

type ExecutorFunc func(ctx context.Context, t *Ticket) ([]byte, error)

func (f ExecutorFunc) Execute(ctx context.Context, t *Ticket) ([]byte, error) { return f(ctx, t) }

type Config struct {
	// Name labels logs, metrics and the lock file ("api", "telegrams").
	Name     string
	Policy   Policy
	Executor Executor

	// Guard is shared with every other component that must not overlap
	// with this scheduler's calls. Nil means a private guard.
	Guard *Guard

	// LockPath is the process lock file. Empty disables locking.
	LockPath string

	// CallTimeout bounds one Execute. Zero means 30s.
	CallTimeout time.Duration

	DefaultCategory Category
}

// Scheduler owns an unbounded FIFO of tickets and a single loop that
// dispatches them one at a time, paced by its Policy.
type Scheduler struct {
	name        string
	policy      Policy
	exec        Executor
	guard       *Guard
	lockPath    string
	callTimeout time.Duration
	defaultCat  Category

	log  logx.Logger
	bus  eventbus.Bus
	sink metrics.Sink
	now  func() time.Time

	mu    sync.Mutex
	queue []*Ticket
	wake  chan struct{}

	running    atomic.Bool
	dispatched atomic.Uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, sink metrics.Sink) *Scheduler {
	if cfg.Name == "" {
		cfg.Name = "api"
	}
	if cfg.Policy == nil {
		cfg.Policy = NewFixedInterval(DefaultInterval)
	}
	if cfg.Guard == nil {
		cfg.Guard = NewGuard()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.DefaultCategory == "" {
		cfg.DefaultCategory = CategoryGeneric
	}
	return &Scheduler{
		name:        cfg.Name,
		policy:      cfg.Policy,
		exec:        cfg.Executor,
		guard:       cfg.Guard,
		lockPath:    cfg.LockPath,
		callTimeout: cfg.CallTimeout,
		defaultCat:  cfg.DefaultCategory,
		log:         log.With(logx.String("comp", "dispatch"), logx.String("scheduler", cfg.Name)),
		bus:         bus,
		sink:        metrics.OrNoop(sink),
		now:         time.Now,
		wake:        make(chan struct{}, 1),
	}
}

func (s *Scheduler) Name() string { return s.name }

// Pending returns the number of queued tickets.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) Running() bool { return s.running.Load() }

func (s *Scheduler) Dispatched() uint64 { return s.dispatched.Load() }

// Enqueue queues target under the scheduler's default category.
func (s *Scheduler) Enqueue(target string) *Ticket {
	return s.EnqueueCategory(target, s.defaultCat)
}

// EnqueueCategory queues target and returns its ticket. It never blocks.
func (s *Scheduler) EnqueueCategory(target string, cat Category) *Ticket {
	if cat == "" {
		cat = s.defaultCat
	}
	t := newTicket(target, cat, s.now(), s.name, s.sink)

	s.mu.Lock()
	s.queue = append(s.queue, t)
	depth := len(s.queue)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	s.sink.TicketEnqueued(s.name)
	s.sink.QueueDepth(s.name, depth)
	s.publish(eventbus.TicketEnqueued, t, nil)
	s.log.Trace("ticket enqueued", logx.String("ticket", t.ID), logx.String("category", string(cat)), logx.Int("depth", depth))
	return t
}

// Cancel withdraws a queued ticket and completes it with ErrCancelled. It
// returns false when t is no longer queued: already dispatched, in flight
// or never enqueued here.
func (s *Scheduler) Cancel(t *Ticket) bool {
	s.mu.Lock()
	i := slices.Index(s.queue, t)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.queue = slices.Delete(s.queue, i, i+1)
	depth := len(s.queue)
	s.mu.Unlock()

	t.complete(nil, ErrCancelled)
	s.sink.QueueDepth(s.name, depth)
	s.log.Debug("ticket cancelled", logx.String("ticket", t.ID), logx.Int("depth", depth))
	return true
}

func (s *Scheduler) peek() *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	return s.queue[0]
}

func (s *Scheduler) pop() (*Ticket, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, 0
	}
	t := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.queue = nil
	}
	return t, len(s.queue)
}

// Run takes the process lock and dispatches tickets until ctx is done.
// Tickets still queued at shutdown are abandoned and never complete.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.exec == nil {
		return ErrNoExecutor
	}
	if !s.running.CompareAndSwap(false, true) {
		return &AlreadyRunningError{Name: s.name, LockPath: s.lockPath}
	}
	defer s.running.Store(false)

	if s.lockPath != "" {
		lock, err := AcquireLock(s.name, s.lockPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				s.log.Warn("lock release failed", logx.String("path", lock.Path()), logx.Err(err))
			}
		}()
	}

	s.policy.Reset(s.now())
	s.log.Info("scheduler started", logx.String("lock", s.lockPath))
	defer func() {
		s.log.Info("scheduler stopped", logx.Int("abandoned", s.Pending()))
	}()

	for {
		t := s.peek()
		if t == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.wake:
				continue
			}
		}

		if d := s.policy.Delay(s.now(), t.Category); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}

		release, err := s.guard.Acquire(ctx)
		if err != nil {
			return nil
		}
		// Re-check after the sleep and the guard wait.
		if ctx.Err() != nil {
			release()
			return nil
		}
		t, depth := s.pop()
		if t == nil {
			// the peeked ticket was cancelled while we waited
			release()
			continue
		}
		s.sink.QueueDepth(s.name, depth)
		s.dispatch(ctx, t)
		release()
	}
}

func (s *Scheduler) dispatch(ctx context.Context, t *Ticket) {
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	start := s.now()
	payload, err := s.safeExecute(execCtx, t)
	cancel()
	done := s.now()

	t.complete(payload, err)
	s.policy.Dispatched(t.Category, done)
	s.dispatched.Add(1)

	wait := start.Sub(t.EnqueuedAt)
	took := done.Sub(start)
	s.sink.TicketDispatched(s.name, string(t.Category), wait, took, err)
	if err != nil {
		s.publish(eventbus.TicketFailed, t, err)
		s.log.Warn("dispatch failed",
			logx.String("ticket", t.ID),
			logx.String("category", string(t.Category)),
			logx.Duration("took", took),
			logx.Err(err),
		)
		return
	}
	s.publish(eventbus.TicketDispatched, t, nil)
	s.log.Debug("ticket dispatched",
		logx.String("ticket", t.ID),
		logx.String("category", string(t.Category)),
		logx.Duration("wait", wait),
		logx.Duration("took", took),
		logx.Int("bytes", len(payload)),
	)
}

// safeExecute turns an executor panic into an error so the loop survives.
func (s *Scheduler) safeExecute(ctx context.Context, t *Ticket) (payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = &panicError{value: r}
		}
	}()
	return s.exec.Execute(ctx, t)
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("dispatch: executor panicked: %v", e.value) }

func (s *Scheduler) publish(typ string, t *Ticket, err error) {
	if s.bus == nil {
		return
	}
	data := map[string]any{
		"scheduler": s.name,
		"ticket":    t.ID,
		"category":  string(t.Category),
	}
	if err != nil {
		data["err"] = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

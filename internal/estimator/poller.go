package estimator

import (
	"context"
	"sort"
	"sync"
	"time"

	"tagtimer/internal/dispatch"
	"tagtimer/internal/nsapi"
	"tagtimer/internal/updatewindow"
	logx "tagtimer/pkg/logx"
)

// TicketQueue is the API scheduler as the poller sees it.
type TicketQueue interface {
	Enqueue(target string) *dispatch.Ticket
}

// Poller pulls new happenings through the API scheduler and feeds them to
// the estimator. The cursor is the newest timestamp seen so far. Until the
// first event arrives it sits just before the current update cycle, so
// events from earlier cycles are never sampled.
type Poller struct {
	api     TicketQueue
	est     *Estimator
	timeout time.Duration
	log     logx.Logger
	now     func() time.Time

	mu     sync.Mutex
	mode   updatewindow.Mode
	cursor int64
}

func NewPoller(api TicketQueue, est *Estimator, mode updatewindow.Mode, awaitTimeout time.Duration, log logx.Logger) *Poller {
	return &Poller{
		api:     api,
		est:     est,
		mode:    mode,
		timeout: awaitTimeout,
		log:     log.With(logx.String("comp", "poller")),
		now:     time.Now,
	}
}

func (p *Poller) SetMode(m updatewindow.Mode) {
	p.mu.Lock()
	p.mode = m
	p.mu.Unlock()
}

func (p *Poller) Cursor() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Poll runs one happenings request. Events at or before the cursor are
// dropped; the rest are ingested oldest first.
func (p *Poller) Poll(ctx context.Context) (IngestStats, error) {
	p.mu.Lock()
	since, mode := p.cursor, p.mode
	p.mu.Unlock()
	if since == 0 {
		since = p.est.CycleStart(p.now()).Unix() - 1
	}

	world, err := nsapi.Await[nsapi.World](ctx, p.api.Enqueue(nsapi.HappeningsTarget(since)), p.timeout)
	if err != nil {
		return IngestStats{}, err
	}

	fresh := make([]nsapi.Event, 0, len(world.Happenings))
	newest := since
	for _, ev := range world.Happenings {
		if ev.Timestamp <= since {
			continue
		}
		fresh = append(fresh, ev)
		newest = max(newest, ev.Timestamp)
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Timestamp < fresh[j].Timestamp })

	st, err := p.est.IngestFeed(ctx, fresh, mode)
	if err != nil {
		return st, err
	}

	p.mu.Lock()
	if newest > p.cursor && len(fresh) > 0 {
		p.cursor = newest
	}
	p.mu.Unlock()

	if st.Matched > 0 {
		p.log.Debug("happenings ingested",
			logx.Int("events", len(fresh)),
			logx.Int("matched", st.Matched),
			logx.Int("sampled", st.Sampled),
			logx.Int("unknown", st.Unknown),
			logx.Int64("cursor", newest))
	}
	return st, nil
}

// Job adapts Poll to the task engine, marking API errors for its retry
// policy.
func (p *Poller) Job() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := p.Poll(ctx)
		return nsapi.Classify(err)
	}
}

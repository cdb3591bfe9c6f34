// Package watch raises an alert shortly before each watched region is
// expected to update.
package watch

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"tagtimer/internal/eventbus"
	"tagtimer/internal/metrics"
	"tagtimer/internal/storage"
	"tagtimer/internal/transport"
	"tagtimer/internal/updatewindow"
	logx "tagtimer/pkg/logx"
)

const (
	DefaultLead = 30 * time.Second
	// A region whose estimate passed longer ago than this is not alerted;
	// the alert would only arrive after the fact.
	DefaultStaleAfter = 2 * time.Minute
)

type Config struct {
	Regions    []string
	Lead       time.Duration
	StaleAfter time.Duration
	Mode       updatewindow.Mode
	Target     transport.ChatTarget
}

// Estimator is the part of *estimator.Estimator the watcher reads.
type Estimator interface {
	Anchor() (time.Time, bool)
	EstimateETA(ctx context.Context, region string, mode updatewindow.Mode) (float64, error)
}

type Notifier interface {
	Notify(ctx context.Context, n transport.Notification) error
}

// Due is one alert decision, published as the Data of watch.region_due.
type Due struct {
	Region string
	At     time.Time
	ETA    time.Duration
}

type Watcher struct {
	est    Estimator
	notify Notifier
	log    logx.Logger
	bus    eventbus.Bus
	sink   metrics.Sink
	now    func() time.Time

	mu   sync.Mutex
	cfg  Config
	sent map[string]int64 // region -> anchor it was alerted for
}

func New(cfg Config, est Estimator, notify Notifier, log logx.Logger, bus eventbus.Bus, sink metrics.Sink) *Watcher {
	w := &Watcher{
		est:    est,
		notify: notify,
		log:    log.With(logx.String("comp", "watch")),
		bus:    bus,
		sink:   metrics.OrNoop(sink),
		now:    time.Now,
		sent:   map[string]int64{},
	}
	w.Apply(cfg)
	return w
}

// Apply replaces the watch list and timing. Regions already alerted this
// cycle stay alerted.
func (w *Watcher) Apply(cfg Config) {
	if cfg.Lead <= 0 {
		cfg.Lead = DefaultLead
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	seen := map[string]bool{}
	regions := make([]string, 0, len(cfg.Regions))
	for _, r := range cfg.Regions {
		if n := storage.NormalizeName(r); n != "" && !seen[n] {
			seen[n] = true
			regions = append(regions, n)
		}
	}
	sort.Strings(regions)
	cfg.Regions = regions

	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
}

func (w *Watcher) Regions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.cfg.Regions...)
}

// Check alerts every region that is due. Nothing happens until the
// estimator has an anchor. It returns the number of alerts queued.
func (w *Watcher) Check(ctx context.Context) (int, error) {
	anchor, ok := w.est.Anchor()
	if !ok {
		return 0, nil
	}
	w.mu.Lock()
	cfg := w.cfg
	w.mu.Unlock()

	now := w.now()
	queued := 0
	for _, region := range cfg.Regions {
		if w.alerted(region, anchor) {
			continue
		}
		eta, err := w.est.EstimateETA(ctx, region, cfg.Mode)
		if err != nil {
			// resolution errors are logged by the estimator
			continue
		}
		at := anchor.Add(secondsToDuration(eta))
		if now.Before(at.Add(-cfg.Lead)) {
			continue
		}
		if now.After(at.Add(cfg.StaleAfter)) {
			w.markSent(region, anchor)
			w.sink.AlertOutcome(metrics.AlertSkipped)
			w.log.Debug("region already updated, alert skipped", logx.String("region", region), logx.Time("eta", at))
			continue
		}

		due := Due{Region: region, At: at, ETA: at.Sub(now)}
		if w.bus != nil {
			w.bus.Publish(eventbus.Event{Type: eventbus.RegionDue, Time: now, Data: due})
		}
		err = w.notify.Notify(ctx, transport.Notification{
			Channel:  "telegram",
			Priority: 7,
			Target:   cfg.Target,
			Key:      fmt.Sprintf("%s@%d", region, anchor.Unix()),
			Text:     formatAlert(due, cfg.Mode),
			Options:  &transport.SendOptions{DisablePreview: true},
		})
		if err != nil {
			// left unmarked so the next check retries it
			w.log.Warn("alert not queued", logx.String("region", region), logx.Err(err))
			continue
		}
		w.markSent(region, anchor)
		queued++
		w.log.Info("region due", logx.String("region", region), logx.Time("eta", at), logx.Duration("in", due.ETA))
	}
	return queued, nil
}

// Job adapts Check to the task scheduler.
func (w *Watcher) Job() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := w.Check(ctx)
		return err
	}
}

func (w *Watcher) alerted(region string, anchor time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sent[region] == anchor.Unix()
}

func (w *Watcher) markSent(region string, anchor time.Time) {
	w.mu.Lock()
	w.sent[region] = anchor.Unix()
	w.mu.Unlock()
}

func formatAlert(d Due, mode updatewindow.Mode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s updates ", d.Region)
	if d.ETA > 0 {
		fmt.Fprintf(&b, "in ~%s", d.ETA.Round(time.Second))
	} else {
		b.WriteString("now")
	}
	fmt.Fprintf(&b, " (%s, est. %s UTC)", mode, d.At.UTC().Format("15:04:05"))
	return b.String()
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// Package estimator predicts when a region updates. The baseline is linear
// in the region's first nation index; a sliding window of observed
// per-nation deviations, fed from the happenings feed, corrects it.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tagtimer/internal/eventbus"
	"tagtimer/internal/metrics"
	"tagtimer/internal/nsapi"
	"tagtimer/internal/storage"
	"tagtimer/internal/updatewindow"
	logx "tagtimer/pkg/logx"
)

// Lookup resolves nations and regions. storage.Store implements it.
type Lookup interface {
	GetNation(ctx context.Context, name string) (storage.Nation, error)
	GetRegion(ctx context.Context, name string) (storage.Region, error)
}

// Pacer yields seconds per nation. *updatewindow.Source implements it.
type Pacer interface {
	PaceIndex(ctx context.Context, m updatewindow.Mode) (float64, error)
}

type Config struct {
	WindowSize int
	// EmptyCorrection stands in for the window average while no sample exists.
	EmptyCorrection float64
	Anchor          AnchorRule
}

type Estimator struct {
	cfg    Config
	lookup Lookup
	pacer  Pacer
	window *Window

	log  logx.Logger
	bus  eventbus.Bus
	sink metrics.Sink

	mu     sync.Mutex
	anchor *time.Time
}

// IngestStats summarizes one IngestFeed call.
type IngestStats struct {
	Matched int
	Ignored int
	Unknown int
	Stale   int
	Failed  int
	Sampled int
}

func New(cfg Config, lookup Lookup, pacer Pacer, log logx.Logger, bus eventbus.Bus, sink metrics.Sink) *Estimator {
	return &Estimator{
		cfg:    cfg,
		lookup: lookup,
		pacer:  pacer,
		window: NewWindow(cfg.WindowSize),
		log:    log.With(logx.String("comp", "estimator")),
		bus:    bus,
		sink:   metrics.OrNoop(sink),
	}
}

// Anchor is the derived cycle start; ok is false until the first sample.
func (e *Estimator) Anchor() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.anchor == nil {
		return time.Time{}, false
	}
	return *e.anchor, true
}

// Samples returns a copy of the variance window, oldest first.
func (e *Estimator) Samples() []float64 { return e.window.Snapshot() }

// IngestFeed samples every update event in the given order. Per-event
// failures (unknown nations, stale events, store errors) are logged, counted
// and skipped. Only setup failures, such as an empty world or a missing
// update window, stop the feed and are returned.
func (e *Estimator) IngestFeed(ctx context.Context, events []nsapi.Event, mode updatewindow.Mode) (IngestStats, error) {
	var st IngestStats
	for _, ev := range events {
		in, ok := newSampleInput(ev)
		if !ok {
			st.Ignored++
			e.sink.FeedEvent(metrics.FeedIgnored)
			continue
		}
		st.Matched++
		err := e.Sample(ctx, in, mode)
		switch {
		case err == nil:
			st.Sampled++
			e.sink.FeedEvent(metrics.FeedMatched)
		case errors.Is(err, ErrUnitNotFound):
			st.Unknown++
			e.sink.FeedEvent(metrics.FeedUnknownUnit)
			e.log.Debug("feed names unknown nation", logx.String("nation", in.Nation), logx.Int64("ts", ev.Timestamp))
		case errors.Is(err, ErrStaleEvent):
			st.Stale++
			e.sink.FeedEvent(metrics.FeedStale)
			e.log.Debug("feed event from an earlier cycle", logx.String("nation", in.Nation), logx.Int64("ts", ev.Timestamp))
		case errors.Is(err, updatewindow.ErrNoUnits), errors.Is(err, updatewindow.ErrNoWindow), ctx.Err() != nil:
			return st, err
		default:
			st.Failed++
			e.sink.FeedEvent(metrics.FeedFailed)
			e.log.Warn("feed event not sampled", logx.String("nation", in.Nation), logx.Int64("ts", ev.Timestamp), logx.Err(err))
		}
	}
	return st, nil
}

// Sample folds one observed update visit into the window:
//
//	sample = ((at - anchor) - index*pace) / index
//
// The first sample of an update cycle fixes the anchor. A sample from a later
// cycle starts a new one: the anchor is derived again and the window is
// emptied.
func (e *Estimator) Sample(ctx context.Context, in sampleInput, mode updatewindow.Mode) error {
	n, err := e.lookup.GetNation(ctx, in.Nation)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnitNotFound, in.Nation)
		}
		return err
	}
	if n.Index <= 0 {
		return fmt.Errorf("%w: %s has no index", ErrUnitNotFound, in.Nation)
	}
	pace, err := e.pacer.PaceIndex(ctx, mode)
	if err != nil {
		return err
	}

	anchor, err := e.anchorFor(in.At)
	if err != nil {
		return err
	}
	index := float64(n.Index)
	elapsed := in.At.Sub(anchor).Seconds()
	sample := (elapsed - index*pace) / index

	evicted := e.window.Push(sample)
	avg, _ := e.window.Average()
	e.sink.SampleRecorded(sample)
	e.sink.WindowAverage(avg, e.window.Len())
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.SampleRecorded, Data: sample})
	}
	e.log.Debug("variance sample",
		logx.String("nation", n.Name),
		logx.Int("index", n.Index),
		logx.Float64("elapsed", elapsed),
		logx.Float64("sample", sample),
		logx.Float64("avg", avg),
		logx.Bool("evicted", evicted))
	return nil
}

// CycleStart is the start of the update cycle at t.
func (e *Estimator) CycleStart(t time.Time) time.Time { return e.cfg.Anchor.CycleStart(t) }

func (e *Estimator) anchorFor(at time.Time) (time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.anchor != nil {
		cur, next := e.CycleStart(*e.anchor), e.CycleStart(at)
		switch {
		case next.Equal(cur):
			return *e.anchor, nil
		case next.Before(cur):
			return time.Time{}, fmt.Errorf("%w: %s", ErrStaleEvent, at.UTC().Format(time.RFC3339))
		}
		e.window.Reset()
		e.log.Info("update cycle ended, window cleared", logx.Time("anchor", *e.anchor))
	}
	a := e.cfg.Anchor.Derive(at)
	e.anchor = &a
	e.log.Info("update anchor set", logx.Time("anchor", a), logx.Time("from", at))
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.AnchorSet, Data: a})
	}
	return a, nil
}

// EstimateETA is the corrected seconds into the update for region:
// index*pace + index*avg(window).
func (e *Estimator) EstimateETA(ctx context.Context, region string, mode updatewindow.Mode) (float64, error) {
	index, pace, err := e.resolve(ctx, region, mode)
	if err != nil {
		return 0, err
	}
	avg, ok := e.window.Average()
	if !ok {
		avg = e.cfg.EmptyCorrection
	}
	return index*pace + index*avg, nil
}

// BaselineETA is the uncorrected index*pace.
func (e *Estimator) BaselineETA(ctx context.Context, region string, mode updatewindow.Mode) (float64, error) {
	index, pace, err := e.resolve(ctx, region, mode)
	if err != nil {
		return 0, err
	}
	return index * pace, nil
}

func (e *Estimator) resolve(ctx context.Context, region string, mode updatewindow.Mode) (index, pace float64, err error) {
	i, err := e.FirstIndex(ctx, region)
	if err != nil {
		if IsResolution(err) {
			e.log.Warn("cannot estimate region", logx.String("region", region), logx.Err(err))
		}
		return 0, 0, err
	}
	pace, err = e.pacer.PaceIndex(ctx, mode)
	if err != nil {
		return 0, 0, err
	}
	return float64(i), pace, nil
}

// FirstIndex is the update index of region's first nation.
func (e *Estimator) FirstIndex(ctx context.Context, region string) (int, error) {
	r, err := e.lookup.GetRegion(ctx, region)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrRegionNotFound, region)
	}
	if err != nil {
		return 0, err
	}
	if r.FirstNation == "" || r.NumNations == 0 {
		return 0, fmt.Errorf("%w: %s", ErrRegionEmpty, region)
	}
	n, err := e.lookup.GetNation(ctx, r.FirstNation)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s in %s", ErrUnitNotFound, r.FirstNation, region)
	}
	if err != nil {
		return 0, err
	}
	return n.Index, nil
}

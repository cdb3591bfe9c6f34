package updatewindow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tagtimer/internal/eventbus"
	logx "tagtimer/pkg/logx"
)

// UnitCounter reports how many nations exist. storage.Store implements it.
type UnitCounter interface {
	CountNations(ctx context.Context) (int, error)
}

// Source holds the latest windows and the cached unit count.
type Source struct {
	provider Provider
	counter  UnitCounter
	log      logx.Logger
	bus      eventbus.Bus

	mu        sync.RWMutex
	windows   Windows
	loaded    bool
	refreshed time.Time

	countMu sync.Mutex
	count   int
}

func NewSource(p Provider, counter UnitCounter, log logx.Logger, bus eventbus.Bus) *Source {
	return &Source{
		provider: p,
		counter:  counter,
		log:      log.With(logx.String("comp", "updatewindow")),
		bus:      bus,
	}
}

// Refresh fetches the windows. Both must be valid or nothing is replaced.
func (s *Source) Refresh(ctx context.Context) error {
	ws, err := s.provider.Windows(ctx)
	if err != nil {
		return err
	}
	if err := ws.Major.Validate(); err != nil {
		return fmt.Errorf("major: %w", err)
	}
	if err := ws.Minor.Validate(); err != nil {
		return fmt.Errorf("minor: %w", err)
	}
	s.Set(ws)
	s.log.Info("update windows refreshed",
		logx.Int64("major_len", ws.Major.Length()),
		logx.Int64("minor_len", ws.Minor.Length()))
	return nil
}

// Set installs windows directly, bypassing the provider.
func (s *Source) Set(ws Windows) {
	now := time.Now()
	s.mu.Lock()
	s.windows = ws
	s.loaded = true
	s.refreshed = now
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.WindowRefreshed, Time: now, Data: ws})
	}
}

func (s *Source) Window(m Mode) (Window, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return Window{}, ErrNoWindow
	}
	return s.windows.For(m), nil
}

// RefreshedAt is zero until the first successful refresh.
func (s *Source) RefreshedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshed
}

// CycleLength is the duration of the mode's cycle in seconds.
func (s *Source) CycleLength(m Mode) (float64, error) {
	w, err := s.Window(m)
	if err != nil {
		return 0, err
	}
	return float64(w.Length()), nil
}

// UnitCount counts nations once and caches the result for the process
// lifetime. A zero count is not cached and yields ErrNoUnits.
func (s *Source) UnitCount(ctx context.Context) (int, error) {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	if s.count > 0 {
		return s.count, nil
	}
	n, err := s.counter.CountNations(ctx)
	if err != nil {
		return 0, fmt.Errorf("updatewindow: count units: %w", err)
	}
	if n <= 0 {
		return 0, ErrNoUnits
	}
	s.count = n
	s.log.Debug("unit count cached", logx.Int("units", n))
	return n, nil
}

// PaceIndex is seconds per nation: CycleLength / UnitCount.
func (s *Source) PaceIndex(ctx context.Context, m Mode) (float64, error) {
	length, err := s.CycleLength(m)
	if err != nil {
		return 0, err
	}
	n, err := s.UnitCount(ctx)
	if err != nil {
		return 0, err
	}
	return length / float64(n), nil
}

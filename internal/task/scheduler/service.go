package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"tagtimer/internal/task/engine"
	logx "tagtimer/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func New(cfg Config, eng Enqueuer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:         cfg,
		log:         log.With(logx.String("comp", "scheduler")),
		eng:         eng,
		parser:      newParser(),
		once:        map[string]*onceDef{},
		lastEnqWarn: map[string]time.Time{},
	}
}

// newParser accepts both 5-field and 6-field (with seconds) cron specs.
func newParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config; a timezone change re-registers every schedule.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && tzChanged {
		<-s.c.Stop().Done()
		s.startCronLocked()
		s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()))
	}
}

// Start begins triggering and re-arms pending one-shot timers.
func (s *Service) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.startCronLocked()

	s.tmu.Lock()
	s.live = true
	for name, d := range s.once {
		s.armLocked(name, d)
	}
	pending := len(s.once)
	s.tmu.Unlock()

	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)), logx.Int("once", pending))
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop halts triggering. One-shot definitions survive and re-arm on Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	s.live = false
	for _, d := range s.once {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
	}
	s.tmu.Unlock()
	s.log.Info("scheduler stopped")
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.cfg.Timezone}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	s.mu.Unlock()

	s.tmu.Lock()
	for name, d := range s.once {
		snap.Schedules = append(snap.Schedules, ScheduleInfo{Name: name, Spec: "once", Timeout: d.timeout, Next: d.at, Once: true})
	}
	s.tmu.Unlock()

	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })
	return snap
}

func (s *Service) fire(name string, timeout time.Duration, opt engine.TaskOptions, job Job) {
	if s.eng == nil {
		return
	}
	err := s.eng.Enqueue(engine.Task{Name: name, Timeout: timeout, Run: job, Opt: opt})
	s.reportEnqueueError(name, err)
}

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// Overlap and breaker skips are routine.
	if errors.Is(err, engine.ErrOverlapSkip) || errors.Is(err, engine.ErrCircuitOpen) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"tagtimer/internal/task/engine"
	logx "tagtimer/pkg/logx"
)

// AddSchedule parses schedule and registers a recurring job under name,
// replacing any schedule or one-shot with the same name. Recurring jobs skip
// a firing while the previous run is still queued or running.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	}
	return s.addSpec(name, spec, timeout, engine.TaskOptions{SkipIfRunning: true}, job)
}

func (s *Service) addSpec(name, spec string, timeout time.Duration, opt engine.TaskOptions, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeScheduleLocked(name)
	s.removeOnce(name)

	s.defs = append(s.defs, scheduleDef{name: name, spec: spec, timeout: timeout, job: job, opt: opt})
	if s.c == nil {
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec),
		logx.Time("next", s.c.Entry(d.entryID).Next))
	return nil
}

// AddOnce fires job once at at. Re-adding the same name moves the trigger.
// A time in the past fires immediately once the scheduler runs.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if at.IsZero() {
		return errors.New("at required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	s.removeScheduleLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if prev := s.once[name]; prev != nil && prev.timer != nil {
		prev.timer.Stop()
	}
	s.ver++
	d := &onceDef{at: at, timeout: timeout, job: job, ver: s.ver}
	s.once[name] = d
	if s.live {
		s.armLocked(name, d)
	}
	return nil
}

// armLocked starts the runtime timer for d. Call with s.tmu held.
func (s *Service) armLocked(name string, d *onceDef) {
	ver := d.ver
	d.timer = time.AfterFunc(max(time.Until(d.at), 0), func() {
		s.tmu.Lock()
		cur := s.once[name]
		// Replaced or removed since arming.
		if cur == nil || cur.ver != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.once, name)
		s.tmu.Unlock()

		s.fire(name, cur.timeout, engine.TaskOptions{}, cur.job)
	})
}

// Has reports whether a schedule or pending one-shot is registered under name.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	for _, d := range s.defs {
		if d.name == name {
			s.mu.Unlock()
			return true
		}
	}
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.once[name]
	return ok
}

// Remove unschedules name. It reports whether anything was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()

	removed = s.removeOnce(name) || removed
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// removeScheduleLocked drops recurring defs named name. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[name]
	if !ok {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	delete(s.once, name)
	return true
}

// addCronLocked registers d with the running cron. Interval specs get a
// random first-run delay so jobs added together do not fire together.
func (s *Service) addCronLocked(d *scheduleDef) error {
	name, timeout, opt, fn := d.name, d.timeout, d.opt, d.job
	job := cron.FuncJob(func() { s.fire(name, timeout, opt, fn) })

	if every, ok := strings.CutPrefix(d.spec, "@every "); ok {
		if dur, err := time.ParseDuration(strings.TrimSpace(every)); err == nil && dur > 0 {
			d.entryID = s.c.Schedule(withStartupSpread(dur, time.Now().In(s.loc), name), job)
			return nil
		}
	}
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

package engine

import (
	"sort"
	"sync"
	"time"
)

// circuits tracks consecutive failures per task name. Once a task fails
// trip times in a row it is refused for an exponentially growing cooldown,
// so a dead upstream does not keep burning API budget.
type circuits struct {
	mu sync.Mutex
	m  map[string]*circuitState
}

type circuitState struct {
	fails     int
	openUntil time.Time
}

func (c *circuits) isOpen(now time.Time, name string) (bool, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.m[name]
	if st == nil || st.openUntil.IsZero() || !now.Before(st.openUntil) {
		return false, time.Time{}
	}
	return true, st.openUntil
}

func (c *circuits) record(now time.Time, name string, cfg Config, err error) {
	if cfg.CircuitTripFailures < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]*circuitState)
	}
	st := c.m[name]
	if err == nil {
		delete(c.m, name)
		return
	}
	if st == nil {
		st = &circuitState{}
		c.m[name] = st
	}
	st.fails++
	if st.fails < cfg.CircuitTripFailures {
		return
	}
	d := cfg.CircuitBaseDelay
	for i := cfg.CircuitTripFailures; i < st.fails && d < cfg.CircuitMaxDelay; i++ {
		d *= 2
	}
	if d > cfg.CircuitMaxDelay {
		d = cfg.CircuitMaxDelay
	}
	st.openUntil = now.Add(d)
}

func (c *circuits) open(now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for name, st := range c.m {
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

package dispatch

import (
	"sync"
	"time"
)

// Policy decides how long the scheduler waits before the next dispatch.
//
// The scheduler calls Reset once when Run starts, Delay before every
// dispatch, and Dispatched after a call completes.
type Policy interface {
	Reset(now time.Time)
	Delay(now time.Time, next Category) time.Duration
	Dispatched(cat Category, at time.Time)
}

// DefaultInterval is the pacing for generic API calls.
const DefaultInterval = 800 * time.Millisecond

// Default telegram cooldowns.
const (
	DefaultRecruitmentCooldown    = 180 * time.Second
	DefaultNonRecruitmentCooldown = 30 * time.Second
)

// FixedInterval spaces calls so that each starts at least Interval after the
// previous one completed.
type FixedInterval struct {
	Interval time.Duration

	mu   sync.Mutex
	next time.Time
}

func NewFixedInterval(d time.Duration) *FixedInterval {
	if d <= 0 {
		d = DefaultInterval
	}
	return &FixedInterval{Interval: d}
}

func (p *FixedInterval) Reset(now time.Time) {
	p.mu.Lock()
	p.next = now
	p.mu.Unlock()
}

func (p *FixedInterval) Delay(now time.Time, _ Category) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return clampDelay(p.next.Sub(now))
}

func (p *FixedInterval) Dispatched(_ Category, at time.Time) {
	p.mu.Lock()
	p.next = at.Add(p.Interval)
	p.mu.Unlock()
}

// CategoryCooldown keeps one clock shared by all categories. After a call the
// clock moves to completion plus the cooldown of the category just sent, so a
// recruitment telegram also holds back the non-recruitment one queued behind it.
type CategoryCooldown struct {
	Cooldowns map[Category]time.Duration
	// Fallback applies to categories missing from Cooldowns.
	Fallback time.Duration
	// InitialHold delays the first dispatch after Reset. Zero means the
	// longest configured cooldown; negative means no hold.
	InitialHold time.Duration

	mu   sync.Mutex
	next time.Time
}

// NewTelegramCooldown returns the recruitment/non-recruitment policy.
// Zero durations take the defaults.
func NewTelegramCooldown(recruitment, nonRecruitment, initialHold time.Duration) *CategoryCooldown {
	if recruitment <= 0 {
		recruitment = DefaultRecruitmentCooldown
	}
	if nonRecruitment <= 0 {
		nonRecruitment = DefaultNonRecruitmentCooldown
	}
	return &CategoryCooldown{
		Cooldowns: map[Category]time.Duration{
			CategoryRecruitment:    recruitment,
			CategoryNonRecruitment: nonRecruitment,
		},
		Fallback:    nonRecruitment,
		InitialHold: initialHold,
	}
}

func (p *CategoryCooldown) cooldown(cat Category) time.Duration {
	if d, ok := p.Cooldowns[cat]; ok {
		return d
	}
	return p.Fallback
}

func (p *CategoryCooldown) longest() time.Duration {
	longest := p.Fallback
	for _, d := range p.Cooldowns {
		if d > longest {
			longest = d
		}
	}
	return longest
}

func (p *CategoryCooldown) Reset(now time.Time) {
	hold := p.InitialHold
	switch {
	case hold == 0:
		hold = p.longest()
	case hold < 0:
		hold = 0
	}
	p.mu.Lock()
	p.next = now.Add(hold)
	p.mu.Unlock()
}

func (p *CategoryCooldown) Delay(now time.Time, _ Category) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return clampDelay(p.next.Sub(now))
}

func (p *CategoryCooldown) Dispatched(cat Category, at time.Time) {
	d := p.cooldown(cat)
	p.mu.Lock()
	p.next = at.Add(d)
	p.mu.Unlock()
}

func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

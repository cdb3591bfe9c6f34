package estimator

import (
	"time"
)

const DefaultTimezone = "America/New_York"

// DefaultStartHours are the local hours at which major and minor updates
// begin.
var DefaultStartHours = []int{0, 12}

// AnchorRule derives the cycle start from an in-update timestamp.
type AnchorRule struct {
	Location   *time.Location
	StartHours []int
}

// Derive floors ts to the hour in the rule's location. Updates can spill
// past the first hour, so an hour right after a start hour steps back one
// hour to that start.
func (r AnchorRule) Derive(ts time.Time) time.Time {
	loc := r.location()
	t := ts.In(loc)
	floor := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
	for _, h := range r.starts() {
		if t.Hour() == (h+1)%24 {
			return floor.Add(-time.Hour)
		}
	}
	return floor
}

// CycleStart is the latest start hour at or before ts. Two timestamps
// belong to the same update cycle when their cycle starts are equal.
func (r AnchorRule) CycleStart(ts time.Time) time.Time {
	loc := r.location()
	t := ts.In(loc)
	var best time.Time
	for back := 0; back <= 1; back++ {
		for _, h := range r.starts() {
			c := time.Date(t.Year(), t.Month(), t.Day()-back, h, 0, 0, 0, loc)
			if !c.After(t) && c.After(best) {
				best = c
			}
		}
	}
	return best
}

func (r AnchorRule) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func (r AnchorRule) starts() []int {
	if len(r.StartHours) == 0 {
		return DefaultStartHours
	}
	return r.StartHours
}

// LoadAnchorRule resolves tz (empty means DefaultTimezone).
func LoadAnchorRule(tz string, startHours []int) (AnchorRule, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return AnchorRule{}, err
	}
	return AnchorRule{Location: loc, StartHours: startHours}, nil
}

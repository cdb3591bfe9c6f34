// Package updatewindow supplies the reference timestamps that bound each
// update cycle and derives the per-nation pace from them.
package updatewindow

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects the update cycle.
type Mode int

const (
	Minor Mode = iota
	Major
)

func (m Mode) String() string {
	if m == Major {
		return "major"
	}
	return "minor"
}

// ParseMode accepts "major" and "minor". Empty means major.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "major":
		return Major, nil
	case "minor":
		return Minor, nil
	}
	return Minor, fmt.Errorf("updatewindow: unknown mode %q", s)
}

var (
	// ErrNoUnits means the world store is empty. Estimation cannot proceed
	// until an ingest has run.
	ErrNoUnits       = errors.New("updatewindow: unit count is zero")
	ErrInvalidWindow = errors.New("updatewindow: window end must be after start")
	ErrNoWindow      = errors.New("updatewindow: window not loaded")
)

// Window is one cycle's reference pair in unix seconds: Start is when the
// first region updated, End when the last one did.
type Window struct {
	Start int64 `json:"banana"`
	End   int64 `json:"packer"`
}

func (w Window) Length() int64 { return w.End - w.Start }

func (w Window) Validate() error {
	if w.End <= w.Start {
		return fmt.Errorf("%w (start=%d end=%d)", ErrInvalidWindow, w.Start, w.End)
	}
	return nil
}

// Windows holds both cycles.
type Windows struct {
	Major Window `json:"major"`
	Minor Window `json:"minor"`
}

func (ws Windows) For(m Mode) Window {
	if m == Major {
		return ws.Major
	}
	return ws.Minor
}

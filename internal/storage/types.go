package storage

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file at Path (default ./tagtimer.db)
//   - "memory": volatile in-process store
//   - "none": storage disabled
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Nation is one nation from the daily dump. Index is its 1-based position in
// the dump, which is the order nations update in.
type Nation struct {
	Name   string
	Index  int
	Region string
}

// Region is one region from the daily dump.
type Region struct {
	Name        string
	FirstNation string
	// FirstIndex is the Index of FirstNation. It is filled on reads and is
	// 0 when the first nation is unknown.
	FirstIndex    int
	NumNations    int
	Passworded    bool
	Founderless   bool
	Delegate      string
	Founder       string
	DelegateVotes int
	LastUpdate    time.Time
}

// World is a complete replacement of the nation and region tables.
type World struct {
	Nations    []Nation
	Regions    []Region
	IngestedAt time.Time
}

// NormalizeName maps a display name to its canonical key: trimmed, lower
// case, spaces as underscores.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule string split into cron or interval form.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
}

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseSchedule accepts:
//   - cron: "0 * * * *", "@hourly", "@every 55m" (or any "cron:" prefixed spec)
//   - Go duration: "55m", "2h30m"
//   - HH:MM interval: "00:50" is fifty minutes
//
// Cron expressions are syntax-checked.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}
	if expr, ok := strings.CutPrefix(s, "cron:"); ok {
		return parseCron(strings.TrimSpace(expr))
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}

	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minutes in %q", raw)
		}
		return interval(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
	}
	if d, err := time.ParseDuration(s); err == nil {
		return interval(d)
	}
	return ParsedSpec{}, fmt.Errorf("invalid schedule %q (use cron like '0 * * * *', HH:MM like '02:30', or duration like '55m')", raw)
}

func parseCron(expr string) (ParsedSpec, error) {
	if expr == "" {
		return ParsedSpec{}, fmt.Errorf("cron schedule required")
	}
	if _, err := newParser().Parse(expr); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return ParsedSpec{Kind: SpecCron, Cron: expr}, nil
}

func interval(d time.Duration) (ParsedSpec, error) {
	if d <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval must be > 0")
	}
	return ParsedSpec{Kind: SpecInterval, Every: d}, nil
}

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"tagtimer/internal/task/engine"
	logx "tagtimer/pkg/logx"
)

type recorder struct {
	mu    sync.Mutex
	names []string
	fired chan string
}

func newRecorder() *recorder { return &recorder{fired: make(chan string, 16)} }

func (r *recorder) Enqueue(t engine.Task) error {
	r.mu.Lock()
	r.names = append(r.names, t.Name)
	r.mu.Unlock()
	r.fired <- t.Name
	return nil
}

func noop(context.Context) error { return nil }

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		kind    SpecKind
		every   time.Duration
		wantErr bool
	}{
		{in: "0 * * * *", kind: SpecCron},
		{in: "@hourly", kind: SpecCron},
		{in: "cron:*/5 * * * *", kind: SpecCron},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute},
		{in: "00:50", kind: SpecInterval, every: 50 * time.Minute},
		{in: "02:30", kind: SpecInterval, every: 150 * time.Minute},
		{in: "", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "00:75", wantErr: true},
		{in: "61 * * * *", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseSchedule(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tt.in, err)
		}
		if got.Kind != tt.kind || got.Every != tt.every {
			t.Fatalf("ParseSchedule(%q) = %+v", tt.in, got)
		}
	}
}

func TestAddOnceFiresAfterStart(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	s := New(Config{Enabled: true, Timezone: "UTC"}, rec, logx.Nop())

	if err := s.AddOnce("watch:lazarus", time.Now().Add(20*time.Millisecond), time.Second, noop); err != nil {
		t.Fatalf("AddOnce: %v", err)
	}
	if !s.Has("watch:lazarus") {
		t.Fatalf("pending one-shot not reported")
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case name := <-rec.fired:
		if name != "watch:lazarus" {
			t.Fatalf("fired %q", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("one-shot never fired")
	}
	if s.Has("watch:lazarus") {
		t.Fatalf("fired one-shot still registered")
	}
}

func TestAddOnceReplaceAndRemove(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	s := New(Config{Enabled: true}, rec, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.AddOnce("a", time.Now().Add(30*time.Millisecond), 0, noop)
	_ = s.AddOnce("a", time.Now().Add(time.Hour), 0, noop)
	_ = s.AddOnce("b", time.Now().Add(30*time.Millisecond), 0, noop)
	if !s.Remove("b") {
		t.Fatalf("Remove(b) = false")
	}

	select {
	case name := <-rec.fired:
		t.Fatalf("unexpected firing of %q", name)
	case <-time.After(150 * time.Millisecond):
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || !snap.Schedules[0].Once {
		t.Fatalf("snapshot = %+v", snap.Schedules)
	}
}

func TestAddScheduleUpsertsByName(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "America/New_York"}, newRecorder(), logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.AddSchedule("window.refresh", "@hourly", time.Minute, noop); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if err := s.AddSchedule("window.refresh", "30m", time.Minute, noop); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if err := s.AddSchedule("bad", "not a cron", 0, noop); err == nil {
		t.Fatalf("invalid cron accepted")
	}

	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
	got := snap.Schedules[0]
	if got.Spec != "@every 30m0s" || got.Next.IsZero() {
		t.Fatalf("schedule = %+v", got)
	}
	if snap.Timezone != "America/New_York" {
		t.Fatalf("tz = %q", snap.Timezone)
	}
}

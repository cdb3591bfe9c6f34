package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks value ranges that the strict decoder cannot. Schedules are
// checked by the app, which owns the schedule parser.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	dur("nsapi.interval", cfg.NSAPI.Interval)
	dur("nsapi.call_timeout", cfg.NSAPI.CallTimeout)
	dur("nsapi.await_timeout", cfg.NSAPI.AwaitTimeout)

	dur("telegrams.recruitment_cooldown", cfg.Telegrams.RecruitmentCooldown)
	dur("telegrams.non_recruitment_cooldown", cfg.Telegrams.NonRecruitmentCooldown)
	dur("telegrams.initial_hold", cfg.Telegrams.InitialHold)

	switch strings.ToLower(strings.TrimSpace(cfg.Update.Mode)) {
	case "", "major", "minor":
	default:
		add(fmt.Errorf("update.mode: unknown mode %q (want major or minor)", cfg.Update.Mode))
	}
	if tz := strings.TrimSpace(cfg.Update.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("update.timezone: %w", err))
		}
	}
	for _, h := range cfg.Update.StartHours {
		if h < 0 || h > 23 {
			add(fmt.Errorf("update.start_hours: hour %d out of range 0..23", h))
		}
	}

	if cfg.Estimator.WindowSize < 0 {
		add(errors.New("estimator.window_size must be >= 0"))
	}

	if cfg.Watch.Enabled && len(cfg.Watch.Regions) == 0 {
		add(errors.New("watch.regions: at least one region is required when watch is enabled"))
	}
	dur("watch.lead", cfg.Watch.Lead)

	dur("metrics.read_timeout", cfg.Metrics.ReadTimeout)
	dur("metrics.write_timeout", cfg.Metrics.WriteTimeout)
	dur("metrics.idle_timeout", cfg.Metrics.IdleTimeout)

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
			add(errors.New("task_engine: sizes must be >= 0"))
		}
		dur("task_engine.default_timeout", te.DefaultTimeout)
		dur("task_engine.max_queue_delay", te.MaxQueueDelay)
	}

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
			add(errors.New("notifier: sizes must be >= 0"))
		}
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.dedup_window", n.DedupWindow)
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "sqlite", "memory", "mem":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	return errors.Join(errs...)
}

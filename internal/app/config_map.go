package app

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"tagtimer/internal/config"
	"tagtimer/internal/dispatch"
	"tagtimer/internal/estimator"
	"tagtimer/internal/notifier"
	"tagtimer/internal/observability/debugserver"
	"tagtimer/internal/storage"
	"tagtimer/internal/task/engine"
	"tagtimer/internal/transport"
	"tagtimer/internal/updatewindow"
	"tagtimer/internal/watch"
	logx "tagtimer/pkg/logx"
)

const (
	defaultPollSchedule    = "15s"
	defaultRefreshSchedule = "1h"
	defaultWatchSchedule   = "5s"
)

// dispatchSettings are the parsed nsapi durations shared by both schedulers.
type dispatchSettings struct {
	Interval     time.Duration
	CallTimeout  time.Duration
	AwaitTimeout time.Duration
	LockDir      string
}

func mapDispatchSettings(cfg *config.Config) (dispatchSettings, error) {
	var out dispatchSettings
	var err error
	n := cfg.NSAPI
	if out.Interval, err = config.ParseDurationOrDefault("nsapi.interval", n.Interval, dispatch.DefaultInterval); err != nil {
		return out, err
	}
	if out.CallTimeout, err = config.ParseDurationOrDefault("nsapi.call_timeout", n.CallTimeout, 30*time.Second); err != nil {
		return out, err
	}
	if out.AwaitTimeout, err = config.ParseDurationOrDefault("nsapi.await_timeout", n.AwaitTimeout, 2*time.Minute); err != nil {
		return out, err
	}
	out.LockDir = strings.TrimSpace(n.LockDir)
	return out, nil
}

func mapTelegramPolicy(cfg *config.Config) (*dispatch.CategoryCooldown, error) {
	t := cfg.Telegrams
	rec, err := config.ParseDurationOrDefault("telegrams.recruitment_cooldown", t.RecruitmentCooldown, dispatch.DefaultRecruitmentCooldown)
	if err != nil {
		return nil, err
	}
	non, err := config.ParseDurationOrDefault("telegrams.non_recruitment_cooldown", t.NonRecruitmentCooldown, dispatch.DefaultNonRecruitmentCooldown)
	if err != nil {
		return nil, err
	}
	hold, err := config.ParseDurationField("telegrams.initial_hold", t.InitialHold)
	if err != nil {
		return nil, err
	}
	return dispatch.NewTelegramCooldown(rec, non, hold), nil
}

func mapUpdateMode(cfg *config.Config) (updatewindow.Mode, error) {
	m, err := updatewindow.ParseMode(cfg.Update.Mode)
	if err != nil {
		return m, fmt.Errorf("update.mode: %w", err)
	}
	return m, nil
}

func mapEstimatorConfig(cfg *config.Config) (estimator.Config, error) {
	rule, err := estimator.LoadAnchorRule(strings.TrimSpace(cfg.Update.Timezone), cfg.Update.StartHours)
	if err != nil {
		return estimator.Config{}, fmt.Errorf("update.timezone: %w", err)
	}
	return estimator.Config{
		WindowSize:      cfg.Estimator.WindowSize,
		EmptyCorrection: cfg.Estimator.EmptyCorrection,
		Anchor:          rule,
	}, nil
}

func pollEnabled(cfg *config.Config) bool {
	return cfg.Estimator.PollEnabled == nil || *cfg.Estimator.PollEnabled
}

func orDefault(raw, def string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return def
}

// mapStorageConfig defaults to sqlite at storage.DefaultPath. The world
// database is required, so "none" is rejected.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "sqlite", Path: storage.DefaultPath}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = storage.DefaultPath
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "none":
		return storage.Config{}, errors.New("storage.driver: none is not supported, estimates need the world database")
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	if cfg == nil {
		return engine.Config{}, nil
	}

	enabled := cfg.Scheduler.Enabled
	workers := 2
	queueSize := 256
	historySize := 200
	retryMax := 3
	defTimeoutStr := ""
	maxQueueDelayStr := ""

	if te := cfg.TaskEngine; te != nil {
		if te.Enabled != nil {
			enabled = *te.Enabled
		}
		if te.Workers != 0 {
			workers = te.Workers
		}
		if te.QueueSize != 0 {
			queueSize = te.QueueSize
		}
		if te.HistorySize != 0 {
			historySize = te.HistorySize
		}
		if te.RetryMax != 0 {
			retryMax = te.RetryMax
		}
		defTimeoutStr = te.DefaultTimeout
		maxQueueDelayStr = te.MaxQueueDelay

		// scheduler triggers would pile up against a stopped engine
		if cfg.Scheduler.Enabled && te.Enabled != nil && !*te.Enabled {
			return engine.Config{}, errors.New("task_engine.enabled cannot be false while scheduler.enabled is true")
		}
	}

	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", defTimeoutStr)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("task_engine.max_queue_delay", maxQueueDelayStr)
	if err != nil {
		return engine.Config{}, err
	}

	return engine.Config{
		Enabled:        enabled,
		Workers:        max(workers, 1),
		QueueSize:      max(queueSize, 1),
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    max(historySize, 0),
		RetryMax:       max(retryMax, 0),
	}, nil
}

// mapNotifierConfig maps the JSON section into the runtime config. An
// omitted section means config.DefaultNotifier().
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := config.DefaultNotifier()
	if cfg != nil && cfg.Notifier != nil {
		n = cfg.Notifier
	}
	out := notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}
	if out.Workers < 0 || out.QueueSize < 0 || out.RatePerSec < 0 || out.RetryMax < 0 || out.DedupMaxEntries < 0 {
		return notifier.Config{}, errors.New("notifier: sizes must be >= 0")
	}

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, time.Minute); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

// mapDebugConfig validates the metrics section. It never starts the server.
func mapDebugConfig(cfg *config.Config) (debugserver.Config, error) {
	var out debugserver.Config
	if cfg == nil {
		return out, nil
	}
	mc := cfg.Metrics
	out.Enabled = mc.Enabled
	out.Pprof = mc.Pprof
	out.AllowInsecure = mc.AllowInsecure
	out.Token = strings.TrimSpace(mc.Token)
	out.Addr = orDefault(mc.Addr, debugserver.DefaultAddr)

	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("metrics.read_timeout", mc.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("metrics.write_timeout", mc.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("metrics.idle_timeout", mc.IdleTimeout, 120*time.Second); err != nil {
		return out, err
	}

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("metrics.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
	}
	return out, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    lc.Telegram.Enabled && cfg.Alerts.ChatID != 0,
			ChatID:     cfg.Alerts.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapWatchConfig(cfg *config.Config) (watch.Config, error) {
	w := cfg.Watch
	lead, err := config.ParseDurationOrDefault("watch.lead", w.Lead, watch.DefaultLead)
	if err != nil {
		return watch.Config{}, err
	}
	mode, err := mapUpdateMode(cfg)
	if err != nil {
		return watch.Config{}, err
	}
	chat := w.ChatID
	if chat == 0 {
		chat = cfg.Alerts.ChatID
	}
	if w.Enabled && chat == 0 {
		return watch.Config{}, errors.New("watch: chat_id or alerts.chat_id is required when watch is enabled")
	}
	return watch.Config{
		Regions: w.Regions,
		Lead:    lead,
		Mode:    mode,
		Target:  transport.ChatTarget{ChatID: chat, ThreadID: w.ThreadID},
	}, nil
}

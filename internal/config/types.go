package config

type Config struct {
	NSAPI     NSAPIConfig     `json:"nsapi"`
	Telegrams TelegramsConfig `json:"telegrams"`
	Update    UpdateConfig    `json:"update"`
	Estimator EstimatorConfig `json:"estimator"`
	World     WorldConfig     `json:"world"`
	Watch     WatchConfig     `json:"watch"`

	// Alerts is the Telegram bot used for watch alerts and the log alert sink.
	Alerts  AlertsConfig  `json:"alerts"`
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics,omitempty"`

	// Scheduler controls trigger behavior (cron/interval) for background jobs.
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution settings for scheduled jobs.
	// If omitted, the engine follows scheduler.enabled with default sizing.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

// NSAPIConfig controls the generic NationStates API dispatcher.
//
// All durations are Go duration strings (e.g. "800ms", "10s").
//
// Defaults:
//   - base_url: "https://www.nationstates.net"
//   - interval: "800ms"
//   - call_timeout: "30s"
//   - await_timeout: "2m"
//   - lock_dir: os.TempDir()
type NSAPIConfig struct {
	// User is the nation operating the tool. It is sent in the user agent.
	User    string `json:"user"`
	Contact string `json:"contact,omitempty"`
	BaseURL string `json:"base_url,omitempty"`

	Interval     string `json:"interval,omitempty"`
	CallTimeout  string `json:"call_timeout,omitempty"`
	AwaitTimeout string `json:"await_timeout,omitempty"`

	// LockDir holds the per-scheduler process lock files.
	LockDir string `json:"lock_dir,omitempty"`
}

// TelegramsConfig controls the NationStates telegram scheduler.
//
// Defaults:
//   - recruitment_cooldown: "180s"
//   - non_recruitment_cooldown: "30s"
//   - initial_hold: the longest cooldown ("0s" keeps the default; use "1ns" to effectively skip it)
type TelegramsConfig struct {
	Enabled bool `json:"enabled"`
	// ClientKey is the API client key (do not log).
	ClientKey string `json:"client_key,omitempty"`

	RecruitmentCooldown    string `json:"recruitment_cooldown,omitempty"`
	NonRecruitmentCooldown string `json:"non_recruitment_cooldown,omitempty"`
	InitialHold            string `json:"initial_hold,omitempty"`
}

// UpdateConfig describes where update reference windows come from and how
// the cycle anchor is derived.
//
// Defaults:
//   - mode: "major"
//   - source_url: "https://atagait.com/python-bin/updateData.json"
//   - timezone: "America/New_York"
//   - start_hours: [0, 12]
//   - refresh_schedule: "1h"
type UpdateConfig struct {
	Mode            string `json:"mode,omitempty"`
	SourceURL       string `json:"source_url,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	StartHours      []int  `json:"start_hours,omitempty"`
	RefreshSchedule string `json:"refresh_schedule,omitempty"`
}

// EstimatorConfig controls the variance estimator and the happenings poller.
//
// EmptyCorrection is the per-index correction used while no samples exist.
// The default 0 makes the estimate equal to the baseline.
type EstimatorConfig struct {
	WindowSize      int     `json:"window_size,omitempty"` // default: 8
	EmptyCorrection float64 `json:"empty_correction,omitempty"`

	// PollSchedule is an interval or cron spec for the happenings poller.
	// Default: "15s".
	PollSchedule string `json:"poll_schedule,omitempty"`
	PollEnabled  *bool  `json:"poll_enabled,omitempty"` // default: true
}

// WorldConfig points at the daily dumps. Paths may be local files (.xml or
// .xml.gz) or http(s) URLs.
type WorldConfig struct {
	NationsDump string `json:"nations_dump,omitempty"`
	RegionsDump string `json:"regions_dump,omitempty"`
	DownloadDir string `json:"download_dir,omitempty"`
	// SkipTags disables the passworded/founderless lookup during ingest.
	SkipTags bool `json:"skip_tags,omitempty"`
}

// WatchConfig enables update alerts for a list of regions.
type WatchConfig struct {
	Enabled  bool     `json:"enabled"`
	Regions  []string `json:"regions,omitempty"`
	Lead     string   `json:"lead,omitempty"`     // default: "30s"
	Schedule string   `json:"schedule,omitempty"` // default: "5s"
	ChatID   int64    `json:"chat_id,omitempty"`  // default: alerts.chat_id
	ThreadID int      `json:"thread_id,omitempty"`
}

type AlertsConfig struct {
	// Token is the Telegram bot token (do not log). Empty disables the transport.
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chat_id,omitempty"`
}

// MetricsConfig controls the debug HTTP server (Prometheus metrics, pprof, health).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the trigger service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger timezone for cron specs.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Enabled is a pointer so we can distinguish "omitted" (default to scheduler.enabled)
// from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`
}

// NotifierConfig controls the async alert pipeline.
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig selects the world database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tagtimer.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

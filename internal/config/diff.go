package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tagtimer/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging. Secrets (client key, bot token, metrics token)
// are only reported as "set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	o, n := oldCfg.NSAPI, newCfg.NSAPI
	if o != n {
		changed = append(changed, "nsapi")
		attrs = append(attrs,
			logx.String("nsapi.user", n.User),
			logx.String("nsapi.interval", strings.TrimSpace(n.Interval)),
			logx.String("nsapi.await_timeout", strings.TrimSpace(n.AwaitTimeout)),
		)
	}

	ot, nt := oldCfg.Telegrams, newCfg.Telegrams
	if ot.Enabled != nt.Enabled ||
		ot.RecruitmentCooldown != nt.RecruitmentCooldown ||
		ot.NonRecruitmentCooldown != nt.NonRecruitmentCooldown ||
		ot.InitialHold != nt.InitialHold ||
		(ot.ClientKey != "") != (nt.ClientKey != "") {
		changed = append(changed, "telegrams")
		attrs = append(attrs,
			logx.Bool("telegrams.enabled", nt.Enabled),
			logx.Bool("telegrams.client_key_set", strings.TrimSpace(nt.ClientKey) != ""),
			logx.String("telegrams.recruitment_cooldown", nt.RecruitmentCooldown),
			logx.String("telegrams.non_recruitment_cooldown", nt.NonRecruitmentCooldown),
		)
	}

	if !reflect.DeepEqual(oldCfg.Update, newCfg.Update) {
		changed = append(changed, "update")
		attrs = append(attrs,
			logx.String("update.mode", newCfg.Update.Mode),
			logx.String("update.timezone", newCfg.Update.Timezone),
			logx.String("update.refresh_schedule", newCfg.Update.RefreshSchedule),
		)
	}

	if !reflect.DeepEqual(oldCfg.Estimator, newCfg.Estimator) {
		changed = append(changed, "estimator")
		attrs = append(attrs,
			logx.Int("estimator.window_size", newCfg.Estimator.WindowSize),
			logx.Float64("estimator.empty_correction", newCfg.Estimator.EmptyCorrection),
			logx.String("estimator.poll_schedule", newCfg.Estimator.PollSchedule),
		)
	}

	if oldCfg.World != newCfg.World {
		changed = append(changed, "world")
	}

	if !reflect.DeepEqual(oldCfg.Watch, newCfg.Watch) {
		changed = append(changed, "watch")
		attrs = append(attrs,
			logx.Bool("watch.enabled", newCfg.Watch.Enabled),
			logx.Int("watch.regions", len(newCfg.Watch.Regions)),
			logx.String("watch.lead", newCfg.Watch.Lead),
		)
	}

	if oldCfg.Alerts.ChatID != newCfg.Alerts.ChatID ||
		(oldCfg.Alerts.Token != "") != (newCfg.Alerts.Token != "") {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.token_set", strings.TrimSpace(newCfg.Alerts.Token) != ""),
			logx.Int64("alerts.chat_id", newCfg.Alerts.ChatID),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	om, nm := oldCfg.Metrics, newCfg.Metrics
	tokenChanged := (strings.TrimSpace(om.Token) != "") != (strings.TrimSpace(nm.Token) != "")
	om.Token, nm.Token = "", ""
	if om != nm || tokenChanged {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", nm.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(nm.Addr)),
			logx.Bool("metrics.token_set", strings.TrimSpace(newCfg.Metrics.Token) != ""),
			logx.Bool("metrics.pprof", nm.Pprof),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	oTE := derefTaskEngine(oldCfg.TaskEngine)
	nTE := derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		enabled := newCfg.Scheduler.Enabled
		if nTE.Enabled != nil {
			enabled = *nTE.Enabled
		}
		attrs = append(attrs,
			logx.Bool("task_engine.enabled", enabled),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	oldN, newN := oldCfg.Notifier, newCfg.Notifier
	if oldN == nil {
		oldN = DefaultNotifier()
	}
	if newN == nil {
		newN = DefaultNotifier()
	}
	if *oldN != *newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

// DefaultNotifier is the runtime behavior when the notifier section is omitted.
func DefaultNotifier() *NotifierConfig {
	return &NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
	}
}

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tagtimer/internal/config"
	"tagtimer/internal/eventbus"
	"tagtimer/internal/notifier"
	"tagtimer/internal/observability/debugserver"
	rtsup "tagtimer/internal/runtime/supervisor"
	"tagtimer/internal/task/engine"
	"tagtimer/internal/task/scheduler"
	"tagtimer/internal/transport"
	"tagtimer/internal/transport/telegram"
	"tagtimer/internal/watch"
	logx "tagtimer/pkg/logx"
)

// Scheduled job names.
const (
	jobPoll        = "happenings.poll"
	jobRefresh     = "windows.refresh"
	jobRefreshOnce = "windows.refresh.retry"
	jobWatch       = "watch.check"
)

// restartSections cannot be applied live: they are baked into the
// schedulers, the store or the bot at construction.
var restartSections = map[string]bool{
	"nsapi":     true,
	"telegrams": true,
	"storage":   true,
	"world":     true,
	"alerts":    true,
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	core *Core

	// adapter is nil when no bot token is configured.
	adapter transport.Adapter

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	watch  *watch.Watcher
	debug  *debugserver.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The alert sink gets its sender once the bot exists.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	bus := eventbus.New()

	core, err := NewCore(cfg, log, bus)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	var (
		adapter transport.Adapter
		sender  transport.Sender
	)
	if strings.TrimSpace(cfg.Alerts.Token) != "" {
		ad, err := telegram.New(telegram.Config{Token: cfg.Alerts.Token}, log)
		if err != nil {
			_ = core.Close()
			return nil, err
		}
		adapter, sender = ad, ad
		logSvc.SetSender(ad)
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	engineSvc := engine.New(engCfg, log, bus)
	schedSvc := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, engineSvc, log)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	notifSvc := notifier.New(ncfg, sender, log, bus, core.Store, core.Sink)

	wcfg, err := mapWatchConfig(cfg)
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	watcher := watch.New(wcfg, core.Estimator, notifSvc, log, bus, core.Sink)

	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		_ = core.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		core:    core,
		adapter: adapter,
		engine:  engineSvc,
		sched:   schedSvc,
		notif:   notifSvc,
		watch:   watcher,
	}
	a.debug = debugserver.New(dcfg, core.Registry, a.health, log)
	return a, nil
}

func (a *App) Core() *Core { return a.core }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateRuntime(cfg) })
	cfg := a.cfgm.Get()
	run := a.sup.Context()

	// The world check resolves region tags through the API scheduler, so
	// the scheduler runs first.
	a.core.StartDispatch(a.sup, cfg.Telegrams.Enabled)
	if _, err := a.core.World.Ensure(run); err != nil {
		return fmt.Errorf("world: %w", err)
	}

	if a.adapter != nil {
		if err := a.adapter.Start(run); err != nil {
			return err
		}
	}

	if a.engine.Enabled() {
		a.engine.Start(run)
	}
	if err := a.registerJobs(cfg); err != nil {
		return err
	}
	if err := a.core.Windows.Refresh(run); err != nil {
		a.log.Warn("update windows unavailable, retrying shortly", logx.Err(err))
		a.retryRefresh()
	}
	if a.sched.Enabled() {
		a.sched.Start(run)
	}

	if a.notif.Enabled() {
		a.notif.Start(run)
	}
	a.debug.Start(run)

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// debug-level: tickets and polls are frequent
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("mode", a.core.Mode.String()),
		logx.Bool("telegrams", cfg.Telegrams.Enabled),
		logx.Bool("watch", cfg.Watch.Enabled),
		logx.Bool("alerts", a.adapter != nil))
	return nil
}

// registerJobs (re)installs the scheduled jobs for cfg. Re-adding a name
// replaces its trigger.
func (a *App) registerJobs(cfg *config.Config) error {
	ds := a.core.dispatch
	if pollEnabled(cfg) {
		if err := a.sched.AddSchedule(jobPoll, orDefault(cfg.Estimator.PollSchedule, defaultPollSchedule),
			ds.AwaitTimeout, a.core.Poller.Job()); err != nil {
			return fmt.Errorf("estimator.poll_schedule: %w", err)
		}
	} else {
		a.sched.Remove(jobPoll)
	}

	if err := a.sched.AddSchedule(jobRefresh, orDefault(cfg.Update.RefreshSchedule, defaultRefreshSchedule),
		time.Minute, a.core.Windows.Refresh); err != nil {
		return fmt.Errorf("update.refresh_schedule: %w", err)
	}

	if cfg.Watch.Enabled {
		if err := a.sched.AddSchedule(jobWatch, orDefault(cfg.Watch.Schedule, defaultWatchSchedule),
			30*time.Second, a.watch.Job()); err != nil {
			return fmt.Errorf("watch.schedule: %w", err)
		}
	} else {
		a.sched.Remove(jobWatch)
	}
	return nil
}

func (a *App) retryRefresh() {
	err := a.sched.AddOnce(jobRefreshOnce, time.Now().Add(time.Minute), time.Minute, func(ctx context.Context) error {
		if err := a.core.Windows.Refresh(ctx); err != nil {
			a.retryRefresh()
			return engine.NoRetry(err)
		}
		return nil
	})
	if err != nil {
		a.log.Warn("window refresh retry not scheduled", logx.Err(err))
	}
}

// validateRuntime runs the checks that need the runtime mappings (schedule
// parser, anchor timezone, bind safety) on top of config.Validate.
func validateRuntime(cfg *config.Config) error {
	if _, err := mapDispatchSettings(cfg); err != nil {
		return err
	}
	if _, err := mapTelegramPolicy(cfg); err != nil {
		return err
	}
	if _, err := mapEstimatorConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	if _, err := mapWatchConfig(cfg); err != nil {
		return err
	}
	schedules := map[string]string{
		"estimator.poll_schedule": orDefault(cfg.Estimator.PollSchedule, defaultPollSchedule),
		"update.refresh_schedule": orDefault(cfg.Update.RefreshSchedule, defaultRefreshSchedule),
		"watch.schedule":          orDefault(cfg.Watch.Schedule, defaultWatchSchedule),
	}
	for path, raw := range schedules {
		if _, err := scheduler.ParseSchedule(raw); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func (a *App) applyConfig(c context.Context, lastApplied, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if restartSections[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if mode, err := mapUpdateMode(newCfg); err == nil && mode != a.core.Mode {
		a.core.Mode = mode
		a.core.Poller.SetMode(mode)
		a.log.Info("update mode changed", logx.String("mode", mode.String()))
	}

	// engine first on startup, scheduler first on shutdown
	prevSchedEnabled := a.sched.Enabled()
	prevEngEnabled := a.engine.Enabled()
	newEngCfg, err := mapTaskEngineConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		newEngCfg.Enabled = prevEngEnabled
	} else {
		a.engine.Apply(c, newEngCfg)
	}
	a.sched.Apply(scheduler.Config{Enabled: newCfg.Scheduler.Enabled, Timezone: newCfg.Scheduler.Timezone})

	if prevSchedEnabled && !newCfg.Scheduler.Enabled {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	}
	if prevEngEnabled && !newEngCfg.Enabled {
		a.log.Info("task engine disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.engine.Stop(stopCtx)
		cancel()
	}
	if !prevEngEnabled && newEngCfg.Enabled {
		a.log.Info("task engine enabled via config")
		a.engine.Start(c)
	}
	if err := a.registerJobs(newCfg); err != nil {
		a.log.Warn("job schedules not updated", logx.Err(err))
	}
	if !prevSchedEnabled && newCfg.Scheduler.Enabled {
		a.log.Info("scheduler enabled via config")
		a.sched.Start(c)
	}

	if wcfg, err := mapWatchConfig(newCfg); err != nil {
		a.log.Warn("invalid watch config; keeping previous", logx.Err(err))
	} else {
		a.watch.Apply(wcfg)
	}

	prevNotifEnabled := a.notif.Enabled()
	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
		switch {
		case prevNotifEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prevNotifEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(c)
		}
	}

	if dcfg, err := mapDebugConfig(newCfg); err != nil {
		a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(c, dcfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// health backs /healthz. The app is healthy while the API scheduler runs
// and the update windows are loaded.
func (a *App) health() (any, bool) {
	c := a.core
	anchor, hasAnchor := c.Estimator.Anchor()
	refreshed := c.Windows.RefreshedAt()
	report := map[string]any{
		"api":          c.API.Running(),
		"api_pending":  c.API.Pending(),
		"telegrams":    c.Telegrams.Running(),
		"windows_at":   refreshed,
		"samples":      len(c.Estimator.Samples()),
		"poll_cursor":  c.Poller.Cursor(),
		"notifier":     a.notif.Enabled(),
		"engine":       a.engine.Enabled(),
		"bus_dropped":  eventbus.Dropped(a.bus),
		"anchor_known": hasAnchor,
	}
	if hasAnchor {
		report["anchor"] = anchor
	}
	return report, c.API.Running() && !refreshed.IsZero()
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("metrics", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error {
		if a.adapter != nil {
			return a.adapter.Stop(c)
		}
		return nil
	})
	// dispatch loops, config watch/reload and the event logger
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.core.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

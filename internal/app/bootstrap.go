package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tagtimer/internal/config"
	"tagtimer/internal/dispatch"
	"tagtimer/internal/estimator"
	"tagtimer/internal/eventbus"
	"tagtimer/internal/messages"
	"tagtimer/internal/metrics"
	"tagtimer/internal/nsapi"
	rtsup "tagtimer/internal/runtime/supervisor"
	"tagtimer/internal/storage"
	"tagtimer/internal/updatewindow"
	"tagtimer/internal/worlddata"
	logx "tagtimer/pkg/logx"
)

// Core is the estimation stack shared by the daemon and the one-shot CLI
// commands: the world store, both dispatch schedulers and everything that
// talks through them.
type Core struct {
	Config *config.Config
	Log    logx.Logger
	Bus    eventbus.Bus

	Registry *prometheus.Registry
	Sink     metrics.Sink

	Store     storage.Store
	Client    *nsapi.Client
	Guard     *dispatch.Guard
	API       *dispatch.Scheduler
	Telegrams *dispatch.Scheduler

	Windows   *updatewindow.Source
	Estimator *estimator.Estimator
	Poller    *estimator.Poller
	World     *worlddata.Loader
	Messages  *messages.Service

	Mode     updatewindow.Mode
	dispatch dispatchSettings
}

// NewCore opens the store and builds the schedulers. Nothing runs until
// StartDispatch.
func NewCore(cfg *config.Config, log logx.Logger, bus eventbus.Bus) (*Core, error) {
	if bus == nil {
		bus = eventbus.New()
	}
	ds, err := mapDispatchSettings(cfg)
	if err != nil {
		return nil, err
	}
	tgPolicy, err := mapTelegramPolicy(cfg)
	if err != nil {
		return nil, err
	}
	mode, err := mapUpdateMode(cfg)
	if err != nil {
		return nil, err
	}
	estCfg, err := mapEstimatorConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sink := metrics.NewPrometheusSink(reg, log.With(logx.String("comp", "metrics")))

	client, err := nsapi.NewClient(nsapi.Config{
		BaseURL: cfg.NSAPI.BaseURL,
		User:    cfg.NSAPI.User,
		Contact: cfg.NSAPI.Contact,
	}, log)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	// Dump downloads share the API guard; telegrams relay through the API
	// scheduler and so keep a private one.
	guard := dispatch.NewGuard()
	api := dispatch.New(dispatch.Config{
		Name:        "api",
		Policy:      dispatch.NewFixedInterval(ds.Interval),
		Executor:    client,
		Guard:       guard,
		LockPath:    dispatch.LockPath(ds.LockDir, "api"),
		CallTimeout: ds.CallTimeout,
	}, log, bus, sink)

	relay := messages.Relay{API: api, Timeout: ds.AwaitTimeout}
	telegrams := dispatch.New(dispatch.Config{
		Name:            "telegrams",
		Policy:          tgPolicy,
		Executor:        relay,
		LockPath:        dispatch.LockPath(ds.LockDir, "telegrams"),
		CallTimeout:     ds.AwaitTimeout + ds.CallTimeout,
		DefaultCategory: dispatch.CategoryNonRecruitment,
	}, log, bus, sink)

	windows := updatewindow.NewSource(&updatewindow.HTTPProvider{
		URL:       cfg.Update.SourceURL,
		UserAgent: client.UserAgent(),
		Client:    &http.Client{Timeout: 30 * time.Second},
	}, store, log, bus)

	est := estimator.New(estCfg, store, windows, log, bus, sink)

	return &Core{
		Config:    cfg,
		Log:       log,
		Bus:       bus,
		Registry:  reg,
		Sink:      sink,
		Store:     store,
		Client:    client,
		Guard:     guard,
		API:       api,
		Telegrams: telegrams,
		Windows:   windows,
		Estimator: est,
		Poller:    estimator.NewPoller(api, est, mode, ds.AwaitTimeout, log),
		World: worlddata.NewLoader(worlddata.Config{
			NationsDump:  cfg.World.NationsDump,
			RegionsDump:  cfg.World.RegionsDump,
			DownloadDir:  cfg.World.DownloadDir,
			SkipTags:     cfg.World.SkipTags,
			AwaitTimeout: ds.AwaitTimeout,
		}, client, api, guard, store, log, bus, sink),
		Messages: messages.NewService(messages.Config{
			ClientKey: cfg.Telegrams.ClientKey,
		}, telegrams, log),
		Mode:     mode,
		dispatch: ds,
	}, nil
}

// StartDispatch runs the API scheduler, and the telegram scheduler when
// telegrams are enabled, under sup. A lock held by another instance is
// fatal for sup.
func (c *Core) StartDispatch(sup *rtsup.Supervisor, telegrams bool) {
	sup.Go("dispatch.api", c.API.Run)
	if telegrams {
		sup.Go("dispatch.telegrams", c.Telegrams.Run)
	}
}

// Prepare makes sure the world exists and the windows are loaded.
func (c *Core) Prepare(ctx context.Context) error {
	if _, err := c.World.Ensure(ctx); err != nil {
		return fmt.Errorf("world: %w", err)
	}
	if err := c.Windows.Refresh(ctx); err != nil {
		return fmt.Errorf("update windows: %w", err)
	}
	return nil
}

func (c *Core) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// RunCore loads cfgPath, runs the dispatch schedulers for the duration of fn
// and closes everything afterwards. One-shot CLI commands use it.
func RunCore(ctx context.Context, cfgPath string, log logx.Logger, telegrams bool, fn func(ctx context.Context, c *Core) error) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	core, err := NewCore(cfg, log, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := core.Close(); err != nil {
			log.Warn("storage close failed", logx.Err(err))
		}
	}()

	sup := rtsup.New(ctx, rtsup.WithLogger(log), rtsup.WithCancelOnError(true))
	core.StartDispatch(sup, telegrams)

	runErr := fn(sup.Context(), core)
	supErr := sup.Err()
	sup.Cancel()

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Wait(waitCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("dispatch shutdown incomplete", logx.Err(err))
	}
	// A lock failure cancels fn's context; report the cause, not the symptom.
	if supErr != nil {
		return supErr
	}
	return runErr
}

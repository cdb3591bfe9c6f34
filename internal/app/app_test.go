package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tagtimer/internal/config"
	"tagtimer/internal/dispatch"
	"tagtimer/internal/updatewindow"
	logx "tagtimer/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      *config.StorageConfig
		driver  string
		path    string
		wantErr bool
	}{
		{name: "omitted", in: nil, driver: "sqlite", path: "./tagtimer.db"},
		{name: "sqlite path", in: &config.StorageConfig{Driver: "SQLite", Path: "/var/lib/tt.db"}, driver: "sqlite", path: "/var/lib/tt.db"},
		{name: "memory", in: &config.StorageConfig{Driver: "mem"}, driver: "memory"},
		{name: "none", in: &config.StorageConfig{Driver: "none"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "postgres"}, wantErr: true},
		{name: "bad busy timeout", in: &config.StorageConfig{BusyTimeout: "soon"}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := mapStorageConfig(&config.Config{Storage: tt.in})
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got.Driver != tt.driver || got.Path != tt.path {
			t.Fatalf("%s: got %+v", tt.name, got)
		}
	}
}

func TestMapTaskEngineConfig(t *testing.T) {
	t.Parallel()
	off := false
	if _, err := mapTaskEngineConfig(&config.Config{
		Scheduler:  config.SchedulerConfig{Enabled: true},
		TaskEngine: &config.TaskEngineConfig{Enabled: &off},
	}); err == nil {
		t.Fatalf("expected error for disabled engine under an enabled scheduler")
	}

	got, err := mapTaskEngineConfig(&config.Config{
		Scheduler:  config.SchedulerConfig{Enabled: true},
		TaskEngine: &config.TaskEngineConfig{Workers: 4, DefaultTimeout: "45s"},
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if !got.Enabled || got.Workers != 4 || got.QueueSize != 256 || got.DefaultTimeout != 45*time.Second {
		t.Fatalf("got %+v", got)
	}
}

func TestMapNotifierDefaultsWhenOmitted(t *testing.T) {
	t.Parallel()
	got, err := mapNotifierConfig(&config.Config{})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if !got.Enabled || got.DedupWindow != time.Minute || got.RetryBase != 500*time.Millisecond {
		t.Fatalf("got %+v", got)
	}
}

func TestMapLogConfigAlertNeedsChat(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Logging: config.LoggingConfig{
		Level:    "debug",
		Telegram: config.LoggingTelegram{Enabled: true, MinLevel: "warn"},
	}}
	if got := mapLogConfig(cfg); got.Alert.Enabled {
		t.Fatalf("alert sink enabled without a chat")
	}
	cfg.Alerts.ChatID = -100
	got := mapLogConfig(cfg)
	if !got.Alert.Enabled || got.Alert.ChatID != -100 || got.Level != "debug" {
		t.Fatalf("got %+v", got)
	}
}

func TestMapWatchConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Update: config.UpdateConfig{Mode: "minor"},
		Alerts: config.AlertsConfig{ChatID: 42},
		Watch:  config.WatchConfig{Enabled: true, Regions: []string{"Lazarus"}, Lead: "1m", ThreadID: 7},
	}
	got, err := mapWatchConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if got.Target.ChatID != 42 || got.Target.ThreadID != 7 || got.Lead != time.Minute || got.Mode != updatewindow.Minor {
		t.Fatalf("got %+v", got)
	}

	cfg.Alerts.ChatID = 0
	if _, err := mapWatchConfig(cfg); err == nil {
		t.Fatalf("expected error for watch without a chat")
	}
}

func TestValidateRuntime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mut  func(*config.Config)
		ok   bool
	}{
		{"defaults", func(*config.Config) {}, true},
		{"bad poll schedule", func(c *config.Config) { c.Estimator.PollSchedule = "every so often" }, false},
		{"bad cooldown", func(c *config.Config) { c.Telegrams.RecruitmentCooldown = "3 minutes" }, false},
		{"bad timezone", func(c *config.Config) { c.Update.Timezone = "Mars/Olympus_Mons" }, false},
		{"bad metrics addr", func(c *config.Config) { c.Metrics = config.MetricsConfig{Enabled: true, Addr: "9464"} }, false},
		{"cron refresh", func(c *config.Config) { c.Update.RefreshSchedule = "cron:0 * * * *" }, true},
	}
	for _, tt := range tests {
		cfg := &config.Config{}
		tt.mut(cfg)
		err := validateRuntime(cfg)
		if tt.ok && err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

const testNations = `<NATIONS>
<NATION><NAME>Alpha Land</NAME><REGION>The Pacific</REGION></NATION>
<NATION><NAME>Beta</NAME><REGION>Lazarus</REGION></NATION>
<NATION><NAME>Gamma</NAME><REGION>Lazarus</REGION></NATION>
</NATIONS>`

const testRegions = `<REGIONS>
<REGION><NAME>The Pacific</NAME><NUMNATIONS>1</NUMNATIONS><NATIONS>alpha_land</NATIONS></REGION>
<REGION><NAME>Lazarus</NAME><NUMNATIONS>2</NUMNATIONS><NATIONS>gamma:beta</NATIONS></REGION>
</REGIONS>`

func writeCoreConfig(t *testing.T, feedURL string) string {
	t.Helper()
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}
	cfg := map[string]any{
		"nsapi":   map[string]any{"user": "Testlandia", "interval": "1ms", "lock_dir": dir},
		"update":  map[string]any{"source_url": feedURL},
		"world":   map[string]any{"nations_dump": write("nations.xml", testNations), "regions_dump": write("regions.xml", testRegions), "skip_tags": true},
		"storage": map[string]any{"driver": "memory"},
		"logging": map[string]any{"level": "error"},
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return write("config.json", string(b))
}

func TestRunCoreEstimatesFromLocalDumps(t *testing.T) {
	t.Parallel()
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"major":{"banana":1000,"packer":1300},"minor":{"banana":0,"packer":60}}`))
	}))
	defer feed.Close()

	path := writeCoreConfig(t, feed.URL)
	var baseline, minor float64
	err := RunCore(context.Background(), path, logx.Nop(), false, func(ctx context.Context, c *Core) error {
		if err := c.Prepare(ctx); err != nil {
			return err
		}
		var err error
		if baseline, err = c.Estimator.BaselineETA(ctx, "Lazarus", updatewindow.Major); err != nil {
			return err
		}
		minor, err = c.Estimator.EstimateETA(ctx, "the pacific", updatewindow.Minor)
		return err
	})
	if err != nil {
		t.Fatalf("RunCore: %v", err)
	}
	// 300s over 3 nations; lazarus starts at gamma, index 3
	if baseline != 300 {
		t.Fatalf("baseline=%v want 300", baseline)
	}
	if minor != 20 {
		t.Fatalf("minor=%v want 20", minor)
	}
}

func TestRunCoreReportsHeldLock(t *testing.T) {
	t.Parallel()
	path := writeCoreConfig(t, "http://127.0.0.1:1/unused")
	cfg, err := config.NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	lock, err := dispatch.AcquireLock("api", dispatch.LockPath(cfg.NSAPI.LockDir, "api"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer func() { _ = lock.Release() }()

	err = RunCore(context.Background(), path, logx.Nop(), false, func(ctx context.Context, _ *Core) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var held *dispatch.AlreadyRunningError
	if !errors.As(err, &held) {
		t.Fatalf("err=%v want AlreadyRunningError", err)
	}
}

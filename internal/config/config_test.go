package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
nsapi:
  user: testlandia
  interval: 800ms
telegrams:
  enabled: true
  client_key: secret
  recruitment_cooldown: 180s
update:
  mode: minor
  timezone: UTC
  start_hours: [0, 12]
estimator:
  window_size: 8
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
  telegram:
    enabled: false
    thread_id: 0
    min_level: warn
    rate_per_sec: 1
scheduler:
  enabled: true
storage:
  driver: memory
  path: ""
`

func TestParseBytesYAML(t *testing.T) {
	t.Parallel()
	cfg, err := ParseBytes("tagtimer.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if cfg.NSAPI.User != "testlandia" || cfg.Update.Mode != "minor" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Update.StartHours) != 2 || cfg.Update.StartHours[1] != 12 {
		t.Fatalf("start_hours = %v", cfg.Update.StartHours)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseBytesRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
	}{
		{"unknown field", `{"nsapi":{"user":"x","bogus":1}}`},
		{"trailing data", `{"nsapi":{"user":"x"}}{"nsapi":{}}`},
	}
	for _, tt := range tests {
		if _, err := ParseBytes("c.json", []byte(tt.in)); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"bad mode", func(c *Config) { c.Update.Mode = "sideways" }, "update.mode"},
		{"bad timezone", func(c *Config) { c.Update.Timezone = "Mars/Olympus" }, "update.timezone"},
		{"bad hour", func(c *Config) { c.Update.StartHours = []int{24} }, "update.start_hours"},
		{"negative window", func(c *Config) { c.Estimator.WindowSize = -1 }, "estimator.window_size"},
		{"bad interval", func(c *Config) { c.NSAPI.Interval = "soon" }, "nsapi.interval"},
		{"watch without regions", func(c *Config) { c.Watch.Enabled = true }, "watch.regions"},
		{"bad driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "mongo"} }, "storage.driver"},
	}
	for _, tt := range tests {
		cfg := &Config{}
		tt.mutate(cfg)
		err := Validate(cfg)
		if tt.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Fatalf("%s: err = %v, want mention of %q", tt.name, err, tt.wantErr)
		}
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{raw: "", def: 800 * time.Millisecond, want: 800 * time.Millisecond},
		{raw: "2s", def: time.Second, want: 2 * time.Second},
		{raw: " 180 ", want: 3 * time.Minute},
		{raw: "0.5", want: 500 * time.Millisecond},
		{raw: "0", def: time.Second, want: time.Second},
		{raw: "-1s", wantErr: true},
		{raw: "-30", wantErr: true},
		{raw: "NaN", wantErr: true},
		{raw: "3 minutes", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("telegrams.recruitment_cooldown", tt.raw, tt.def)
		if tt.wantErr {
			if err == nil || !strings.Contains(err.Error(), "telegrams.recruitment_cooldown") {
				t.Fatalf("%q: err = %v, want an error naming the key", tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("%q: got %v, %v want %v", tt.raw, got, err, tt.want)
		}
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegrams: TelegramsConfig{ClientKey: "aaa"}}
	newCfg := &Config{Telegrams: TelegramsConfig{ClientKey: "bbb"}, Update: UpdateConfig{Mode: "minor"}}

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "update" {
		t.Fatalf("changed = %v, want only update (key rotation is not a visible change)", changed)
	}
}

func TestManagerLoadAndSubscribe(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tagtimer.json")
	if err := os.WriteFile(path, []byte(`{"nsapi":{"user":"a"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}

	ch := m.Subscribe(1)
	next := &Config{NSAPI: NSAPIConfig{User: "b"}}
	m.publish(next)
	m.publish(&Config{NSAPI: NSAPIConfig{User: "c"}})
	got := <-ch
	if got.NSAPI.User != "c" {
		t.Fatalf("slow subscriber should see the newest config, got %q", got.NSAPI.User)
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

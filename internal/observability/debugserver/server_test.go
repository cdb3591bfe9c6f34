package debugserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "tagtimer/pkg/logx"
)

func waitAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != "" {
			return a
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("debug server did not bind")
	return ""
}

func get(t *testing.T, url, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServesMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "tagtimer_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	healthy := true
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "sekrit"}, reg,
		func() (any, bool) { return map[string]bool{"api": healthy}, healthy }, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)
	base := "http://" + waitAddr(t, s)

	if code, _ := get(t, base+"/metrics", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: status=%d", code)
	}
	code, body := get(t, base+"/metrics", "sekrit")
	if code != http.StatusOK || !strings.Contains(body, "tagtimer_test_total 3") {
		t.Fatalf("metrics: status=%d body=%q", code, body)
	}
	code, body = get(t, base+"/healthz?token=sekrit", "")
	if code != http.StatusOK || !strings.Contains(body, `"api":true`) {
		t.Fatalf("healthz: status=%d body=%q", code, body)
	}
	if code, _ := get(t, base+"/debug/pprof/", "sekrit"); code != http.StatusNotFound {
		t.Fatalf("pprof should be off, status=%d", code)
	}
}

func TestUnhealthyAnswers503(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, func() (any, bool) { return "degraded", false }, logx.Nop())
	rec := httptest.NewRecorder()
	s.handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestPprofToggle(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, nil, logx.Nop())
	rec := httptest.NewRecorder()
	s.handler(Config{Pprof: true}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("pprof index status=%d", rec.Code)
	}
}

func TestReconfigureStops(t *testing.T) {
	s := New(Config{}, nil, nil, logx.Nop())
	ctx := context.Background()
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	waitAddr(t, s)
	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Supervisor() != nil || s.Addr() != "" {
		t.Fatalf("server still running after disable")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9464":          false,
		"0.0.0.0:9464":   false,
		"10.0.0.2:9464":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}

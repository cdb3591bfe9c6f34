package messages

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagtimer/internal/dispatch"
	logx "tagtimer/pkg/logx"
)

type apiRecorder struct {
	mu      sync.Mutex
	targets []string
	times   []time.Time
	reply   string
}

func (a *apiRecorder) Execute(_ context.Context, t *dispatch.Ticket) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.targets = append(a.targets, t.Target)
	a.times = append(a.times, time.Now())
	return []byte(a.reply), nil
}

// sendTGTimes returns when each sendTG call reached the API.
func (a *apiRecorder) sendTGTimes() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []time.Time
	for i, target := range a.targets {
		if strings.Contains(target, "a=sendTG") {
			out = append(out, a.times[i])
		}
	}
	return out
}

func (a *apiRecorder) seen() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.targets...)
}

func startPair(t *testing.T, reply string) (*apiRecorder, *dispatch.Scheduler) {
	t.Helper()
	rec := &apiRecorder{reply: reply}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	guard := dispatch.NewGuard()
	api := dispatch.New(dispatch.Config{
		Name:     "api",
		Policy:   dispatch.NewFixedInterval(time.Millisecond),
		Executor: rec,
		Guard:    guard,
	}, logx.Nop(), nil, nil)
	tgs := dispatch.New(dispatch.Config{
		Name:     "telegrams",
		Policy:   dispatch.NewTelegramCooldown(40*time.Millisecond, 10*time.Millisecond, time.Nanosecond),
		Executor: Relay{API: api, Timeout: time.Second},
	}, logx.Nop(), nil, nil)
	go func() { _ = api.Run(ctx) }()
	go func() { _ = tgs.Run(ctx) }()
	return rec, tgs
}

func TestSendRelaysThroughAPI(t *testing.T) {
	t.Parallel()
	rec, tgs := startPair(t, "queued")
	svc := NewService(Config{ClientKey: "c&k", AwaitTimeout: 2 * time.Second}, tgs, logx.Nop())

	err := svc.Send(context.Background(), Telegram{To: "Some Nation", TGID: "123", Key: "abc", Category: dispatch.CategoryRecruitment})
	require.NoError(t, err)

	seen := rec.seen()
	require.Len(t, seen, 1)
	_, query, ok := strings.Cut(seen[0], "?")
	require.True(t, ok)
	q, err := url.ParseQuery(query)
	require.NoError(t, err)
	assert.Equal(t, "sendTG", q.Get("a"))
	assert.Equal(t, "c&k", q.Get("client"))
	assert.Equal(t, "123", q.Get("tgid"))
	assert.Equal(t, "Some Nation", q.Get("to"))
}

func TestRecruitmentHoldsLongerCooldown(t *testing.T) {
	t.Parallel()
	_, tgs := startPair(t, "queued")
	svc := NewService(Config{ClientKey: "k", AwaitTimeout: 2 * time.Second}, tgs, logx.Nop())
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, Telegram{To: "a", TGID: "1", Key: "k", Category: dispatch.CategoryRecruitment}))
	start := time.Now()
	require.NoError(t, svc.Send(ctx, Telegram{To: "b", TGID: "1", Key: "k"}))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestSendRejectsUnqueuedReply(t *testing.T) {
	t.Parallel()
	_, tgs := startPair(t, "Client not registered for API.")
	svc := NewService(Config{ClientKey: "k", AwaitTimeout: 2 * time.Second}, tgs, logx.Nop())

	err := svc.Send(context.Background(), Telegram{To: "a", TGID: "1", Key: "k"})
	assert.ErrorIs(t, err, ErrNotQueued)
}

func TestSendValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		key  string
		tg   Telegram
		want error
	}{
		{"no client key", "", Telegram{To: "a", TGID: "1", Key: "k"}, ErrNoClientKey},
		{"no recipient", "k", Telegram{To: " ", TGID: "1", Key: "k"}, ErrNoRecipient},
		{"no template", "k", Telegram{To: "a", TGID: "1"}, ErrNoTemplate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := NewService(Config{ClientKey: tt.key}, nil, logx.Nop())
			assert.ErrorIs(t, svc.Send(context.Background(), tt.tg), tt.want)
		})
	}
}

func TestSendTimesOutWhenSchedulerIsStopped(t *testing.T) {
	t.Parallel()
	tgs := dispatch.New(dispatch.Config{Name: "telegrams", Executor: Relay{}}, logx.Nop(), nil, nil)
	svc := NewService(Config{ClientKey: "k", AwaitTimeout: 20 * time.Millisecond}, tgs, logx.Nop())

	err := svc.Send(context.Background(), Telegram{To: "a", TGID: "1", Key: "k"})
	assert.ErrorIs(t, err, dispatch.ErrAwaitTimeout)
}

// startBacklogged runs an api scheduler that already holds backlog generic
// calls, and a telegrams scheduler relaying through it.
func startBacklogged(t *testing.T, backlog int, apiGap, cooldown, relayTimeout time.Duration) (*apiRecorder, *dispatch.Scheduler, *dispatch.Ticket) {
	t.Helper()
	rec := &apiRecorder{reply: "queued"}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	api := dispatch.New(dispatch.Config{
		Name:     "api",
		Policy:   dispatch.NewFixedInterval(apiGap),
		Executor: rec,
	}, logx.Nop(), nil, nil)
	var last *dispatch.Ticket
	for i := 0; i < backlog; i++ {
		last = api.Enqueue("/cgi-bin/api.cgi?q=happenings")
	}
	tgs := dispatch.New(dispatch.Config{
		Name:     "telegrams",
		Policy:   dispatch.NewTelegramCooldown(cooldown, cooldown, time.Nanosecond),
		Executor: Relay{API: api, Timeout: relayTimeout},
	}, logx.Nop(), nil, nil)
	go func() { _ = api.Run(ctx) }()
	go func() { _ = tgs.Run(ctx) }()
	return rec, tgs, last
}

func sendBoth(t *testing.T, svc *Service) []error {
	t.Helper()
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, to := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = svc.Send(context.Background(), Telegram{To: to, TGID: "1", Key: "k"})
		}()
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()
	return errs
}

func TestRelayTimeoutWithdrawsTelegram(t *testing.T) {
	t.Parallel()
	// 30 calls 20ms apart keep the api busy for ~600ms; each relay gives up
	// after 50ms.
	rec, tgs, last := startBacklogged(t, 30, 20*time.Millisecond, 200*time.Millisecond, 50*time.Millisecond)
	svc := NewService(Config{ClientKey: "k", AwaitTimeout: 2 * time.Second}, tgs, logx.Nop())

	for _, err := range sendBoth(t, svc) {
		require.ErrorIs(t, err, dispatch.ErrAwaitTimeout)
	}
	_, err := dispatch.Await(context.Background(), last, 2*time.Second)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, rec.sendTGTimes(), "a telegram reported as failed must not reach the api")
}

func TestCooldownCountsFromActualSend(t *testing.T) {
	t.Parallel()
	const cooldown = 60 * time.Millisecond
	rec, tgs, _ := startBacklogged(t, 10, 10*time.Millisecond, cooldown, 0)
	svc := NewService(Config{ClientKey: "k", AwaitTimeout: 2 * time.Second}, tgs, logx.Nop())

	for _, err := range sendBoth(t, svc) {
		require.NoError(t, err)
	}
	sent := rec.sendTGTimes()
	require.Len(t, sent, 2)
	assert.GreaterOrEqual(t, sent[1].Sub(sent[0]), cooldown)
}

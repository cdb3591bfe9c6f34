package watch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagtimer/internal/estimator"
	"tagtimer/internal/transport"
	"tagtimer/internal/updatewindow"
	logx "tagtimer/pkg/logx"
)

type fakeEstimator struct {
	anchor *time.Time
	etas   map[string]float64
}

func (f *fakeEstimator) Anchor() (time.Time, bool) {
	if f.anchor == nil {
		return time.Time{}, false
	}
	return *f.anchor, true
}

func (f *fakeEstimator) EstimateETA(_ context.Context, region string, _ updatewindow.Mode) (float64, error) {
	eta, ok := f.etas[region]
	if !ok {
		return 0, estimator.ErrRegionNotFound
	}
	return eta, nil
}

type recorder struct {
	mu   sync.Mutex
	fail error
	sent []transport.Notification
}

func (r *recorder) Notify(_ context.Context, n transport.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, n)
	return nil
}

func setup(now time.Time, anchor *time.Time) (*Watcher, *fakeEstimator, *recorder) {
	est := &fakeEstimator{anchor: anchor, etas: map[string]float64{
		"lazarus":     600,
		"the_pacific": 1200,
		"osiris":      60,
	}}
	rec := &recorder{}
	w := New(Config{
		Regions: []string{"Lazarus", "the pacific", "lazarus", "osiris", "nowhere"},
		Lead:    30 * time.Second,
		Mode:    updatewindow.Minor,
		Target:  transport.ChatTarget{ChatID: 42},
	}, est, rec, logx.Nop(), nil, nil)
	w.now = func() time.Time { return now }
	return w, est, rec
}

func TestCheckWaitsForAnchor(t *testing.T) {
	t.Parallel()
	w, _, rec := setup(time.Unix(10_000, 0), nil)
	n, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, rec.sent)
}

func TestCheckAlertsOncePerCycle(t *testing.T) {
	t.Parallel()
	anchor := time.Unix(0, 0)
	// lazarus is due at 600s, alerted from 570s. osiris (60s) is stale.
	w, _, rec := setup(anchor.Add(580*time.Second), &anchor)
	assert.Equal(t, []string{"lazarus", "nowhere", "osiris", "the_pacific"}, w.Regions())

	n, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, rec.sent, 1)
	got := rec.sent[0]
	assert.Equal(t, "lazarus@0", got.Key)
	assert.Equal(t, int64(42), got.Target.ChatID)
	assert.True(t, strings.HasPrefix(got.Text, "lazarus updates in ~20s (minor"), got.Text)

	n, err = w.Check(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "no second alert in the same cycle")
}

func TestCheckAlertsLaterRegions(t *testing.T) {
	t.Parallel()
	anchor := time.Unix(0, 0)
	w, _, rec := setup(anchor.Add(1190*time.Second), &anchor)
	n, err := w.Check(context.Background())
	require.NoError(t, err)
	// lazarus passed 590s ago and is stale; the_pacific is in 10s.
	assert.Equal(t, 1, n)
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "the_pacific@0", rec.sent[0].Key)
}

func TestFormatAlertNow(t *testing.T) {
	t.Parallel()
	d := Due{Region: "lazarus", At: time.Unix(3600, 0), ETA: -time.Second}
	assert.Equal(t, "lazarus updates now (major, est. 01:00:00 UTC)", formatAlert(d, updatewindow.Major))
}

func TestCheckAlertsAgainNextCycle(t *testing.T) {
	t.Parallel()
	first := time.Unix(0, 0)
	w, est, rec := setup(first.Add(580*time.Second), &first)

	n, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The next update re-anchors twelve hours later.
	second := first.Add(12 * time.Hour)
	est.anchor = &second
	w.now = func() time.Time { return second.Add(580 * time.Second) }

	n, err = w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, rec.sent, 2)
	assert.Equal(t, "lazarus@0", rec.sent[0].Key)
	assert.Equal(t, "lazarus@43200", rec.sent[1].Key)
}

func TestCheckRetriesFailedNotify(t *testing.T) {
	t.Parallel()
	anchor := time.Unix(0, 0)
	w, _, rec := setup(anchor.Add(580*time.Second), &anchor)
	rec.fail = errors.New("notifier disabled")

	n, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	rec.mu.Lock()
	rec.fail = nil
	rec.mu.Unlock()

	n, err = w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a failed alert is retried on the next check")
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "lazarus@0", rec.sent[0].Key)
}

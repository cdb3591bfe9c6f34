package estimator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagtimer/internal/dispatch"
	"tagtimer/internal/nsapi"
	"tagtimer/internal/storage"
	"tagtimer/internal/updatewindow"
	logx "tagtimer/pkg/logx"
)

// newWorld stores 100 nations; index 5 is "testland". Region "target"
// starts at index 10.
func newWorld(t *testing.T) storage.Store {
	t.Helper()
	w := storage.World{}
	for i := 1; i <= 100; i++ {
		name := fmt.Sprintf("n%d", i)
		if i == 5 {
			name = "Testland"
		}
		w.Nations = append(w.Nations, storage.Nation{Name: name, Index: i, Region: "somewhere"})
	}
	w.Regions = []storage.Region{
		{Name: "Target", FirstNation: "n10", NumNations: 1},
		{Name: "Late", FirstNation: "n90", NumNations: 4},
		{Name: "Ghost", NumNations: 0},
		{Name: "Orphan", FirstNation: "vanished", NumNations: 3},
	}
	st := storage.NewMemory()
	require.NoError(t, st.ReplaceWorld(context.Background(), w))
	return st
}

func newPacer(t *testing.T, st storage.Store) *updatewindow.Source {
	t.Helper()
	src := updatewindow.NewSource(updatewindow.Static(updatewindow.Windows{
		Major: updatewindow.Window{Start: 0, End: 7200},
		Minor: updatewindow.Window{Start: 0, End: 3600},
	}), st, logx.Nop(), nil)
	require.NoError(t, src.Refresh(context.Background()))
	return src
}

func newEstimator(t *testing.T, cfg Config) *Estimator {
	t.Helper()
	if cfg.Anchor.Location == nil {
		rule, err := LoadAnchorRule("", nil)
		require.NoError(t, err)
		cfg.Anchor = rule
	}
	st := newWorld(t)
	return New(cfg, st, newPacer(t, st), logx.Nop(), nil, nil)
}

func TestEmptyWindowEstimateEqualsBaseline(t *testing.T) {
	t.Parallel()
	e := newEstimator(t, Config{})
	ctx := context.Background()

	base, err := e.BaselineETA(ctx, "target", updatewindow.Minor)
	require.NoError(t, err)
	est, err := e.EstimateETA(ctx, "Target", updatewindow.Minor)
	require.NoError(t, err)
	assert.Equal(t, 360.0, base)
	assert.Equal(t, 360.0, est)
}

func TestLegacyEmptyCorrection(t *testing.T) {
	t.Parallel()
	e := newEstimator(t, Config{EmptyCorrection: 1.0})
	est, err := e.EstimateETA(context.Background(), "target", updatewindow.Minor)
	require.NoError(t, err)
	assert.Equal(t, 370.0, est)
}

func TestBaselineMonotonicInIndex(t *testing.T) {
	t.Parallel()
	e := newEstimator(t, Config{})
	ctx := context.Background()
	for _, mode := range []updatewindow.Mode{updatewindow.Minor, updatewindow.Major} {
		early, err := e.BaselineETA(ctx, "target", mode)
		require.NoError(t, err)
		late, err := e.BaselineETA(ctx, "late", mode)
		require.NoError(t, err)
		assert.Less(t, early, late, mode.String())
	}
	major, _ := e.BaselineETA(ctx, "late", updatewindow.Major)
	assert.Equal(t, 90*72.0, major)
}

func TestResolutionFailuresReturnZero(t *testing.T) {
	t.Parallel()
	e := newEstimator(t, Config{})
	ctx := context.Background()
	tests := []struct {
		region string
		want   error
	}{
		{"atlantis", ErrRegionNotFound},
		{"ghost", ErrRegionEmpty},
		{"orphan", ErrUnitNotFound},
	}
	for _, tt := range tests {
		eta, err := e.EstimateETA(ctx, tt.region, updatewindow.Major)
		assert.ErrorIs(t, err, tt.want, tt.region)
		assert.Zero(t, eta, tt.region)
		base, err := e.BaselineETA(ctx, tt.region, updatewindow.Major)
		assert.ErrorIs(t, err, tt.want, tt.region)
		assert.Zero(t, base, tt.region)
		assert.True(t, IsResolution(err))
	}
}

func TestAnchorScenarioSample(t *testing.T) {
	t.Parallel()
	e := newEstimator(t, Config{})
	ctx := context.Background()

	_, ok := e.Anchor()
	require.False(t, ok)

	st, err := e.IngestFeed(ctx, []nsapi.Event{
		{Timestamp: 1000, Text: "Testland@@ was ranked in the top 10% of the world for Most Nations."},
	}, updatewindow.Minor)
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Matched: 1, Sampled: 1}, st)

	// 1000s after the epoch is 19:16 EST on the previous day, floored to 19:00.
	anchor, ok := e.Anchor()
	require.True(t, ok)
	assert.Equal(t, int64(0), anchor.Unix())
	assert.Equal(t, []float64{(1000.0 - 0 - 5*36) / 5}, e.Samples())

	// A later event keeps the anchor.
	_, err = e.IngestFeed(ctx, []nsapi.Event{{Timestamp: 7200, Text: "@@n10@@ was ranked in the top 5%"}}, updatewindow.Minor)
	require.NoError(t, err)
	again, _ := e.Anchor()
	assert.Equal(t, anchor, again)

	est, err := e.EstimateETA(ctx, "target", updatewindow.Minor)
	require.NoError(t, err)
	avg := (164.0 + (7200.0-360)/10) / 2
	assert.InDelta(t, 360+10*avg, est, 1e-9)
}

func TestIngestSkipsNoiseAndUnknownNations(t *testing.T) {
	t.Parallel()
	e := newEstimator(t, Config{})
	st, err := e.IngestFeed(context.Background(), []nsapi.Event{
		{Timestamp: 10, Text: "@@n2@@ relocated from %%a%% to %%b%%."},
		{Timestamp: 20, Text: "@@nobody@@ gained influence in %%somewhere%%."},
		{Timestamp: 30, Text: "@@n2@@ gained influence in %%somewhere%%."},
	}, updatewindow.Major)
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Matched: 2, Ignored: 1, Unknown: 1, Sampled: 1}, st)
	assert.Len(t, e.Samples(), 1)
}

func TestIngestFailsWithoutUnits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	empty := storage.NewMemory()
	require.NoError(t, empty.ReplaceWorld(ctx, storage.World{}))
	src := updatewindow.NewSource(updatewindow.Static(updatewindow.Windows{
		Major: updatewindow.Window{Start: 0, End: 10},
		Minor: updatewindow.Window{Start: 0, End: 10},
	}), empty, logx.Nop(), nil)

	_, err := src.PaceIndex(ctx, updatewindow.Major)
	require.ErrorIs(t, err, updatewindow.ErrNoWindow)
	require.NoError(t, src.Refresh(ctx))

	e := New(Config{}, fixedLookup{}, src, logx.Nop(), nil, nil)
	_, err = e.IngestFeed(ctx, []nsapi.Event{{Timestamp: 5, Text: "@@x@@ was ranked in the top"}}, updatewindow.Major)
	assert.ErrorIs(t, err, updatewindow.ErrNoUnits)
	_, ok := e.Anchor()
	assert.False(t, ok, "no anchor without a sample")
}

func visit(nation string, at time.Time) nsapi.Event {
	return nsapi.Event{Timestamp: at.Unix(), Text: "@@" + nation + "@@ was ranked in the top 5%"}
}

func TestAnchorFollowsUpdateCycles(t *testing.T) {
	t.Parallel()
	e := newEstimator(t, Config{})
	ctx := context.Background()
	loc := e.cfg.Anchor.Location
	first := time.Date(2024, 3, 1, 0, 0, 0, 0, loc)
	second := time.Date(2024, 3, 1, 12, 0, 0, 0, loc)

	// Testland (index 5) runs 50s late, n10 is exactly on pace.
	_, err := e.IngestFeed(ctx, []nsapi.Event{
		visit("testland", first.Add(5*36*time.Second+50*time.Second)),
		visit("n10", first.Add(360*time.Second)),
	}, updatewindow.Minor)
	require.NoError(t, err)
	anchor, _ := e.Anchor()
	assert.True(t, first.Equal(anchor), anchor.String())
	assert.Equal(t, []float64{10, 0}, e.Samples())

	st, err := e.IngestFeed(ctx, []nsapi.Event{visit("n10", second.Add(360*time.Second))}, updatewindow.Minor)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Sampled)
	anchor, _ = e.Anchor()
	assert.True(t, second.Equal(anchor), anchor.String())
	assert.Equal(t, []float64{0}, e.Samples(), "the previous cycle's samples are dropped")

	eta, err := e.EstimateETA(ctx, "late", updatewindow.Minor)
	require.NoError(t, err)
	assert.Equal(t, 90*36.0, eta)

	// A straggler from the first cycle is not measured against the new anchor.
	st, err = e.IngestFeed(ctx, []nsapi.Event{visit("n10", first.Add(400*time.Second))}, updatewindow.Minor)
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Matched: 1, Stale: 1}, st)
	assert.Equal(t, []float64{0}, e.Samples())
}

func TestCycleStart(t *testing.T) {
	t.Parallel()
	rule, err := LoadAnchorRule("America/New_York", []int{0, 12})
	require.NoError(t, err)
	loc := rule.Location
	tests := []struct {
		at   time.Time
		want time.Time
	}{
		{time.Date(2024, 3, 1, 0, 0, 0, 0, loc), time.Date(2024, 3, 1, 0, 0, 0, 0, loc)},
		{time.Date(2024, 3, 1, 2, 30, 0, 0, loc), time.Date(2024, 3, 1, 0, 0, 0, 0, loc)},
		{time.Date(2024, 3, 1, 11, 59, 0, 0, loc), time.Date(2024, 3, 1, 0, 0, 0, 0, loc)},
		{time.Date(2024, 3, 1, 23, 10, 0, 0, loc), time.Date(2024, 3, 1, 12, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		assert.True(t, tt.want.Equal(rule.CycleStart(tt.at.UTC())), tt.at.String())
	}
}

// busyLookup fails lookups of one nation the way a locked database would.
type busyLookup struct {
	Lookup
	nation string
}

func (b busyLookup) GetNation(ctx context.Context, name string) (storage.Nation, error) {
	if name == b.nation {
		return storage.Nation{}, errors.New("database is locked")
	}
	return b.Lookup.GetNation(ctx, name)
}

func TestIngestContinuesPastStoreErrors(t *testing.T) {
	t.Parallel()
	rule, err := LoadAnchorRule("", nil)
	require.NoError(t, err)
	st := newWorld(t)
	e := New(Config{Anchor: rule}, busyLookup{Lookup: st, nation: "n2"}, newPacer(t, st), logx.Nop(), nil, nil)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, rule.Location)

	stats, err := e.IngestFeed(context.Background(), []nsapi.Event{
		visit("testland", start.Add(5*36*time.Second+50*time.Second)),
		visit("n2", start.Add(100*time.Second)),
		visit("n10", start.Add(360*time.Second)),
	}, updatewindow.Minor)
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Matched: 3, Failed: 1, Sampled: 2}, stats)
	assert.Equal(t, []float64{10, 0}, e.Samples())
}

type fixedLookup struct{}

func (fixedLookup) GetNation(context.Context, string) (storage.Nation, error) {
	return storage.Nation{Name: "x", Index: 1}, nil
}

func (fixedLookup) GetRegion(context.Context, string) (storage.Region, error) {
	return storage.Region{}, storage.ErrNotFound
}

func TestWindowEvictsOldest(t *testing.T) {
	t.Parallel()
	w := NewWindow(0)
	require.Equal(t, 8, w.Cap())
	for i := 1; i <= 8; i++ {
		assert.False(t, w.Push(float64(i)))
	}
	assert.True(t, w.Push(9))
	assert.Equal(t, []float64{2, 3, 4, 5, 6, 7, 8, 9}, w.Snapshot())
	assert.Equal(t, 8, w.Len())

	snap := w.Snapshot()
	snap[0] = 100
	avg, ok := w.Average()
	require.True(t, ok)
	assert.Equal(t, 5.5, avg, "snapshot is a copy")
}

func TestAnchorRule(t *testing.T) {
	t.Parallel()
	rule, err := LoadAnchorRule("America/New_York", []int{0, 12})
	require.NoError(t, err)
	loc := rule.Location
	tests := []struct {
		at   time.Time
		want time.Time
	}{
		{time.Date(2024, 3, 1, 0, 17, 3, 0, loc), time.Date(2024, 3, 1, 0, 0, 0, 0, loc)},
		{time.Date(2024, 3, 1, 1, 12, 0, 0, loc), time.Date(2024, 3, 1, 0, 0, 0, 0, loc)},
		{time.Date(2024, 3, 1, 13, 59, 0, 0, loc), time.Date(2024, 3, 1, 12, 0, 0, 0, loc)},
		{time.Date(2024, 3, 1, 2, 30, 0, 0, loc), time.Date(2024, 3, 1, 2, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		assert.True(t, tt.want.Equal(rule.Derive(tt.at.UTC())), tt.at.String())
	}

	_, err = LoadAnchorRule("Mars/Olympus", nil)
	assert.Error(t, err)
}

func TestNewSampleInput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"Testland@@ was ranked in the top 10%", "testland", true},
		{"@@the_new_order@@ gained influence in %%lazarus%%.", "the_new_order", true},
		{"@@a@@ was ranked in the", "a", true},
		{"@@a@@ endorsed @@b@@.", "", false},
		{"  @@ was ranked in the top", "", false},
	}
	for _, tt := range tests {
		in, ok := newSampleInput(nsapi.Event{Timestamp: 1, Text: tt.text})
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, in.Nation, tt.text)
	}
}

type feedServer struct {
	mu      sync.Mutex
	targets []string
	pages   []string
}

func (f *feedServer) Execute(_ context.Context, t *dispatch.Ticket) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, t.Target)
	page := "<WORLD><HAPPENINGS></HAPPENINGS></WORLD>"
	if len(f.pages) > 0 {
		page, f.pages = f.pages[0], f.pages[1:]
	}
	return []byte(page), nil
}

func TestPollerAdvancesCursor(t *testing.T) {
	t.Parallel()
	e := newEstimator(t, Config{})
	feed := &feedServer{pages: []string{
		`<WORLD><HAPPENINGS>
<EVENT><TIMESTAMP>2000</TIMESTAMP><TEXT>@@n10@@ was ranked in the top</TEXT></EVENT>
<EVENT><TIMESTAMP>1000</TIMESTAMP><TEXT>Testland@@ was ranked in the top</TEXT></EVENT>
</HAPPENINGS></WORLD>`,
		`<WORLD><HAPPENINGS>
<EVENT><TIMESTAMP>2000</TIMESTAMP><TEXT>@@n10@@ was ranked in the top</TEXT></EVENT>
</HAPPENINGS></WORLD>`,
	}}
	api := dispatch.New(dispatch.Config{
		Name:     "poll-test",
		Policy:   dispatch.NewFixedInterval(time.Millisecond),
		Executor: feed,
		LockPath: dispatch.LockPath(t.TempDir(), "poll-test"),
	}, logx.Nop(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = api.Run(ctx) }()

	p := NewPoller(api, e, updatewindow.Minor, 2*time.Second, logx.Nop())
	// 2500s after the epoch is 19:41 EST; that cycle began at 12:00 EST.
	p.now = func() time.Time { return time.Unix(2500, 0) }
	cycle := e.CycleStart(p.now())
	require.Equal(t, int64(-7*3600), cycle.Unix())

	st, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Sampled)
	assert.Equal(t, int64(2000), p.Cursor())

	samples := e.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, 164.0, samples[0], "oldest event is ingested first and sets the anchor")

	st, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Matched, "events at the cursor are not replayed")

	feed.mu.Lock()
	defer feed.mu.Unlock()
	require.Len(t, feed.targets, 2)
	assert.True(t, strings.HasSuffix(feed.targets[0], "sincetime=-25201"), feed.targets[0])
	assert.True(t, strings.HasSuffix(feed.targets[1], "sincetime=2000"))
}

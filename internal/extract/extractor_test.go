package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/terraclimate-extract/internal/adapter/store"
	"go.ngs.io/terraclimate-extract/internal/domain"
	"go.ngs.io/terraclimate-extract/internal/observability"
	"go.ngs.io/terraclimate-extract/internal/spatial"
)

var errUpstream = errors.New("upstream: connection reset")

type fakeHandle struct {
	steps   int
	reads   atomic.Int64
	mu      sync.Mutex
	failFor map[domain.CellIndex]int // remaining failures per cell; negative fails forever
	missing map[domain.CellIndex]bool
	extra   map[domain.CellIndex]int // values returned beyond the requested count
	// failFirst fails the first n reads regardless of cell.
	failFirst int64
	windows   [][2]int
}

func (h *fakeHandle) TimeSteps() int { return h.steps }

func (h *fakeHandle) ReadColumn(ctx context.Context, cell domain.CellIndex, start, count int) ([]domain.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.reads.Add(1) <= h.failFirst {
		return nil, errUpstream
	}

	h.mu.Lock()
	h.windows = append(h.windows, [2]int{start, count})
	if n, ok := h.failFor[cell]; ok && n != 0 {
		if n > 0 {
			h.failFor[cell] = n - 1
		}
		h.mu.Unlock()
		return nil, errUpstream
	}
	h.mu.Unlock()

	out := make([]domain.Value, count+h.extra[cell])
	for k := range out {
		if h.missing[cell] {
			out[k] = domain.Missing
			continue
		}
		out[k] = domain.Some(float64(cell.Lat*1000 + start + k))
	}
	return out, nil
}

func (h *fakeHandle) Close() error { return nil }

type fakeSource struct {
	handles map[string]*fakeHandle
	openErr map[string]error
	opens   atomic.Int64
}

func (s *fakeSource) Open(_ context.Context, variable string) (store.VariableHandle, error) {
	s.opens.Add(1)
	if err := s.openErr[variable]; err != nil {
		return nil, err
	}
	h, ok := s.handles[variable]
	if !ok {
		return nil, errors.New("no such variable")
	}
	return h, nil
}

func testIndex(ids ...string) *spatial.Index {
	cells := make(map[string]domain.CellIndex, len(ids))
	for i, id := range ids {
		cells[id] = domain.CellIndex{Lat: i, Lon: i}
	}
	return &spatial.Index{
		Provenance: spatial.Provenance{Tolerance: spatial.DefaultTolerance, LatLen: 10, LonLen: 10},
		Cells:      cells,
	}
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// timerSleep waits for real; the breaker's cooldown runs on wall time.
func timerSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, MinWait: time.Millisecond, MaxWait: time.Millisecond}
}

func newTestExtractor(src store.VariableSource, cfg Config, opts ...Option) *Extractor {
	opts = append([]Option{
		WithLogger(observability.Discard()),
		WithMetrics(observability.NewMetricsForTesting()),
		WithSleepFunc(noSleep),
	}, opts...)
	return NewExtractor(src, cfg, opts...)
}

func TestExtract_OneRequestPerLocation(t *testing.T) {
	h := &fakeHandle{steps: 24}
	src := &fakeSource{handles: map[string]*fakeHandle{"tmax": h}}
	e := newTestExtractor(src, Config{})

	res, err := e.Extract(context.Background(), "tmax", testIndex("A", "B", "C"), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), src.opens.Load(), "handle must be opened once per variable")
	assert.Equal(t, int64(3), h.reads.Load(), "one slice request per matched location")
	assert.Equal(t, 3, res.Requests)
	assert.Len(t, res.Points, 3*24)
	assert.Empty(t, res.Failures)

	var first *domain.TimeSeriesPoint
	for i := range res.Points {
		p := &res.Points[i]
		if p.LocationID == "A" && p.Year == 1958 && p.Month == 1 {
			first = p
		}
	}
	require.NotNil(t, first)
	assert.Equal(t, "tmax", first.Variable)
	v, ok := first.Value.Float()
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestExtract_YearRangeSetsWindow(t *testing.T) {
	h := &fakeHandle{steps: 36}
	src := &fakeSource{handles: map[string]*fakeHandle{"ppt": h}}
	e := newTestExtractor(src, Config{})

	res, err := e.Extract(context.Background(), "ppt", testIndex("A"), &YearRange{Start: 1959, End: 1959})
	require.NoError(t, err)

	assert.Equal(t, Window{EpochYear: 1958, Start: 12, Count: 12}, res.Window)
	require.Len(t, h.windows, 1)
	assert.Equal(t, [2]int{12, 12}, h.windows[0])
	for _, p := range res.Points {
		assert.Equal(t, 1959, p.Year)
	}
}

func TestExtract_MissingValuesKeepRows(t *testing.T) {
	h := &fakeHandle{steps: 12, missing: map[domain.CellIndex]bool{{Lat: 1, Lon: 1}: true}}
	src := &fakeSource{handles: map[string]*fakeHandle{"soil": h}}
	e := newTestExtractor(src, Config{})

	res, err := e.Extract(context.Background(), "soil", testIndex("A", "B"), nil)
	require.NoError(t, err)
	require.Len(t, res.Points, 24)

	missing := 0
	for _, p := range res.Points {
		if p.LocationID == "B" {
			assert.True(t, p.Value.IsMissing())
			missing++
		}
	}
	assert.Equal(t, 12, missing)
}

func TestExtract_RetriesTransientFailure(t *testing.T) {
	h := &fakeHandle{steps: 12, failFor: map[domain.CellIndex]int{{Lat: 1, Lon: 1}: 2}}
	src := &fakeSource{handles: map[string]*fakeHandle{"tmin": h}}

	var sleeps atomic.Int64
	e := newTestExtractor(src, Config{}, WithSleepFunc(func(ctx context.Context, _ time.Duration) error {
		sleeps.Add(1)
		return ctx.Err()
	}))

	res, err := e.Extract(context.Background(), "tmin", testIndex("A", "B", "C"), nil)
	require.NoError(t, err)

	assert.Empty(t, res.Failures)
	assert.Len(t, res.Points, 36)
	assert.Equal(t, int64(5), h.reads.Load())
	assert.Equal(t, int64(2), sleeps.Load())
}

func TestExtract_ExhaustedRetriesRecordFailure(t *testing.T) {
	h := &fakeHandle{steps: 12, failFor: map[domain.CellIndex]int{{Lat: 1, Lon: 1}: -1}}
	src := &fakeSource{handles: map[string]*fakeHandle{"tmin": h}}
	e := newTestExtractor(src, Config{})

	res, err := e.Extract(context.Background(), "tmin", testIndex("A", "B", "C"), nil)
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, "B", f.LocationID)
	assert.Equal(t, "tmin", f.Variable)
	assert.Equal(t, 3, f.Attempts)
	assert.Contains(t, f.Reason, "connection reset")

	assert.Len(t, res.Points, 24)
	for _, p := range res.Points {
		assert.NotEqual(t, "B", p.LocationID)
	}
}

func TestExtract_AbortsOverFailureThreshold(t *testing.T) {
	fail := map[domain.CellIndex]int{}
	for i := range 4 {
		fail[domain.CellIndex{Lat: i, Lon: i}] = -1
	}
	h := &fakeHandle{steps: 12, failFor: fail}
	src := &fakeSource{handles: map[string]*fakeHandle{"vpd": h}}
	e := newTestExtractor(src, Config{LocationWorkers: 1, FailureThresholdPct: 50})

	res, err := e.Extract(context.Background(), "vpd", testIndex("A", "B", "C", "D"), nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindSourceUnavailable))

	require.NotNil(t, res)
	assert.True(t, res.Aborted)
	assert.Empty(t, res.Points)
	assert.Len(t, res.Failures, 3)
}

func TestExtract_BriefOutageDoesNotAbortVariable(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = fmt.Sprintf("L%03d", i)
	}
	h := &fakeHandle{steps: 12, failFirst: 12}
	src := &fakeSource{handles: map[string]*fakeHandle{"tmax": h}}
	e := newTestExtractor(src, Config{
		LocationWorkers: 1,
		Retry:           fastRetry(),
		BreakerCooldown: 2 * time.Millisecond,
	}, WithSleepFunc(timerSleep))

	res, err := e.Extract(context.Background(), "tmax", testIndex(ids...), nil)
	require.NoError(t, err)

	assert.False(t, res.Aborted)
	require.Len(t, res.Failures, 4, "only locations whose own reads failed three times")
	for i, f := range res.Failures {
		assert.Equal(t, ids[i], f.LocationID)
		assert.Equal(t, 3, f.Attempts)
	}
	assert.Len(t, res.Points, 96*12)
	assert.Equal(t, int64(12+96), h.reads.Load())
}

func TestExtract_OpenBreakerPacesPersistentOutage(t *testing.T) {
	fail := map[domain.CellIndex]int{}
	for i := range 4 {
		fail[domain.CellIndex{Lat: i, Lon: i}] = -1
	}
	h := &fakeHandle{steps: 12, failFor: fail}
	src := &fakeSource{handles: map[string]*fakeHandle{"ws": h}}
	e := newTestExtractor(src, Config{
		LocationWorkers:     1,
		Retry:               fastRetry(),
		BreakerTrip:         2,
		BreakerCooldown:     time.Millisecond,
		BreakerWaits:        2,
		FailureThresholdPct: 100,
	}, WithSleepFunc(timerSleep))

	res, err := e.Extract(context.Background(), "ws", testIndex("A", "B", "C", "D"), nil)
	require.NoError(t, err)

	assert.Len(t, res.Failures, 4)
	assert.Empty(t, res.Points)
	assert.GreaterOrEqual(t, h.reads.Load(), int64(3))
	assert.LessOrEqual(t, h.reads.Load(), int64(4*3), "never more reads than the attempt budget")
}

func TestExtract_OversizedReadIsSliceFailure(t *testing.T) {
	h := &fakeHandle{steps: 12, extra: map[domain.CellIndex]int{{Lat: 0, Lon: 0}: 5}}
	src := &fakeSource{handles: map[string]*fakeHandle{"pet": h}}
	e := newTestExtractor(src, Config{})

	res, err := e.Extract(context.Background(), "pet", testIndex("A", "B"), nil)
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "A", res.Failures[0].LocationID)
	assert.Contains(t, res.Failures[0].Reason, "returned 17 values, want 12")
	assert.Len(t, res.Points, 12)
	for _, p := range res.Points {
		assert.Equal(t, "B", p.LocationID)
	}
}

func TestExtract_OpenFailureIsSourceUnavailable(t *testing.T) {
	src := &fakeSource{openErr: map[string]error{"swe": errUpstream}}
	e := newTestExtractor(src, Config{})

	res, err := e.Extract(context.Background(), "swe", testIndex("A"), nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, domain.IsKind(err, domain.KindSourceUnavailable))
	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, int64(3), src.opens.Load())
}

func TestExtract_WindowOutsideCoverage(t *testing.T) {
	src := &fakeSource{handles: map[string]*fakeHandle{"q": {steps: 12}}}
	e := newTestExtractor(src, Config{})

	_, err := e.Extract(context.Background(), "q", testIndex("A"), &YearRange{Start: 2100})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
}

func TestExtractAll_IsolatesVariableFailures(t *testing.T) {
	src := &fakeSource{
		handles: map[string]*fakeHandle{"tmax": {steps: 12}, "tmin": {steps: 12}},
		openErr: map[string]error{"ppt": errUpstream},
	}
	e := newTestExtractor(src, Config{VariableWorkers: 2})

	out, err := e.ExtractAll(context.Background(), []string{"tmax", "ppt", "tmin"}, testIndex("A", "B"), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"tmax", "tmin"}, out.Succeeded([]string{"tmax", "ppt", "tmin"}))
	require.Contains(t, out.Failed, "ppt")
	assert.True(t, domain.IsKind(out.Failed["ppt"], domain.KindSourceUnavailable))

	require.Len(t, out.Failures, 1)
	assert.Equal(t, "ppt", out.Failures[0].Variable)
	assert.Empty(t, out.Failures[0].LocationID)
}

func TestExtractAll_Cancelled(t *testing.T) {
	src := &fakeSource{handles: map[string]*fakeHandle{"tmax": {steps: 12}}}
	e := newTestExtractor(src, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ExtractAll(ctx, []string{"tmax"}, testIndex("A"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

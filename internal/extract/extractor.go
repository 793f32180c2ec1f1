// Package extract reads per-location monthly series for each climate variable
// from a shared variable handle, using a cached spatial index.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"go.ngs.io/terraclimate-extract/internal/adapter/store"
	"go.ngs.io/terraclimate-extract/internal/domain"
	"go.ngs.io/terraclimate-extract/internal/observability"
	"go.ngs.io/terraclimate-extract/internal/spatial"
)

const (
	DefaultEpochYear           = 1958
	DefaultVariableWorkers     = 4
	DefaultLocationWorkers     = 8
	DefaultFailureThresholdPct = 50.0
	DefaultBreakerTrip         = 10
	DefaultBreakerCooldown     = 10 * time.Second
	DefaultBreakerWaits        = 10
)

// Config tunes an Extractor.
type Config struct {
	EpochYear           int
	VariableWorkers     int
	LocationWorkers     int
	Retry               RetryPolicy
	FailureThresholdPct float64 // Abort a variable once this share of locations has failed.
	BreakerTrip         uint32  // Consecutive failures that open the breaker.

	// BreakerCooldown is how long the breaker stays open before a trial read.
	BreakerCooldown time.Duration
	// BreakerWaits caps how often one location waits on an open breaker.
	// Waits do not use up read attempts.
	BreakerWaits int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		EpochYear:           DefaultEpochYear,
		VariableWorkers:     DefaultVariableWorkers,
		LocationWorkers:     DefaultLocationWorkers,
		Retry:               DefaultRetryPolicy(),
		FailureThresholdPct: DefaultFailureThresholdPct,
		BreakerTrip:         DefaultBreakerTrip,
		BreakerCooldown:     DefaultBreakerCooldown,
		BreakerWaits:        DefaultBreakerWaits,
	}
}

// Failure records a location (or a whole variable, when LocationID is empty)
// that produced no data.
type Failure struct {
	LocationID string `json:"location_id,omitempty"`
	Variable   string `json:"variable"`
	Reason     string `json:"reason"`
	Attempts   int    `json:"attempts"`
}

// Result is the outcome of extracting one variable.
type Result struct {
	Variable  string
	Window    Window
	Points    []domain.TimeSeriesPoint
	Failures  []Failure
	Attempted int  // Locations read.
	Requests  int  // Column reads issued, including retries.
	Aborted   bool // Failure threshold exceeded; Points is empty.
}

// Outcome aggregates ExtractAll over several variables.
type Outcome struct {
	Results  map[string]*Result
	Failed   map[string]error
	Failures []Failure
}

// Succeeded lists variables with a result, in the requested order.
func (o *Outcome) Succeeded(order []string) []string {
	var out []string
	for _, v := range order {
		if _, ok := o.Results[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// WithSleepFunc replaces the backoff sleep. Tests use it to skip waiting.
func WithSleepFunc(fn SleepFunc) Option {
	return func(e *Extractor) { e.sleep = fn }
}

// Extractor pulls time series for indexed locations.
type Extractor struct {
	source  store.VariableSource
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
	sleep   SleepFunc
}

// NewExtractor creates an Extractor. Zero config fields take their defaults.
func NewExtractor(source store.VariableSource, cfg Config, opts ...Option) *Extractor {
	def := DefaultConfig()
	if cfg.EpochYear == 0 {
		cfg.EpochYear = def.EpochYear
	}
	if cfg.VariableWorkers <= 0 {
		cfg.VariableWorkers = def.VariableWorkers
	}
	if cfg.LocationWorkers <= 0 {
		cfg.LocationWorkers = def.LocationWorkers
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.FailureThresholdPct <= 0 {
		cfg.FailureThresholdPct = def.FailureThresholdPct
	}
	if cfg.BreakerTrip == 0 {
		cfg.BreakerTrip = def.BreakerTrip
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}
	if cfg.BreakerWaits <= 0 {
		cfg.BreakerWaits = def.BreakerWaits
	}
	e := &Extractor{
		source: source,
		cfg:    cfg,
		logger: slog.Default(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractAll extracts every variable, isolating failures per variable. The
// returned error is non-nil only when ctx is cancelled.
func (e *Extractor) ExtractAll(ctx context.Context, variables []string, ix *spatial.Index, years *YearRange) (*Outcome, error) {
	out := &Outcome{
		Results: make(map[string]*Result, len(variables)),
		Failed:  make(map[string]error),
	}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.VariableWorkers)

	for _, variable := range variables {
		g.Go(func() error {
			res, err := e.Extract(gCtx, variable, ix, years)

			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				out.Failures = append(out.Failures, res.Failures...)
			}
			if err != nil {
				out.Failed[variable] = err
				out.Failures = append(out.Failures, Failure{Variable: variable, Reason: err.Error()})
				return nil
			}
			out.Results[variable] = res
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// Extract reads the series of one variable for every location in ix. The
// variable handle is opened once and shared by all location reads.
//
// On an aborted variable both a Result (with its failures) and an error are
// returned.
func (e *Extractor) Extract(ctx context.Context, variable string, ix *spatial.Index, years *YearRange) (*Result, error) {
	started := time.Now()
	logger := e.logger.With("variable", variable)

	h, attempts, err := e.open(ctx, variable)
	if err != nil {
		e.countVariable("failed")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewError(domain.KindSourceUnavailable,
			fmt.Sprintf("open %s failed after %d attempts", variable, attempts), err)
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			logger.Warn("close variable handle", "error", cerr)
		}
	}()

	w, err := ResolveWindow(e.cfg.EpochYear, h.TimeSteps(), years)
	if err != nil {
		e.countVariable("failed")
		return nil, err
	}

	res := &Result{Variable: variable, Window: w}
	months := w.Months()
	ids := ix.IDs()
	res.Attempted = len(ids)
	logger.Info("extracting variable", "locations", len(ids), "months", w.Count, "first", months[0].String())

	breaker := e.newBreaker(variable)
	limit := int(float64(len(ids)) * e.cfg.FailureThresholdPct / 100)

	varCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		failed   atomic.Int64
		requests atomic.Int64
		aborted  atomic.Bool
		points   = make([]domain.TimeSeriesPoint, 0, len(ids)*w.Count)
	)

	g, gCtx := errgroup.WithContext(varCtx)
	g.SetLimit(e.cfg.LocationWorkers)

	for _, id := range ids {
		if gCtx.Err() != nil {
			break
		}
		cell := ix.Cells[id]
		g.Go(func() error {
			values, n, rerr := e.readColumn(gCtx, breaker, h, variable, cell, w)
			requests.Add(int64(n))
			if rerr != nil {
				if aborted.Load() || ctx.Err() != nil {
					return nil
				}
				e.countSlice(variable, "failure")
				logger.Warn("location extraction failed", "location_id", id, "attempts", n, "error", rerr)

				mu.Lock()
				res.Failures = append(res.Failures, Failure{
					LocationID: id,
					Variable:   variable,
					Reason:     rerr.Error(),
					Attempts:   max(n, 1),
				})
				mu.Unlock()

				if int(failed.Add(1)) > limit && !aborted.Swap(true) {
					logger.Error("failure threshold exceeded, aborting variable",
						"failed", failed.Load(), "threshold_pct", e.cfg.FailureThresholdPct)
					cancel()
				}
				return nil
			}
			e.countSlice(variable, "success")

			mu.Lock()
			for k, v := range values {
				points = append(points, domain.TimeSeriesPoint{
					LocationID: id,
					Year:       months[k].Year,
					Month:      months[k].Month,
					Variable:   variable,
					Value:      v,
				})
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	res.Requests = int(requests.Load())
	if e.metrics != nil {
		e.metrics.ExtractionDuration.WithLabelValues(variable).Observe(time.Since(started).Seconds())
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if aborted.Load() {
		e.countVariable("aborted")
		res.Aborted = true
		return res, domain.NewError(domain.KindSourceUnavailable,
			fmt.Sprintf("%s aborted: %d of %d locations failed", variable, failed.Load(), len(ids)), nil)
	}

	res.Points = points
	e.countVariable("success")
	logger.Info("variable extracted",
		"points", len(points), "failed_locations", len(res.Failures),
		"duration", time.Since(started).Round(time.Millisecond))
	return res, nil
}

// open opens the variable handle, retrying transient failures.
func (e *Extractor) open(ctx context.Context, variable string) (store.VariableHandle, int, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := e.cfg.Retry.Backoff(attempt - 1)
			e.logger.Warn("retrying variable open", "variable", variable, "attempt", attempt+1, "wait", wait, "error", lastErr)
			if err := e.sleep(ctx, wait); err != nil {
				return nil, attempt, err
			}
		}
		h, err := e.source.Open(ctx, variable)
		if err == nil {
			return h, attempt + 1, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, attempt + 1, ctx.Err()
		}
	}
	return nil, e.cfg.Retry.MaxAttempts, lastErr
}

// readColumn reads one location's window through the breaker with retries.
// It returns the values, the number of reads issued, and the last error.
//
// Only failed reads use up attempts. An open breaker paces reads instead: the
// location waits out the cooldown, up to BreakerWaits times, and tries again.
func (e *Extractor) readColumn(
	ctx context.Context,
	breaker *gobreaker.CircuitBreaker[[]domain.Value],
	h store.VariableHandle,
	variable string,
	cell domain.CellIndex,
	w Window,
) ([]domain.Value, int, error) {
	var lastErr error
	issued, waits := 0, 0
	for attempt := 0; ; {
		values, err := breaker.Execute(func() ([]domain.Value, error) {
			issued++
			values, err := h.ReadColumn(ctx, cell, w.Start, w.Count)
			if err == nil && len(values) != w.Count {
				return nil, fmt.Errorf("read returned %d values, want %d", len(values), w.Count)
			}
			return values, err
		})
		if err == nil {
			return values, issued, nil
		}
		if ctx.Err() != nil {
			return nil, issued, ctx.Err()
		}

		var wait time.Duration
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			if waits >= e.cfg.BreakerWaits {
				if lastErr == nil {
					lastErr = err
				}
				break
			}
			waits++
			wait = e.cfg.BreakerCooldown
			if errors.Is(err, gobreaker.ErrTooManyRequests) {
				wait = e.cfg.Retry.Backoff(0)
			}
		} else {
			lastErr = err
			attempt++
			if attempt >= e.cfg.Retry.MaxAttempts {
				break
			}
			if e.metrics != nil {
				e.metrics.SliceRetries.WithLabelValues(variable).Inc()
			}
			wait = e.cfg.Retry.Backoff(attempt - 1)
		}
		if err := e.sleep(ctx, wait); err != nil {
			return nil, issued, err
		}
	}
	return nil, issued, domain.NewError(domain.KindSliceFetch,
		fmt.Sprintf("read cell (%d,%d)", cell.Lat, cell.Lon), lastErr)
}

func (e *Extractor) newBreaker(variable string) *gobreaker.CircuitBreaker[[]domain.Value] {
	trip := e.cfg.BreakerTrip
	return gobreaker.NewCircuitBreaker[[]domain.Value](gobreaker.Settings{
		Name:        variable,
		MaxRequests: 1,
		Timeout:     e.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("circuit breaker state change", "variable", name, "from", from.String(), "to", to.String())
		},
	})
}

func (e *Extractor) countSlice(variable, outcome string) {
	if e.metrics != nil {
		e.metrics.SliceRequests.WithLabelValues(variable, outcome).Inc()
	}
}

func (e *Extractor) countVariable(outcome string) {
	if e.metrics != nil {
		e.metrics.VariablesTotal.WithLabelValues(outcome).Inc()
	}
}

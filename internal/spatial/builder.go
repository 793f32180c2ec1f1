package spatial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.ngs.io/terraclimate-extract/internal/adapter/store"
	"go.ngs.io/terraclimate-extract/internal/domain"
	"go.ngs.io/terraclimate-extract/internal/observability"
)

// IndexStore persists a spatial index between runs.
type IndexStore interface {
	Load(ctx context.Context) (*Index, error)
	Save(ctx context.Context, ix *Index) error
}

// Resolution is the outcome of Builder.Resolve.
type Resolution struct {
	Index     *Index
	Unmatched []string // Location ids with no cell within tolerance, sorted.
	FromCache bool
	Reason    string // Why the index was rebuilt; empty on a cache hit.
}

// Builder builds the location-to-cell index once per run, or loads a compatible
// persisted one.
type Builder struct {
	axes      store.AxisLoader
	cache     IndexStore
	tolerance float64
	expectLat int
	expectLon int
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithCache enables index persistence.
func WithCache(s IndexStore) BuilderOption {
	return func(b *Builder) { b.cache = s }
}

// WithTolerance overrides DefaultTolerance.
func WithTolerance(deg float64) BuilderOption {
	return func(b *Builder) { b.tolerance = deg }
}

// WithExpectedShape pins the axis lengths a cached index must have been built against.
// Zero disables the check for that axis.
func WithExpectedShape(latLen, lonLen int) BuilderOption {
	return func(b *Builder) {
		b.expectLat = latLen
		b.expectLon = lonLen
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) BuilderOption {
	return func(b *Builder) { b.metrics = m }
}

// NewBuilder creates a Builder reading axes from axes.
func NewBuilder(axes store.AxisLoader, opts ...BuilderOption) *Builder {
	b := &Builder{
		axes:      axes,
		tolerance: DefaultTolerance,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Tolerance returns the match tolerance in degrees.
func (b *Builder) Tolerance() float64 {
	return b.tolerance
}

// Resolve returns an index for table. A persisted index is reused when force is
// false and its provenance matches; otherwise the axes are loaded once and the
// index is rebuilt and persisted.
func (b *Builder) Resolve(ctx context.Context, table domain.LocationTable, force bool) (*Resolution, error) {
	if len(table.Locations) == 0 {
		return nil, domain.NewError(domain.KindConfiguration, "location table is empty", nil)
	}

	reason := "rebuild requested"
	if !force {
		ix, why := b.loadCompatible(ctx, table)
		if ix != nil {
			return b.fromCache(ix, table), nil
		}
		reason = why
	}

	b.logger.Info("building spatial index", "reason", reason, "locations", len(table.Locations))
	lat, lon, err := b.axes.LoadAxes(ctx)
	if err != nil {
		return nil, domain.NewError(domain.KindSourceUnavailable, "failed to load grid axes", err)
	}
	grid, err := NewGrid(lat, lon)
	if err != nil {
		return nil, domain.NewError(domain.KindSourceUnavailable, "invalid grid axes", err)
	}

	ix, unmatched := b.Build(table, grid)
	ix.Provenance.Source = b.axes.Identity()

	if b.cache != nil {
		if err := b.cache.Save(ctx, ix); err != nil {
			b.logger.Warn("failed to persist spatial index", "error", err)
		}
	}
	if b.metrics != nil {
		result := "miss"
		if force {
			result = "rebuild"
		}
		b.metrics.IndexCache.WithLabelValues(result).Inc()
	}
	b.record(ix, unmatched)

	return &Resolution{Index: ix, Unmatched: unmatched, Reason: reason}, nil
}

// Build assigns every location in table to its nearest cell within tolerance.
// Locations without a match are returned as unmatched, never mapped to a default cell.
func (b *Builder) Build(table domain.LocationTable, grid *Grid) (*Index, []string) {
	latLen, lonLen := grid.Shape()
	ix := &Index{
		Provenance: Provenance{
			Tolerance:   b.tolerance,
			LatLen:      latLen,
			LonLen:      lonLen,
			BuiltAt:     domain.Now(),
			Fingerprint: table.Fingerprint,
		},
		Cells: make(map[string]domain.CellIndex, len(table.Locations)),
	}

	var unmatched []string
	for _, loc := range table.Locations {
		cell, ok := grid.Nearest(loc.Latitude, loc.Longitude, b.tolerance)
		if !ok {
			unmatched = append(unmatched, loc.ID)
			b.logger.Debug("no grid cell within tolerance",
				"location_id", loc.ID, "latitude", loc.Latitude, "longitude", loc.Longitude)
			continue
		}
		ix.Cells[loc.ID] = cell
	}
	sort.Strings(unmatched)

	if len(unmatched) > 0 {
		b.logger.Warn("locations excluded from spatial index",
			"kind", domain.KindLocationMatch, "count", len(unmatched), "tolerance", b.tolerance)
	}
	return ix, unmatched
}

// loadCompatible returns the persisted index when it can be reused, otherwise
// nil and the reason it cannot.
func (b *Builder) loadCompatible(ctx context.Context, table domain.LocationTable) (*Index, string) {
	if b.cache == nil {
		return nil, "cache disabled"
	}
	ix, err := b.cache.Load(ctx)
	if errors.Is(err, domain.ErrIndexNotFound) {
		return nil, "no cached index"
	}
	if err != nil {
		b.logger.Warn("cached spatial index unreadable", "error", err)
		return nil, "cached index unreadable"
	}
	if why := b.incompatible(ix.Provenance, table); why != "" {
		return nil, why
	}
	return ix, ""
}

func (b *Builder) fromCache(ix *Index, table domain.LocationTable) *Resolution {
	var unmatched []string
	for _, loc := range table.Locations {
		if _, ok := ix.Cells[loc.ID]; !ok {
			unmatched = append(unmatched, loc.ID)
		}
	}
	sort.Strings(unmatched)

	if b.metrics != nil {
		b.metrics.IndexCache.WithLabelValues("hit").Inc()
	}
	b.record(ix, unmatched)
	b.logger.Info("loaded cached spatial index",
		"locations", ix.Len(), "unmatched", len(unmatched), "built_at", ix.Provenance.BuiltAt)

	return &Resolution{Index: ix, Unmatched: unmatched, FromCache: true}
}

func (b *Builder) incompatible(p Provenance, table domain.LocationTable) string {
	switch {
	case p.Fingerprint != table.Fingerprint:
		return "location table changed"
	case p.Tolerance != b.tolerance:
		return fmt.Sprintf("tolerance changed (%g -> %g)", p.Tolerance, b.tolerance)
	case p.Source != b.axes.Identity():
		return "axis source changed"
	case b.expectLat > 0 && p.LatLen != b.expectLat:
		return fmt.Sprintf("latitude axis length changed (%d -> %d)", p.LatLen, b.expectLat)
	case b.expectLon > 0 && p.LonLen != b.expectLon:
		return fmt.Sprintf("longitude axis length changed (%d -> %d)", p.LonLen, b.expectLon)
	}
	return ""
}

func (b *Builder) record(ix *Index, unmatched []string) {
	if b.metrics == nil {
		return
	}
	b.metrics.LocationsIndexed.Set(float64(ix.Len()))
	b.metrics.LocationsUnmatched.Set(float64(len(unmatched)))
}

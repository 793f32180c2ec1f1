// Package store defines the interfaces to gridded climate sources.
package store

import (
	"context"

	"go.ngs.io/terraclimate-extract/internal/domain"
)

// AxisLoader loads the latitude and longitude axes of the source grid.
type AxisLoader interface {
	// LoadAxes reads both coordinate axes. Callers invoke it at most once per index build.
	LoadAxes(ctx context.Context) (lat, lon []float64, err error)

	// Identity names the axis source, recorded as index provenance.
	Identity() string
}

// VariableSource opens per-variable data handles.
type VariableSource interface {
	// Open acquires a handle for one variable. The caller must Close it.
	Open(ctx context.Context, variable string) (VariableHandle, error)
}

// VariableHandle reads (time, lat, lon) columns of one variable.
// Implementations must be safe for concurrent ReadColumn calls.
type VariableHandle interface {
	// TimeSteps returns the length of the time axis.
	TimeSteps() int

	// ReadColumn reads count consecutive time steps starting at start for one cell.
	ReadColumn(ctx context.Context, cell domain.CellIndex, start, count int) ([]domain.Value, error)

	// Close releases the handle.
	Close() error
}

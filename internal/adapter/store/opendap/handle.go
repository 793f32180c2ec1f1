package opendap

import (
	"context"
	"fmt"
	"slices"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/terraclimate-extract/internal/domain"
)

// handle is an open (time, lat, lon) variable. Reads serialize on libMu, so one
// handle is safely shared by concurrent workers.
type handle struct {
	nc      netcdf.Dataset
	v       netcdf.Var
	ndims   int
	timeDim int
	latDim  int
	lonDim  int
	timeLen int

	fills  []float64 // Raw _FillValue / missing_value markers.
	scale  float64
	offset float64
	closed bool
}

func newHandle(nc netcdf.Dataset, variable string) (*handle, error) {
	v, err := nc.Var(variable)
	if err != nil {
		return nil, fmt.Errorf("variable %q not found: %w", variable, err)
	}
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	if len(dims) != 3 {
		return nil, fmt.Errorf("expected 3D (time, lat, lon) variable, got %dD", len(dims))
	}

	h := &handle{nc: nc, v: v, ndims: len(dims), timeDim: -1, latDim: -1, lonDim: -1, scale: 1}
	for i, d := range dims {
		name, err := d.Name()
		if err != nil {
			return nil, err
		}
		switch {
		case slices.Contains(timeNames, name):
			h.timeDim = i
		case slices.Contains(latNames, name):
			h.latDim = i
		case slices.Contains(lonNames, name):
			h.lonDim = i
		}
	}
	if h.timeDim < 0 || h.latDim < 0 || h.lonDim < 0 {
		// Unnamed dimensions follow the CF (time, lat, lon) order.
		h.timeDim, h.latDim, h.lonDim = 0, 1, 2
	}
	n, err := dims[h.timeDim].Len()
	if err != nil {
		return nil, err
	}
	h.timeLen = int(n)

	for _, name := range []string{"_FillValue", "missing_value"} {
		if f, ok := attrFloat(v, name); ok {
			h.fills = append(h.fills, f)
		}
	}
	if s, ok := attrFloat(v, "scale_factor"); ok && s != 0 {
		h.scale = s
	}
	if o, ok := attrFloat(v, "add_offset"); ok {
		h.offset = o
	}
	return h, nil
}

// TimeSteps returns the length of the time axis.
func (h *handle) TimeSteps() int {
	return h.timeLen
}

// ReadColumn reads the time series of one cell.
func (h *handle) ReadColumn(ctx context.Context, cell domain.CellIndex, start, count int) ([]domain.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if start < 0 || count <= 0 || start+count > h.timeLen {
		return nil, fmt.Errorf("time window [%d,%d) outside axis of length %d", start, start+count, h.timeLen)
	}

	//nolint:gosec // G115: Indices are validated non-negative.
	starts := make([]uint64, h.ndims)
	counts := make([]uint64, h.ndims)
	starts[h.timeDim], counts[h.timeDim] = uint64(start), uint64(count)
	starts[h.latDim], counts[h.latDim] = uint64(cell.Lat), 1
	starts[h.lonDim], counts[h.lonDim] = uint64(cell.Lon), 1

	libMu.Lock()
	if h.closed {
		libMu.Unlock()
		return nil, fmt.Errorf("handle closed")
	}
	raw, err := readSlice(h.v, starts, counts, count)
	libMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read cell (%d,%d): %w", cell.Lat, cell.Lon, err)
	}

	out := make([]domain.Value, len(raw))
	for i, r := range raw {
		if slices.Contains(h.fills, r) {
			out[i] = domain.Missing
			continue
		}
		out[i] = domain.Some(r*h.scale + h.offset)
	}
	return out, nil
}

// Close releases the dataset. It is safe to call more than once.
func (h *handle) Close() error {
	libMu.Lock()
	defer libMu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.nc.Close()
}

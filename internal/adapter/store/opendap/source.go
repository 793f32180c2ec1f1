// Package opendap reads TerraClimate variables through the NetCDF C library,
// which accepts both OPeNDAP URLs (THREDDS dodsC endpoints) and local file paths.
package opendap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/terraclimate-extract/internal/adapter/store"
)

// DefaultURLTemplate is the THREDDS aggregation for TerraClimate; {var} is replaced
// by the variable name.
const DefaultURLTemplate = "http://thredds.northwestknowledge.net:8080/thredds/dodsC/" +
	"agg_terraclimate_{var}_1958_CurrentYear_GLOBE.nc"

// libMu serializes every call into libnetcdf, which is not thread-safe.
var libMu sync.Mutex

var (
	latNames  = []string{"lat", "latitude", "y"}
	lonNames  = []string{"lon", "longitude", "x"}
	timeNames = []string{"time", "t", "day"}
)

// Source opens TerraClimate variables addressed by a URL template.
type Source struct {
	template       string
	sampleVariable string
	logger         *slog.Logger
}

var (
	_ store.AxisLoader     = (*Source)(nil)
	_ store.VariableSource = (*Source)(nil)
)

// NewSource creates a Source. Axes are read from sampleVariable's dataset.
func NewSource(template, sampleVariable string, logger *slog.Logger) *Source {
	if template == "" {
		template = DefaultURLTemplate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{template: template, sampleVariable: sampleVariable, logger: logger}
}

// URL returns the dataset address for variable.
func (s *Source) URL(variable string) string {
	return strings.ReplaceAll(s.template, "{var}", variable)
}

// Identity returns the address the axes are read from.
func (s *Source) Identity() string {
	return s.URL(s.sampleVariable)
}

// LoadAxes reads the latitude and longitude axes from the sample dataset.
func (s *Source) LoadAxes(ctx context.Context) ([]float64, []float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	url := s.Identity()
	s.logger.Info("loading grid axes", "url", url)

	libMu.Lock()
	defer libMu.Unlock()

	nc, err := netcdf.OpenFile(url, netcdf.NOWRITE)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", url, err)
	}
	defer func() { _ = nc.Close() }()

	lat, err := readAxis(nc, latNames)
	if err != nil {
		return nil, nil, fmt.Errorf("latitude: %w", err)
	}
	lon, err := readAxis(nc, lonNames)
	if err != nil {
		return nil, nil, fmt.Errorf("longitude: %w", err)
	}
	return lat, lon, nil
}

// Open acquires the dataset handle for variable. The handle is shared by all
// workers extracting that variable and must be closed by the caller.
func (s *Source) Open(ctx context.Context, variable string) (store.VariableHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	url := s.URL(variable)

	libMu.Lock()
	defer libMu.Unlock()

	nc, err := netcdf.OpenFile(url, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", url, err)
	}
	h, err := newHandle(nc, variable)
	if err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	return h, nil
}

func readAxis(nc netcdf.Dataset, names []string) ([]float64, error) {
	for _, name := range names {
		v, err := nc.Var(name)
		if err != nil {
			continue
		}
		return readFloat64Var(v)
	}
	return nil, fmt.Errorf("variable not found (tried: %v)", names)
}

// readFloat64Var reads a 1D numeric variable as float64.
func readFloat64Var(v netcdf.Var) ([]float64, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	if len(dims) != 1 {
		return nil, fmt.Errorf("expected 1D variable, got %dD", len(dims))
	}
	length, err := dims[0].Len()
	if err != nil {
		return nil, err
	}
	return readSlice(v, []uint64{0}, []uint64{length}, int(length))
}

// readSlice reads a hyperslab of v as float64 without applying packing attributes.
func readSlice(v netcdf.Var, start, count []uint64, n int) ([]float64, error) {
	t, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get var type: %w", err)
	}
	out := make([]float64, n)
	switch t {
	case netcdf.DOUBLE:
		if err := v.ReadFloat64Slice(out, start, count); err != nil {
			return nil, err
		}
	case netcdf.FLOAT:
		tmp := make([]float32, n)
		if err := v.ReadFloat32Slice(tmp, start, count); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.INT:
		tmp := make([]int32, n)
		if err := v.ReadInt32Slice(tmp, start, count); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.SHORT:
		tmp := make([]int16, n)
		if err := v.ReadInt16Slice(tmp, start, count); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.BYTE, netcdf.CHAR, netcdf.UBYTE, netcdf.USHORT, netcdf.UINT, netcdf.INT64, netcdf.UINT64, netcdf.STRING:
		return nil, fmt.Errorf("unsupported var type: %v", t)
	default:
		return nil, fmt.Errorf("unsupported var type: %v", t)
	}
	return out, nil
}

// attrFloat reads the first element of a numeric attribute.
func attrFloat(v netcdf.Var, name string) (float64, bool) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return 0, false
	}
	buf64 := make([]float64, n)
	if err := a.ReadFloat64s(buf64); err == nil {
		return buf64[0], true
	}
	buf32 := make([]float32, n)
	if err := a.ReadFloat32s(buf32); err == nil {
		return float64(buf32[0]), true
	}
	bufi := make([]int32, n)
	if err := a.ReadInt32s(bufi); err == nil {
		return float64(bufi[0]), true
	}
	bufs := make([]int16, n)
	if err := a.ReadInt16s(bufs); err == nil {
		return float64(bufs[0]), true
	}
	return 0, false
}

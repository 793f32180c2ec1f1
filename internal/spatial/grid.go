// Package spatial maps point locations onto the cells of a rectilinear grid.
package spatial

import (
	"fmt"
	"math"

	"go.ngs.io/terraclimate-extract/internal/domain"
)

// DefaultTolerance is half the native TerraClimate grid spacing (1/24 degree), in degrees.
const DefaultTolerance = 1.0 / 48.0

// Grid holds the coordinate axes of a raster. Axes are cell centers and must be
// strictly monotonic; spacing need not be uniform.
type Grid struct {
	Lat []float64 // Cell-center latitudes (ascending or descending).
	Lon []float64 // Cell-center longitudes (ascending or descending).

	lonWrap360 bool
}

// NewGrid validates the axes and returns a Grid.
func NewGrid(lat, lon []float64) (*Grid, error) {
	if err := validateAxis("latitude", lat); err != nil {
		return nil, err
	}
	if err := validateAxis("longitude", lon); err != nil {
		return nil, err
	}
	return &Grid{
		Lat:        lat,
		Lon:        lon,
		lonWrap360: lonAxisRequiresWrap(lon),
	}, nil
}

func validateAxis(name string, axis []float64) error {
	if len(axis) == 0 {
		return fmt.Errorf("%s axis is empty", name)
	}
	for i, v := range axis {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s axis has non-finite value at %d", name, i)
		}
	}
	if len(axis) < 2 {
		return nil
	}
	ascending := axis[1] > axis[0]
	for i := 1; i < len(axis); i++ {
		if ascending && axis[i] <= axis[i-1] {
			return fmt.Errorf("%s axis must be strictly monotonic (index %d)", name, i)
		}
		if !ascending && axis[i] >= axis[i-1] {
			return fmt.Errorf("%s axis must be strictly monotonic (index %d)", name, i)
		}
	}
	return nil
}

// Shape returns the axis lengths.
func (g *Grid) Shape() (latLen, lonLen int) {
	return len(g.Lat), len(g.Lon)
}

// Nearest returns the cell whose center is nearest to (lat, lon) on each axis.
// A match is accepted only when both axis distances are strictly below tolerance.
func (g *Grid) Nearest(lat, lon, tolerance float64) (domain.CellIndex, bool) {
	if g.lonWrap360 {
		lon = normalizeLon360(lon)
	}
	i, di := nearestIndex(g.Lat, lat)
	if di >= tolerance {
		return domain.CellIndex{}, false
	}
	j, dj := nearestIndex(g.Lon, lon)
	if dj >= tolerance {
		return domain.CellIndex{}, false
	}
	return domain.CellIndex{Lat: i, Lon: j}, true
}

// Center returns the coordinates of a cell center.
func (g *Grid) Center(c domain.CellIndex) (lat, lon float64) {
	return g.Lat[c.Lat], g.Lon[c.Lon]
}

// nearestIndex binary-searches a strictly monotonic axis for the value closest to
// target and returns its index and absolute distance. Equidistant neighbours resolve
// to the smaller index.
func nearestIndex(axis []float64, target float64) (int, float64) {
	n := len(axis)
	if n == 0 {
		return 0, math.Inf(1)
	}
	ascending := n < 2 || axis[1] > axis[0]

	// First index at or past target in axis order.
	left, right := 0, n
	for left < right {
		mid := (left + right) / 2
		past := axis[mid] >= target
		if !ascending {
			past = axis[mid] <= target
		}
		if past {
			right = mid
		} else {
			left = mid + 1
		}
	}

	if left == n {
		return n - 1, math.Abs(axis[n-1] - target)
	}
	d := math.Abs(axis[left] - target)
	if left > 0 {
		if dPrev := math.Abs(axis[left-1] - target); dPrev <= d {
			return left - 1, dPrev
		}
	}
	return left, d
}

func lonAxisRequiresWrap(lons []float64) bool {
	if len(lons) == 0 {
		return false
	}
	minVal := lons[0]
	maxVal := lons[len(lons)-1]
	if minVal > maxVal {
		minVal, maxVal = maxVal, minVal
	}
	return minVal >= 0 && maxVal > 180
}

func normalizeLon360(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	return lon
}

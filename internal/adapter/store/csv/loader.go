// Package csv loads the location (accession) table from delimited text.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"go.ngs.io/terraclimate-extract/internal/domain"
)

// Column name candidates, matched case-insensitively.
var (
	idColumns  = []string{"CS_number", "accession_id", "accession", "id", "name"}
	latColumns = []string{"latitude", "lat"}
	lonColumns = []string{"longitude", "lon", "lng", "long"}
)

// LocationLoader reads a location table from a delimited file.
type LocationLoader struct {
	path   string
	logger *slog.Logger
}

// NewLocationLoader creates a loader for path. Files ending in .tsv or .txt are
// read as tab-delimited, everything else as comma-delimited.
func NewLocationLoader(path string, logger *slog.Logger) *LocationLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocationLoader{path: path, logger: logger}
}

// Load reads and cleans the table. Rows with missing or non-numeric coordinates
// are dropped and counted; repeated ids keep their first row.
func (l *LocationLoader) Load() (domain.LocationTable, error) {
	//nolint:gosec // G304: Path comes from configuration.
	file, err := os.Open(l.path)
	if err != nil {
		return domain.LocationTable{}, domain.NewError(domain.KindConfiguration,
			fmt.Sprintf("failed to open location table %s", l.path), err)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	switch strings.ToLower(filepath.Ext(l.path)) {
	case ".tsv", ".txt":
		reader.Comma = '\t'
	}

	table, err := l.read(reader)
	if err != nil {
		return domain.LocationTable{}, err
	}
	if len(table.Locations) == 0 {
		return domain.LocationTable{}, domain.NewError(domain.KindConfiguration,
			fmt.Sprintf("location table %s has no rows with valid coordinates", l.path), nil)
	}
	return table, nil
}

func (l *LocationLoader) read(reader *csv.Reader) (domain.LocationTable, error) {
	var table domain.LocationTable

	header, err := reader.Read()
	if err != nil {
		return table, domain.NewError(domain.KindConfiguration, "failed to read location table header", err)
	}
	idIdx, latIdx, lonIdx, byName := detectColumns(header)
	if idIdx < 0 {
		return table, domain.NewError(domain.KindConfiguration,
			fmt.Sprintf("location table needs at least 3 columns, got %v", header), nil)
	}
	if !byName {
		l.logger.Warn("location columns not found by name, using first three columns",
			"header", strings.Join(header, ","))
	}

	seen := make(map[string]bool)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return table, domain.NewError(domain.KindConfiguration,
				fmt.Sprintf("failed to read location table line %d", line), err)
		}

		loc, ok := parseRecord(record, idIdx, latIdx, lonIdx)
		if !ok {
			table.DroppedInvalid++
			continue
		}
		if seen[loc.ID] {
			table.Duplicates++
			continue
		}
		seen[loc.ID] = true
		table.Locations = append(table.Locations, loc)
	}

	if table.DroppedInvalid > 0 {
		l.logger.Warn("dropped locations with missing or invalid coordinates", "count", table.DroppedInvalid)
	}
	if table.Duplicates > 0 {
		l.logger.Warn("dropped duplicate location ids", "count", table.Duplicates)
	}
	table.Fingerprint = Fingerprint(table.Locations)
	l.logger.Info("loaded locations", "count", len(table.Locations), "fingerprint", table.Fingerprint)
	return table, nil
}

// detectColumns returns the id/lat/lon column positions. byName is false when
// the positional fallback (first three columns) was used; idIdx is -1 when the
// header is too short for either.
func detectColumns(header []string) (idIdx, latIdx, lonIdx int, byName bool) {
	find := func(candidates []string) int {
		for _, c := range candidates {
			for i, h := range header {
				if strings.EqualFold(strings.TrimSpace(h), c) {
					return i
				}
			}
		}
		return -1
	}
	idIdx, latIdx, lonIdx = find(idColumns), find(latColumns), find(lonColumns)
	if idIdx >= 0 && latIdx >= 0 && lonIdx >= 0 {
		return idIdx, latIdx, lonIdx, true
	}
	if len(header) < 3 {
		return -1, -1, -1, false
	}
	return 0, 1, 2, false
}

func parseRecord(record []string, idIdx, latIdx, lonIdx int) (domain.Location, bool) {
	maxIdx := max(idIdx, latIdx, lonIdx)
	if len(record) <= maxIdx {
		return domain.Location{}, false
	}
	id := strings.TrimSpace(record[idIdx])
	if id == "" {
		return domain.Location{}, false
	}
	lat, ok := parseCoord(record[latIdx])
	if !ok || lat < -90 || lat > 90 {
		return domain.Location{}, false
	}
	lon, ok := parseCoord(record[lonIdx])
	if !ok || lon < -180 || lon > 360 {
		return domain.Location{}, false
	}
	return domain.Location{ID: id, Latitude: lat, Longitude: lon}, true
}

func parseCoord(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Fingerprint digests the cleaned rows independently of their order.
func Fingerprint(locs []domain.Location) string {
	sorted := make([]domain.Location, len(locs))
	copy(sorted, locs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := xxhash.New()
	for _, loc := range sorted {
		_, _ = h.WriteString(loc.ID)
		_, _ = h.WriteString("\x1f")
		_, _ = h.WriteString(strconv.FormatFloat(loc.Latitude, 'g', -1, 64))
		_, _ = h.WriteString("\x1f")
		_, _ = h.WriteString(strconv.FormatFloat(loc.Longitude, 'g', -1, 64))
		_, _ = h.WriteString("\n")
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

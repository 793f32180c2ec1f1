package spatial

import (
	"sort"
	"time"

	"go.ngs.io/terraclimate-extract/internal/domain"
)

// Provenance records how an index was built. An index is reused only when its
// provenance matches the current run.
type Provenance struct {
	Tolerance   float64   `json:"tolerance"`
	LatLen      int       `json:"lat_len"`
	LonLen      int       `json:"lon_len"`
	BuiltAt     time.Time `json:"built_at"`
	Fingerprint string    `json:"fingerprint"` // Location-table fingerprint.
	Source      string    `json:"source"`      // Axis source identity.
}

// Index maps location ids to grid cells. It is immutable once built and safe
// for concurrent reads.
type Index struct {
	Provenance Provenance                  `json:"provenance"`
	Cells      map[string]domain.CellIndex `json:"cells"`
}

// Len returns the number of indexed locations.
func (ix *Index) Len() int {
	return len(ix.Cells)
}

// Lookup returns the cell assigned to id.
func (ix *Index) Lookup(id string) (domain.CellIndex, bool) {
	c, ok := ix.Cells[id]
	return c, ok
}

// IDs returns the indexed location ids in sorted order.
func (ix *Index) IDs() []string {
	ids := make([]string, 0, len(ix.Cells))
	for id := range ix.Cells {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

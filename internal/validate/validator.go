// Package validate computes read-only quality diagnostics for an extracted
// climate table.
package validate

import (
	"sort"
	"time"

	"go.ngs.io/terraclimate-extract/internal/domain"
	"go.ngs.io/terraclimate-extract/internal/transform"
)

// DefaultCompletenessThreshold is the coverage at which a location counts as complete.
const DefaultCompletenessThreshold = 0.95

// Range is a closed numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ColumnReport holds diagnostics for one value column.
type ColumnReport struct {
	Column        string  `json:"column"`
	Cells         int     `json:"cells"`
	Missing       int     `json:"missing"`
	MissingPct    float64 `json:"missing_pct"`
	Observed      *Range  `json:"observed,omitempty"`
	Expected      *Range  `json:"expected,omitempty"`
	OutOfRange    int     `json:"out_of_range"`
	OutOfRangePct float64 `json:"out_of_range_pct"`
}

// LocationCoverage is the temporal coverage of one location.
type LocationCoverage struct {
	LocationID string  `json:"location_id"`
	Months     int     `json:"months"`
	Coverage   float64 `json:"coverage"`
}

// Coverage summarizes per-location temporal coverage.
type Coverage struct {
	FirstYear      int                `json:"first_year"`
	LastYear       int                `json:"last_year"`
	ExpectedMonths int                `json:"expected_months"`
	Threshold      float64            `json:"threshold"`
	Complete       int                `json:"complete"`
	Incomplete     []LocationCoverage `json:"incomplete"`
}

// Accounting records what the run dropped and why.
type Accounting struct {
	LocationsLoaded    int               `json:"locations_loaded"`
	DroppedInvalid     int               `json:"dropped_invalid"`
	Duplicates         int               `json:"duplicates"`
	Unmatched          int               `json:"unmatched"`
	Indexed            int               `json:"indexed"`
	IndexFromCache     bool              `json:"index_from_cache"`
	VariablesRequested []string          `json:"variables_requested"`
	VariablesSucceeded []string          `json:"variables_succeeded"`
	VariablesFailed    map[string]string `json:"variables_failed,omitempty"`
	SliceFailures      map[string]int    `json:"slice_failures,omitempty"`
}

// Report is the outcome of a validation pass. It is not modified after Validate returns.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Rows        int            `json:"rows"`
	Locations   int            `json:"locations"`
	Columns     []ColumnReport `json:"columns"`
	Coverage    Coverage       `json:"coverage"`
	Accounting  *Accounting    `json:"accounting,omitempty"`
}

// Column returns the report for a column.
func (r *Report) Column(name string) (ColumnReport, bool) {
	for _, c := range r.Columns {
		if c.Column == name {
			return c, true
		}
	}
	return ColumnReport{}, false
}

// Validator inspects monthly tables.
type Validator struct {
	threshold float64
}

// NewValidator creates a Validator. A non-positive threshold selects the default.
func NewValidator(threshold float64) *Validator {
	if threshold <= 0 {
		threshold = DefaultCompletenessThreshold
	}
	return &Validator{threshold: threshold}
}

// Validate computes diagnostics for a monthly table. expectedMonths is the
// length of the extraction window; when zero it is taken from the span of
// years present in the table.
func (v *Validator) Validate(t *transform.Table, expectedMonths int) *Report {
	r := &Report{
		GeneratedAt: domain.Now(),
		Rows:        len(t.Rows),
		Columns:     make([]ColumnReport, len(t.Columns)),
	}

	for c, name := range t.Columns {
		cr := ColumnReport{Column: name, Cells: len(t.Rows)}
		bounds, known := domain.LookupVariable(name)
		if known {
			cr.Expected = &Range{Min: bounds.Min, Max: bounds.Max}
		}
		for _, row := range t.Rows {
			x, ok := row.Values[c].Float()
			if !ok {
				cr.Missing++
				continue
			}
			if cr.Observed == nil {
				cr.Observed = &Range{Min: x, Max: x}
			}
			cr.Observed.Min = min(cr.Observed.Min, x)
			cr.Observed.Max = max(cr.Observed.Max, x)
			if known && !bounds.InRange(x) {
				cr.OutOfRange++
			}
		}
		if cr.Cells > 0 {
			cr.MissingPct = percent(cr.Missing, cr.Cells)
		}
		if present := cr.Cells - cr.Missing; present > 0 {
			cr.OutOfRangePct = percent(cr.OutOfRange, present)
		}
		r.Columns[c] = cr
	}

	r.Coverage = v.coverage(t, expectedMonths)
	r.Locations = r.Coverage.Complete + len(r.Coverage.Incomplete)
	return r
}

func (v *Validator) coverage(t *transform.Table, expectedMonths int) Coverage {
	cov := Coverage{Threshold: v.threshold}
	observed := make(map[string]int)
	for i, row := range t.Rows {
		k := row.Key
		if i == 0 || k.Year < cov.FirstYear {
			cov.FirstYear = k.Year
		}
		cov.LastYear = max(cov.LastYear, k.Year)
		if _, ok := observed[k.LocationID]; !ok {
			observed[k.LocationID] = 0
		}
		for _, val := range row.Values {
			if !val.IsMissing() {
				observed[k.LocationID]++
				break
			}
		}
	}
	if expectedMonths <= 0 && len(t.Rows) > 0 {
		expectedMonths = (cov.LastYear - cov.FirstYear + 1) * 12
	}
	cov.ExpectedMonths = expectedMonths

	ids := make([]string, 0, len(observed))
	for id := range observed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cov.Incomplete = []LocationCoverage{}
	for _, id := range ids {
		lc := LocationCoverage{LocationID: id, Months: observed[id]}
		if expectedMonths > 0 {
			lc.Coverage = float64(lc.Months) / float64(expectedMonths)
		}
		if lc.Coverage >= v.threshold {
			cov.Complete++
		} else {
			cov.Incomplete = append(cov.Incomplete, lc)
		}
	}
	return cov
}

func percent(n, of int) float64 {
	return float64(n) / float64(of) * 100
}

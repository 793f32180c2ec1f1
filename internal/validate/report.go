package validate

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

const rule = "============================================================"

// RenderText writes a human-readable report.
func RenderText(w io.Writer, r *Report) error {
	var b strings.Builder
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "CLIMATE DATA VALIDATION REPORT")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Rows: %d\n", r.Rows)
	fmt.Fprintf(&b, "Locations: %d\n", r.Locations)

	for _, c := range r.Columns {
		fmt.Fprintf(&b, "\n%s:\n", c.Column)
		fmt.Fprintln(&b, strings.Repeat("-", 40))
		fmt.Fprintf(&b, "  Missing: %d of %d cells (%.2f%%)\n", c.Missing, c.Cells, c.MissingPct)
		if c.Observed != nil {
			fmt.Fprintf(&b, "  Value range: [%.4g, %.4g]\n", c.Observed.Min, c.Observed.Max)
		}
		if c.Expected != nil {
			fmt.Fprintf(&b, "  Expected range: [%g, %g]\n", c.Expected.Min, c.Expected.Max)
			if c.OutOfRange > 0 {
				fmt.Fprintf(&b, "  WARNING: %d values (%.2f%%) out of expected range\n", c.OutOfRange, c.OutOfRangePct)
			}
		}
	}

	cov := r.Coverage
	fmt.Fprintln(&b, "\nTemporal coverage:")
	fmt.Fprintln(&b, strings.Repeat("-", 40))
	fmt.Fprintf(&b, "  Time range: %d-%d (%d months expected)\n", cov.FirstYear, cov.LastYear, cov.ExpectedMonths)
	fmt.Fprintf(&b, "  Complete coverage (>= %.0f%%): %d locations\n", cov.Threshold*100, cov.Complete)
	if n := len(cov.Incomplete); n > 0 {
		fmt.Fprintf(&b, "  WARNING: %d locations with incomplete coverage\n", n)
		for _, lc := range cov.Incomplete {
			fmt.Fprintf(&b, "    %s: %d months (%.1f%%)\n", lc.LocationID, lc.Months, lc.Coverage*100)
		}
	}

	if a := r.Accounting; a != nil {
		fmt.Fprintln(&b, "\nRun accounting:")
		fmt.Fprintln(&b, strings.Repeat("-", 40))
		fmt.Fprintf(&b, "  Locations loaded: %d\n", a.LocationsLoaded)
		fmt.Fprintf(&b, "  Dropped (invalid coordinates): %d\n", a.DroppedInvalid)
		fmt.Fprintf(&b, "  Dropped (duplicate id): %d\n", a.Duplicates)
		fmt.Fprintf(&b, "  Unmatched (no grid cell within tolerance): %d\n", a.Unmatched)
		fmt.Fprintf(&b, "  Indexed: %d (cached: %t)\n", a.Indexed, a.IndexFromCache)
		fmt.Fprintf(&b, "  Variables: %d requested, %d succeeded\n", len(a.VariablesRequested), len(a.VariablesSucceeded))
		for _, v := range sortedKeys(a.VariablesFailed) {
			fmt.Fprintf(&b, "  FAILED %s: %s\n", v, a.VariablesFailed[v])
		}
		for _, v := range sortedKeys(a.SliceFailures) {
			fmt.Fprintf(&b, "  %s: %d locations without data\n", v, a.SliceFailures[v])
		}
	}

	fmt.Fprintln(&b, "\n"+rule)
	_, err := io.WriteString(w, b.String())
	return err
}

// RenderJSON writes the report as indented JSON.
func RenderJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

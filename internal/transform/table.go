// Package transform reshapes per-variable monthly series into wide tables and
// reduces them to the requested temporal resolution.
package transform

import (
	"fmt"
	"sort"
	"strconv"

	"go.ngs.io/terraclimate-extract/internal/domain"
)

// Mode is a temporal aggregation level.
type Mode string

const (
	ModeMonthly   Mode = "monthly"
	ModeAnnual    Mode = "annual"
	ModeSeasonal  Mode = "seasonal"
	ModeQuarterly Mode = "quarterly"
	ModeSummary   Mode = "summary"
)

// Modes lists the supported aggregation modes.
var Modes = []Mode{ModeSummary, ModeAnnual, ModeSeasonal, ModeQuarterly, ModeMonthly}

// ParseMode validates an aggregation mode name. An empty name means summary.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeSummary, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", domain.NewError(domain.KindConfiguration, fmt.Sprintf("unknown aggregation mode %q", s), nil)
}

// Key column names.
const (
	ColumnID      = "accession_id"
	ColumnYear    = "year"
	ColumnMonth   = "month"
	ColumnSeason  = "season"
	ColumnQuarter = "quarter"
)

// RowKey identifies a table row. Fields not used by the table's mode are zero.
type RowKey struct {
	LocationID string
	Year       int
	Month      int
	Season     domain.Season
	Quarter    int
}

func (k RowKey) less(o RowKey) bool {
	if k.LocationID != o.LocationID {
		return k.LocationID < o.LocationID
	}
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	if k.Month != o.Month {
		return k.Month < o.Month
	}
	if k.Season != o.Season {
		return k.Season < o.Season
	}
	return k.Quarter < o.Quarter
}

// Row is one wide record. Values are aligned with Table.Columns.
type Row struct {
	Key    RowKey
	Values []domain.Value
}

// Table is a wide table with a fixed column schema shared by every row.
type Table struct {
	Mode    Mode
	Columns []string
	Rows    []Row

	// Duplicates counts points Merge dropped because a variable repeated a key.
	Duplicates int
}

// KeyColumns returns the names of the key columns for the table's mode.
func (t *Table) KeyColumns() []string {
	switch t.Mode {
	case ModeMonthly:
		return []string{ColumnID, ColumnYear, ColumnMonth}
	case ModeAnnual:
		return []string{ColumnID, ColumnYear}
	case ModeSeasonal:
		return []string{ColumnID, ColumnYear, ColumnSeason}
	case ModeQuarterly:
		return []string{ColumnID, ColumnYear, ColumnQuarter}
	default:
		return []string{ColumnID}
	}
}

// KeyRecord formats a row key as strings aligned with KeyColumns.
func (t *Table) KeyRecord(k RowKey) []string {
	switch t.Mode {
	case ModeMonthly:
		return []string{k.LocationID, strconv.Itoa(k.Year), strconv.Itoa(k.Month)}
	case ModeAnnual:
		return []string{k.LocationID, strconv.Itoa(k.Year)}
	case ModeSeasonal:
		return []string{k.LocationID, strconv.Itoa(k.Year), k.Season.String()}
	case ModeQuarterly:
		return []string{k.LocationID, strconv.Itoa(k.Year), strconv.Itoa(k.Quarter)}
	default:
		return []string{k.LocationID}
	}
}

// ColumnIndex returns the position of a value column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Sort orders rows by location, then year, then month, season or quarter.
func (t *Table) Sort() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return t.Rows[i].Key.less(t.Rows[j].Key)
	})
}

// LocationIDs returns the distinct location ids in row order.
func (t *Table) LocationIDs() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, r := range t.Rows {
		if !seen[r.Key.LocationID] {
			seen[r.Key.LocationID] = true
			ids = append(ids, r.Key.LocationID)
		}
	}
	return ids
}

// Fill adds an all-missing row for every (id, month) pair absent from a
// monthly table so that locations without data still appear.
func (t *Table) Fill(ids []string, months []domain.YearMonth) {
	if t.Mode != ModeMonthly {
		return
	}
	have := make(map[RowKey]bool, len(t.Rows))
	for _, r := range t.Rows {
		have[r.Key] = true
	}
	added := false
	for _, id := range ids {
		for _, ym := range months {
			k := RowKey{LocationID: id, Year: ym.Year, Month: ym.Month}
			if have[k] {
				continue
			}
			have[k] = true
			t.Rows = append(t.Rows, Row{Key: k, Values: make([]domain.Value, len(t.Columns))})
			added = true
		}
	}
	if added {
		t.Sort()
	}
}

// Select returns a monthly table restricted to the named columns, dropping
// rows where all of them are missing.
func (t *Table) Select(columns ...string) *Table {
	idx := make([]int, 0, len(columns))
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		if i := t.ColumnIndex(c); i >= 0 {
			idx = append(idx, i)
			cols = append(cols, c)
		}
	}
	out := &Table{Mode: t.Mode, Columns: cols}
	for _, r := range t.Rows {
		values := make([]domain.Value, len(idx))
		present := false
		for j, i := range idx {
			values[j] = r.Values[i]
			present = present || !values[j].IsMissing()
		}
		if present {
			out.Rows = append(out.Rows, Row{Key: r.Key, Values: values})
		}
	}
	return out
}

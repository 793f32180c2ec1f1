package transform

import (
	"go.ngs.io/terraclimate-extract/internal/domain"
)

// Merge outer-joins per-variable series on (location, year, month). The
// table has one column per requested variable, in the given order, even when
// a variable has no points. When a variable repeats a (location, year, month)
// key the first point wins and the rest are counted in Table.Duplicates.
func Merge(variables []string, tables map[string][]domain.TimeSeriesPoint) *Table {
	t := &Table{Mode: ModeMonthly, Columns: append([]string(nil), variables...)}
	rows := make(map[RowKey]int)
	seen := make(map[RowKey][]bool)

	for col, variable := range variables {
		for _, p := range tables[variable] {
			k := RowKey{LocationID: p.LocationID, Year: p.Year, Month: p.Month}
			i, ok := rows[k]
			if !ok {
				i = len(t.Rows)
				rows[k] = i
				t.Rows = append(t.Rows, Row{Key: k, Values: make([]domain.Value, len(variables))})
				seen[k] = make([]bool, len(variables))
			}
			if seen[k][col] {
				t.Duplicates++
				continue
			}
			seen[k][col] = true
			t.Rows[i].Values[col] = p.Value
		}
	}
	t.Sort()
	return t
}

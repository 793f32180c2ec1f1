package transform

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"go.ngs.io/terraclimate-extract/internal/domain"
)

// Statistic is a reduction applied to each value column of a group.
type Statistic string

const (
	StatMean   Statistic = "mean"
	StatStd    Statistic = "std"
	StatMin    Statistic = "min"
	StatMax    Statistic = "max"
	StatMedian Statistic = "median"
)

// StatisticsFor returns the statistics emitted per column in mode.
func StatisticsFor(mode Mode) []Statistic {
	switch mode {
	case ModeMonthly:
		return nil
	case ModeSummary:
		return []Statistic{StatMean, StatStd, StatMin, StatMax, StatMedian}
	default:
		return []Statistic{StatMean, StatStd, StatMin, StatMax}
	}
}

// StatColumn names the aggregated column for a source column and statistic.
func StatColumn(column string, s Statistic) string {
	return column + "_" + string(s)
}

// Aggregate reduces a monthly table to mode. Missing values are excluded
// from every statistic; a group with no present values yields missing.
// Every output row carries the full column × statistic schema.
func Aggregate(t *Table, mode Mode) (*Table, error) {
	if t.Mode != ModeMonthly {
		return nil, domain.NewError(domain.KindConfiguration,
			fmt.Sprintf("aggregate requires a monthly table, got %s", t.Mode), nil)
	}
	if mode == ModeMonthly {
		out := &Table{Mode: ModeMonthly, Columns: t.Columns, Rows: slices.Clone(t.Rows)}
		out.Sort()
		return out, nil
	}
	keyOf, err := groupKey(mode)
	if err != nil {
		return nil, err
	}

	stats := StatisticsFor(mode)
	out := &Table{Mode: mode}
	for _, c := range t.Columns {
		for _, s := range stats {
			out.Columns = append(out.Columns, StatColumn(c, s))
		}
	}

	// samples[group][column] holds the present values.
	groups := make(map[RowKey]int)
	var keys []RowKey
	var samples [][][]float64
	for _, row := range t.Rows {
		k := keyOf(row.Key)
		g, ok := groups[k]
		if !ok {
			g = len(keys)
			groups[k] = g
			keys = append(keys, k)
			samples = append(samples, make([][]float64, len(t.Columns)))
		}
		for c, v := range row.Values {
			if f, ok := v.Float(); ok {
				samples[g][c] = append(samples[g][c], f)
			}
		}
	}

	out.Rows = make([]Row, len(keys))
	for g, k := range keys {
		values := make([]domain.Value, 0, len(out.Columns))
		for c := range t.Columns {
			for _, s := range stats {
				values = append(values, reduce(samples[g][c], s))
			}
		}
		out.Rows[g] = Row{Key: k, Values: values}
	}
	out.Sort()
	return out, nil
}

func groupKey(mode Mode) (func(RowKey) RowKey, error) {
	switch mode {
	case ModeAnnual:
		return func(k RowKey) RowKey {
			return RowKey{LocationID: k.LocationID, Year: k.Year}
		}, nil
	case ModeSeasonal:
		return func(k RowKey) RowKey {
			return RowKey{LocationID: k.LocationID, Year: k.Year, Season: domain.SeasonOf(k.Month)}
		}, nil
	case ModeQuarterly:
		return func(k RowKey) RowKey {
			return RowKey{LocationID: k.LocationID, Year: k.Year, Quarter: domain.QuarterOf(k.Month)}
		}, nil
	case ModeSummary:
		return func(k RowKey) RowKey {
			return RowKey{LocationID: k.LocationID}
		}, nil
	}
	return nil, domain.NewError(domain.KindConfiguration, fmt.Sprintf("unknown aggregation mode %q", mode), nil)
}

// reduce applies s to the present values x.
func reduce(x []float64, s Statistic) domain.Value {
	if len(x) == 0 {
		return domain.Missing
	}
	switch s {
	case StatMean:
		return domain.Some(stat.Mean(x, nil))
	case StatStd:
		// Sample standard deviation is undefined for a single value.
		if len(x) < 2 {
			return domain.Missing
		}
		return domain.Some(stat.StdDev(x, nil))
	case StatMin:
		return domain.Some(floats.Min(x))
	case StatMax:
		return domain.Some(floats.Max(x))
	case StatMedian:
		return domain.Some(median(x))
	}
	return domain.Missing
}

func median(x []float64) float64 {
	sorted := slices.Clone(x)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

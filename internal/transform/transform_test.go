package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"go.ngs.io/terraclimate-extract/internal/domain"
)

func pt(id string, year, month int, variable string, v float64) domain.TimeSeriesPoint {
	return domain.TimeSeriesPoint{LocationID: id, Year: year, Month: month, Variable: variable, Value: domain.Some(v)}
}

func value(t *testing.T, tbl *Table, row int, column string) (float64, bool) {
	t.Helper()
	c := tbl.ColumnIndex(column)
	require.GreaterOrEqual(t, c, 0, "column %s", column)
	return tbl.Rows[row].Values[c].Float()
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSummary, m)

	m, err = ParseMode("quarterly")
	require.NoError(t, err)
	assert.Equal(t, ModeQuarterly, m)

	_, err = ParseMode("weekly")
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
}

func TestMerge_OuterJoinKeepsEmptyColumns(t *testing.T) {
	tbl := Merge([]string{"ppt", "tmax", "soil"}, map[string][]domain.TimeSeriesPoint{
		"tmax": {pt("B", 1958, 1, "tmax", 20), pt("A", 1958, 1, "tmax", 10)},
		"ppt":  {pt("A", 1958, 2, "ppt", 5)},
		"vap":  {pt("A", 1958, 1, "vap", 1)},
	})

	assert.Equal(t, ModeMonthly, tbl.Mode)
	assert.Equal(t, []string{"ppt", "tmax", "soil"}, tbl.Columns)
	require.Len(t, tbl.Rows, 3)

	assert.Equal(t, RowKey{LocationID: "A", Year: 1958, Month: 1}, tbl.Rows[0].Key)
	assert.Equal(t, RowKey{LocationID: "A", Year: 1958, Month: 2}, tbl.Rows[1].Key)
	assert.Equal(t, RowKey{LocationID: "B", Year: 1958, Month: 1}, tbl.Rows[2].Key)

	v, ok := value(t, tbl, 0, "tmax")
	assert.True(t, ok)
	assert.Equal(t, 10.0, v)
	_, ok = value(t, tbl, 0, "ppt")
	assert.False(t, ok)
	for _, r := range tbl.Rows {
		assert.Len(t, r.Values, 3)
		assert.True(t, r.Values[2].IsMissing())
	}
}

func TestFill_AddsMissingLocations(t *testing.T) {
	tbl := Merge([]string{"tmax"}, map[string][]domain.TimeSeriesPoint{
		"tmax": {pt("A", 1958, 1, "tmax", 10)},
	})
	tbl.Fill([]string{"A", "B"}, []domain.YearMonth{{Year: 1958, Month: 1}, {Year: 1958, Month: 2}})

	require.Len(t, tbl.Rows, 4)
	assert.Equal(t, []string{"A", "B"}, tbl.LocationIDs())
	assert.Equal(t, RowKey{LocationID: "B", Year: 1958, Month: 2}, tbl.Rows[3].Key)
	assert.True(t, tbl.Rows[3].Values[0].IsMissing())
}

func TestAddDerived(t *testing.T) {
	tbl := Merge([]string{"pet", "ppt", "tmax", "tmin"}, map[string][]domain.TimeSeriesPoint{
		"pet":  {pt("A", 1958, 1, "pet", 50), pt("A", 1958, 2, "pet", 50), pt("A", 1958, 3, "pet", 40)},
		"ppt":  {pt("A", 1958, 1, "ppt", 0), pt("A", 1958, 2, "ppt", 100)},
		"tmax": {pt("A", 1958, 1, "tmax", 25)},
		"tmin": {pt("A", 1958, 1, "tmin", 5)},
	})

	out := AddDerived(tbl)

	assert.Equal(t, []string{"pet", "ppt", "tmax", "tmin", "aridity_index", "temperature_range"}, out.Columns,
		"only indices whose inputs were requested are added")
	assert.Len(t, tbl.Columns, 4, "input table is not modified")

	_, ok := value(t, out, 0, "aridity_index")
	assert.False(t, ok, "ppt == 0 yields missing")

	v, ok := value(t, out, 1, "aridity_index")
	require.True(t, ok)
	assert.Equal(t, 0.5, v)

	_, ok = value(t, out, 2, "aridity_index")
	assert.False(t, ok, "missing ppt yields missing")

	v, ok = value(t, out, 0, "temperature_range")
	require.True(t, ok)
	assert.Equal(t, 20.0, v)
	_, ok = value(t, out, 1, "temperature_range")
	assert.False(t, ok)
}

func TestAggregate_Summary(t *testing.T) {
	tbl := Merge([]string{"tmax"}, map[string][]domain.TimeSeriesPoint{
		"tmax": {
			pt("A", 1958, 1, "tmax", 10), pt("A", 1958, 2, "tmax", 20),
			pt("A", 1959, 1, "tmax", 30), pt("A", 1959, 2, "tmax", 40),
		},
	})

	out, err := Aggregate(tbl, ModeSummary)
	require.NoError(t, err)

	assert.Equal(t, []string{"tmax_mean", "tmax_std", "tmax_min", "tmax_max", "tmax_median"}, out.Columns)
	assert.Equal(t, []string{ColumnID}, out.KeyColumns())
	require.Len(t, out.Rows, 1)

	v, _ := value(t, out, 0, "tmax_mean")
	assert.Equal(t, 25.0, v)
	v, _ = value(t, out, 0, "tmax_min")
	assert.Equal(t, 10.0, v)
	v, _ = value(t, out, 0, "tmax_max")
	assert.Equal(t, 40.0, v)
	v, _ = value(t, out, 0, "tmax_median")
	assert.Equal(t, 25.0, v)
	v, _ = value(t, out, 0, "tmax_std")
	assert.InDelta(t, 12.9099, v, 1e-4)
}

func TestAggregate_AnnualMatchesSummary(t *testing.T) {
	var points []domain.TimeSeriesPoint
	for year := 1958; year <= 1960; year++ {
		for month := 1; month <= 12; month++ {
			v := float64((year-1958)*7+month*month%17) - 3.5
			points = append(points, pt("A", year, month, "tmin", v))
		}
	}
	tbl := Merge([]string{"tmin"}, map[string][]domain.TimeSeriesPoint{"tmin": points})

	annual, err := Aggregate(tbl, ModeAnnual)
	require.NoError(t, err)
	summary, err := Aggregate(tbl, ModeSummary)
	require.NoError(t, err)
	require.Len(t, annual.Rows, 3)

	column := func(name string) []float64 {
		var out []float64
		for i := range annual.Rows {
			v, ok := value(t, annual, i, name)
			require.True(t, ok)
			out = append(out, v)
		}
		return out
	}

	want, _ := value(t, summary, 0, "tmin_mean")
	assert.InDelta(t, want, stat.Mean(column("tmin_mean"), nil), 1e-9)
	want, _ = value(t, summary, 0, "tmin_min")
	assert.Equal(t, want, floats.Min(column("tmin_min")))
	want, _ = value(t, summary, 0, "tmin_max")
	assert.Equal(t, want, floats.Max(column("tmin_max")))
}

func TestAggregate_MissingLocationKeepsSchema(t *testing.T) {
	tbl := Merge([]string{"ppt", "srad"}, map[string][]domain.TimeSeriesPoint{
		"ppt": {pt("A", 1958, 1, "ppt", 12), pt("A", 1958, 2, "ppt", 14)},
	})
	tbl.Fill([]string{"A", "B"}, []domain.YearMonth{{Year: 1958, Month: 1}, {Year: 1958, Month: 2}})

	out, err := Aggregate(tbl, ModeAnnual)
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)
	assert.Len(t, out.Columns, 8)

	for _, r := range out.Rows {
		assert.Len(t, r.Values, len(out.Columns))
	}
	assert.Equal(t, "B", out.Rows[1].Key.LocationID)
	for _, v := range out.Rows[1].Values {
		assert.True(t, v.IsMissing())
	}
	_, ok := value(t, out, 0, "srad_mean")
	assert.False(t, ok, "all-missing group yields missing")
}

func TestAggregate_StdOfSingleValueIsMissing(t *testing.T) {
	tbl := Merge([]string{"ws"}, map[string][]domain.TimeSeriesPoint{
		"ws": {pt("A", 1958, 1, "ws", 3)},
	})
	out, err := Aggregate(tbl, ModeSummary)
	require.NoError(t, err)

	_, ok := value(t, out, 0, "ws_std")
	assert.False(t, ok)
	v, ok := value(t, out, 0, "ws_mean")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)
}

func TestAggregate_SeasonalOrderAndDecember(t *testing.T) {
	var points []domain.TimeSeriesPoint
	for month := 1; month <= 12; month++ {
		points = append(points, pt("A", 1958, month, "tmax", float64(month)))
	}
	tbl := Merge([]string{"tmax"}, map[string][]domain.TimeSeriesPoint{"tmax": points})

	out, err := Aggregate(tbl, ModeSeasonal)
	require.NoError(t, err)
	require.Len(t, out.Rows, 4)

	seasons := []domain.Season{domain.Winter, domain.Spring, domain.Summer, domain.Fall}
	for i, s := range seasons {
		assert.Equal(t, s, out.Rows[i].Key.Season)
		assert.Equal(t, 1958, out.Rows[i].Key.Year)
	}
	v, _ := value(t, out, 0, "tmax_mean")
	assert.Equal(t, 5.0, v, "winter 1958 is Jan, Feb and Dec 1958")
	assert.Equal(t, []string{"A", "1958", "Winter"}, out.KeyRecord(out.Rows[0].Key))
}

func TestAggregate_Quarterly(t *testing.T) {
	var points []domain.TimeSeriesPoint
	for month := 1; month <= 6; month++ {
		points = append(points, pt("A", 1960, month, "vap", float64(month)))
	}
	tbl := Merge([]string{"vap"}, map[string][]domain.TimeSeriesPoint{"vap": points})

	out, err := Aggregate(tbl, ModeQuarterly)
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, 1, out.Rows[0].Key.Quarter)
	assert.Equal(t, 2, out.Rows[1].Key.Quarter)

	v, _ := value(t, out, 1, "vap_max")
	assert.Equal(t, 6.0, v)
}

func TestAggregate_RejectsAggregatedInput(t *testing.T) {
	tbl := Merge([]string{"q"}, map[string][]domain.TimeSeriesPoint{"q": {pt("A", 1958, 1, "q", 1)}})
	annual, err := Aggregate(tbl, ModeAnnual)
	require.NoError(t, err)

	_, err = Aggregate(annual, ModeSummary)
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
}

func TestMerge_RepeatedKeyKeepsFirstPoint(t *testing.T) {
	tbl := Merge([]string{"tmax", "ppt"}, map[string][]domain.TimeSeriesPoint{
		"tmax": {pt("A", 1958, 1, "tmax", 10), pt("A", 1958, 1, "tmax", 99), pt("A", 1958, 2, "tmax", 11)},
		"ppt":  {pt("A", 1958, 1, "ppt", 5)},
	})
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, 1, tbl.Duplicates)

	v, ok := value(t, tbl, 0, "tmax")
	require.True(t, ok)
	assert.Equal(t, 10.0, v)
	v, ok = value(t, tbl, 0, "ppt")
	require.True(t, ok)
	assert.Equal(t, 5.0, v)
}

func TestSelect(t *testing.T) {
	tbl := Merge([]string{"tmax", "ppt"}, map[string][]domain.TimeSeriesPoint{
		"tmax": {pt("A", 1958, 1, "tmax", 10)},
		"ppt":  {pt("A", 1958, 2, "ppt", 3)},
	})
	sel := tbl.Select("ppt")
	assert.Equal(t, []string{"ppt"}, sel.Columns)
	require.Len(t, sel.Rows, 1)
	assert.Equal(t, 2, sel.Rows[0].Key.Month)
}

package domain

import "fmt"

// TimeSeriesPoint is one monthly value of one variable at one location.
type TimeSeriesPoint struct {
	LocationID string
	Year       int
	Month      int // 1-12.
	Variable   string
	Value      Value
}

// YearMonth identifies a calendar month.
type YearMonth struct {
	Year  int
	Month int
}

// Before reports whether ym is earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

// String formats the month as YYYY-MM.
func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

// MonthAt returns the calendar month at offset steps after the January of epochYear.
func MonthAt(epochYear, offset int) YearMonth {
	return YearMonth{
		Year:  epochYear + offset/12,
		Month: offset%12 + 1,
	}
}

// MonthOffset is the inverse of MonthAt.
func MonthOffset(epochYear int, ym YearMonth) int {
	return (ym.Year-epochYear)*12 + ym.Month - 1
}

// Season is a meteorological season.
type Season int

// Seasons in calendar order.
const (
	Winter Season = iota + 1
	Spring
	Summer
	Fall
)

var seasonNames = map[Season]string{
	Winter: "Winter",
	Spring: "Spring",
	Summer: "Summer",
	Fall:   "Fall",
}

// String returns the season name.
func (s Season) String() string {
	if name, ok := seasonNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Season(%d)", int(s))
}

// SeasonOf maps a month to its meteorological season.
// December belongs to the winter of its own calendar year.
func SeasonOf(month int) Season {
	switch month {
	case 12, 1, 2:
		return Winter
	case 3, 4, 5:
		return Spring
	case 6, 7, 8:
		return Summer
	default:
		return Fall
	}
}

// QuarterOf maps a month to its calendar quarter (1-4).
func QuarterOf(month int) int {
	return (month-1)/3 + 1
}

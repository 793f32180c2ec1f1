package extract

import (
	"fmt"

	"go.ngs.io/terraclimate-extract/internal/domain"
)

// YearRange optionally restricts extraction to whole calendar years.
// A zero bound is open.
type YearRange struct {
	Start int
	End   int
}

// Window is the slice of the monthly time axis read for every location.
type Window struct {
	EpochYear int // Year of time step 0 (January).
	Start     int // First time step.
	Count     int // Number of time steps.
}

// ResolveWindow clips years to a source axis of timeSteps months starting at
// January of epochYear.
func ResolveWindow(epochYear, timeSteps int, years *YearRange) (Window, error) {
	w := Window{EpochYear: epochYear, Start: 0, Count: timeSteps}
	if years != nil {
		end := timeSteps
		if years.Start > 0 {
			w.Start = max(0, (years.Start-epochYear)*12)
		}
		if years.End > 0 {
			end = min(timeSteps, (years.End-epochYear+1)*12)
		}
		w.Count = end - w.Start
	}
	if w.Count <= 0 {
		return Window{}, domain.NewError(domain.KindConfiguration,
			fmt.Sprintf("year range %+v is outside the source coverage (%d months from %d)", years, timeSteps, epochYear), nil)
	}
	return w, nil
}

// Months lists the calendar months covered by the window.
func (w Window) Months() []domain.YearMonth {
	out := make([]domain.YearMonth, w.Count)
	for i := range out {
		out[i] = domain.MonthAt(w.EpochYear, w.Start+i)
	}
	return out
}

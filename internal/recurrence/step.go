package recurrence

import (
	"fmt"
	"time"

	"github.com/dvloznov/finance-sync/internal/domain"
)

// StepFunc returns t moved forward by n units.
type StepFunc func(t time.Time, n int) time.Time

// AddDays moves t by n calendar days, keeping the wall clock.
func AddDays(t time.Time, n int) time.Time { return t.AddDate(0, 0, n) }

// AddWeeks moves t by n weeks.
func AddWeeks(t time.Time, n int) time.Time { return t.AddDate(0, 0, 7*n) }

// AddMonths moves t by n months. When the target month is shorter the day is
// clamped to its last day (Jan 31 + 1 month = Feb 28 or 29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// AddYears moves t by n years, clamping Feb 29 to Feb 28 in non-leap years.
func AddYears(t time.Time, n int) time.Time { return AddMonths(t, 12*n) }

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}

// stepsFor returns the step functions run for mode, in order.
// Weekly optionally continues into the daily chain.
func stepsFor(mode domain.Repeating, weeklyFallThrough bool) ([]StepFunc, error) {
	switch mode {
	case domain.RepeatingNone, domain.RepeatingInactive:
		return nil, nil
	case domain.RepeatingAnnually:
		return []StepFunc{AddYears}, nil
	case domain.RepeatingMonthly:
		return []StepFunc{AddMonths}, nil
	case domain.RepeatingWeekly:
		if weeklyFallThrough {
			return []StepFunc{AddWeeks, AddDays}, nil
		}
		return []StepFunc{AddWeeks}, nil
	case domain.RepeatingDaily:
		return []StepFunc{AddDays}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownRepeating, mode)
	}
}

package fetcher

import (
	"errors"
	"fmt"
	"time"
)

const periodLayout = "2006-01"

// ErrInvalidWindow is returned for unparseable or empty query windows.
var ErrInvalidWindow = errors.New("fetcher: invalid window")

// Period is one calendar month, [Start, End) in UTC.
type Period struct {
	Label string
	Start time.Time
	End   time.Time
}

// ParsePeriod parses a "YYYY-MM" month label.
func ParsePeriod(label string) (Period, error) {
	start, err := time.ParseInLocation(periodLayout, label, time.UTC)
	if err != nil {
		return Period{}, fmt.Errorf("%w: period %q must be YYYY-MM", ErrInvalidWindow, label)
	}
	return monthOf(start), nil
}

// PeriodOf returns the month containing t.
func PeriodOf(t time.Time) Period {
	return monthOf(t.UTC())
}

// Previous returns the month before p.
func (p Period) Previous() Period {
	return monthOf(p.Start.AddDate(0, -1, 0))
}

func monthOf(t time.Time) Period {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Label: start.Format(periodLayout),
		Start: start,
		End:   start.AddDate(0, 1, 0),
	}
}

// CohortWindow selects cohorts starting in [Start, End) and the offsets to
// report, bounded by MaxOffsetMonths and by AsOf.
type CohortWindow struct {
	Start           time.Time
	End             time.Time
	MaxOffsetMonths int
	AsOf            time.Time
}

// NewCohortWindow builds a window spanning the months from first to last inclusive.
func NewCohortWindow(first, last string, maxOffset int, asOf time.Time) (CohortWindow, error) {
	from, err := ParsePeriod(first)
	if err != nil {
		return CohortWindow{}, err
	}
	to, err := ParsePeriod(last)
	if err != nil {
		return CohortWindow{}, err
	}
	if to.Start.Before(from.Start) {
		return CohortWindow{}, fmt.Errorf("%w: %s is before %s", ErrInvalidWindow, last, first)
	}
	if maxOffset < 0 {
		return CohortWindow{}, fmt.Errorf("%w: max offset %d is negative", ErrInvalidWindow, maxOffset)
	}
	return CohortWindow{
		Start:           from.Start,
		End:             to.End,
		MaxOffsetMonths: maxOffset,
		AsOf:            asOf.UTC(),
	}, nil
}

// LookbackWindow covers the given number of months ending with the month of asOf.
func LookbackWindow(months, maxOffset int, asOf time.Time) CohortWindow {
	current := PeriodOf(asOf)
	return CohortWindow{
		Start:           current.Start.AddDate(0, -(months - 1), 0),
		End:             current.End,
		MaxOffsetMonths: maxOffset,
		AsOf:            asOf.UTC(),
	}
}

package policy

import (
	"fmt"
	"time"
)

// =============================================================================
// PAYROLL PERIOD - One calendar month
// =============================================================================

// Period is the payroll month executions are aggregated over.
type Period struct {
	Month time.Month `json:"month"`
	Year  int        `json:"year"`
}

// NewPeriod validates month (1-12) and year.
func NewPeriod(month, year int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, &InvalidArgumentError{Field: "month", Reason: fmt.Sprintf("must be 1-12, got %d", month)}
	}
	if year < 1970 || year > 9999 {
		return Period{}, &InvalidArgumentError{Field: "year", Reason: fmt.Sprintf("out of range: %d", year)}
	}
	return Period{Month: time.Month(month), Year: year}, nil
}

// PeriodOf returns the month containing t (UTC).
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Month: t.Month(), Year: t.Year()}
}

// Start is the first instant of the month (UTC).
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant of the next month, exclusive.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start()) && t.Before(p.End())
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

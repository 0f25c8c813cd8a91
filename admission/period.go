package admission

import "time"

// =============================================================================
// PERIOD - Quota accounting window
// =============================================================================

// Period is an inclusive date range [Start, End].
// Quotas are always counted per calendar month and calendar year.
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// AllTime covers every date a visit can carry.
var AllTime = Period{
	Start: NewDate(1, time.January, 1),
	End:   NewDate(9999, time.December, 31),
}

func MonthOf(d Date) Period {
	start := NewDate(d.Year(), d.Month(), 1)
	return Period{Start: start, End: start.AddMonths(1).AddDays(-1)}
}

func YearOf(d Date) Period {
	return Period{
		Start: NewDate(d.Year(), time.January, 1),
		End:   NewDate(d.Year(), time.December, 31),
	}
}

// PeriodType names the boundary a scheduled job is keyed on.
type PeriodType string

const (
	PeriodDay   PeriodType = "day"
	PeriodMonth PeriodType = "month"
	PeriodYear  PeriodType = "year"
)

// Key returns a stable identifier for the period of type pt containing d.
func (pt PeriodType) Key(d Date) string {
	switch pt {
	case PeriodMonth:
		return d.MonthKey()
	case PeriodYear:
		return d.t.Format("2006")
	default:
		return d.String()
	}
}

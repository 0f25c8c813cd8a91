/*
quota.go - Monthly/yearly visit quotas

PURPOSE:
  Answers "would one more visit on this date exceed the person's quota?"
  from the person's visit list. Pure: no store access, no clock.

COUNTING RULE:
  A visit counts toward quota if
    (a) its date is today or later and its status is approved, or
    (b) its date is before today and it was signed in (attended).
  Past visits without a sign-in do not count: a no-show frees its slot.
  Cancelled visits never count.

LIMITS:
  Per person kind, configurable. Defaults: 4 per calendar month and 12 per
  calendar year for both guests and reciprocating members. Some clubs give
  reciprocating members 24 per year; set LimitConfig.Reciprocal.Yearly.
  The host daily cap (default 4) applies to every hosted visit.
*/
package admission

// =============================================================================
// LIMITS
// =============================================================================

type Limits struct {
	Monthly int
	Yearly  int
}

type LimitConfig struct {
	Guest      Limits
	Reciprocal Limits
	HostDaily  int
}

func DefaultLimitConfig() LimitConfig {
	return LimitConfig{
		Guest:      Limits{Monthly: 4, Yearly: 12},
		Reciprocal: Limits{Monthly: 4, Yearly: 12},
		HostDaily:  4,
	}
}

// For returns the limits for a person kind.
func (c LimitConfig) For(kind PersonKind) Limits {
	if kind == KindReciprocal {
		return c.Reciprocal
	}
	return c.Guest
}

// =============================================================================
// QUOTA CALCULATOR
// =============================================================================

type Breach string

const (
	BreachNone    Breach = ""
	BreachMonthly Breach = "monthly"
	BreachYearly  Breach = "yearly"
)

// QuotaCheck is the outcome of checking one more visit against the limits.
type QuotaCheck struct {
	Date         Date
	MonthlyCount int // counted visits already in Date's month
	YearlyCount  int // counted visits already in Date's year
	Limits       Limits
	Breach       Breach
}

// WouldExceed reports whether adding the visit breaches a limit.
func (q QuotaCheck) WouldExceed() bool { return q.Breach != BreachNone }

// Counts reports whether v counts toward quota as of today.
func Counts(v Visit, today Date) bool {
	if v.Cancelled() {
		return false
	}
	if v.Date.Before(today) {
		return v.SignedIn()
	}
	return v.Status == StatusApproved
}

type QuotaCalculator struct {
	Limits Limits
}

// Check counts the visits that count toward the month and year of date,
// ignoring the visit with ID exclude (pass "" to ignore none), and
// decides whether one more visit would exceed either limit.
// The monthly limit is reported first when both are breached.
func (qc QuotaCalculator) Check(visits []Visit, date, today Date, exclude VisitID) QuotaCheck {
	month, year := MonthOf(date), YearOf(date)
	check := QuotaCheck{Date: date, Limits: qc.Limits}

	for _, v := range visits {
		if exclude != "" && v.ID == exclude {
			continue
		}
		if !Counts(v, today) {
			continue
		}
		if year.Contains(v.Date) {
			check.YearlyCount++
			if month.Contains(v.Date) {
				check.MonthlyCount++
			}
		}
	}

	switch {
	case check.MonthlyCount+1 > qc.Limits.Monthly:
		check.Breach = BreachMonthly
	case check.YearlyCount+1 > qc.Limits.Yearly:
		check.Breach = BreachYearly
	}
	return check
}

// =============================================================================
// RUNNING TALLY - Used by the recalculation replay
// =============================================================================

// tally keeps per-month and per-year counts while replaying a history.
type tally struct {
	months map[string]int
	years  map[int]int
}

func newTally() *tally {
	return &tally{months: make(map[string]int), years: make(map[int]int)}
}

func (t *tally) add(d Date, n int) {
	t.months[d.MonthKey()] += n
	t.years[d.Year()] += n
}

func (t *tally) month(d Date) int { return t.months[d.MonthKey()] }
func (t *tally) year(d Date) int { return t.years[d.Year()] }

// exceeds reports whether the counts for d's month or year are above limits.
func (t *tally) exceeds(d Date, l Limits) bool {
	return t.month(d) > l.Monthly || t.year(d) > l.Yearly
}

// reached reports whether the counts for d's month or year are at or above limits.
func (t *tally) reached(d Date, l Limits) bool {
	return t.month(d) >= l.Monthly || t.year(d) >= l.Yearly
}

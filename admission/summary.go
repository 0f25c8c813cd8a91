package admission

import (
	"context"

	"github.com/shopspring/decimal"
)

// QuotaSummary is a person's quota position for the current month and year.
type QuotaSummary struct {
	PersonID         PersonID
	Kind             PersonKind
	Standing         Standing
	Limits           Limits
	Month            string // yyyy-mm
	Year             int
	MonthlyCount     int
	YearlyCount      int
	MonthlyRemaining int
	YearlyRemaining  int
	MonthlyUsedPct   decimal.Decimal
	YearlyUsedPct    decimal.Decimal
}

// QuotaSummary reports how much of the person's quota is used as of today,
// applying the same counting rule as the quota check.
func (e *Engine) QuotaSummary(ctx context.Context, id PersonID) (*QuotaSummary, error) {
	p, err := e.store.GetPerson(ctx, id)
	if err != nil {
		return nil, err
	}
	today := e.Today()
	visits, err := e.store.ListVisits(ctx, id, YearOf(today))
	if err != nil {
		return nil, err
	}

	limits := e.limits.For(p.Kind)
	month := MonthOf(today)
	sum := &QuotaSummary{
		PersonID: id,
		Kind:     p.Kind,
		Standing: p.Standing,
		Limits:   limits,
		Month:    today.MonthKey(),
		Year:     today.Year(),
	}
	for _, v := range visits {
		if !Counts(v, today) {
			continue
		}
		sum.YearlyCount++
		if month.Contains(v.Date) {
			sum.MonthlyCount++
		}
	}
	sum.MonthlyRemaining = max(limits.Monthly-sum.MonthlyCount, 0)
	sum.YearlyRemaining = max(limits.Yearly-sum.YearlyCount, 0)
	sum.MonthlyUsedPct = usedPct(sum.MonthlyCount, limits.Monthly)
	sum.YearlyUsedPct = usedPct(sum.YearlyCount, limits.Yearly)
	return sum, nil
}

func usedPct(count, limit int) decimal.Decimal {
	if limit <= 0 {
		return decimal.NewFromInt(100)
	}
	return decimal.NewFromInt(int64(count)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(limit))).
		Round(1)
}

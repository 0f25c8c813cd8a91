package admission_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/visit-engine/admission"
)

func TestCounts(t *testing.T) {
	today := admission.MustParseDate("2024-03-20")
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		date     string
		status   admission.VisitStatus
		signedIn bool
		want     bool
	}{
		{"future approved", "2024-03-25", admission.StatusApproved, false, true},
		{"today approved", "2024-03-20", admission.StatusApproved, false, true},
		{"future unapproved", "2024-03-25", admission.StatusUnapproved, false, false},
		{"future suspended", "2024-03-25", admission.StatusSuspended, false, false},
		{"past attended", "2024-03-01", admission.StatusApproved, true, true},
		{"past no-show", "2024-03-01", admission.StatusApproved, false, false},
		{"past cancelled", "2024-03-01", admission.StatusCancelled, true, false},
		{"future cancelled", "2024-03-25", admission.StatusCancelled, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := admission.Visit{Date: admission.MustParseDate(tt.date), Status: tt.status}
			if tt.signedIn {
				v.SignInTime = &at
			}
			assert.Equal(t, tt.want, admission.Counts(v, today))
		})
	}
}

func TestQuotaCalculator_Check(t *testing.T) {
	today := admission.MustParseDate("2024-03-20")
	approved := func(id, date string) admission.Visit {
		return admission.Visit{ID: admission.VisitID(id), Date: admission.MustParseDate(date), Status: admission.StatusApproved}
	}
	calc := admission.QuotaCalculator{Limits: admission.Limits{Monthly: 2, Yearly: 3}}

	t.Run("under both limits", func(t *testing.T) {
		check := calc.Check([]admission.Visit{approved("a", "2024-03-22")}, admission.MustParseDate("2024-03-25"), today, "")
		assert.Equal(t, 1, check.MonthlyCount)
		assert.Equal(t, 1, check.YearlyCount)
		assert.False(t, check.WouldExceed())
	})

	t.Run("monthly reported before yearly", func(t *testing.T) {
		visits := []admission.Visit{
			approved("a", "2024-03-21"),
			approved("b", "2024-03-22"),
			approved("c", "2024-04-02"),
		}
		check := calc.Check(visits, admission.MustParseDate("2024-03-25"), today, "")
		assert.Equal(t, admission.BreachMonthly, check.Breach)
		assert.Equal(t, 3, check.YearlyCount)
	})

	t.Run("yearly breach in a fresh month", func(t *testing.T) {
		visits := []admission.Visit{
			approved("a", "2024-03-21"),
			approved("b", "2024-03-22"),
			approved("c", "2024-04-02"),
		}
		check := calc.Check(visits, admission.MustParseDate("2024-05-01"), today, "")
		assert.Equal(t, 0, check.MonthlyCount)
		assert.Equal(t, admission.BreachYearly, check.Breach)
	})

	t.Run("excluded visit is ignored", func(t *testing.T) {
		visits := []admission.Visit{approved("a", "2024-03-21"), approved("b", "2024-03-22")}
		check := calc.Check(visits, admission.MustParseDate("2024-03-22"), today, "b")
		assert.Equal(t, 1, check.MonthlyCount)
		assert.False(t, check.WouldExceed())
	})

	t.Run("other years do not count", func(t *testing.T) {
		visits := []admission.Visit{
			approved("a", "2024-12-30"),
			approved("b", "2024-12-31"),
			approved("c", "2024-12-29"),
		}
		check := calc.Check(visits, admission.MustParseDate("2025-01-01"), today, "")
		assert.Equal(t, 0, check.YearlyCount)
		assert.False(t, check.WouldExceed())
	})
}

func TestLimitConfig_For(t *testing.T) {
	cfg := admission.DefaultLimitConfig()
	cfg.Reciprocal.Yearly = 24

	assert.Equal(t, admission.Limits{Monthly: 4, Yearly: 12}, cfg.For(admission.KindGuest))
	assert.Equal(t, admission.Limits{Monthly: 4, Yearly: 24}, cfg.For(admission.KindReciprocal))
	assert.Equal(t, 4, cfg.HostDaily)
}

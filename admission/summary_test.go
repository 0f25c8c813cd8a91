package admission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/visit-engine/admission"
)

func TestQuotaSummary(t *testing.T) {
	// GIVEN: One attended visit, one no-show and one upcoming visit in March
	h := newHarness(t, admission.LimitConfig{})
	h.host("H1")
	h.attend("G-1", "H1", "2024-03-04")
	h.clock.SetDate("2024-03-05", 10)
	h.guest("G-1", "H1", "2024-03-06")
	h.clock.SetDate("2024-03-20", 10)
	reg := h.guest("G-1", "H1", "2024-03-28")

	// WHEN: The summary is requested
	sum, err := h.engine.QuotaSummary(h.ctx, reg.Person.ID)

	// THEN: The no-show is not counted
	require.NoError(t, err)
	assert.Equal(t, "2024-03", sum.Month)
	assert.Equal(t, 2024, sum.Year)
	assert.Equal(t, 2, sum.MonthlyCount)
	assert.Equal(t, 2, sum.YearlyCount)
	assert.Equal(t, 2, sum.MonthlyRemaining)
	assert.Equal(t, 10, sum.YearlyRemaining)
	assert.Equal(t, "50", sum.MonthlyUsedPct.String())
	assert.Equal(t, "16.7", sum.YearlyUsedPct.String())
}

func TestQuotaSummary_UnknownPerson(t *testing.T) {
	h := newHarness(t, admission.LimitConfig{})

	_, err := h.engine.QuotaSummary(h.ctx, "missing")

	assert.ErrorIs(t, err, admission.ErrPersonNotFound)
}

package admission_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/visit-engine/admission"
)

// =============================================================================
// VALIDATION
// =============================================================================

func TestRegisterVisit_Validation(t *testing.T) {
	date := admission.MustParseDate("2024-03-22")
	tests := []struct {
		name  string
		req   admission.RegisterRequest
		field string
	}{
		{
			name:  "unknown kind",
			req:   admission.RegisterRequest{Kind: "vip", IDNumber: "X", HostID: "H1", Date: date},
			field: "Kind",
		},
		{
			name:  "no phone and no id number",
			req:   admission.RegisterRequest{Kind: admission.KindGuest, HostID: "H1", Date: date},
			field: "IDNumber",
		},
		{
			name:  "malformed email",
			req:   admission.RegisterRequest{Kind: admission.KindGuest, IDNumber: "X", Email: "not-an-email", HostID: "H1", Date: date},
			field: "Email",
		},
		{
			name:  "unparseable phone",
			req:   admission.RegisterRequest{Kind: admission.KindGuest, Phone: "12", HostID: "H1", Date: date},
			field: "Phone",
		},
		{
			name:  "missing date",
			req:   admission.RegisterRequest{Kind: admission.KindGuest, IDNumber: "X", HostID: "H1"},
			field: "Date",
		},
		{
			name:  "reciprocal member with a host",
			req:   admission.RegisterRequest{Kind: admission.KindReciprocal, IDNumber: "X", HostID: "H1", Date: date},
			field: "HostID",
		},
		{
			name:  "courtesy guest with a host",
			req:   admission.RegisterRequest{Kind: admission.KindGuest, IDNumber: "X", HostID: "H1", Courtesy: true, Date: date},
			field: "HostID",
		},
		{
			name:  "guest without host or courtesy",
			req:   admission.RegisterRequest{Kind: admission.KindGuest, IDNumber: "X", Date: date},
			field: "HostID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, admission.LimitConfig{})
			h.host("H1")

			_, err := h.engine.RegisterVisit(h.ctx, tt.req)

			require.ErrorIs(t, err, admission.ErrValidation)
			var verr *admission.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tt.field)
			assert.True(t, admission.IsClientError(err))
		})
	}
}

func TestRegisterVisit_PastDateRejected(t *testing.T) {
	// GIVEN: Today is 2024-03-20
	h := newHarness(t, admission.LimitConfig{})
	h.host("H1")

	// WHEN: Registering for yesterday
	_, err := h.engine.RegisterVisit(h.ctx, admission.RegisterRequest{
		Kind: admission.KindGuest, IDNumber: "G-1", HostID: "H1",
		Date: admission.MustParseDate("2024-03-19"),
	})

	// THEN: Rejected; today itself is allowed
	assert.ErrorIs(t, err, admission.ErrPastDate)
	reg := h.guest("G-1", "H1", "2024-03-20")
	assert.Equal(t, admission.StatusApproved, reg.Visit.Status)
}

func TestRegisterVisit_InvalidHost(t *testing.T) {
	h := newHarness(t, admission.LimitConfig{})
	_, err := h.engine.SaveHost(h.ctx, admission.Host{ID: "H-OFF", Name: "Lapsed", Active: false})
	require.NoError(t, err)

	for _, host := range []admission.HostID{"H-NONE", "H-OFF"} {
		_, err := h.engine.RegisterVisit(h.ctx, admission.RegisterRequest{
			Kind: admission.KindGuest, IDNumber: "G-1", HostID: host,
			Date: admission.MustParseDate("2024-03-22"),
		})
		assert.ErrorIs(t, err, admission.ErrInvalidHost, "host %s", host)
	}

	// No person is created by a failed registration
	persons, err := h.engine.ListPersons(h.ctx, admission.PersonFilter{})
	require.NoError(t, err)
	assert.Empty(t, persons)
}

// =============================================================================
// IDENTITY AND DUPLICATES
// =============================================================================

func TestRegisterVisit_DuplicateDateRejected(t *testing.T) {
	// GIVEN: A guest booked on 2024-03-22
	h := newHarness(t, admission.LimitConfig{})
	h.host("H1")
	h.host("H2")
	first := h.guest("G-1", "H1", "2024-03-22")
	h.notes.Reset()

	// WHEN: The same guest books the same date with another host
	_, err := h.engine.RegisterVisit(h.ctx, admission.RegisterRequest{
		Kind: admission.KindGuest, IDNumber: "G-1", HostID: "H2",
		Date: admission.MustParseDate("2024-03-22"),
	})

	// THEN: Duplicate, pointing at the existing visit, and nothing is sent
	require.ErrorIs(t, err, admission.ErrDuplicateVisit)
	var dup *admission.DuplicateVisitError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.Visit.ID, dup.Existing)
	assert.Empty(t, h.notes.OfKind(admission.EventRegistered))
}

func TestRegisterVisit_MatchesPersonByPhone(t *testing.T) {
	// GIVEN: A guest registered with a locally formatted phone
	h := newHarness(t, admission.LimitConfig{})
	h.host("H1")
	first, err := h.engine.RegisterVisit(h.ctx, admission.RegisterRequest{
		Kind: admission.KindGuest, Name: "Ada", Phone: "(650) 253-0000", HostID: "H1",
		Date: admission.MustParseDate("2024-03-21"),
	})
	require.NoError(t, err)
	require.True(t, first.PersonCreated)
	assert.Equal(t, "+16502530000", first.Person.Phone)

	// WHEN: Registering again with the E.164 form and new contact details
	second, err := h.engine.RegisterVisit(h.ctx, admission.RegisterRequest{
		Kind: admission.KindGuest, Phone: "+1 650 253 0000", Email: "ada@example.org", IDNumber: "P-77",
		HostID: "H1", Date: admission.MustParseDate("2024-03-22"),
	})
	require.NoError(t, err)

	// THEN: Same person, blank fields filled, name kept
	assert.False(t, second.PersonCreated)
	assert.Equal(t, first.Person.ID, second.Person.ID)
	p := h.person(first.Person.ID)
	assert.Equal(t, "Ada", p.Name)
	assert.Equal(t, "ada@example.org", p.Email)
	assert.Equal(t, "P-77", p.IDNumber)
}

func TestRegisterVisit_KindsAreSeparatePersons(t *testing.T) {
	h := newHarness(t, admission.LimitConfig{})
	h.host("H1")

	g := h.guest("X-1", "H1", "2024-03-22")
	r := h.reciprocal("X-1", "2024-03-22")

	assert.True(t, r.PersonCreated)
	assert.NotEqual(t, g.Person.ID, r.Person.ID)
	assert.Equal(t, admission.KindReciprocal, r.Person.Kind)
	assert.False(t, r.Visit.HasHost())
}

func TestRegisterVisit_ReusesCancelledRow(t *testing.T) {
	// GIVEN: A cancelled visit on 2024-03-22
	h := newHarness(t, admission.LimitConfig{})
	h.host("H1")
	first := h.guest("G-1", "H1", "2024-03-22")
	_, err := h.engine.CancelVisit(h.ctx, first.Visit.ID)
	require.NoError(t, err)

	// WHEN: Registering the same date again
	again := h.guest("G-1", "H1", "2024-03-22")

	// THEN: The row is reopened with a fresh place in line
	assert.Equal(t, first.Visit.ID, again.Visit.ID)
	assert.Greater(t, again.Visit.Seq, first.Visit.Seq)
	assert.Equal(t, admission.StatusApproved, h.visit(first.Visit.ID).Status)
}

// =============================================================================
// COURTESY AND RECIPROCAL VISITS
// =============================================================================

func TestRegisterVisit_CourtesyVisitsSkipHostCap(t *testing.T) {
	// GIVEN: A host at the daily cap
	h := newHarness(t, smallLimits(4, 12, 2))
	h.host("H1")
	h.guest("G-1", "H1", "2024-03-22")
	h.guest("G-2", "H1", "2024-03-22")

	// WHEN: A hostless courtesy guest registers for the same day
	courtesy, err := h.engine.RegisterVisit(h.ctx, admission.RegisterRequest{
		Kind: admission.KindGuest, IDNumber: "C-1", Courtesy: true,
		Date: admission.MustParseDate("2024-03-22"),
	})
	require.NoError(t, err)

	// THEN: It is approved and the host keeps its two slots
	assert.Equal(t, admission.StatusApproved, courtesy.Visit.Status)
	assert.False(t, courtesy.HostFull)
	assert.Empty(t, courtesy.Visit.HostID)
	assert.Equal(t, 2, h.approvedFor("H1", "2024-03-22"))

	// AND: A courtesy guest cannot be attached to the full host
	_, err = h.engine.RegisterVisit(h.ctx, admission.RegisterRequest{
		Kind: admission.KindGuest, IDNumber: "C-2", HostID: "H1", Courtesy: true,
		Date: admission.MustParseDate("2024-03-22"),
	})
	require.ErrorIs(t, err, admission.ErrValidation)
	assert.Equal(t, 2, h.approvedFor("H1", "2024-03-22"))
}

func TestRebalanceHostDay_HostedCourtesyRowTakesASlot(t *testing.T) {
	// GIVEN: A host with a cap of 1, one approved guest, and a courtesy
	// row written straight to the store with the same host
	h := newHarness(t, smallLimits(4, 12, 1))
	h.host("H1")
	first := h.guest("G-1", "H1", "2024-03-22")
	require.NoError(t, h.store.CreatePerson(h.ctx, admission.Person{
		ID: "c1", Kind: admission.KindGuest, Standing: admission.StandingActive,
	}))
	legacy := admission.Visit{
		ID: "v-courtesy", PersonID: "c1", HostID: "H1", Courtesy: true,
		Date: admission.MustParseDate("2024-03-22"), Status: admission.StatusApproved,
	}
	require.NoError(t, h.store.InsertVisit(h.ctx, &legacy))

	// WHEN: The host day is rebalanced
	res, err := h.engine.RebalanceHostDay(h.ctx, "H1", admission.MustParseDate("2024-03-22"))

	// THEN: The courtesy row is held to the cap like any other visit
	require.NoError(t, err)
	assert.Equal(t, 1, res.Approved)
	assert.Equal(t, 1, res.Displaced)
	assert.Equal(t, admission.StatusApproved, h.visit(first.Visit.ID).Status)
	assert.Equal(t, admission.StatusUnapproved, h.visit("v-courtesy").Status)
	assert.Equal(t, 1, h.approvedFor("H1", "2024-03-22"))
}

func TestRegisterVisit_CourtesyStillCountsTowardQuota(t *testing.T) {
	h := newHarness(t, smallLimits(1, 12, 4))

	first, err := h.engine.RegisterVisit(h.ctx, admission.RegisterRequest{
		Kind: admission.KindGuest, IDNumber: "C-1", Courtesy: true,
		Date: admission.MustParseDate("2024-03-22"),
	})
	require.NoError(t, err)
	second, err := h.engine.RegisterVisit(h.ctx, admission.RegisterRequest{
		Kind: admission.KindGuest, IDNumber: "C-1", Courtesy: true,
		Date: admission.MustParseDate("2024-03-23"),
	})
	require.NoError(t, err)

	assert.Equal(t, admission.StatusApproved, first.Visit.Status)
	assert.Equal(t, admission.StatusUnapproved, second.Visit.Status)
	assert.Equal(t, admission.BreachMonthly, second.Quota.Breach)
}

func TestRegisterVisit_ReciprocalYearlyLimitIsConfigurable(t *testing.T) {
	// GIVEN: Reciprocal members allowed 24 visits a year, 4 a month
	limits := admission.DefaultLimitConfig()
	limits.Reciprocal.Yearly = 24
	h := newHarness(t, limits)

	// WHEN: Booking 4 visits in each of 4 months (16 total)
	var last *admission.Registration
	for m := 4; m <= 7; m++ {
		for d := 1; d <= 4; d++ {
			last = h.reciprocal("R-1", fmt.Sprintf("2024-%02d-%02d", m, d))
			require.Equal(t, admission.StatusApproved, last.Visit.Status)
		}
	}

	// THEN: All are approved, beyond the guest yearly default of 12
	assert.Equal(t, 15, last.Quota.YearlyCount)
}

// =============================================================================
// STANDING AT REGISTRATION
// =============================================================================

func TestRegisterVisit_StandingPinsNewVisits(t *testing.T) {
	tests := []struct {
		standing admission.Standing
		want     admission.VisitStatus
	}{
		{admission.StandingBanned, admission.StatusBanned},
		{admission.StandingSuspended, admission.StatusSuspended},
		{admission.StandingActive, admission.StatusApproved},
	}

	for _, tt := range tests {
		t.Run(string(tt.standing), func(t *testing.T) {
			h := newHarness(t, admission.LimitConfig{})
			h.host("H1")
			first := h.guest("G-1", "H1", "2024-03-21")
			_, err := h.engine.SetStanding(h.ctx, first.Person.ID, tt.standing)
			require.NoError(t, err)

			reg := h.guest("G-1", "H1", "2024-03-22")

			assert.Equal(t, tt.want, reg.Visit.Status)
		})
	}
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestRegisterVisit_ConcurrentRegistrationsRespectHostCap(t *testing.T) {
	// GIVEN: One host, ten guests registering at once for the same day
	h := newHarness(t, admission.LimitConfig{})
	h.host("H1")

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.RegisterVisit(context.Background(), admission.RegisterRequest{
				Kind: admission.KindGuest, IDNumber: fmt.Sprintf("G-%d", i), HostID: "H1",
				Date: admission.MustParseDate("2024-03-22"),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	// THEN: Every registration succeeds and exactly 4 are approved
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 4, h.approvedFor("H1", "2024-03-22"))
	assert.Len(t, h.notes.OfKind(admission.EventRegistered), 10)
}

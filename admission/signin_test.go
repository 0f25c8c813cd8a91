package admission_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/visit-engine/admission"
)

// =============================================================================
// SIGN IN
// =============================================================================

func TestSignIn_Success(t *testing.T) {
	// GIVEN: An approved visit today
	h := newHarness(t, admission.LimitConfig{})
	h.host("H1")
	reg := h.guest("G-1", "H1", "2024-03-20")

	// WHEN: The guest signs in
	v, err := h.engine.SignIn(h.ctx, reg.Visit.ID, "G-1")

	// THEN: The sign-in time is recorded and the visit is active
	require.NoError(t, err)
	require.NotNil(t, v.SignInTime)
	assert.True(t, v.SignInTime.Equal(h.clock.Now()))
	assert.Equal(t, admission.StateActive, admission.DeriveState(*v, h.engine.Today()))
	require.Len(t, h.notes.OfKind(admission.EventSignedIn), 1)
}

func TestSignIn_Rejections(t *testing.T) {
	h := newHarness(t, smallLimits(4, 12, 1))
	h.host("H1")

	t.Run("empty id number", func(t *testing.T) {
		reg := h.guest("G-1", "H1", "2024-03-20")
		_, err := h.engine.SignIn(h.ctx, reg.Visit.ID, "  ")
		assert.ErrorIs(t, err, admission.ErrValidation)
	})

	t.Run("not the visit date", func(t *testing.T) {
		reg := h.guest("G-2", "H1", "2024-03-21")
		_, err := h.engine.SignIn(h.ctx, reg.Visit.ID, "G-2")
		assert.ErrorIs(t, err, admission.ErrNotVisitDate)
	})

	t.Run("visit not approved", func(t *testing.T) {
		// H1 already has G-1 today with a cap of 1
		reg := h.guest("G-3", "H1", "2024-03-20")
		require.Equal(t, admission.StatusUnapproved, reg.Visit.Status)
		_, err := h.engine.SignIn(h.ctx, reg.Visit.ID, "G-3")
		assert.ErrorIs(t, err, admission.ErrVisitNotApproved)
	})

	t.Run("already signed in", func(t *testing.T) {
		reg := h.reciprocal("R-1", "2024-03-20")
		_, err := h.engine.SignIn(h.ctx, reg.Visit.ID, "R-1")
		require.NoError(t, err)
		_, err = h.engine.SignIn(h.ctx, reg.Visit.ID, "R-1")
		assert.ErrorIs(t, err, admission.ErrAlreadySignedIn)
	})

	t.Run("banned", func(t *testing.T) {
		reg := h.reciprocal("R-2", "2024-03-20")
		_, err := h.engine.SetStanding(h.ctx, reg.Person.ID, admission.StandingBanned)
		require.NoError(t, err)
		_, err = h.engine.SignIn(h.ctx, reg.Visit.ID, "R-2")
		assert.ErrorIs(t, err, admission.ErrIneligibleStanding)
	})
}

func TestSignIn_QuotaSuspensionPinsEveryVisit(t *testing.T) {
	// GIVEN: Monthly limit 2, visits today and tomorrow, so the engine
	// suspends the person for having reached the limit
	h := newHarness(t, smallLimits(2, 12, 4))
	h.host("H1")
	today := h.guest("G-1", "H1", "2024-03-20")
	tomorrow := h.guest("G-1", "H1", "2024-03-21")
	res, err := h.engine.RecalculatePerson(h.ctx, today.Person.ID)
	require.NoError(t, err)
	require.Equal(t, admission.StandingSuspended, res.NewStanding)
	require.True(t, h.person(today.Person.ID).QuotaSuspended())

	// THEN: Both visits mirror the suspension, even though they are within quota
	assert.Equal(t, admission.StatusSuspended, h.visit(today.Visit.ID).Status)
	assert.Equal(t, admission.StatusSuspended, h.visit(tomorrow.Visit.ID).Status)

	// WHEN: They arrive for today's visit
	_, err = h.engine.SignIn(h.ctx, today.Visit.ID, "G-1")

	// THEN: Sign-in is refused for standing
	assert.ErrorIs(t, err, admission.ErrIneligibleStanding)
	assert.False(t, h.visit(today.Visit.ID).SignedIn())

	// AND: A new registration in a fresh month is pinned too
	april := h.guest("G-1", "H1", "2024-04-02")
	assert.False(t, april.Quota.WouldExceed())
	assert.Equal(t, admission.StatusSuspended, april.Visit.Status)
}

func TestSignIn_CorrectsIDNumber(t *testing.T) {
	h := newHarness(t, admission.LimitConfig{})
	h.host("H1")
	reg, err := h.engine.RegisterVisit(h.ctx, admission.RegisterRequest{
		Kind: admission.KindGuest, Phone: "650-253-0002", IDNumber: "OLD-1", HostID: "H1",
		Date: admission.MustParseDate("2024-03-20"),
	})
	require.NoError(t, err)

	_, err = h.engine.SignIn(h.ctx, reg.Visit.ID, "NEW-9")

	require.NoError(t, err)
	assert.Equal(t, "NEW-9", h.person(reg.Person.ID).IDNumber)
}

// =============================================================================
// SIGN OUT
// =============================================================================

func TestSignOut(t *testing.T) {
	// GIVEN: A guest signed in at 10:00
	h := newHarness(t, admission.LimitConfig{})
	h.host("H1")
	reg := h.guest("G-1", "H1", "2024-03-20")

	_, err := h.engine.SignOut(h.ctx, reg.Visit.ID)
	assert.ErrorIs(t, err, admission.ErrNotSignedIn)

	_, err = h.engine.SignIn(h.ctx, reg.Visit.ID, "G-1")
	require.NoError(t, err)

	// WHEN: Signing out at 12:30
	h.clock.Set(h.clock.Now().Add(150 * time.Minute))
	res, err := h.engine.SignOut(h.ctx, reg.Visit.ID)

	// THEN: Duration is reported and the visit is completed
	require.NoError(t, err)
	assert.Equal(t, 150*time.Minute, res.Duration)
	assert.True(t, admission.DurationHours(res.Duration).Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, admission.StateCompleted, admission.DeriveState(res.Visit, h.engine.Today()))

	out := h.notes.OfKind(admission.EventSignedOut)
	require.Len(t, out, 1)
	assert.Equal(t, "150", out[0].Context["duration_minutes"])

	// AND: A second sign-out is refused
	_, err = h.engine.SignOut(h.ctx, reg.Visit.ID)
	assert.ErrorIs(t, err, admission.ErrAlreadySignedOut)
}

func TestDurationHours_RoundsToTwoDecimals(t *testing.T) {
	got := admission.DurationHours(100 * time.Minute)
	assert.Equal(t, "1.67", got.StringFixed(2))
}

// =============================================================================
// AUTO SIGN-OUT
// =============================================================================

func TestAutoSignOutAll(t *testing.T) {
	// GIVEN: Two guests signed in today, one already signed out
	h := newHarness(t, admission.LimitConfig{})
	h.host("H1")
	stay := h.guest("G-1", "H1", "2024-03-20")
	left := h.guest("G-2", "H1", "2024-03-20")
	for _, r := range []*admission.Registration{stay, left} {
		_, err := h.engine.SignIn(h.ctx, r.Visit.ID, r.Person.IDNumber)
		require.NoError(t, err)
	}
	_, err := h.engine.SignOut(h.ctx, left.Visit.ID)
	require.NoError(t, err)
	h.notes.Reset()

	// WHEN: The day is closed
	n, err := h.engine.AutoSignOutAll(h.ctx, admission.MustParseDate("2024-03-20"))

	// THEN: Only the guest still inside is signed out, at 23:59:59
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	v := h.visit(stay.Visit.ID)
	require.NotNil(t, v.SignOutTime)
	assert.Equal(t, time.Date(2024, 3, 20, 23, 59, 59, 0, time.UTC), v.SignOutTime.UTC())
	assert.Empty(t, h.notes.OfKind(admission.EventSignedOut))

	// AND: Running it again is a no-op
	n, err = h.engine.AutoSignOutAll(h.ctx, admission.MustParseDate("2024-03-20"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// =============================================================================
// DERIVED STATE
// =============================================================================

func TestDeriveState(t *testing.T) {
	today := admission.MustParseDate("2024-03-20")
	at := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

	visit := func(date string, status admission.VisitStatus, in, out bool) admission.Visit {
		v := admission.Visit{Date: admission.MustParseDate(date), Status: status}
		if in {
			v.SignInTime = &at
		}
		if out {
			v.SignOutTime = &at
		}
		return v
	}

	tests := []struct {
		name string
		v    admission.Visit
		want admission.VisitState
	}{
		{"future approved", visit("2024-03-21", admission.StatusApproved, false, false), admission.StateScheduled},
		{"today approved", visit("2024-03-20", admission.StatusApproved, false, false), admission.StatePending},
		{"today signed in", visit("2024-03-20", admission.StatusApproved, true, false), admission.StateActive},
		{"today signed out", visit("2024-03-20", admission.StatusApproved, true, true), admission.StateCompleted},
		{"past signed in only", visit("2024-03-19", admission.StatusApproved, true, false), admission.StateCompleted},
		{"past no-show", visit("2024-03-19", admission.StatusApproved, false, false), admission.StateMissed},
		{"cancelled", visit("2024-03-21", admission.StatusCancelled, false, false), admission.StateCancelled},
		{"unapproved", visit("2024-03-20", admission.StatusUnapproved, false, false), admission.StateUnapproved},
		{"suspended", visit("2024-03-20", admission.StatusSuspended, false, false), admission.StateSuspended},
		{"banned wins over sign-in", visit("2024-03-20", admission.StatusBanned, true, false), admission.StateBanned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, admission.DeriveState(tt.v, today))
		})
	}
}

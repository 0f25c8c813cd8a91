// Package storetest is a conformance suite every admission.TxStore must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/visit-engine/admission"
)

// Run executes the suite. open must return an empty store; it is called
// once per subtest.
func Run(t *testing.T, open func(t *testing.T) admission.TxStore) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s admission.TxStore)
	}{
		{"FindPerson", testFindPerson},
		{"CreatePersonTwice", testCreatePersonTwice},
		{"ListPersonsFilter", testListPersonsFilter},
		{"Hosts", testHosts},
		{"InsertVisitAssignsSeq", testInsertVisitAssignsSeq},
		{"OneLiveVisitPerDay", testOneLiveVisitPerDay},
		{"ReopenVisit", testReopenVisit},
		{"ListVisitQueries", testListVisitQueries},
		{"DeletePerson", testDeletePerson},
		{"WithTxRollback", testWithTxRollback},
		{"JobRuns", testJobRuns},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

var base = time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

func person(id string, kind admission.PersonKind, phone, idNumber string, created time.Time) admission.Person {
	return admission.Person{
		ID:        admission.PersonID(id),
		Kind:      kind,
		Name:      "Person " + id,
		Phone:     phone,
		IDNumber:  idNumber,
		Standing:  admission.StandingActive,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func visit(id, personID, hostID, date string) *admission.Visit {
	return &admission.Visit{
		ID:        admission.VisitID(id),
		PersonID:  admission.PersonID(personID),
		HostID:    admission.HostID(hostID),
		Date:      admission.MustParseDate(date),
		Status:    admission.StatusApproved,
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func mustCreate(t *testing.T, s admission.Store, persons ...admission.Person) {
	t.Helper()
	for _, p := range persons {
		require.NoError(t, s.CreatePerson(context.Background(), p))
	}
}

func mustInsert(t *testing.T, s admission.Store, visits ...*admission.Visit) {
	t.Helper()
	for _, v := range visits {
		require.NoError(t, s.InsertVisit(context.Background(), v))
	}
}

func visitIDs(visits []admission.Visit) []admission.VisitID {
	ids := make([]admission.VisitID, len(visits))
	for i, v := range visits {
		ids[i] = v.ID
	}
	return ids
}

// =============================================================================
// PERSONS
// =============================================================================

func testFindPerson(t *testing.T, s admission.TxStore) {
	ctx := context.Background()
	mustCreate(t, s,
		person("p1", admission.KindGuest, "+16502530000", "AB-123", base),
		person("p2", admission.KindGuest, "", "CD-456", base.Add(time.Minute)),
		person("p3", admission.KindReciprocal, "+16502530000", "AB-123", base.Add(2*time.Minute)),
	)

	p, err := s.FindPerson(ctx, admission.KindGuest, "+16502530000", "")
	require.NoError(t, err)
	assert.Equal(t, admission.PersonID("p1"), p.ID)

	p, err = s.FindPerson(ctx, admission.KindGuest, "", "cd-456")
	require.NoError(t, err)
	assert.Equal(t, admission.PersonID("p2"), p.ID)

	// Phone misses, id number hits.
	p, err = s.FindPerson(ctx, admission.KindGuest, "+16502539999", "CD-456")
	require.NoError(t, err)
	assert.Equal(t, admission.PersonID("p2"), p.ID)

	p, err = s.FindPerson(ctx, admission.KindReciprocal, "", "AB-123")
	require.NoError(t, err)
	assert.Equal(t, admission.PersonID("p3"), p.ID)

	_, err = s.FindPerson(ctx, admission.KindGuest, "+16502539999", "ZZ-000")
	assert.ErrorIs(t, err, admission.ErrPersonNotFound)

	got, err := s.GetPerson(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Person p1", got.Name)
	assert.True(t, got.CreatedAt.Equal(base))

	_, err = s.GetPerson(ctx, "missing")
	assert.ErrorIs(t, err, admission.ErrPersonNotFound)
}

func testCreatePersonTwice(t *testing.T, s admission.TxStore) {
	ctx := context.Background()
	p := person("p1", admission.KindGuest, "", "AB-123", base)
	mustCreate(t, s, p)

	err := s.CreatePerson(ctx, p)
	assert.ErrorIs(t, err, admission.ErrConcurrencyConflict)

	err = s.UpdatePerson(ctx, person("missing", admission.KindGuest, "", "", base))
	assert.ErrorIs(t, err, admission.ErrPersonNotFound)
}

func testListPersonsFilter(t *testing.T, s admission.TxStore) {
	ctx := context.Background()
	quota := person("p1", admission.KindGuest, "", "1", base)
	quota.Standing, quota.StandingSource = admission.StandingSuspended, admission.SourceEngine
	admin := person("p2", admission.KindGuest, "", "2", base.Add(time.Minute))
	admin.Standing, admin.StandingSource = admission.StandingSuspended, admission.SourceAdmin
	active := person("p3", admission.KindReciprocal, "", "3", base.Add(2*time.Minute))
	mustCreate(t, s, quota, admin, active)

	all, err := s.ListPersons(ctx, admission.PersonFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, admission.PersonID("p1"), all[0].ID)

	engine := admission.SourceEngine
	got, err := s.ListPersons(ctx, admission.PersonFilter{Standing: admission.StandingSuspended, StandingSource: &engine})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, admission.PersonID("p1"), got[0].ID)

	got, err = s.ListPersons(ctx, admission.PersonFilter{Kind: admission.KindReciprocal})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, admission.PersonID("p3"), got[0].ID)
}

// =============================================================================
// HOSTS
// =============================================================================

func testHosts(t *testing.T, s admission.TxStore) {
	ctx := context.Background()
	h := admission.Host{ID: "H1", Name: "Member One", Active: true, CreatedAt: base}
	require.NoError(t, s.SaveHost(ctx, h))

	h.Name = "Member 1"
	h.Active = false
	h.CreatedAt = base.Add(time.Hour)
	require.NoError(t, s.SaveHost(ctx, h))

	got, err := s.GetHost(ctx, "H1")
	require.NoError(t, err)
	assert.Equal(t, "Member 1", got.Name)
	assert.False(t, got.Active)
	assert.True(t, got.CreatedAt.Equal(base), "created_at survives updates")

	_, err = s.GetHost(ctx, "H2")
	assert.ErrorIs(t, err, admission.ErrHostNotFound)
}

// =============================================================================
// VISITS
// =============================================================================

func testInsertVisitAssignsSeq(t *testing.T, s admission.TxStore) {
	ctx := context.Background()
	mustCreate(t, s, person("p1", admission.KindGuest, "", "1", base))

	a := visit("v1", "p1", "H1", "2024-03-21")
	b := visit("v2", "p1", "", "2024-03-22")
	b.Courtesy = true
	mustInsert(t, s, a, b)
	assert.Greater(t, b.Seq, a.Seq)

	in := base.Add(30 * time.Minute)
	a.SignInTime = &in
	a.UpdatedAt = in
	require.NoError(t, s.UpdateVisit(ctx, *a))

	got, err := s.GetVisit(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, got.SignInTime)
	assert.True(t, got.SignInTime.Equal(in))
	assert.Nil(t, got.SignOutTime)
	assert.Equal(t, "2024-03-21", got.Date.String())

	got, err = s.GetVisit(ctx, "v2")
	require.NoError(t, err)
	assert.True(t, got.Courtesy)
	assert.False(t, got.HasHost())

	_, err = s.GetVisit(ctx, "missing")
	assert.ErrorIs(t, err, admission.ErrVisitNotFound)
	err = s.UpdateVisit(ctx, *visit("missing", "p1", "", "2024-03-23"))
	assert.ErrorIs(t, err, admission.ErrVisitNotFound)
}

func testOneLiveVisitPerDay(t *testing.T, s admission.TxStore) {
	ctx := context.Background()
	mustCreate(t, s, person("p1", admission.KindGuest, "", "1", base))
	first := visit("v1", "p1", "H1", "2024-03-21")
	mustInsert(t, s, first)

	err := s.InsertVisit(ctx, visit("v2", "p1", "H2", "2024-03-21"))
	assert.ErrorIs(t, err, admission.ErrDuplicateVisit)

	// A cancelled visit does not block the date.
	first.Status = admission.StatusCancelled
	require.NoError(t, s.UpdateVisit(ctx, *first))
	mustInsert(t, s, visit("v3", "p1", "H2", "2024-03-21"))

	// Nor can the cancelled one come back while another is live.
	first.Status = admission.StatusApproved
	err = s.UpdateVisit(ctx, *first)
	assert.ErrorIs(t, err, admission.ErrDuplicateVisit)
}

func testReopenVisit(t *testing.T, s admission.TxStore) {
	ctx := context.Background()
	mustCreate(t, s, person("p1", admission.KindGuest, "", "1", base))
	v := visit("v1", "p1", "H1", "2024-03-21")
	other := visit("v2", "p1", "H1", "2024-03-22")
	mustInsert(t, s, v, other)
	oldSeq := v.Seq

	v.Status = admission.StatusCancelled
	require.NoError(t, s.UpdateVisit(ctx, *v))

	reopened := visit("v1", "p1", "H2", "2024-03-21")
	reopened.Status = admission.StatusUnapproved
	require.NoError(t, s.ReopenVisit(ctx, reopened))
	assert.Greater(t, reopened.Seq, other.Seq)
	assert.NotEqual(t, oldSeq, reopened.Seq)

	got, err := s.GetVisit(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, admission.HostID("H2"), got.HostID)
	assert.Equal(t, admission.StatusUnapproved, got.Status)
	assert.Equal(t, reopened.Seq, got.Seq)

	err = s.ReopenVisit(ctx, visit("missing", "p1", "", "2024-03-25"))
	assert.ErrorIs(t, err, admission.ErrVisitNotFound)
}

func testListVisitQueries(t *testing.T, s admission.TxStore) {
	ctx := context.Background()
	mustCreate(t, s,
		person("p1", admission.KindGuest, "", "1", base),
		person("p2", admission.KindGuest, "", "2", base.Add(time.Minute)),
	)
	mustInsert(t, s,
		visit("v1", "p1", "H1", "2024-04-02"),
		visit("v2", "p2", "H1", "2024-03-21"),
		visit("v3", "p1", "H1", "2024-03-21"),
		visit("v4", "p1", "", "2025-01-01"),
	)

	march, err := s.ListVisits(ctx, "p1", admission.MonthOf(admission.MustParseDate("2024-03-01")))
	require.NoError(t, err)
	assert.Equal(t, []admission.VisitID{"v3"}, visitIDs(march))

	all, err := s.ListVisits(ctx, "p1", admission.AllTime)
	require.NoError(t, err)
	assert.Equal(t, []admission.VisitID{"v3", "v1", "v4"}, visitIDs(all))

	hosted, err := s.ListHostVisits(ctx, "H1", admission.MustParseDate("2024-03-21"))
	require.NoError(t, err)
	assert.Equal(t, []admission.VisitID{"v2", "v3"}, visitIDs(hosted))

	day, err := s.ListVisitsOn(ctx, admission.MustParseDate("2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, []admission.VisitID{"v4"}, visitIDs(day))
}

func testDeletePerson(t *testing.T, s admission.TxStore) {
	ctx := context.Background()
	mustCreate(t, s,
		person("p1", admission.KindGuest, "", "1", base),
		person("p2", admission.KindGuest, "", "2", base),
	)
	mustInsert(t, s, visit("v1", "p1", "H1", "2024-03-21"))

	err := s.DeletePerson(ctx, "p1", false)
	assert.ErrorIs(t, err, admission.ErrPersonHasVisits)

	require.NoError(t, s.DeletePerson(ctx, "p1", true))
	_, err = s.GetVisit(ctx, "v1")
	assert.ErrorIs(t, err, admission.ErrVisitNotFound)
	_, err = s.GetPerson(ctx, "p1")
	assert.ErrorIs(t, err, admission.ErrPersonNotFound)

	require.NoError(t, s.DeletePerson(ctx, "p2", false))
	err = s.DeletePerson(ctx, "p2", false)
	assert.ErrorIs(t, err, admission.ErrPersonNotFound)
}

func testWithTxRollback(t *testing.T, s admission.TxStore) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx admission.Store) error {
		if err := tx.Lock(ctx, "person:p1", "host:H1:2024-03-21"); err != nil {
			return err
		}
		if err := tx.CreatePerson(ctx, person("p1", admission.KindGuest, "", "1", base)); err != nil {
			return err
		}
		if err := tx.InsertVisit(ctx, visit("v1", "p1", "H1", "2024-03-21")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetPerson(ctx, "p1")
	assert.ErrorIs(t, err, admission.ErrPersonNotFound)
	_, err = s.GetVisit(ctx, "v1")
	assert.ErrorIs(t, err, admission.ErrVisitNotFound)

	err = s.WithTx(ctx, func(tx admission.Store) error {
		return tx.CreatePerson(ctx, person("p1", admission.KindGuest, "", "1", base))
	})
	require.NoError(t, err)
	_, err = s.GetPerson(ctx, "p1")
	assert.NoError(t, err)
}

// =============================================================================
// JOB RUNS
// =============================================================================

func testJobRuns(t *testing.T, s admission.TxStore) {
	ctx := context.Background()
	run := admission.JobRun{
		ID:        "run-1",
		Kind:      admission.JobDailySweep,
		PeriodKey: "2024-03-19",
		Status:    admission.JobRunning,
		StartedAt: base,
	}
	require.NoError(t, s.SaveJobRun(ctx, run))

	done, err := s.IsJobComplete(ctx, admission.JobDailySweep, "2024-03-19")
	require.NoError(t, err)
	assert.False(t, done, "a running job is not complete")

	completed := base.Add(time.Minute)
	run.Status = admission.JobCompleted
	run.Processed = 7
	run.CompletedAt = &completed
	require.NoError(t, s.SaveJobRun(ctx, run))

	done, err = s.IsJobComplete(ctx, admission.JobDailySweep, "2024-03-19")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = s.IsJobComplete(ctx, admission.JobPeriodReset, "2024-03-19")
	require.NoError(t, err)
	assert.False(t, done)

	later := admission.JobRun{
		ID:        "run-2",
		Kind:      admission.JobDailySweep,
		PeriodKey: "2024-03-20",
		Status:    admission.JobFailed,
		Error:     "boom",
		StartedAt: base.Add(24 * time.Hour),
	}
	require.NoError(t, s.SaveJobRun(ctx, later))

	runs, err := s.ListJobRuns(ctx, admission.JobDailySweep)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "boom", runs[0].Error)
	assert.Equal(t, 7, runs[1].Processed)
	require.NotNil(t, runs[1].CompletedAt)
	assert.True(t, runs[1].CompletedAt.Equal(completed))
}

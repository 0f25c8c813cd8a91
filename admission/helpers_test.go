package admission_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/warp/visit-engine/admission"
	"github.com/warp/visit-engine/admission/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// testClock is a settable clock shared by the engine under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// SetDate moves the clock to hh:00 UTC on the given day.
func (c *testClock) SetDate(date string, hour int) {
	d := admission.MustParseDate(date)
	c.Set(d.In(time.UTC, time.Duration(hour)*time.Hour))
}

// recorder is a synchronous Dispatcher that keeps every notification.
type recorder struct {
	mu    sync.Mutex
	items []admission.Notification
}

func (r *recorder) Notify(_ context.Context, n admission.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	return nil
}

func (r *recorder) OfKind(kind admission.EventKind) []admission.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []admission.Notification
	for _, n := range r.items {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	engine *admission.Engine
	store  *store.TxMemory
	clock  *testClock
	notes  *recorder
}

// newHarness builds an engine on an in-memory store with the clock at
// 2024-03-20 10:00 UTC. Zero limits mean the defaults.
func newHarness(t *testing.T, limits admission.LimitConfig) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: store.NewTxMemory(),
		clock: &testClock{},
		notes: &recorder{},
	}
	h.clock.SetDate("2024-03-20", 10)
	h.engine = admission.NewEngine(h.store, admission.Options{
		Dispatcher: h.notes,
		Limits:     limits,
		Clock:      h.clock.Now,
		Log:        zerolog.Nop(),
	})
	return h
}

func smallLimits(monthly, yearly, hostDaily int) admission.LimitConfig {
	return admission.LimitConfig{
		Guest:      admission.Limits{Monthly: monthly, Yearly: yearly},
		Reciprocal: admission.Limits{Monthly: monthly, Yearly: yearly},
		HostDaily:  hostDaily,
	}
}

func (h *harness) host(id string) {
	h.t.Helper()
	_, err := h.engine.SaveHost(h.ctx, admission.Host{ID: admission.HostID(id), Name: "Member " + id, Active: true})
	require.NoError(h.t, err)
}

// guest registers a hosted guest visit identified by idNumber.
func (h *harness) guest(idNumber, hostID, date string) *admission.Registration {
	h.t.Helper()
	reg, err := h.engine.RegisterVisit(h.ctx, admission.RegisterRequest{
		Kind:     admission.KindGuest,
		Name:     "Guest " + idNumber,
		IDNumber: idNumber,
		HostID:   admission.HostID(hostID),
		Date:     admission.MustParseDate(date),
	})
	require.NoError(h.t, err)
	return reg
}

func (h *harness) reciprocal(idNumber, date string) *admission.Registration {
	h.t.Helper()
	reg, err := h.engine.RegisterVisit(h.ctx, admission.RegisterRequest{
		Kind:     admission.KindReciprocal,
		Name:     "Member " + idNumber,
		IDNumber: idNumber,
		Date:     admission.MustParseDate(date),
	})
	require.NoError(h.t, err)
	return reg
}

// attend registers a guest visit on date, signs in at 09:00 and out at
// 12:00 that day. The clock is left at 12:00 on date.
func (h *harness) attend(idNumber, hostID, date string) *admission.Visit {
	h.t.Helper()
	h.clock.SetDate(date, 9)
	reg := h.guest(idNumber, hostID, date)
	_, err := h.engine.SignIn(h.ctx, reg.Visit.ID, idNumber)
	require.NoError(h.t, err)
	h.clock.SetDate(date, 12)
	res, err := h.engine.SignOut(h.ctx, reg.Visit.ID)
	require.NoError(h.t, err)
	return &res.Visit
}

func (h *harness) visit(id admission.VisitID) admission.Visit {
	h.t.Helper()
	v, err := h.engine.GetVisit(h.ctx, id)
	require.NoError(h.t, err)
	return *v
}

func (h *harness) person(id admission.PersonID) admission.Person {
	h.t.Helper()
	p, err := h.engine.GetPerson(h.ctx, id)
	require.NoError(h.t, err)
	return *p
}

// approvedFor counts approved, cap-bound visits of a host on date.
func (h *harness) approvedFor(hostID, date string) int {
	h.t.Helper()
	visits, err := h.store.ListHostVisits(h.ctx, admission.HostID(hostID), admission.MustParseDate(date))
	require.NoError(h.t, err)
	n := 0
	for _, v := range visits {
		if v.Status == admission.StatusApproved && !v.CapExempt() {
			n++
		}
	}
	return n
}

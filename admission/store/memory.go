// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/visit-engine/admission"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	d  *data
}

// data holds the records. Its methods assume the caller holds Memory.mu.
type data struct {
	persons map[admission.PersonID]admission.Person
	hosts   map[admission.HostID]admission.Host
	visits  map[admission.VisitID]admission.Visit
	jobs    map[string]admission.JobRun
	seq     int64
}

func newData() *data {
	return &data{
		persons: make(map[admission.PersonID]admission.Person),
		hosts:   make(map[admission.HostID]admission.Host),
		visits:  make(map[admission.VisitID]admission.Visit),
		jobs:    make(map[string]admission.JobRun),
	}
}

func NewMemory() *Memory {
	return &Memory{d: newData()}
}

func (m *Memory) FindPerson(ctx context.Context, kind admission.PersonKind, phone, idNumber string) (*admission.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.FindPerson(ctx, kind, phone, idNumber)
}

func (m *Memory) GetPerson(ctx context.Context, id admission.PersonID) (*admission.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetPerson(ctx, id)
}

func (m *Memory) CreatePerson(ctx context.Context, p admission.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreatePerson(ctx, p)
}

func (m *Memory) UpdatePerson(ctx context.Context, p admission.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.UpdatePerson(ctx, p)
}

func (m *Memory) ListPersons(ctx context.Context, f admission.PersonFilter) ([]admission.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListPersons(ctx, f)
}

func (m *Memory) DeletePerson(ctx context.Context, id admission.PersonID, cascade bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.DeletePerson(ctx, id, cascade)
}

func (m *Memory) GetHost(ctx context.Context, id admission.HostID) (*admission.Host, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetHost(ctx, id)
}

func (m *Memory) SaveHost(ctx context.Context, h admission.Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveHost(ctx, h)
}

func (m *Memory) GetVisit(ctx context.Context, id admission.VisitID) (*admission.Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetVisit(ctx, id)
}

func (m *Memory) ListVisits(ctx context.Context, personID admission.PersonID, period admission.Period) ([]admission.Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListVisits(ctx, personID, period)
}

func (m *Memory) ListHostVisits(ctx context.Context, hostID admission.HostID, date admission.Date) ([]admission.Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListHostVisits(ctx, hostID, date)
}

func (m *Memory) ListVisitsOn(ctx context.Context, date admission.Date) ([]admission.Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListVisitsOn(ctx, date)
}

func (m *Memory) InsertVisit(ctx context.Context, v *admission.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.InsertVisit(ctx, v)
}

func (m *Memory) UpdateVisit(ctx context.Context, v admission.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.UpdateVisit(ctx, v)
}

func (m *Memory) ReopenVisit(ctx context.Context, v *admission.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.ReopenVisit(ctx, v)
}

// Lock is a no-op outside a transaction.
func (m *Memory) Lock(context.Context, ...string) error { return nil }

func (m *Memory) SaveJobRun(ctx context.Context, run admission.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveJobRun(ctx, run)
}

func (m *Memory) IsJobComplete(ctx context.Context, kind admission.JobKind, periodKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.IsJobComplete(ctx, kind, periodKey)
}

func (m *Memory) ListJobRuns(ctx context.Context, kind admission.JobKind) ([]admission.JobRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListJobRuns(ctx, kind)
}

// =============================================================================
// RECORD OPERATIONS
// =============================================================================

func (d *data) FindPerson(_ context.Context, kind admission.PersonKind, phone, idNumber string) (*admission.Person, error) {
	var byID *admission.Person
	for _, p := range d.sortedPersons() {
		p := p
		if p.Kind != kind {
			continue
		}
		if phone != "" && p.Phone == phone {
			return &p, nil
		}
		if byID == nil && idNumber != "" && strings.EqualFold(p.IDNumber, idNumber) {
			byID = &p
		}
	}
	if byID != nil {
		return byID, nil
	}
	return nil, admission.ErrPersonNotFound
}

func (d *data) GetPerson(_ context.Context, id admission.PersonID) (*admission.Person, error) {
	p, ok := d.persons[id]
	if !ok {
		return nil, admission.ErrPersonNotFound
	}
	return &p, nil
}

func (d *data) CreatePerson(_ context.Context, p admission.Person) error {
	if _, ok := d.persons[p.ID]; ok {
		return admission.ErrConcurrencyConflict
	}
	d.persons[p.ID] = p
	return nil
}

func (d *data) UpdatePerson(_ context.Context, p admission.Person) error {
	if _, ok := d.persons[p.ID]; !ok {
		return admission.ErrPersonNotFound
	}
	d.persons[p.ID] = p
	return nil
}

func (d *data) ListPersons(_ context.Context, f admission.PersonFilter) ([]admission.Person, error) {
	var out []admission.Person
	for _, p := range d.sortedPersons() {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (d *data) DeletePerson(_ context.Context, id admission.PersonID, cascade bool) error {
	if _, ok := d.persons[id]; !ok {
		return admission.ErrPersonNotFound
	}
	var owned []admission.VisitID
	for vid, v := range d.visits {
		if v.PersonID == id {
			owned = append(owned, vid)
		}
	}
	if len(owned) > 0 && !cascade {
		return admission.ErrPersonHasVisits
	}
	for _, vid := range owned {
		delete(d.visits, vid)
	}
	delete(d.persons, id)
	return nil
}

func (d *data) GetHost(_ context.Context, id admission.HostID) (*admission.Host, error) {
	h, ok := d.hosts[id]
	if !ok {
		return nil, admission.ErrHostNotFound
	}
	return &h, nil
}

func (d *data) SaveHost(_ context.Context, h admission.Host) error {
	if old, ok := d.hosts[h.ID]; ok {
		h.CreatedAt = old.CreatedAt
	}
	d.hosts[h.ID] = h
	return nil
}

func (d *data) GetVisit(_ context.Context, id admission.VisitID) (*admission.Visit, error) {
	v, ok := d.visits[id]
	if !ok {
		return nil, admission.ErrVisitNotFound
	}
	return &v, nil
}

func (d *data) ListVisits(_ context.Context, personID admission.PersonID, period admission.Period) ([]admission.Visit, error) {
	out := d.filterVisits(func(v admission.Visit) bool {
		return v.PersonID == personID && period.Contains(v.Date)
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (d *data) ListHostVisits(_ context.Context, hostID admission.HostID, date admission.Date) ([]admission.Visit, error) {
	return d.filterVisits(func(v admission.Visit) bool {
		return v.HostID == hostID && v.Date.Equal(date)
	}), nil
}

func (d *data) ListVisitsOn(_ context.Context, date admission.Date) ([]admission.Visit, error) {
	return d.filterVisits(func(v admission.Visit) bool { return v.Date.Equal(date) }), nil
}

func (d *data) InsertVisit(_ context.Context, v *admission.Visit) error {
	if _, ok := d.visits[v.ID]; ok {
		return admission.ErrConcurrencyConflict
	}
	if err := d.checkUnique(*v); err != nil {
		return err
	}
	d.seq++
	v.Seq = d.seq
	d.visits[v.ID] = *v
	return nil
}

func (d *data) UpdateVisit(_ context.Context, v admission.Visit) error {
	cur, ok := d.visits[v.ID]
	if !ok {
		return admission.ErrVisitNotFound
	}
	cur.Status = v.Status
	cur.SignInTime = v.SignInTime
	cur.SignOutTime = v.SignOutTime
	cur.UpdatedAt = v.UpdatedAt
	if !cur.Cancelled() {
		if err := d.checkUnique(cur); err != nil {
			return err
		}
	}
	d.visits[v.ID] = cur
	return nil
}

func (d *data) ReopenVisit(_ context.Context, v *admission.Visit) error {
	if _, ok := d.visits[v.ID]; !ok {
		return admission.ErrVisitNotFound
	}
	if err := d.checkUnique(*v); err != nil {
		return err
	}
	d.seq++
	v.Seq = d.seq
	v.SignInTime, v.SignOutTime = nil, nil
	d.visits[v.ID] = *v
	return nil
}

func (d *data) Lock(context.Context, ...string) error { return nil }

func (d *data) SaveJobRun(_ context.Context, run admission.JobRun) error {
	d.jobs[run.ID] = run
	return nil
}

func (d *data) IsJobComplete(_ context.Context, kind admission.JobKind, periodKey string) (bool, error) {
	for _, r := range d.jobs {
		if r.Kind == kind && r.PeriodKey == periodKey && r.Status == admission.JobCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (d *data) ListJobRuns(_ context.Context, kind admission.JobKind) ([]admission.JobRun, error) {
	var out []admission.JobRun
	for _, r := range d.jobs {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// checkUnique enforces one non-cancelled visit per (person, date).
func (d *data) checkUnique(v admission.Visit) error {
	for id, o := range d.visits {
		if id == v.ID || o.Cancelled() {
			continue
		}
		if o.PersonID == v.PersonID && o.Date.Equal(v.Date) {
			return &admission.DuplicateVisitError{PersonID: v.PersonID, Date: v.Date, Existing: id}
		}
	}
	return nil
}

// filterVisits returns matching visits ordered by Seq.
func (d *data) filterVisits(match func(admission.Visit) bool) []admission.Visit {
	var out []admission.Visit
	for _, v := range d.visits {
		if match(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (d *data) sortedPersons() []admission.Person {
	out := make([]admission.Person, 0, len(d.persons))
	for _, p := range d.persons {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.persons {
		c.persons[k] = v
	}
	for k, v := range d.hosts {
		c.hosts[k] = v
	}
	for k, v := range d.visits {
		c.visits[k] = v
	}
	for k, v := range d.jobs {
		c.jobs[k] = v
	}
	c.seq = d.seq
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// Transactions are serialized; fn works on a copy that replaces the
// committed state only when fn succeeds.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(admission.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	work := tm.d.clone()
	if err := fn(work); err != nil {
		return err
	}
	tm.d = work
	return nil
}

/*
store.go - Persistence interface for persons, hosts, visits and job runs

PURPOSE:
  Defines the boundary between the admission engine and the database.
  The engine never talks to a driver directly; every read and write goes
  through Store, and every multi-step operation runs inside TxStore.WithTx.

KEY INTERFACES:
  Store:   Repository operations used by the engine
  TxStore: Store plus atomic execution of a function

CONSISTENCY:
  The "check-then-write" sequences (duplicate check, host cap check,
  recalculation) must run inside one WithTx call. Lock() marks the
  serialization boundary:
  - "person:<key>"           all writes for one person
  - "host:<id>:<yyyy-mm-dd>" all approvals for one host on one day
  Locks are held until the transaction ends. Callers acquire person locks
  before host locks.

VISIT UNIQUENESS:
  At most one non-cancelled visit per (person, date). Stores enforce this
  and return ErrDuplicateVisit on violation.

IMPLEMENTATIONS:
  - admission/store/memory.go: In-memory for testing
  - store/sqlstore: SQLite and PostgreSQL

SEE ALSO:
  - engine.go: inTx helper that runs engine operations under WithTx
*/
package admission

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Repository used by the engine
// =============================================================================

type Store interface {
	// FindPerson looks a person up by normalized phone, then by id number.
	// Returns ErrPersonNotFound when neither matches.
	FindPerson(ctx context.Context, kind PersonKind, phone, idNumber string) (*Person, error)
	GetPerson(ctx context.Context, id PersonID) (*Person, error)
	CreatePerson(ctx context.Context, p Person) error
	UpdatePerson(ctx context.Context, p Person) error
	ListPersons(ctx context.Context, filter PersonFilter) ([]Person, error)

	// DeletePerson removes the person. With cascade, their visits go too;
	// without it, the call fails with ErrPersonHasVisits if any exist.
	DeletePerson(ctx context.Context, id PersonID, cascade bool) error

	GetHost(ctx context.Context, id HostID) (*Host, error)
	SaveHost(ctx context.Context, h Host) error

	GetVisit(ctx context.Context, id VisitID) (*Visit, error)

	// ListVisits returns the person's visits in period, every status,
	// ordered by date then Seq.
	ListVisits(ctx context.Context, personID PersonID, period Period) ([]Visit, error)

	// ListHostVisits returns every visit hosted by hostID on date, ordered by Seq.
	ListHostVisits(ctx context.Context, hostID HostID, date Date) ([]Visit, error)

	// ListVisitsOn returns every visit on date, ordered by Seq.
	ListVisitsOn(ctx context.Context, date Date) ([]Visit, error)

	// InsertVisit stores a new visit and assigns its Seq.
	InsertVisit(ctx context.Context, v *Visit) error

	// UpdateVisit overwrites status, sign-in/out times and UpdatedAt.
	UpdateVisit(ctx context.Context, v Visit) error

	// ReopenVisit reuses a cancelled row for a new registration: all fields
	// are overwritten and a fresh Seq is assigned.
	ReopenVisit(ctx context.Context, v *Visit) error

	// Lock acquires the named serialization locks for the rest of the transaction.
	Lock(ctx context.Context, keys ...string) error

	SaveJobRun(ctx context.Context, run JobRun) error
	IsJobComplete(ctx context.Context, kind JobKind, periodKey string) (bool, error)

	// ListJobRuns returns runs of kind, newest first.
	ListJobRuns(ctx context.Context, kind JobKind) ([]JobRun, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store passed to fn
	// is rolled back. If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// PersonFilter narrows ListPersons. Zero values match everything.
type PersonFilter struct {
	Kind           PersonKind
	Standing       Standing
	StandingSource *StandingSource
}

func (f PersonFilter) Match(p Person) bool {
	if f.Kind != "" && p.Kind != f.Kind {
		return false
	}
	if f.Standing != "" && p.Standing != f.Standing {
		return false
	}
	if f.StandingSource != nil && p.StandingSource != *f.StandingSource {
		return false
	}
	return true
}

// =============================================================================
// LOCK KEYS
// =============================================================================

func personLockKey(key string) string { return "person:" + key }

func hostDayLockKey(id HostID, d Date) string { return "host:" + string(id) + ":" + d.String() }

// =============================================================================
// JOB RUNS - Idempotency records for scheduled jobs
// =============================================================================

type JobKind string

const (
	JobDailySweep  JobKind = "daily_sweep"
	JobPeriodReset JobKind = "period_reset"
)

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobRun records one execution of a scheduled job for one period.
// A completed run for (Kind, PeriodKey) means the job must not run again.
type JobRun struct {
	ID          string
	Kind        JobKind
	PeriodKey   string
	Status      JobStatus
	Processed   int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

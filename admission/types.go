/*
Package admission provides the club visit admission engine.

PURPOSE:
  Decides, for a guest or reciprocating member, whether a requested or
  existing visit is approved, unapproved (over quota), cancelled, suspended
  or banned, and keeps those statuses consistent as visits are registered,
  cancelled, signed in/out, or as administrators change a person's standing.

KEY CONCEPTS IN THIS FILE (types.go):
  - Person: a guest or reciprocating member, tagged by PersonKind
  - Standing: person-level gate (active/suspended/banned), overrides visits
  - Visit: one scheduled or attended visit on a calendar Date
  - Host: a club member sponsoring guest visits
  - Transition: a visit status change emitted by recalculation/rebalancing

DESIGN PRINCIPLES:
  1. One engine for both person kinds; only the limits differ per kind
  2. Storage is an interface (Store/TxStore); every multi-step operation
     runs inside one WithTx call
  3. Notifications leave the engine only after the transaction commits
  4. Time is injected (Engine.Clock) so "today" is deterministic in tests

SEE ALSO:
  - quota.go: counting rule and limit checks
  - register.go: eligibility engine
  - recalc.go: history replay and standing re-evaluation
  - capacity.go: per-host daily cap balancer
  - signin.go: visit lifecycle state machine
*/
package admission

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PersonID string
type VisitID string
type HostID string

// =============================================================================
// PERSON
// =============================================================================

// PersonKind discriminates guests from reciprocating members.
// Both share the same fields and engine; only their limits differ.
type PersonKind string

const (
	KindGuest      PersonKind = "guest"
	KindReciprocal PersonKind = "reciprocal"
)

func (k PersonKind) Valid() bool { return k == KindGuest || k == KindReciprocal }

type Standing string

const (
	StandingActive    Standing = "active"
	StandingSuspended Standing = "suspended"
	StandingBanned    Standing = "banned"
)

func (s Standing) Valid() bool {
	return s == StandingActive || s == StandingSuspended || s == StandingBanned
}

// StandingSource records who put the person in their current standing.
// Only engine suspensions are lifted by the period reset job.
type StandingSource string

const (
	SourceNone   StandingSource = ""
	SourceAdmin  StandingSource = "admin"
	SourceEngine StandingSource = "engine"
)

type Person struct {
	ID             PersonID
	Kind           PersonKind
	Name           string
	Phone          string // E.164
	Email          string
	IDNumber       string // identity document number
	Standing       Standing
	StandingSource StandingSource
	ReceiveSMS     bool
	ReceiveEmail   bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// QuotaSuspended reports whether the person was suspended by the engine
// for exhausting a quota, as opposed to an administrative suspension.
func (p Person) QuotaSuspended() bool {
	return p.Standing == StandingSuspended && p.StandingSource == SourceEngine
}

// =============================================================================
// HOST
// =============================================================================

type Host struct {
	ID        HostID
	Name      string
	Phone     string
	Email     string
	Active    bool
	CreatedAt time.Time
}

// =============================================================================
// VISIT
// =============================================================================

type VisitStatus string

const (
	StatusApproved   VisitStatus = "approved"
	StatusUnapproved VisitStatus = "unapproved"
	StatusCancelled  VisitStatus = "cancelled"
	StatusSuspended  VisitStatus = "suspended"
	StatusBanned     VisitStatus = "banned"
)

type Visit struct {
	ID          VisitID
	PersonID    PersonID
	HostID      HostID // empty for reciprocating members and courtesy guests
	Date        Date
	Status      VisitStatus
	Courtesy    bool
	SignInTime  *time.Time
	SignOutTime *time.Time

	// Seq orders visits by registration; assigned by the store on insert
	// and on reopen of a cancelled row.
	Seq       int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (v Visit) HasHost() bool { return v.HostID != "" }
func (v Visit) Cancelled() bool { return v.Status == StatusCancelled }
func (v Visit) SignedIn() bool { return v.SignInTime != nil }
func (v Visit) SignedOut() bool { return v.SignOutTime != nil }

// CapExempt reports whether the visit sits outside every host cap.
func (v Visit) CapExempt() bool { return !v.HasHost() }

// =============================================================================
// TRANSITIONS
// =============================================================================

// Transition is one visit status change written back by the engine.
type Transition struct {
	VisitID  VisitID
	PersonID PersonID
	HostID   HostID
	Date     Date
	Old      VisitStatus
	New      VisitStatus
}

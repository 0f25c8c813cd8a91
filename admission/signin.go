/*
signin.go - Visit lifecycle state machine

PURPOSE:
  Records arrival and departure. Sign-in and sign-out times are stored on
  the visit; the lifecycle state shown to staff is derived from them, the
  visit status and today's date.

STATE MACHINE:
  scheduled -> pending (visit day arrives) -> active (signed in)
            -> completed (signed out, or day ends with a sign-in)
  pending -> missed (day ends without sign-in)
  any non-terminal -> cancelled | unapproved | suspended | banned
                      (decided by the status, see DeriveState)

AUTO SIGN-OUT:
  At day end every visit still signed in is signed out at 23:59:59 club
  time. The affected persons are recalculated; no sign-out notification
  is sent for automatic sign-outs.
*/
package admission

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DERIVED STATE
// =============================================================================

type VisitState string

const (
	StateScheduled  VisitState = "scheduled"
	StatePending    VisitState = "pending"
	StateActive     VisitState = "active"
	StateCompleted  VisitState = "completed"
	StateMissed     VisitState = "missed"
	StateCancelled  VisitState = "cancelled"
	StateUnapproved VisitState = "unapproved"
	StateSuspended  VisitState = "suspended"
	StateBanned     VisitState = "banned"
)

// DeriveState computes the lifecycle state of v as of today.
// Statuses other than approved take precedence over sign-in times.
func DeriveState(v Visit, today Date) VisitState {
	switch v.Status {
	case StatusCancelled:
		return StateCancelled
	case StatusUnapproved:
		return StateUnapproved
	case StatusSuspended:
		return StateSuspended
	case StatusBanned:
		return StateBanned
	}

	switch {
	case v.SignedOut():
		return StateCompleted
	case v.Date.After(today):
		return StateScheduled
	case v.Date.Equal(today) && v.SignedIn():
		return StateActive
	case v.Date.Equal(today):
		return StatePending
	case v.SignedIn():
		return StateCompleted
	default:
		return StateMissed
	}
}

// =============================================================================
// SIGN IN / SIGN OUT
// =============================================================================

// signInAllowed reports whether the person's standing admits them.
func signInAllowed(p *Person) bool { return p.Standing == StandingActive }

// SignIn records the arrival of the person at the desk. idNumber is the
// number on the document presented; when it differs from the stored one,
// the stored number is corrected.
func (e *Engine) SignIn(ctx context.Context, id VisitID, idNumber string) (*Visit, error) {
	idNumber = strings.TrimSpace(idNumber)
	if idNumber == "" {
		return nil, newValidationError("IDNumber", "required")
	}

	var signed *Visit
	err := e.inTx(ctx, func(s Store, out *outbox) error {
		v, err := e.lockedVisit(ctx, s, id)
		if err != nil {
			return err
		}
		p, err := s.GetPerson(ctx, v.PersonID)
		if err != nil {
			return err
		}

		switch {
		case v.SignedIn():
			return ErrAlreadySignedIn
		case !signInAllowed(p):
			return ErrIneligibleStanding
		case !v.Date.Equal(e.Today()):
			return ErrNotVisitDate
		case v.Status != StatusApproved:
			return ErrVisitNotApproved
		}

		now := e.Now()
		if p.IDNumber != idNumber {
			e.log.Warn().
				Str("person_id", string(p.ID)).
				Str("stored", p.IDNumber).
				Str("presented", idNumber).
				Msg("id number differs from record, updating")
			p.IDNumber = idNumber
			p.UpdatedAt = now
			if err := s.UpdatePerson(ctx, *p); err != nil {
				return err
			}
		}

		v.SignInTime = &now
		v.UpdatedAt = now
		if err := s.UpdateVisit(ctx, *v); err != nil {
			return err
		}
		signed = v
		out.add(Notification{
			Kind:     EventSignedIn,
			PersonID: v.PersonID,
			HostID:   v.HostID,
			VisitID:  v.ID,
			Date:     v.Date,
			Context:  map[string]string{"signed_in_at": now.Format(time.RFC3339)},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return signed, nil
}

type SignOutResult struct {
	Visit    Visit
	Duration time.Duration
}

// SignOut records the departure of a signed-in visitor.
func (e *Engine) SignOut(ctx context.Context, id VisitID) (*SignOutResult, error) {
	var res *SignOutResult
	err := e.inTx(ctx, func(s Store, out *outbox) error {
		v, err := e.lockedVisit(ctx, s, id)
		if err != nil {
			return err
		}
		if !v.SignedIn() {
			return ErrNotSignedIn
		}
		if v.SignedOut() {
			return ErrAlreadySignedOut
		}

		now := e.Now()
		v.SignOutTime = &now
		v.UpdatedAt = now
		if err := s.UpdateVisit(ctx, *v); err != nil {
			return err
		}

		d := now.Sub(*v.SignInTime)
		res = &SignOutResult{Visit: *v, Duration: d}
		out.add(Notification{
			Kind:     EventSignedOut,
			PersonID: v.PersonID,
			HostID:   v.HostID,
			VisitID:  v.ID,
			Date:     v.Date,
			Context: map[string]string{
				"duration_minutes": strconv.Itoa(int(d.Minutes())),
				"duration_hours":   DurationHours(d).String(),
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DurationHours converts d to hours, rounded to two decimals.
func DurationHours(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d / time.Second)).
		Div(decimal.NewFromInt(3600)).
		Round(2)
}

// AutoSignOutAll signs out every visit on date that is still signed in,
// stamping 23:59:59 club time, and recalculates the affected persons.
// Returns the number of visits signed out. Safe to re-run.
func (e *Engine) AutoSignOutAll(ctx context.Context, date Date) (int, error) {
	count := 0
	err := e.inTx(ctx, func(s Store, out *outbox) error {
		visits, err := s.ListVisitsOn(ctx, date)
		if err != nil {
			return err
		}

		var open []Visit
		personSet := map[PersonID]bool{}
		for _, v := range visits {
			if v.Cancelled() || !v.SignedIn() || v.SignedOut() {
				continue
			}
			open = append(open, v)
			personSet[v.PersonID] = true
		}
		if len(open) == 0 {
			return nil
		}

		persons := make([]PersonID, 0, len(personSet))
		keys := make([]string, 0, len(personSet))
		for id := range personSet {
			persons = append(persons, id)
		}
		sort.Slice(persons, func(i, j int) bool { return persons[i] < persons[j] })
		for _, id := range persons {
			keys = append(keys, personLockKey(string(id)))
		}
		if err := s.Lock(ctx, keys...); err != nil {
			return err
		}

		end := date.EndOfDay(e.loc)
		now := e.Now()
		for _, v := range open {
			signOut := end
			if v.SignInTime.After(end) {
				signOut = *v.SignInTime
			}
			v.SignOutTime = &signOut
			v.UpdatedAt = now
			if err := s.UpdateVisit(ctx, v); err != nil {
				return err
			}
		}
		count = len(open)

		for _, id := range persons {
			if _, err := e.recalculate(ctx, s, id, out); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		e.log.Info().Stringer("date", date).Int("signed_out", count).Msg("auto sign-out complete")
	}
	return count, nil
}

// lockedVisit takes the person lock for a visit and re-reads it under the lock.
func (e *Engine) lockedVisit(ctx context.Context, s Store, id VisitID) (*Visit, error) {
	v, err := s.GetVisit(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Lock(ctx, personLockKey(string(v.PersonID))); err != nil {
		return nil, err
	}
	return s.GetVisit(ctx, id)
}

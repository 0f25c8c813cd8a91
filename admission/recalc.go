/*
recalc.go - Recalculation engine

PURPOSE:
  Re-derives every non-cancelled visit status of one person from scratch,
  so that a change anywhere in their history (cancellation, no-show,
  standing override) propagates to later visits.

ALGORITHM:
  Visits are replayed in date order (registration order within a date)
  against a running per-month and per-year tally:

    tally += 1
    over  := tally above the monthly or yearly limit
          || host already has HostDaily other approved visits that day
    verdict := unapproved if over, else approved
    if the visit does not count (past no-show, or not approved), tally -= 1

  After the replay, an active person whose tally for the current month or
  year has reached the limit is suspended by the engine. Finally each
  verdict passes through the person's standing and only changed rows are
  written.

  The person lock is taken first, then the host-day lock of every hosted
  visit, so the host cap check and the write happen under the same lock
  that registration and rebalancing use.

  The same history always yields the same statuses, so running this twice
  in a row produces no transitions the second time.

SEE ALSO:
  - quota.go: counting rule, tally
  - engine.go: standingStatus
*/
package admission

import (
	"context"
)

// RecalcResult lists what a recalculation changed.
type RecalcResult struct {
	PersonID    PersonID
	Transitions []Transition
	OldStanding Standing
	NewStanding Standing
}

// RecalculatePerson recomputes every non-cancelled visit of the person.
func (e *Engine) RecalculatePerson(ctx context.Context, id PersonID) (*RecalcResult, error) {
	var res *RecalcResult
	err := e.inTx(ctx, func(s Store, out *outbox) error {
		r, err := e.recalculate(ctx, s, id, out)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) recalculate(ctx context.Context, s Store, id PersonID, out *outbox) (*RecalcResult, error) {
	if err := s.Lock(ctx, personLockKey(string(id))); err != nil {
		return nil, err
	}
	p, err := s.GetPerson(ctx, id)
	if err != nil {
		return nil, err
	}
	all, err := s.ListVisits(ctx, id, AllTime)
	if err != nil {
		return nil, err
	}
	visits := nonCancelled(all)
	sortChronological(visits)

	// Every host day the replay may approve into is held until commit.
	var hostKeys []string
	for _, v := range visits {
		if !v.CapExempt() {
			hostKeys = append(hostKeys, hostDayLockKey(v.HostID, v.Date))
		}
	}
	if len(hostKeys) > 0 {
		if err := s.Lock(ctx, hostKeys...); err != nil {
			return nil, err
		}
	}

	today := e.Today()
	limits := e.limits.For(p.Kind)
	t := newTally()
	verdicts := make([]VisitStatus, len(visits))

	for i, v := range visits {
		t.add(v.Date, 1)
		over := t.exceeds(v.Date, limits)
		if !over && !v.CapExempt() {
			if over, err = e.hostOverCap(ctx, s, v.HostID, v.Date, v.ID); err != nil {
				return nil, err
			}
		}

		verdict := StatusApproved
		if over {
			verdict = StatusUnapproved
		}
		verdicts[i] = verdict

		counted := verdict == StatusApproved
		if v.Date.Before(today) {
			counted = v.SignedIn()
		}
		if !counted {
			t.add(v.Date, -1)
		}
	}

	res := &RecalcResult{PersonID: id, OldStanding: p.Standing}
	now := e.Now()

	// An administrator who reactivated the person has overridden the quota rule.
	if p.Standing == StandingActive && p.StandingSource != SourceAdmin && t.reached(today, limits) {
		p.Standing = StandingSuspended
		p.StandingSource = SourceEngine
		p.UpdatedAt = now
		if err := s.UpdatePerson(ctx, *p); err != nil {
			return nil, err
		}
		e.log.Info().
			Str("person_id", string(id)).
			Int("month_count", t.month(today)).
			Int("year_count", t.year(today)).
			Msg("person suspended for quota")
	}
	res.NewStanding = p.Standing

	for i, v := range visits {
		status := standingStatus(p, verdicts[i])
		if status == v.Status {
			continue
		}
		res.Transitions = append(res.Transitions, Transition{
			VisitID:  v.ID,
			PersonID: v.PersonID,
			HostID:   v.HostID,
			Date:     v.Date,
			Old:      v.Status,
			New:      status,
		})
		v.Status = status
		v.UpdatedAt = now
		if err := s.UpdateVisit(ctx, v); err != nil {
			return nil, err
		}
	}

	out.transitions(res.Transitions)
	out.standing(id, res.OldStanding, res.NewStanding)

	if len(res.Transitions) > 0 {
		e.log.Debug().
			Str("person_id", string(id)).
			Int("transitions", len(res.Transitions)).
			Msg("person recalculated")
	}
	return res, nil
}

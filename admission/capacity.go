/*
capacity.go - Host capacity balancer

PURPOSE:
  Re-decides approval for every visit one host sponsors on one date, in
  registration order (first registered, first approved), so that at most
  HostDaily of them are approved.

RULES:
  - Cancelled visits are ignored.
  - Visits of banned or suspended persons keep their pinned status and
    take no slot.
  - Every other visit is approved while slots remain and its person's
    quota allows it; otherwise it becomes unapproved.

  When the cap pushes at least one visit from another status to
  unapproved, one host_limit_reached notification goes to the host.
*/
package admission

import (
	"context"
	"strconv"
)

type RebalanceResult struct {
	HostID      HostID
	Date        Date
	Approved    int
	Displaced   int // visits the cap moved to unapproved
	Transitions []Transition
}

// RebalanceHostDay re-applies the daily cap to one host's visits on date.
func (e *Engine) RebalanceHostDay(ctx context.Context, hostID HostID, date Date) (*RebalanceResult, error) {
	var res *RebalanceResult
	err := e.inTx(ctx, func(s Store, out *outbox) error {
		r, err := e.rebalance(ctx, s, hostID, date, out)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) rebalance(ctx context.Context, s Store, hostID HostID, date Date, out *outbox) (*RebalanceResult, error) {
	if err := s.Lock(ctx, hostDayLockKey(hostID, date)); err != nil {
		return nil, err
	}
	all, err := s.ListHostVisits(ctx, hostID, date)
	if err != nil {
		return nil, err
	}
	visits := nonCancelled(all)
	sortBySeq(visits)

	res := &RebalanceResult{HostID: hostID, Date: date}
	today := e.Today()
	now := e.Now()
	persons := make(map[PersonID]*Person)

	for _, v := range visits {
		p, ok := persons[v.PersonID]
		if !ok {
			if p, err = s.GetPerson(ctx, v.PersonID); err != nil {
				return nil, err
			}
			persons[v.PersonID] = p
		}

		quotaOK, err := e.withinQuota(ctx, s, p, v, today)
		if err != nil {
			return nil, err
		}

		verdict := StatusUnapproved
		capped := false
		switch {
		case !quotaOK:
		case v.CapExempt():
			verdict = StatusApproved
		case res.Approved < e.limits.HostDaily:
			verdict = StatusApproved
		default:
			capped = true
		}

		status := standingStatus(p, verdict)
		if status == StatusApproved && !v.CapExempt() {
			res.Approved++
		}
		if status == v.Status {
			continue
		}
		if capped && status == StatusUnapproved {
			res.Displaced++
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
	if res.Displaced > 0 {
		out.add(Notification{
			Kind:   EventHostLimitReached,
			HostID: hostID,
			Date:   date,
			Context: map[string]string{
				"displaced": strconv.Itoa(res.Displaced),
				"limit":     strconv.Itoa(e.limits.HostDaily),
			},
		})
		e.log.Info().
			Str("host_id", string(hostID)).
			Stringer("date", date).
			Int("displaced", res.Displaced).
			Msg("host daily limit reached")
	}
	return res, nil
}

// withinQuota checks v against the rest of its person's year.
func (e *Engine) withinQuota(ctx context.Context, s Store, p *Person, v Visit, today Date) (bool, error) {
	visits, err := s.ListVisits(ctx, p.ID, YearOf(v.Date))
	if err != nil {
		return false, err
	}
	check := QuotaCalculator{Limits: e.limits.For(p.Kind)}.Check(visits, v.Date, today, v.ID)
	return !check.WouldExceed(), nil
}

package admission

import (
	"context"
)

type CancelResult struct {
	Visit     Visit
	Recalc    *RecalcResult
	Rebalance *RebalanceResult // nil for hostless visits
}

// CancelVisit marks a visit cancelled, then recalculates its person and,
// for hosted visits, rebalances the host day so a freed slot can promote
// the next visit in line. Cancellation is one-way.
func (e *Engine) CancelVisit(ctx context.Context, id VisitID) (*CancelResult, error) {
	var res *CancelResult
	err := e.inTx(ctx, func(s Store, out *outbox) error {
		v, err := e.lockedVisit(ctx, s, id)
		if err != nil {
			return err
		}
		if v.Cancelled() {
			return ErrAlreadyCancelled
		}
		if v.SignedIn() {
			return ErrVisitAttended
		}
		if v.HasHost() {
			if err := s.Lock(ctx, hostDayLockKey(v.HostID, v.Date)); err != nil {
				return err
			}
		}

		old := v.Status
		v.Status = StatusCancelled
		v.UpdatedAt = e.Now()
		if err := s.UpdateVisit(ctx, *v); err != nil {
			return err
		}
		out.add(Notification{
			Kind:      EventCancelled,
			PersonID:  v.PersonID,
			HostID:    v.HostID,
			VisitID:   v.ID,
			Date:      v.Date,
			OldStatus: old,
			NewStatus: StatusCancelled,
		})

		res = &CancelResult{Visit: *v}
		if res.Recalc, err = e.recalculate(ctx, s, v.PersonID, out); err != nil {
			return err
		}
		if v.HasHost() {
			if res.Rebalance, err = e.rebalance(ctx, s, v.HostID, v.Date, out); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("visit_id", string(id)).
		Str("person_id", string(res.Visit.PersonID)).
		Msg("visit cancelled")
	return res, nil
}

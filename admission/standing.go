package admission

import (
	"context"
	"fmt"
	"strings"
)

// =============================================================================
// STANDING OVERRIDE
// =============================================================================

type StandingResult struct {
	Person     Person
	Recalc     *RecalcResult
	Rebalances []*RebalanceResult
}

// SetStanding is the administrator override of a person's standing.
// Reactivating a person also exempts them from automatic quota suspension
// until the next period reset. Every host day whose visits changed is
// rebalanced afterwards.
func (e *Engine) SetStanding(ctx context.Context, id PersonID, standing Standing) (*StandingResult, error) {
	if !standing.Valid() {
		return nil, newValidationError("Standing", "oneof=active suspended banned")
	}

	var res *StandingResult
	err := e.inTx(ctx, func(s Store, out *outbox) error {
		if err := s.Lock(ctx, personLockKey(string(id))); err != nil {
			return err
		}
		p, err := s.GetPerson(ctx, id)
		if err != nil {
			return err
		}

		old := p.Standing
		p.Standing = standing
		p.StandingSource = SourceAdmin
		p.UpdatedAt = e.Now()
		if err := s.UpdatePerson(ctx, *p); err != nil {
			return err
		}
		out.standing(id, old, standing)

		res = &StandingResult{}
		if res.Recalc, err = e.recalculate(ctx, s, id, out); err != nil {
			return err
		}
		if res.Rebalances, err = e.rebalanceTouched(ctx, s, res.Recalc.Transitions, out); err != nil {
			return err
		}
		if p, err = s.GetPerson(ctx, id); err != nil {
			return err
		}
		res.Person = *p
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("person_id", string(id)).
		Str("standing", string(standing)).
		Msg("standing set by administrator")
	return res, nil
}

// rebalanceTouched rebalances each distinct host day that appears in ts.
func (e *Engine) rebalanceTouched(ctx context.Context, s Store, ts []Transition, out *outbox) ([]*RebalanceResult, error) {
	seen := map[string]bool{}
	var results []*RebalanceResult
	for _, t := range ts {
		if t.HostID == "" {
			continue
		}
		key := hostDayLockKey(t.HostID, t.Date)
		if seen[key] {
			continue
		}
		seen[key] = true
		r, err := e.rebalance(ctx, s, t.HostID, t.Date, out)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// =============================================================================
// PERSON AND HOST RECORDS
// =============================================================================

func (e *Engine) GetPerson(ctx context.Context, id PersonID) (*Person, error) {
	return e.store.GetPerson(ctx, id)
}

func (e *Engine) GetVisit(ctx context.Context, id VisitID) (*Visit, error) {
	return e.store.GetVisit(ctx, id)
}

func (e *Engine) GetHost(ctx context.Context, id HostID) (*Host, error) {
	return e.store.GetHost(ctx, id)
}

func (e *Engine) ListPersons(ctx context.Context, filter PersonFilter) ([]Person, error) {
	return e.store.ListPersons(ctx, filter)
}

// PersonVisits returns the person's visits in period with their derived state.
func (e *Engine) PersonVisits(ctx context.Context, id PersonID, period Period) ([]Visit, []VisitState, error) {
	if _, err := e.store.GetPerson(ctx, id); err != nil {
		return nil, nil, err
	}
	visits, err := e.store.ListVisits(ctx, id, period)
	if err != nil {
		return nil, nil, err
	}
	today := e.Today()
	states := make([]VisitState, len(visits))
	for i, v := range visits {
		states[i] = DeriveState(v, today)
	}
	return visits, states, nil
}

// DeletePerson removes a person. Guests are removed with their visits;
// reciprocating members with any visit on record are refused. Host days
// that lose an approved visit are rebalanced.
func (e *Engine) DeletePerson(ctx context.Context, id PersonID) error {
	return e.inTx(ctx, func(s Store, out *outbox) error {
		if err := s.Lock(ctx, personLockKey(string(id))); err != nil {
			return err
		}
		p, err := s.GetPerson(ctx, id)
		if err != nil {
			return err
		}
		visits, err := s.ListVisits(ctx, id, AllTime)
		if err != nil {
			return err
		}
		if len(visits) > 0 && p.Kind != KindGuest {
			return fmt.Errorf("%w: %d visits", ErrPersonHasVisits, len(visits))
		}
		if err := s.DeletePerson(ctx, id, p.Kind == KindGuest); err != nil {
			return err
		}

		var freed []Transition
		for _, v := range visits {
			if v.HasHost() && v.Status == StatusApproved {
				freed = append(freed, Transition{VisitID: v.ID, PersonID: id, HostID: v.HostID, Date: v.Date})
			}
		}
		if _, err := e.rebalanceTouched(ctx, s, freed, out); err != nil {
			return err
		}
		e.log.Info().Str("person_id", string(id)).Int("visits", len(visits)).Msg("person deleted")
		return nil
	})
}

// SaveHost creates or updates a host record.
func (e *Engine) SaveHost(ctx context.Context, h Host) (*Host, error) {
	h.ID = HostID(strings.TrimSpace(string(h.ID)))
	h.Name = strings.TrimSpace(h.Name)
	if h.ID == "" {
		return nil, newValidationError("ID", "required")
	}
	if h.Phone != "" {
		phone, err := NormalizePhone(h.Phone, e.phoneRegion)
		if err != nil {
			return nil, newValidationError("Phone", "e164")
		}
		h.Phone = phone
	}
	if h.Email != "" {
		if err := e.validate.Var(h.Email, "email"); err != nil {
			return nil, newValidationError("Email", "email")
		}
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = e.Now()
	}
	if err := e.store.SaveHost(ctx, h); err != nil {
		return nil, err
	}
	return &h, nil
}

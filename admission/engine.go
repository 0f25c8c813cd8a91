package admission

import (
	"context"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// =============================================================================
// ENGINE - Dependencies shared by every operation
// =============================================================================

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Dispatcher  Dispatcher
	Limits      LimitConfig
	Clock       func() time.Time
	Location    *time.Location // club timezone; "today" is computed here
	PhoneRegion string
	Log         zerolog.Logger

	// SweepConcurrency bounds parallel recalculations in DailySweep.
	SweepConcurrency int
}

// Engine runs every admission operation against a TxStore.
// It holds no per-person state; all state lives in the store.
type Engine struct {
	store       TxStore
	dispatcher  Dispatcher
	limits      LimitConfig
	clock       func() time.Time
	loc         *time.Location
	phoneRegion string
	log         zerolog.Logger
	validate    *validator.Validate
	sweepLimit  int
}

func NewEngine(store TxStore, opts Options) *Engine {
	e := &Engine{
		store:       store,
		dispatcher:  opts.Dispatcher,
		limits:      opts.Limits,
		clock:       opts.Clock,
		loc:         opts.Location,
		phoneRegion: opts.PhoneRegion,
		log:         opts.Log.With().Str("component", "admission").Logger(),
		validate:    validator.New(),
		sweepLimit:  opts.SweepConcurrency,
	}
	if e.dispatcher == nil {
		e.dispatcher = NopDispatcher{}
	}
	if e.limits == (LimitConfig{}) {
		e.limits = DefaultLimitConfig()
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.phoneRegion == "" {
		e.phoneRegion = DefaultPhoneRegion
	}
	if e.sweepLimit <= 0 {
		e.sweepLimit = 4
	}
	return e
}

func (e *Engine) Now() time.Time { return e.clock() }
func (e *Engine) Today() Date { return DateOf(e.clock(), e.loc) }
func (e *Engine) Limits() LimitConfig { return e.limits }
func (e *Engine) Location() *time.Location { return e.loc }

// inTx runs fn in one store transaction and dispatches the notifications
// it collected only after a successful commit.
func (e *Engine) inTx(ctx context.Context, fn func(s Store, out *outbox) error) error {
	out := &outbox{}
	if err := e.store.WithTx(ctx, func(s Store) error {
		return fn(s, out)
	}); err != nil {
		return err
	}
	e.dispatch(ctx, out.items)
	return nil
}

func (e *Engine) dispatch(ctx context.Context, items []Notification) {
	for _, n := range items {
		if err := e.dispatcher.Notify(ctx, n); err != nil {
			e.log.Warn().Err(err).
				Str("event", string(n.Kind)).
				Str("person_id", string(n.PersonID)).
				Str("visit_id", string(n.VisitID)).
				Msg("notification dropped")
		}
	}
}

// =============================================================================
// SHARED RULES
// =============================================================================

// standingStatus maps a quota verdict (approved/unapproved) onto the status
// the person's standing allows. A suspended or banned person has every
// visit pinned, whoever set the standing.
func standingStatus(p *Person, verdict VisitStatus) VisitStatus {
	switch p.Standing {
	case StandingBanned:
		return StatusBanned
	case StandingSuspended:
		return StatusSuspended
	}
	return verdict
}

// hostOverCap reports whether the host already has HostDaily approved,
// cap-bound visits on date, not counting the visit exclude.
func (e *Engine) hostOverCap(ctx context.Context, s Store, hostID HostID, date Date, exclude VisitID) (bool, error) {
	visits, err := s.ListHostVisits(ctx, hostID, date)
	if err != nil {
		return false, err
	}
	approved := 0
	for _, v := range visits {
		if v.ID == exclude || v.CapExempt() {
			continue
		}
		if v.Status == StatusApproved {
			approved++
		}
	}
	return approved >= e.limits.HostDaily, nil
}

func nonCancelled(visits []Visit) []Visit {
	out := make([]Visit, 0, len(visits))
	for _, v := range visits {
		if !v.Cancelled() {
			out = append(out, v)
		}
	}
	return out
}

// sortChronological orders by date, then registration order.
func sortChronological(visits []Visit) {
	sort.SliceStable(visits, func(i, j int) bool {
		if !visits[i].Date.Equal(visits[j].Date) {
			return visits[i].Date.Before(visits[j].Date)
		}
		return visits[i].Seq < visits[j].Seq
	})
}

func sortBySeq(visits []Visit) {
	sort.SliceStable(visits, func(i, j int) bool { return visits[i].Seq < visits[j].Seq })
}

/*
notify.go - Notification dispatch

PURPOSE:
  The engine reports what happened (registered, status changed, signed
  in/out, cancelled, standing changed, host limit reached) to a Dispatcher.
  Delivery channel and templating are the dispatcher's business.

DELIVERY GUARANTEES:
  None. Notifications are sent after the ledger transaction commits; a
  dispatcher error is logged and swallowed, never returned to the caller
  and never rolls a write back.

IMPLEMENTATIONS:
  - AsyncDispatcher: buffered, fire-and-forget wrapper around another dispatcher
  - LogDispatcher:   writes each notification as a structured log line
  - NopDispatcher:   discards everything
*/
package admission

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

type EventKind string

const (
	EventRegistered       EventKind = "registered"
	EventStatusChanged    EventKind = "status_changed"
	EventSignedIn         EventKind = "signed_in"
	EventSignedOut        EventKind = "signed_out"
	EventCancelled        EventKind = "cancelled"
	EventStandingChanged  EventKind = "standing_changed"
	EventHostLimitReached EventKind = "host_limit_reached"
)

// Notification is addressed to a person, a host, or both.
// Context carries event-specific values (e.g. "duration_hours", "displaced").
type Notification struct {
	Kind      EventKind
	PersonID  PersonID
	HostID    HostID
	VisitID   VisitID
	Date      Date
	OldStatus VisitStatus
	NewStatus VisitStatus
	Context   map[string]string
}

type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, n Notification) error

func (f DispatcherFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

type NopDispatcher struct{}

func (NopDispatcher) Notify(context.Context, Notification) error { return nil }

// =============================================================================
// LOG DISPATCHER
// =============================================================================

type LogDispatcher struct {
	Log zerolog.Logger
}

func (d LogDispatcher) Notify(_ context.Context, n Notification) error {
	ev := d.Log.Info().
		Str("event", string(n.Kind)).
		Str("person_id", string(n.PersonID)).
		Str("host_id", string(n.HostID)).
		Str("visit_id", string(n.VisitID))
	if !n.Date.IsZero() {
		ev = ev.Stringer("date", n.Date)
	}
	if n.OldStatus != "" || n.NewStatus != "" {
		ev = ev.Str("old_status", string(n.OldStatus)).Str("new_status", string(n.NewStatus))
	}
	for k, v := range n.Context {
		ev = ev.Str(k, v)
	}
	ev.Msg("notification")
	return nil
}

// =============================================================================
// ASYNC DISPATCHER
// =============================================================================

// ErrDispatcherClosed is returned by AsyncDispatcher.Notify after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// ErrDispatcherFull is returned when the buffer is full; the notification is dropped.
var ErrDispatcherFull = errors.New("dispatcher queue full")

// AsyncDispatcher queues notifications and delivers them from one goroutine.
// Notify never blocks; when the buffer is full the notification is dropped.
type AsyncDispatcher struct {
	next  Dispatcher
	log   zerolog.Logger
	queue chan Notification

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncDispatcher(next Dispatcher, buffer int, log zerolog.Logger) *AsyncDispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	d := &AsyncDispatcher{
		next:  next,
		log:   log.With().Str("component", "dispatcher").Logger(),
		queue: make(chan Notification, buffer),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *AsyncDispatcher) Notify(_ context.Context, n Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- n:
		return nil
	default:
		return ErrDispatcherFull
	}
}

// Close stops accepting notifications and waits for the queue to drain.
func (d *AsyncDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *AsyncDispatcher) run() {
	defer d.wg.Done()
	for n := range d.queue {
		if err := d.next.Notify(context.Background(), n); err != nil {
			d.log.Warn().Err(err).
				Str("event", string(n.Kind)).
				Str("person_id", string(n.PersonID)).
				Msg("notification delivery failed")
		}
	}
}

// =============================================================================
// OUTBOX - Notifications collected inside a transaction
// =============================================================================

type outbox struct {
	items []Notification
}

func (o *outbox) add(n Notification) { o.items = append(o.items, n) }

func (o *outbox) transitions(ts []Transition) {
	for _, t := range ts {
		o.add(Notification{
			Kind:      EventStatusChanged,
			PersonID:  t.PersonID,
			HostID:    t.HostID,
			VisitID:   t.VisitID,
			Date:      t.Date,
			OldStatus: t.Old,
			NewStatus: t.New,
		})
	}
}

func (o *outbox) standing(id PersonID, from, to Standing) {
	if from == to {
		return
	}
	o.add(Notification{
		Kind:     EventStandingChanged,
		PersonID: id,
		Context:  map[string]string{"old_standing": string(from), "new_standing": string(to)},
	})
}

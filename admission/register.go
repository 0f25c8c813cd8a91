/*
register.go - Eligibility engine

PURPOSE:
  Registers a visit for a guest or reciprocating member and decides its
  initial status in one transaction.

FLOW:
  1. Validate the request and normalize the phone number
  2. Reject dates before today, unknown or inactive hosts
  3. Find the person by phone or id number, or create them (standing active)
  4. Reject a second non-cancelled visit on the same date
  5. Quota check against the counted visits of the month and year
  6. Host cap check (hosted visits only; courtesy guests have no host)
  7. Apply standing: banned and suspended persons get pinned statuses

  Registration never downgrades other visits; that is the job of
  RecalculatePerson and RebalanceHostDay.

SEE ALSO:
  - quota.go: QuotaCalculator
  - capacity.go: host cap balancing
*/
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// RegisterRequest carries the person identity and the requested visit.
// Either Phone or IDNumber identifies the person.
type RegisterRequest struct {
	Kind         PersonKind `validate:"required,oneof=guest reciprocal"`
	Name         string     `validate:"max=200"`
	Phone        string     `validate:"required_without=IDNumber,max=32"`
	IDNumber     string     `validate:"required_without=Phone,max=64"`
	Email        string     `validate:"omitempty,email"`
	ReceiveSMS   bool
	ReceiveEmail bool

	HostID   HostID
	Date     Date `validate:"-"`
	Courtesy bool
}

// Registration is the outcome of RegisterVisit.
type Registration struct {
	Visit         Visit
	Person        Person
	PersonCreated bool
	Quota         QuotaCheck
	HostFull      bool // the host cap forced the visit to unapproved
}

// RegisterVisit records a new visit and returns it with its initial status.
// Over-quota and over-cap requests still succeed with status unapproved.
func (e *Engine) RegisterVisit(ctx context.Context, req RegisterRequest) (*Registration, error) {
	if err := e.validateRegister(&req); err != nil {
		return nil, err
	}
	today := e.Today()
	if req.Date.Before(today) {
		return nil, fmt.Errorf("%w: %s is before %s", ErrPastDate, req.Date, today)
	}

	var reg *Registration
	err := e.inTx(ctx, func(s Store, out *outbox) error {
		r, err := e.register(ctx, s, req, today)
		if err != nil {
			return err
		}
		reg = r
		out.add(Notification{
			Kind:      EventRegistered,
			PersonID:  r.Person.ID,
			HostID:    r.Visit.HostID,
			VisitID:   r.Visit.ID,
			Date:      r.Visit.Date,
			NewStatus: r.Visit.Status,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("person_id", string(reg.Person.ID)).
		Str("visit_id", string(reg.Visit.ID)).
		Stringer("date", reg.Visit.Date).
		Str("status", string(reg.Visit.Status)).
		Str("breach", string(reg.Quota.Breach)).
		Bool("host_full", reg.HostFull).
		Msg("visit registered")
	return reg, nil
}

func (e *Engine) register(ctx context.Context, s Store, req RegisterRequest, today Date) (*Registration, error) {
	if err := s.Lock(ctx, identityLockKeys(req)...); err != nil {
		return nil, err
	}

	if req.HostID != "" {
		h, err := s.GetHost(ctx, req.HostID)
		if errors.Is(err, ErrHostNotFound) {
			return nil, fmt.Errorf("%w: %s not found", ErrInvalidHost, req.HostID)
		}
		if err != nil {
			return nil, err
		}
		if !h.Active {
			return nil, fmt.Errorf("%w: %s is inactive", ErrInvalidHost, req.HostID)
		}
	}

	p, created, err := e.findOrCreatePerson(ctx, s, req)
	if err != nil {
		return nil, err
	}
	if err := s.Lock(ctx, personLockKey(string(p.ID))); err != nil {
		return nil, err
	}

	visits, err := s.ListVisits(ctx, p.ID, YearOf(req.Date))
	if err != nil {
		return nil, err
	}
	var reuse *Visit
	for i := range visits {
		v := visits[i]
		if !v.Date.Equal(req.Date) {
			continue
		}
		if !v.Cancelled() {
			return nil, &DuplicateVisitError{PersonID: p.ID, Date: req.Date, Existing: v.ID}
		}
		if reuse == nil {
			reuse = &v
		}
	}

	check := QuotaCalculator{Limits: e.limits.For(p.Kind)}.Check(visits, req.Date, today, "")
	verdict := StatusApproved
	if check.WouldExceed() {
		verdict = StatusUnapproved
	}

	hostFull := false
	if req.HostID != "" {
		if err := s.Lock(ctx, hostDayLockKey(req.HostID, req.Date)); err != nil {
			return nil, err
		}
		over, err := e.hostOverCap(ctx, s, req.HostID, req.Date, "")
		if err != nil {
			return nil, err
		}
		if over {
			hostFull = true
			verdict = StatusUnapproved
		}
	}

	now := e.Now()
	v := Visit{
		ID:        VisitID(uuid.NewString()),
		PersonID:  p.ID,
		HostID:    req.HostID,
		Date:      req.Date,
		Status:    standingStatus(p, verdict),
		Courtesy:  req.Courtesy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if reuse != nil {
		v.ID = reuse.ID
		err = s.ReopenVisit(ctx, &v)
	} else {
		err = s.InsertVisit(ctx, &v)
	}
	if err != nil {
		return nil, err
	}

	return &Registration{
		Visit:         v,
		Person:        *p,
		PersonCreated: created,
		Quota:         check,
		HostFull:      hostFull,
	}, nil
}

// findOrCreatePerson looks the person up by phone, then id number. Known
// persons get blank contact fields filled from the request.
func (e *Engine) findOrCreatePerson(ctx context.Context, s Store, req RegisterRequest) (*Person, bool, error) {
	p, err := s.FindPerson(ctx, req.Kind, req.Phone, req.IDNumber)
	if err == nil {
		if fillContact(p, req) {
			p.UpdatedAt = e.Now()
			if err := s.UpdatePerson(ctx, *p); err != nil {
				return nil, false, err
			}
		}
		return p, false, nil
	}
	if !errors.Is(err, ErrPersonNotFound) {
		return nil, false, err
	}

	now := e.Now()
	p = &Person{
		ID:           PersonID(uuid.NewString()),
		Kind:         req.Kind,
		Name:         req.Name,
		Phone:        req.Phone,
		Email:        req.Email,
		IDNumber:     req.IDNumber,
		Standing:     StandingActive,
		ReceiveSMS:   req.ReceiveSMS,
		ReceiveEmail: req.ReceiveEmail,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreatePerson(ctx, *p); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func fillContact(p *Person, req RegisterRequest) bool {
	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&p.Name, req.Name)
	fill(&p.Phone, req.Phone)
	fill(&p.Email, req.Email)
	fill(&p.IDNumber, req.IDNumber)
	return changed
}

// identityLockKeys serializes registrations that could create the same person.
func identityLockKeys(req RegisterRequest) []string {
	var keys []string
	if req.Phone != "" {
		keys = append(keys, personLockKey(string(req.Kind)+":phone:"+req.Phone))
	}
	if req.IDNumber != "" {
		keys = append(keys, personLockKey(string(req.Kind)+":id:"+req.IDNumber))
	}
	return keys
}

// =============================================================================
// VALIDATION
// =============================================================================

func (e *Engine) validateRegister(req *RegisterRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.IDNumber = strings.TrimSpace(req.IDNumber)
	req.Email = strings.TrimSpace(req.Email)

	fields := map[string]string{}
	if err := e.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
	}

	if req.Phone != "" {
		phone, err := NormalizePhone(req.Phone, e.phoneRegion)
		if err != nil {
			fields["Phone"] = "e164"
		} else {
			req.Phone = phone
		}
	}
	if req.Date.IsZero() {
		fields["Date"] = "required"
	}
	switch {
	case req.Kind == KindReciprocal && req.HostID != "":
		fields["HostID"] = "excluded_with_reciprocal"
	case req.Courtesy && req.HostID != "":
		fields["HostID"] = "excluded_with_courtesy"
	case req.Kind == KindGuest && req.HostID == "" && !req.Courtesy:
		fields["HostID"] = "required_unless_courtesy"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

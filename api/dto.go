/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  admission types from the wire contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Visits:   RegisterVisitRequest, VisitDTO, RegistrationDTO, SignInRequest
  Persons:  PersonDTO, SetStandingRequest, QuotaDTO
  Hosts:    HostDTO, SaveHostRequest
  Results:  TransitionDTO, RecalcDTO, RebalanceDTO, JobRunDTO

VALIDATION:
  Request bodies carry only JSON shape; field rules live in the engine
  (validator tags on admission.RegisterRequest).

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/visit-engine/admission"
)

// =============================================================================
// VISITS
// =============================================================================

type RegisterVisitRequest struct {
	Kind         string `json:"kind"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	IDNumber     string `json:"id_number"`
	Email        string `json:"email"`
	ReceiveSMS   bool   `json:"receive_sms"`
	ReceiveEmail bool   `json:"receive_email"`
	HostID       string `json:"host_id"`
	Date         string `json:"date"` // YYYY-MM-DD
	Courtesy     bool   `json:"courtesy"`
}

type VisitDTO struct {
	ID          string  `json:"id"`
	PersonID    string  `json:"person_id"`
	HostID      string  `json:"host_id,omitempty"`
	Date        string  `json:"date"`
	Status      string  `json:"status"`
	State       string  `json:"state"`
	Courtesy    bool    `json:"courtesy"`
	SignInTime  *string `json:"sign_in_time,omitempty"`
	SignOutTime *string `json:"sign_out_time,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

type RegistrationDTO struct {
	Visit         VisitDTO  `json:"visit"`
	Person        PersonDTO `json:"person"`
	PersonCreated bool      `json:"person_created"`
	Breach        string    `json:"breach,omitempty"`
	MonthlyCount  int       `json:"monthly_count"`
	YearlyCount   int       `json:"yearly_count"`
	HostFull      bool      `json:"host_full"`
}

type SignInRequest struct {
	IDNumber string `json:"id_number"`
}

type SignOutDTO struct {
	Visit         VisitDTO        `json:"visit"`
	DurationHours decimal.Decimal `json:"duration_hours"`
}

type CancelDTO struct {
	Visit     VisitDTO      `json:"visit"`
	Recalc    RecalcDTO     `json:"recalc"`
	Rebalance *RebalanceDTO `json:"rebalance,omitempty"`
}

// =============================================================================
// PERSONS
// =============================================================================

type PersonDTO struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	Name           string `json:"name"`
	Phone          string `json:"phone,omitempty"`
	Email          string `json:"email,omitempty"`
	IDNumber       string `json:"id_number,omitempty"`
	Standing       string `json:"standing"`
	StandingSource string `json:"standing_source,omitempty"`
	ReceiveSMS     bool   `json:"receive_sms"`
	ReceiveEmail   bool   `json:"receive_email"`
	CreatedAt      string `json:"created_at"`
}

type SetStandingRequest struct {
	Standing string `json:"standing"`
}

type StandingDTO struct {
	Person      PersonDTO       `json:"person"`
	Transitions []TransitionDTO `json:"transitions"`
	Rebalanced  []RebalanceDTO  `json:"rebalanced"`
}

type QuotaDTO struct {
	PersonID         string          `json:"person_id"`
	Kind             string          `json:"kind"`
	Standing         string          `json:"standing"`
	Month            string          `json:"month"`
	Year             int             `json:"year"`
	MonthlyLimit     int             `json:"monthly_limit"`
	YearlyLimit      int             `json:"yearly_limit"`
	MonthlyCount     int             `json:"monthly_count"`
	YearlyCount      int             `json:"yearly_count"`
	MonthlyRemaining int             `json:"monthly_remaining"`
	YearlyRemaining  int             `json:"yearly_remaining"`
	MonthlyUsedPct   decimal.Decimal `json:"monthly_used_pct"`
	YearlyUsedPct    decimal.Decimal `json:"yearly_used_pct"`
}

// =============================================================================
// HOSTS
// =============================================================================

type SaveHostRequest struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email"`
	Active *bool  `json:"active"` // defaults to true
}

type HostDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

// =============================================================================
// ENGINE RESULTS
// =============================================================================

type TransitionDTO struct {
	VisitID  string `json:"visit_id"`
	PersonID string `json:"person_id"`
	HostID   string `json:"host_id,omitempty"`
	Date     string `json:"date"`
	From     string `json:"from"`
	To       string `json:"to"`
}

type RecalcDTO struct {
	PersonID    string          `json:"person_id"`
	OldStanding string          `json:"old_standing"`
	NewStanding string          `json:"new_standing"`
	Transitions []TransitionDTO `json:"transitions"`
}

type RebalanceDTO struct {
	HostID      string          `json:"host_id"`
	Date        string          `json:"date"`
	Approved    int             `json:"approved"`
	Displaced   int             `json:"displaced"`
	Transitions []TransitionDTO `json:"transitions"`
}

type DateRequest struct {
	Date string `json:"date"` // YYYY-MM-DD, defaults to yesterday
}

type SweepDTO struct {
	Date         string `json:"date"`
	SignedOut    int    `json:"signed_out"`
	Recalculated int    `json:"recalculated"`
	Transitions  int    `json:"transitions"`
}

type JobRunDTO struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	PeriodKey   string  `json:"period_key"`
	Status      string  `json:"status"`
	Processed   int     `json:"processed"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toVisitDTO(v admission.Visit, today admission.Date) VisitDTO {
	return VisitDTO{
		ID:          string(v.ID),
		PersonID:    string(v.PersonID),
		HostID:      string(v.HostID),
		Date:        v.Date.String(),
		Status:      string(v.Status),
		State:       string(admission.DeriveState(v, today)),
		Courtesy:    v.Courtesy,
		SignInTime:  formatTimePtr(v.SignInTime),
		SignOutTime: formatTimePtr(v.SignOutTime),
		CreatedAt:   formatTime(v.CreatedAt),
	}
}

func toPersonDTO(p admission.Person) PersonDTO {
	return PersonDTO{
		ID:             string(p.ID),
		Kind:           string(p.Kind),
		Name:           p.Name,
		Phone:          p.Phone,
		Email:          p.Email,
		IDNumber:       p.IDNumber,
		Standing:       string(p.Standing),
		StandingSource: string(p.StandingSource),
		ReceiveSMS:     p.ReceiveSMS,
		ReceiveEmail:   p.ReceiveEmail,
		CreatedAt:      formatTime(p.CreatedAt),
	}
}

func toHostDTO(h admission.Host) HostDTO {
	return HostDTO{
		ID:        string(h.ID),
		Name:      h.Name,
		Phone:     h.Phone,
		Email:     h.Email,
		Active:    h.Active,
		CreatedAt: formatTime(h.CreatedAt),
	}
}

func toTransitionDTOs(ts []admission.Transition) []TransitionDTO {
	dtos := make([]TransitionDTO, len(ts))
	for i, t := range ts {
		dtos[i] = TransitionDTO{
			VisitID:  string(t.VisitID),
			PersonID: string(t.PersonID),
			HostID:   string(t.HostID),
			Date:     t.Date.String(),
			From:     string(t.Old),
			To:       string(t.New),
		}
	}
	return dtos
}

func toRecalcDTO(r *admission.RecalcResult) RecalcDTO {
	return RecalcDTO{
		PersonID:    string(r.PersonID),
		OldStanding: string(r.OldStanding),
		NewStanding: string(r.NewStanding),
		Transitions: toTransitionDTOs(r.Transitions),
	}
}

func toRebalanceDTO(r *admission.RebalanceResult) RebalanceDTO {
	return RebalanceDTO{
		HostID:      string(r.HostID),
		Date:        r.Date.String(),
		Approved:    r.Approved,
		Displaced:   r.Displaced,
		Transitions: toTransitionDTOs(r.Transitions),
	}
}

func toJobRunDTO(r admission.JobRun) JobRunDTO {
	return JobRunDTO{
		ID:          r.ID,
		Kind:        string(r.Kind),
		PeriodKey:   r.PeriodKey,
		Status:      string(r.Status),
		Processed:   r.Processed,
		Error:       r.Error,
		StartedAt:   formatTime(r.StartedAt),
		CompletedAt: formatTimePtr(r.CompletedAt),
	}
}

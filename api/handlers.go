/*
handlers.go - HTTP API handlers for the admission engine

PURPOSE:
  Exposes the admission engine to the host application (front desk,
  member portal, admin console) via REST. Handles HTTP request/response
  and JSON, and delegates every rule to admission.Engine.

ENDPOINTS:
  Visits:
    POST   /api/visits                      Register a visit
    GET    /api/visits/{id}                 Visit with derived state
    POST   /api/visits/{id}/cancel          Cancel (recalc + rebalance)
    POST   /api/visits/{id}/sign-in         Sign in at the desk
    POST   /api/visits/{id}/sign-out        Sign out

  Persons:
    GET    /api/persons                     List (?kind=&standing=)
    GET    /api/persons/{id}                Person details
    DELETE /api/persons/{id}                Delete (guests cascade)
    GET    /api/persons/{id}/visits         Visits (?from=&to=)
    GET    /api/persons/{id}/quota          Quota usage
    PUT    /api/persons/{id}/standing       Administrator standing override
    POST   /api/persons/{id}/recalculate    Force recalculation

  Hosts:
    GET    /api/hosts/{id}                  Host details
    PUT    /api/hosts/{id}                  Create or update host
    POST   /api/hosts/{id}/days/{date}/rebalance  Re-apply the daily cap

  Admin:
    POST   /api/admin/auto-sign-out         Sign out everyone left on a date
    POST   /api/admin/sweep                 Daily sweep for a date
    POST   /api/admin/period-reset          Lift quota suspensions
    POST   /api/admin/jobs/run              Run due scheduled jobs
    GET    /api/admin/jobs/{kind}/runs      Job run history

ERROR HANDLING:
  Engine errors map onto HTTP status:
  - 400: Validation errors, malformed JSON or dates
  - 403: Standing forbids the action
  - 404: Person, visit or host not found
  - 409: Duplicate visit, already cancelled/signed in/out, has visits
  - 422: Past date, invalid host, wrong day, visit not approved
  - 503: Concurrency conflict (retry)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. The host application is expected
  to sit in front of this API.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/visit-engine/admission"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *admission.Engine
	Log    zerolog.Logger
}

func NewHandler(engine *admission.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		Engine: engine,
		Log:    log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// VISIT HANDLERS
// =============================================================================

func (h *Handler) RegisterVisit(w http.ResponseWriter, r *http.Request) {
	var req RegisterVisitRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := admission.ParseDate(req.Date)
	if err != nil {
		h.writeError(w, &admission.ValidationError{Fields: map[string]string{"Date": "yyyy-mm-dd"}})
		return
	}

	reg, err := h.Engine.RegisterVisit(r.Context(), admission.RegisterRequest{
		Kind:         admission.PersonKind(req.Kind),
		Name:         req.Name,
		Phone:        req.Phone,
		IDNumber:     req.IDNumber,
		Email:        req.Email,
		ReceiveSMS:   req.ReceiveSMS,
		ReceiveEmail: req.ReceiveEmail,
		HostID:       admission.HostID(req.HostID),
		Date:         date,
		Courtesy:     req.Courtesy,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegistrationDTO{
		Visit:         toVisitDTO(reg.Visit, h.Engine.Today()),
		Person:        toPersonDTO(reg.Person),
		PersonCreated: reg.PersonCreated,
		Breach:        string(reg.Quota.Breach),
		MonthlyCount:  reg.Quota.MonthlyCount,
		YearlyCount:   reg.Quota.YearlyCount,
		HostFull:      reg.HostFull,
	})
}

func (h *Handler) GetVisit(w http.ResponseWriter, r *http.Request) {
	v, err := h.Engine.GetVisit(r.Context(), admission.VisitID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVisitDTO(*v, h.Engine.Today()))
}

func (h *Handler) CancelVisit(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.CancelVisit(r.Context(), admission.VisitID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	dto := CancelDTO{
		Visit:  toVisitDTO(res.Visit, h.Engine.Today()),
		Recalc: toRecalcDTO(res.Recalc),
	}
	if res.Rebalance != nil {
		rb := toRebalanceDTO(res.Rebalance)
		dto.Rebalance = &rb
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.Engine.SignIn(r.Context(), admission.VisitID(chi.URLParam(r, "id")), req.IDNumber)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVisitDTO(*v, h.Engine.Today()))
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.SignOut(r.Context(), admission.VisitID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SignOutDTO{
		Visit:         toVisitDTO(res.Visit, h.Engine.Today()),
		DurationHours: admission.DurationHours(res.Duration),
	})
}

// =============================================================================
// PERSON HANDLERS
// =============================================================================

func (h *Handler) ListPersons(w http.ResponseWriter, r *http.Request) {
	filter := admission.PersonFilter{
		Kind:     admission.PersonKind(r.URL.Query().Get("kind")),
		Standing: admission.Standing(r.URL.Query().Get("standing")),
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		h.writeError(w, &admission.ValidationError{Fields: map[string]string{"kind": "oneof=guest reciprocal"}})
		return
	}
	if filter.Standing != "" && !filter.Standing.Valid() {
		h.writeError(w, &admission.ValidationError{Fields: map[string]string{"standing": "oneof=active suspended banned"}})
		return
	}

	persons, err := h.Engine.ListPersons(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]PersonDTO, len(persons))
	for i, p := range persons {
		dtos[i] = toPersonDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetPerson(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.GetPerson(r.Context(), admission.PersonID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPersonDTO(*p))
}

func (h *Handler) DeletePerson(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeletePerson(r.Context(), admission.PersonID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListPersonVisits(w http.ResponseWriter, r *http.Request) {
	period := admission.AllTime
	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		d, err := admission.ParseDate(s)
		if err != nil {
			h.writeError(w, &admission.ValidationError{Fields: map[string]string{"from": "yyyy-mm-dd"}})
			return
		}
		period.Start = d
	}
	if s := q.Get("to"); s != "" {
		d, err := admission.ParseDate(s)
		if err != nil {
			h.writeError(w, &admission.ValidationError{Fields: map[string]string{"to": "yyyy-mm-dd"}})
			return
		}
		period.End = d
	}

	visits, _, err := h.Engine.PersonVisits(r.Context(), admission.PersonID(chi.URLParam(r, "id")), period)
	if err != nil {
		h.writeError(w, err)
		return
	}
	today := h.Engine.Today()
	dtos := make([]VisitDTO, len(visits))
	for i, v := range visits {
		dtos[i] = toVisitDTO(v, today)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Engine.QuotaSummary(r.Context(), admission.PersonID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QuotaDTO{
		PersonID:         string(sum.PersonID),
		Kind:             string(sum.Kind),
		Standing:         string(sum.Standing),
		Month:            sum.Month,
		Year:             sum.Year,
		MonthlyLimit:     sum.Limits.Monthly,
		YearlyLimit:      sum.Limits.Yearly,
		MonthlyCount:     sum.MonthlyCount,
		YearlyCount:      sum.YearlyCount,
		MonthlyRemaining: sum.MonthlyRemaining,
		YearlyRemaining:  sum.YearlyRemaining,
		MonthlyUsedPct:   sum.MonthlyUsedPct,
		YearlyUsedPct:    sum.YearlyUsedPct,
	})
}

func (h *Handler) SetStanding(w http.ResponseWriter, r *http.Request) {
	var req SetStandingRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Engine.SetStanding(r.Context(),
		admission.PersonID(chi.URLParam(r, "id")), admission.Standing(req.Standing))
	if err != nil {
		h.writeError(w, err)
		return
	}
	dto := StandingDTO{
		Person:      toPersonDTO(res.Person),
		Transitions: toTransitionDTOs(res.Recalc.Transitions),
		Rebalanced:  make([]RebalanceDTO, len(res.Rebalances)),
	}
	for i, rb := range res.Rebalances {
		dto.Rebalanced[i] = toRebalanceDTO(rb)
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.RecalculatePerson(r.Context(), admission.PersonID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecalcDTO(res))
}

// =============================================================================
// HOST HANDLERS
// =============================================================================

func (h *Handler) GetHost(w http.ResponseWriter, r *http.Request) {
	host, err := h.Engine.GetHost(r.Context(), admission.HostID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHostDTO(*host))
}

func (h *Handler) SaveHost(w http.ResponseWriter, r *http.Request) {
	var req SaveHostRequest
	if !h.decode(w, r, &req) {
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	host, err := h.Engine.SaveHost(r.Context(), admission.Host{
		ID:     admission.HostID(chi.URLParam(r, "id")),
		Name:   req.Name,
		Phone:  req.Phone,
		Email:  req.Email,
		Active: active,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHostDTO(*host))
}

func (h *Handler) RebalanceHostDay(w http.ResponseWriter, r *http.Request) {
	date, err := admission.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		h.writeError(w, &admission.ValidationError{Fields: map[string]string{"date": "yyyy-mm-dd"}})
		return
	}
	res, err := h.Engine.RebalanceHostDay(r.Context(), admission.HostID(chi.URLParam(r, "id")), date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRebalanceDTO(res))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) AutoSignOut(w http.ResponseWriter, r *http.Request) {
	date, ok := h.decodeDate(w, r)
	if !ok {
		return
	}
	n, err := h.Engine.AutoSignOutAll(r.Context(), date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date.String(), "signed_out": n})
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	date, ok := h.decodeDate(w, r)
	if !ok {
		return
	}
	res, err := h.Engine.DailySweep(r.Context(), date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepDTO{
		Date:         res.Date.String(),
		SignedOut:    res.SignedOut,
		Recalculated: res.Recalculated,
		Transitions:  res.Transitions,
	})
}

func (h *Handler) PeriodReset(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.ResetAutoSuspensions(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"persons": n})
}

func (h *Handler) RunDueJobs(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.RunDueJobs(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	ran := make([]JobRunDTO, len(report.Ran))
	for i, run := range report.Ran {
		ran[i] = toJobRunDTO(run)
	}
	skipped := make([]string, len(report.Skipped))
	for i, k := range report.Skipped {
		skipped[i] = string(k)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ran": ran, "skipped": skipped})
}

func (h *Handler) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	kind := admission.JobKind(chi.URLParam(r, "kind"))
	if kind != admission.JobDailySweep && kind != admission.JobPeriodReset {
		h.writeError(w, &admission.ValidationError{Fields: map[string]string{"kind": "oneof=daily_sweep period_reset"}})
		return
	}
	runs, err := h.Engine.JobRuns(r.Context(), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]JobRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toJobRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "today": h.Engine.Today().String()})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Details: err.Error()})
		return false
	}
	return true
}

// decodeDate reads an optional {"date": "..."} body; the default is yesterday.
func (h *Handler) decodeDate(w http.ResponseWriter, r *http.Request) (admission.Date, bool) {
	var req DateRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return admission.Date{}, false
	}
	if strings.TrimSpace(req.Date) == "" {
		return h.Engine.Today().AddDays(-1), true
	}
	d, err := admission.ParseDate(req.Date)
	if err != nil {
		h.writeError(w, &admission.ValidationError{Fields: map[string]string{"date": "yyyy-mm-dd"}})
		return admission.Date{}, false
	}
	return d, true
}

// writeError maps engine error kinds onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var verr *admission.ValidationError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp.Error = "Validation failed"
		resp.Fields = verr.Fields
	case admission.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, admission.ErrIneligibleStanding):
		status = http.StatusForbidden
	case errors.Is(err, admission.ErrDuplicateVisit),
		errors.Is(err, admission.ErrAlreadyCancelled),
		errors.Is(err, admission.ErrVisitAttended),
		errors.Is(err, admission.ErrAlreadySignedIn),
		errors.Is(err, admission.ErrAlreadySignedOut),
		errors.Is(err, admission.ErrPersonHasVisits):
		status = http.StatusConflict
	case admission.IsClientError(err):
		status = http.StatusUnprocessableEntity
	case admission.IsRetryable(err):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	default:
		h.Log.Error().Err(err).Msg("request failed")
		resp = ErrorResponse{Error: "Internal error"}
	}
	writeJSON(w, status, resp)
}

/*
jobs.go - Scheduled maintenance

PURPOSE:
  The engine is request-driven; these entry points are what a scheduler
  calls at fixed times.

JOBS:
  DailySweep(date)       auto sign-out for date, then recalculate every
                         person so yesterday's no-shows free their slots
  ResetAutoSuspensions() lift engine quota suspensions and administrator
                         reactivation exemptions at the start of a month
  RunDueJobs()           run each job at most once per period, recording
                         a JobRun so an interrupted or repeated run is safe

IDEMPOTENCY:
  Every job leaves the store in the same state when re-run: sign-out skips
  visits already signed out, recalculation is deterministic, and the reset
  only touches persons still carrying an engine or admin-exemption mark.
*/
package admission

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type SweepResult struct {
	Date         Date
	SignedOut    int
	Recalculated int
	Transitions  int
}

// DailySweep closes out date and recalculates every person.
// Recalculations run in parallel, one transaction per person.
func (e *Engine) DailySweep(ctx context.Context, date Date) (*SweepResult, error) {
	res := &SweepResult{Date: date}

	signedOut, err := e.AutoSignOutAll(ctx, date)
	if err != nil {
		return nil, err
	}
	res.SignedOut = signedOut

	persons, err := e.store.ListPersons(ctx, PersonFilter{})
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.sweepLimit)
	for _, p := range persons {
		id := p.ID
		g.Go(func() error {
			r, err := e.RecalculatePerson(gctx, id)
			if errors.Is(err, ErrPersonNotFound) {
				return nil // deleted since listing
			}
			if err != nil {
				return err
			}
			mu.Lock()
			res.Recalculated++
			res.Transitions += len(r.Transitions)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.log.Info().
		Stringer("date", date).
		Int("signed_out", res.SignedOut).
		Int("recalculated", res.Recalculated).
		Int("transitions", res.Transitions).
		Msg("daily sweep complete")
	return res, nil
}

// ResetAutoSuspensions starts a new quota period: engine suspensions are
// lifted and administrator reactivations lose their exemption. Each
// affected person is recalculated, which re-suspends anyone still at a limit.
// Returns the number of persons touched.
func (e *Engine) ResetAutoSuspensions(ctx context.Context) (int, error) {
	engine, admin := SourceEngine, SourceAdmin
	suspended, err := e.store.ListPersons(ctx, PersonFilter{Standing: StandingSuspended, StandingSource: &engine})
	if err != nil {
		return 0, err
	}
	exempt, err := e.store.ListPersons(ctx, PersonFilter{Standing: StandingActive, StandingSource: &admin})
	if err != nil {
		return 0, err
	}

	touched := 0
	for _, p := range append(suspended, exempt...) {
		id := p.ID
		changed := false
		err := e.inTx(ctx, func(s Store, out *outbox) error {
			if err := s.Lock(ctx, personLockKey(string(id))); err != nil {
				return err
			}
			cur, err := s.GetPerson(ctx, id)
			if err != nil {
				return err
			}
			// Re-check under the lock; an administrator may have acted since listing.
			if !cur.QuotaSuspended() && !(cur.Standing == StandingActive && cur.StandingSource == SourceAdmin) {
				return nil
			}
			old := cur.Standing
			cur.Standing = StandingActive
			cur.StandingSource = SourceNone
			cur.UpdatedAt = e.Now()
			if err := s.UpdatePerson(ctx, *cur); err != nil {
				return err
			}
			out.standing(id, old, StandingActive)
			changed = true
			_, err = e.recalculate(ctx, s, id, out)
			return err
		})
		if errors.Is(err, ErrPersonNotFound) {
			continue
		}
		if err != nil {
			return touched, err
		}
		if changed {
			touched++
		}
	}

	e.log.Info().Int("persons", touched).Msg("quota period reset")
	return touched, nil
}

// JobReport lists which jobs ran in one RunDueJobs call.
type JobReport struct {
	Ran     []JobRun
	Skipped []JobKind
}

// RunDueJobs runs the daily sweep for yesterday and the period reset for
// the current month, each only if no completed run exists for that period.
func (e *Engine) RunDueJobs(ctx context.Context) (*JobReport, error) {
	today := e.Today()
	yesterday := today.AddDays(-1)
	report := &JobReport{}

	jobs := []struct {
		kind JobKind
		key  string
		fn   func(context.Context) (int, error)
	}{
		{JobDailySweep, PeriodDay.Key(yesterday), func(ctx context.Context) (int, error) {
			r, err := e.DailySweep(ctx, yesterday)
			if err != nil {
				return 0, err
			}
			return r.Recalculated, nil
		}},
		{JobPeriodReset, PeriodMonth.Key(today), e.ResetAutoSuspensions},
	}

	for _, j := range jobs {
		run, err := e.runJob(ctx, j.kind, j.key, j.fn)
		if err != nil {
			return report, err
		}
		if run == nil {
			report.Skipped = append(report.Skipped, j.kind)
			continue
		}
		report.Ran = append(report.Ran, *run)
	}
	return report, nil
}

// runJob executes fn unless a completed run for (kind, key) exists.
// Returns nil when skipped.
func (e *Engine) runJob(ctx context.Context, kind JobKind, key string, fn func(context.Context) (int, error)) (*JobRun, error) {
	done, err := e.store.IsJobComplete(ctx, kind, key)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, nil
	}

	run := JobRun{
		ID:        uuid.NewString(),
		Kind:      kind,
		PeriodKey: key,
		Status:    JobRunning,
		StartedAt: e.Now(),
	}
	if err := e.store.SaveJobRun(ctx, run); err != nil {
		return nil, err
	}

	log := e.log.With().Str("job", string(kind)).Str("period", key).Logger()
	log.Info().Msg("job started")

	n, jobErr := fn(ctx)
	completed := e.Now()
	run.CompletedAt = &completed
	run.Processed = n
	run.Status = JobCompleted
	if jobErr != nil {
		run.Status = JobFailed
		run.Error = jobErr.Error()
	}
	if err := e.store.SaveJobRun(ctx, run); err != nil {
		return nil, err
	}
	if jobErr != nil {
		log.Error().Err(jobErr).Msg("job failed")
		return &run, jobErr
	}
	log.Info().Int("processed", n).Msg("job completed")
	return &run, nil
}

// JobRuns lists the recorded runs of a scheduled job, newest first.
func (e *Engine) JobRuns(ctx context.Context, kind JobKind) ([]JobRun, error) {
	return e.store.ListJobRuns(ctx, kind)
}

/*
scheduler.go - Automated job scheduler

PURPOSE:
  Periodically runs the engine's due jobs: the daily sweep for the day
  that just ended and the monthly quota-suspension reset.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - The engine decides what is due; every job is keyed by its period
    and recorded, so a tick that finds nothing due is a no-op
  - Missed ticks (server down overnight) catch up on the next tick

CONFIGURATION:
  - Interval: How often to check (default: 15 minutes)
  - Enabled:  Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewJobScheduler(engine, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: /api/admin/jobs/run (manual trigger)
  - admission/jobs.go: RunDueJobs
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/visit-engine/admission"
)

// JobScheduler triggers the engine's periodic jobs.
type JobScheduler struct {
	Engine   *admission.Engine
	Interval time.Duration
	Enabled  bool
	Log      zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewJobScheduler(engine *admission.Engine, log zerolog.Logger) *JobScheduler {
	return &JobScheduler{
		Engine:   engine,
		Interval: 15 * time.Minute,
		Enabled:  true,
		Log:      log.With().Str("component", "scheduler").Logger(),
		stop:     make(chan struct{}),
	}
}

// Start begins the scheduler. The first check runs immediately.
func (js *JobScheduler) Start() {
	js.mu.Lock()
	defer js.mu.Unlock()

	if !js.Enabled {
		js.Log.Info().Msg("disabled, not starting")
		return
	}
	if js.ticker != nil {
		return
	}

	js.ticker = time.NewTicker(js.Interval)
	js.wg.Add(1)
	go js.run()

	js.Log.Info().Dur("interval", js.Interval).Msg("started")
}

// Stop stops the scheduler and waits for a running check to finish.
func (js *JobScheduler) Stop() {
	js.mu.Lock()
	defer js.mu.Unlock()

	if js.ticker == nil {
		return
	}
	js.ticker.Stop()
	close(js.stop)
	js.wg.Wait()
	js.ticker = nil
	js.Log.Info().Msg("stopped")
}

func (js *JobScheduler) run() {
	defer js.wg.Done()

	js.RunNow()
	for {
		select {
		case <-js.ticker.C:
			js.RunNow()
		case <-js.stop:
			return
		}
	}
}

// RunNow runs every due job once and logs the outcome.
func (js *JobScheduler) RunNow() {
	report, err := js.Engine.RunDueJobs(context.Background())
	if err != nil {
		js.Log.Error().Err(err).Msg("scheduled jobs failed")
		return
	}
	for _, run := range report.Ran {
		js.Log.Info().
			Str("kind", string(run.Kind)).
			Str("period", run.PeriodKey).
			Str("status", string(run.Status)).
			Int("processed", run.Processed).
			Msg("job ran")
	}
	if len(report.Ran) == 0 {
		js.Log.Debug().Int("skipped", len(report.Skipped)).Msg("nothing due")
	}
}

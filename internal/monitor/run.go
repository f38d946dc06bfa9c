package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blackout-monitor/internal/logging"
)

// Run records a baseline check immediately, then runs checks and refreshes on
// their configured cadences until ctx is cancelled. A trigger that fires
// while its previous run is still going is delayed, not skipped.
func (m *Monitor) Run(ctx context.Context) error {
	m.RunCycle(ctx)

	c, err := m.newScheduler(ctx)
	if err != nil {
		return err
	}

	c.Start()
	log.Info().
		Str("check", m.cfg.Cadence.Check).
		Str("schedule_refresh", m.cfg.Cadence.ScheduleRefresh).
		Strs("window_refresh", m.cfg.Cadence.WindowRefresh).
		Msg("Monitor running")

	<-ctx.Done()
	log.Info().Msg("Stopping monitor, waiting for running jobs")
	<-c.Stop().Done()
	return nil
}

type job struct {
	name string
	spec string
	run  func()
}

func (m *Monitor) newScheduler(ctx context.Context) (*cron.Cron, error) {
	cronLogger := cron.PrintfLogger(logging.Printf{})
	c := cron.New(
		cron.WithLocation(time.Local),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.DelayIfStillRunning(cronLogger)),
	)

	jobs := []job{
		{"check", m.cfg.Cadence.Check, func() { m.RunCycle(ctx) }},
		{"schedule_refresh", m.cfg.Cadence.ScheduleRefresh, func() { m.RefreshSchedule(ctx) }},
	}
	for _, spec := range m.cfg.Cadence.WindowRefresh {
		jobs = append(jobs, job{"window_refresh", spec, func() { m.RefreshOutageWindow(ctx) }})
	}

	for _, j := range jobs {
		if _, err := c.AddFunc(j.spec, j.run); err != nil {
			return nil, fmt.Errorf("invalid %s cadence %q: %w", j.name, j.spec, err)
		}
	}
	return c, nil
}

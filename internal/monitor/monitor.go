package monitor

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thatsimonsguy/blackout-monitor/db"
	"github.com/thatsimonsguy/blackout-monitor/internal/attribution"
	"github.com/thatsimonsguy/blackout-monitor/internal/classifier"
	"github.com/thatsimonsguy/blackout-monitor/internal/config"
	"github.com/thatsimonsguy/blackout-monitor/internal/energy"
	"github.com/thatsimonsguy/blackout-monitor/internal/export"
	"github.com/thatsimonsguy/blackout-monitor/internal/metrics"
	"github.com/thatsimonsguy/blackout-monitor/internal/model"
	"github.com/thatsimonsguy/blackout-monitor/internal/observe"
	"github.com/thatsimonsguy/blackout-monitor/internal/schedule"
)

// Stage names used in logs and failure metrics.
const (
	StageSchedule      = "schedule"
	StageWindow        = "outage_window"
	StageObserve       = "observe"
	StagePersistStatus = "persist_status"
	StageEnergy        = "energy"
	StagePersistEnergy = "persist_energy"
	StageReport        = "report"
	StageExport        = "export"
)

const dayKeyLayout = "2006-01-02"

type ScheduleLoader interface {
	Load() (model.Schedule, error)
}

type StateObserver interface {
	Observe(ctx context.Context) observe.Result
}

type WindowFetcher interface {
	Fetch(ctx context.Context) (model.OutageWindow, error)
	Reset() error
}

type SnapshotSaver interface {
	Save(export.Snapshot) error
}

type Deps struct {
	Config    config.Config
	DB        *sql.DB
	Schedules ScheduleLoader
	Observer  StateObserver
	Window    WindowFetcher
	Energy    energy.Collector
	Exports   SnapshotSaver
	Metrics   *metrics.Sink
	Now       func() time.Time
}

// Monitor owns the current day's schedule and outage window and runs
// polling cycles against them. All jobs hold mu for their full duration, so
// a trigger that fires while another job runs waits for it.
type Monitor struct {
	cfg       config.Config
	db        *sql.DB
	schedules ScheduleLoader
	observer  StateObserver
	window    WindowFetcher
	energy    energy.Collector
	exports   SnapshotSaver
	metrics   *metrics.Sink
	now       func() time.Time
	engine    attribution.Engine

	mu           sync.Mutex
	schedule     model.Schedule
	scheduleDay  string
	outageWindow model.OutageWindow
	windowDay    string
}

func New(d Deps) *Monitor {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	collector := d.Energy
	if collector == nil {
		collector = energy.Nop{}
	}
	return &Monitor{
		cfg:       d.Config,
		db:        d.DB,
		schedules: d.Schedules,
		observer:  d.Observer,
		window:    d.Window,
		energy:    collector,
		exports:   d.Exports,
		metrics:   d.Metrics,
		now:       now,
		engine:    attribution.Engine{AllOutages: d.Config.AttributeAllOutages},
	}
}

// Cycle describes what one polling cycle did.
type Cycle struct {
	ID           string
	Record       model.ReconciliationRecord
	Attempts     int
	Samples      int
	Attributions []model.Attribution
	Failures     []string
}

func (c *Cycle) fail(stage string) {
	c.Failures = append(c.Failures, stage)
}

// RunCycle observes, classifies and records the current state, collects
// energy telemetry and refreshes the day's export.
func (m *Monitor) RunCycle(ctx context.Context) Cycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runCycle(ctx, true)
}

// Check runs a cycle without recording the reconciliation result.
func (m *Monitor) Check(ctx context.Context) Cycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runCycle(ctx, false)
}

func (m *Monitor) runCycle(ctx context.Context, recordStatus bool) Cycle {
	start := time.Now()
	now := m.now()
	cycle := Cycle{ID: uuid.NewString()}

	logger := log.With().Str("cycle_id", cycle.ID).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Time("at", now).Bool("record", recordStatus).Msg("Starting check")

	today := now.Format(dayKeyLayout)
	if m.scheduleDay != today {
		if err := m.refreshSchedule(ctx, now); err != nil {
			cycle.fail(StageSchedule)
		}
	}
	if m.windowDay != today {
		if err := m.refreshWindow(ctx, now); err != nil {
			cycle.fail(StageWindow)
		}
	}

	weekday, hour := model.Weekday(now), now.Hour()
	expected := schedule.ExpectedState(m.schedule, weekday, hour)
	flag := classifier.WindowFlagFor(hour, m.outageWindow)

	var (
		mu        sync.Mutex
		g         errgroup.Group
		failures  []string
		addFailed = func(stage string) {
			mu.Lock()
			failures = append(failures, stage)
			mu.Unlock()
		}
	)

	g.Go(func() error {
		res := m.observer.Observe(ctx)
		cycle.Attempts = res.Attempts
		if res.Err != nil {
			addFailed(StageObserve)
		}

		cycle.Record = model.ReconciliationRecord{
			Timestamp:   now.Truncate(time.Second),
			Expected:    expected,
			Actual:      res.State,
			TodayWindow: flag,
			Comparison:  classifier.Compare(expected, res.State, flag),
		}
		logger.Info().
			Str("expected", expected.String()).
			Str("actual", res.State.String()).
			Int("today_state", int(flag)).
			Str("window", m.outageWindow.String()).
			Str("comparison", string(cycle.Record.Comparison)).
			Msg("Reconciled power state")

		if !recordStatus {
			return nil
		}
		if err := db.UpsertStatus(m.db, cycle.Record); err != nil {
			logger.Error().Err(err).Str("stage", StagePersistStatus).Msg("Failed to record reconciliation result")
			addFailed(StagePersistStatus)
		}
		return nil
	})

	g.Go(func() error {
		samples, err := m.energy.Collect(ctx, now)
		if err != nil {
			logger.Warn().Err(err).Str("stage", StageEnergy).Int("collected", len(samples)).Msg("Energy collection incomplete")
			addFailed(StageEnergy)
		}
		if len(samples) == 0 {
			return nil
		}
		if err := db.UpsertEnergySamples(m.db, samples); err != nil {
			logger.Error().Err(err).Str("stage", StagePersistEnergy).Msg("Failed to record energy samples")
			addFailed(StagePersistEnergy)
			return nil
		}
		cycle.Samples = len(samples)
		return nil
	})

	g.Wait()
	cycle.Failures = append(cycle.Failures, failures...)

	m.report(ctx, now, &cycle)

	for _, stage := range cycle.Failures {
		m.metrics.RecordStageFailure(stage)
	}
	m.metrics.RecordReconciliation(cycle.Record)
	m.metrics.RecordObservationAttempts(cycle.Attempts)
	m.metrics.RecordCycleDuration(time.Since(start))

	logger.Info().
		Dur("elapsed", time.Since(start)).
		Int("attempts", cycle.Attempts).
		Int("energy_samples", cycle.Samples).
		Strs("failures", cycle.Failures).
		Msg("Check complete")
	return cycle
}

// report reads back today's history, attributes outage consumption and
// writes the day's snapshot.
func (m *Monitor) report(ctx context.Context, now time.Time, cycle *Cycle) {
	logger := zerolog.Ctx(ctx)

	actual, err := db.LatestActualStatesByHour(m.db, now)
	if err != nil {
		logger.Error().Err(err).Str("stage", StageReport).Msg("Failed to read today's states")
		cycle.fail(StageReport)
		return
	}
	// the current observation counts even when it was not recorded
	actual[now.Hour()] = cycle.Record.Actual

	consumption, err := db.HourlyConsumption(m.db, now)
	if err != nil {
		logger.Error().Err(err).Str("stage", StageReport).Msg("Failed to read today's consumption")
		cycle.fail(StageReport)
		return
	}
	summary, err := db.DailySummary(m.db, now)
	if err != nil {
		logger.Error().Err(err).Str("stage", StageReport).Msg("Failed to summarise today")
		cycle.fail(StageReport)
		return
	}

	today := schedule.ForDay(m.schedule, model.Weekday(now))
	cycle.Attributions = m.engine.Attribute(attribution.Input{
		Expected:    today,
		Actual:      actual,
		Consumption: consumption,
		Groups:      m.cfg.DeviceGroups(),
	})
	for _, a := range attribution.Reportable(cycle.Attributions) {
		logger.Info().
			Str("group", a.GroupID).
			Float64("kwh", a.TotalKWh).
			Int("hours", a.Hours).
			Float64("battery_percentage", a.BatteryPercentage).
			Msg("Outage consumption attributed")
	}
	m.metrics.RecordAttributions(cycle.Attributions)

	if m.exports == nil {
		return
	}
	snapshot := export.Build(export.Input{
		Now:          now,
		Group:        m.cfg.GroupNumber,
		Today:        today,
		Tomorrow:     schedule.ForDay(m.schedule, model.Weekday(now.AddDate(0, 0, 1))),
		Window:       m.outageWindow,
		Actual:       actual,
		Consumption:  consumption,
		Summary:      summary,
		Attributions: cycle.Attributions,
	})
	if err := m.exports.Save(snapshot); err != nil {
		logger.Error().Err(err).Str("stage", StageExport).Msg("Failed to write daily export")
		cycle.fail(StageExport)
	}
}

// RefreshSchedule reloads the schedule file. On failure the previous
// schedule stays in effect.
func (m *Monitor) RefreshSchedule(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshSchedule(ctx, m.now())
}

func (m *Monitor) refreshSchedule(ctx context.Context, now time.Time) error {
	logger := zerolog.Ctx(ctx)

	sched, err := m.schedules.Load()
	if err != nil {
		logger.Error().Err(err).Str("stage", StageSchedule).Bool("have_previous", m.schedule != nil).
			Msg("Failed to load schedule, keeping previous")
		return err
	}
	m.schedule = sched
	m.scheduleDay = now.Format(dayKeyLayout)
	logger.Info().Int("days", len(sched)).Msg("Schedule updated")
	return nil
}

// RefreshOutageWindow re-reads today's stable outage window. On failure the
// window becomes unknown.
func (m *Monitor) RefreshOutageWindow(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshWindow(ctx, m.now())
}

func (m *Monitor) refreshWindow(ctx context.Context, now time.Time) error {
	logger := zerolog.Ctx(ctx)
	m.windowDay = now.Format(dayKeyLayout)

	if m.cfg.Observation.SkipWindowCheck || m.window == nil {
		m.outageWindow = model.OutageWindow{}
		logger.Warn().Str("stage", StageWindow).Msg("Outage window check disabled, window unknown")
		return nil
	}

	fetchCtx := ctx
	if secs := m.cfg.Observation.AttemptTimeoutSeconds; secs > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}
	w, err := m.window.Fetch(fetchCtx)
	if err != nil {
		m.outageWindow = model.OutageWindow{}
		logger.Error().Err(err).Str("stage", StageWindow).Msg("Failed to read outage window, window unknown")
		if errors.Is(err, observe.ErrClientFault) {
			if rerr := m.window.Reset(); rerr != nil {
				logger.Warn().Err(rerr).Msg("Failed to reset outage window client")
			}
		}
		return err
	}

	m.outageWindow = w
	logger.Info().Str("window", w.String()).Msg("Outage window updated")
	return nil
}

// Window returns the outage window currently in effect.
func (m *Monitor) Window() model.OutageWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outageWindow
}

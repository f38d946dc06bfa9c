package metrics

import (
	"net/http"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blackout-monitor/internal/config"
	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

// Sink publishes cycle results to DogStatsD (when enabled) and to a
// Prometheus registry served on /metrics. A nil *Sink discards everything.
type Sink struct {
	dogstatsd *statsd.Client
	registry  *prometheus.Registry

	expectedState     prometheus.Gauge
	actualState       prometheus.Gauge
	windowFlag        prometheus.Gauge
	comparisons       *prometheus.CounterVec
	observationTries  prometheus.Gauge
	stageFailures     *prometheus.CounterVec
	outageKWh         *prometheus.GaugeVec
	batteryPercentage *prometheus.GaugeVec
	cycleDuration     prometheus.Histogram
}

func New(cfg config.Metrics) *Sink {
	s := &Sink{
		registry: prometheus.NewRegistry(),
		expectedState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blackout_expected_state",
			Help: "Scheduled power state for the current hour (-1 unknown, 0 on, 1 possible outage, 2 off).",
		}),
		actualState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blackout_actual_state",
			Help: "Last observed power state (-1 unknown, 0 on, 1 possible outage, 2 off).",
		}),
		windowFlag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blackout_in_outage_window",
			Help: "Whether the last check fell inside today's stable outage window.",
		}),
		comparisons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blackout_comparisons_total",
			Help: "Reconciliation results by label.",
		}, []string{"label"}),
		observationTries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blackout_observation_attempts",
			Help: "Attempts used by the last observation.",
		}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blackout_stage_failures_total",
			Help: "Cycle stage failures by stage.",
		}, []string{"stage"}),
		outageKWh: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blackout_outage_consumption_kwh",
			Help: "Energy drawn during today's attributed outage hours by device group.",
		}, []string{"group"}),
		batteryPercentage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blackout_battery_percentage",
			Help: "Share of nominal battery capacity drawn during today's attributed outage hours.",
		}, []string{"group"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blackout_cycle_duration_seconds",
			Help:    "Wall time of a full polling cycle.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}),
	}

	s.registry.MustRegister(
		s.expectedState,
		s.actualState,
		s.windowFlag,
		s.comparisons,
		s.observationTries,
		s.stageFailures,
		s.outageKWh,
		s.batteryPercentage,
		s.cycleDuration,
	)

	if cfg.EnableDatadog {
		client, err := statsd.New(cfg.DDAgentAddr)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		} else {
			client.Namespace = cfg.DDNamespace
			client.Tags = cfg.DDTags
			s.dogstatsd = client
			log.Info().
				Str("addr", cfg.DDAgentAddr).
				Str("namespace", cfg.DDNamespace).
				Strs("tags", cfg.DDTags).
				Msg("Datadog metrics initialized")
		}
	}
	return s
}

func (s *Sink) gauge(name string, value float64, tags ...string) {
	if s.dogstatsd == nil {
		return
	}
	if err := s.dogstatsd.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

func (s *Sink) count(name string, tags ...string) {
	if s.dogstatsd == nil {
		return
	}
	if err := s.dogstatsd.Incr(name, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
	}
}

func (s *Sink) RecordReconciliation(rec model.ReconciliationRecord) {
	if s == nil {
		return
	}
	s.expectedState.Set(float64(rec.Expected))
	s.actualState.Set(float64(rec.Actual))
	s.windowFlag.Set(float64(rec.TodayWindow))
	s.comparisons.WithLabelValues(string(rec.Comparison)).Inc()

	s.gauge("state.expected", float64(rec.Expected))
	s.gauge("state.actual", float64(rec.Actual))
	s.count("comparison", "label:"+string(rec.Comparison))
}

func (s *Sink) RecordObservationAttempts(n int) {
	if s == nil {
		return
	}
	s.observationTries.Set(float64(n))
	s.gauge("observation.attempts", float64(n))
}

func (s *Sink) RecordStageFailure(stage string) {
	if s == nil {
		return
	}
	s.stageFailures.WithLabelValues(stage).Inc()
	s.count("stage.failure", "stage:"+stage)
}

func (s *Sink) RecordAttributions(atts []model.Attribution) {
	if s == nil {
		return
	}
	for _, a := range atts {
		s.outageKWh.WithLabelValues(a.GroupID).Set(a.TotalKWh)
		s.batteryPercentage.WithLabelValues(a.GroupID).Set(a.BatteryPercentage)
		s.gauge("outage.kwh", a.TotalKWh, "group:"+a.GroupID)
		s.gauge("battery.percentage", a.BatteryPercentage, "group:"+a.GroupID)
	}
}

func (s *Sink) RecordCycleDuration(d time.Duration) {
	if s == nil {
		return
	}
	s.cycleDuration.Observe(d.Seconds())
	s.gauge("cycle.duration_seconds", d.Seconds())
}

// Handler serves the Prometheus registry.
func (s *Sink) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Sink) Close() error {
	if s == nil || s.dogstatsd == nil {
		return nil
	}
	return s.dogstatsd.Close()
}

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blackout-monitor/internal/config"
	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

func TestSink_RecordsReconciliation(t *testing.T) {
	s := New(config.Metrics{})

	s.RecordReconciliation(model.ReconciliationRecord{
		Expected:    model.StateOff,
		Actual:      model.StateOn,
		TodayWindow: model.WindowInside,
		Comparison:  model.LabelMismatch,
	})
	s.RecordReconciliation(model.ReconciliationRecord{Comparison: model.LabelMismatch})

	assert.Equal(t, 0.0, testutil.ToFloat64(s.expectedState))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.comparisons.WithLabelValues("mismatch")))
}

func TestSink_Attributions(t *testing.T) {
	s := New(config.Metrics{})
	s.RecordAttributions([]model.Attribution{
		{GroupID: "A", TotalKWh: 2, BatteryPercentage: 333.3},
		{GroupID: "B"},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(s.outageKWh.WithLabelValues("A")))
	assert.Equal(t, 333.3, testutil.ToFloat64(s.batteryPercentage.WithLabelValues("A")))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.batteryPercentage.WithLabelValues("B")))
}

func TestSink_Handler(t *testing.T) {
	s := New(config.Metrics{})
	s.RecordStageFailure("observe")
	s.RecordObservationAttempts(3)
	s.RecordCycleDuration(4 * time.Second)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `blackout_stage_failures_total{stage="observe"} 1`)
	assert.Contains(t, string(body), `blackout_observation_attempts 3`)
	assert.Contains(t, string(body), `blackout_cycle_duration_seconds_count 1`)
}

func TestSink_NilIsNoop(t *testing.T) {
	var s *Sink
	s.RecordReconciliation(model.ReconciliationRecord{})
	s.RecordObservationAttempts(1)
	s.RecordStageFailure("x")
	s.RecordAttributions([]model.Attribution{{GroupID: "A"}})
	s.RecordCycleDuration(time.Second)
	assert.NoError(t, s.Close())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

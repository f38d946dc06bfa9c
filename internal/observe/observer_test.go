package observe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/blackout-monitor/internal/config"
	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

type step struct {
	state model.PowerState
	err   error
}

type scriptedSource struct {
	steps  []step
	calls  int
	resets int
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Observe(ctx context.Context) (model.PowerState, error) {
	if _, ok := ctx.Deadline(); !ok {
		return model.StateUnknown, errors.New("attempt without deadline")
	}
	st := s.steps[s.calls]
	s.calls++
	return st.state, st.err
}

func (s *scriptedSource) Reset() error { s.resets++; return nil }
func (s *scriptedSource) Close() error { return nil }

func noSleep(t *testing.T) *[]time.Duration {
	var waits []time.Duration
	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = orig })
	return &waits
}

var testObservation = config.Observation{MaxAttempts: 5, AttemptTimeoutSeconds: 20, RetryDelaySeconds: 10}

func failure(msg string) error {
	return fmt.Errorf("%w: %s", ErrObservationFailure, msg)
}

func TestObserver_FirstAttemptSucceeds(t *testing.T) {
	waits := noSleep(t)
	src := &scriptedSource{steps: []step{{state: model.StateOff}}}

	res := NewObserver(src, testObservation).Observe(context.Background())
	assert.Equal(t, model.StateOff, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.Err)
	assert.Empty(t, *waits)
}

func TestObserver_RetriesThenSucceeds(t *testing.T) {
	waits := noSleep(t)
	src := &scriptedSource{steps: []step{
		{state: model.StateUnknown, err: failure("timeout")},
		{state: model.StateUnknown, err: fmt.Errorf("%w: browser crashed", ErrClientFault)},
		{state: model.StateOn},
	}}

	res := NewObserver(src, testObservation).Observe(context.Background())
	assert.Equal(t, model.StateOn, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 1, src.resets)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, *waits)
}

func TestObserver_ExhaustedYieldsUnknown(t *testing.T) {
	waits := noSleep(t)
	var steps []step
	for i := 0; i < 5; i++ {
		steps = append(steps, step{state: model.StateUnknown, err: failure("still broken")})
	}
	src := &scriptedSource{steps: steps}

	res := NewObserver(src, testObservation).Observe(context.Background())
	assert.Equal(t, model.StateUnknown, res.State)
	assert.Equal(t, 5, res.Attempts)
	assert.ErrorIs(t, res.Err, ErrObservationFailure)
	assert.Equal(t, 5, src.calls)
	assert.Len(t, *waits, 4)
	assert.Zero(t, src.resets)
}

func TestObserver_ConfigurationMissingDoesNotRetry(t *testing.T) {
	noSleep(t)
	src := &scriptedSource{steps: []step{{state: model.StateUnknown, err: ErrConfigurationMissing}}}

	res := NewObserver(src, testObservation).Observe(context.Background())
	assert.Equal(t, model.StateUnknown, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.Err, ErrConfigurationMissing)
}

func TestObserver_StopsWhenContextCancelled(t *testing.T) {
	noSleep(t)
	ctx, cancel := context.WithCancel(context.Background())
	src := &scriptedSource{steps: []step{
		{state: model.StateUnknown, err: failure("first")},
		{state: model.StateOn},
	}}
	cancel()

	res := NewObserver(src, testObservation).Observe(ctx)
	assert.Equal(t, model.StateUnknown, res.State)
	assert.Equal(t, 1, src.calls)
}

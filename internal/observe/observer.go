package observe

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/blackout-monitor/internal/config"
	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

// sleep waits for d or until ctx is done. Tests replace it.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result is the outcome of a full observation, retries included.
type Result struct {
	State    model.PowerState
	Attempts int
	Err      error
}

// Observer applies the retry policy around a Source.
type Observer struct {
	source         Source
	maxAttempts    int
	attemptTimeout time.Duration
	retryDelay     time.Duration
}

func NewObserver(source Source, cfg config.Observation) *Observer {
	return &Observer{
		source:         source,
		maxAttempts:    cfg.MaxAttempts,
		attemptTimeout: time.Duration(cfg.AttemptTimeoutSeconds) * time.Second,
		retryDelay:     time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}
}

func (o *Observer) Source() Source { return o.source }

// Observe tries the source up to maxAttempts times, each attempt bounded by
// attemptTimeout. A client fault resets the source before the next attempt.
// When every attempt fails the state is StateUnknown and Err holds the last
// failure.
func (o *Observer) Observe(ctx context.Context) Result {
	logger := zerolog.Ctx(ctx).With().Str("source", o.source.Name()).Logger()

	var lastErr error
	attempt := 0
	for attempt < o.maxAttempts {
		attempt++

		attemptCtx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
		state, err := o.source.Observe(attemptCtx)
		cancel()

		if err == nil {
			logger.Debug().Int("attempt", attempt).Str("state", state.String()).Msg("Observed actual state")
			return Result{State: state, Attempts: attempt}
		}
		lastErr = err

		if errors.Is(err, ErrConfigurationMissing) {
			logger.Error().Err(err).Int("attempt", attempt).Msg("No observation source configured")
			break
		}

		logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", o.maxAttempts).Msg("Observation attempt failed")

		if ctx.Err() != nil {
			break
		}
		if errors.Is(err, ErrClientFault) {
			if rerr := o.source.Reset(); rerr != nil {
				logger.Warn().Err(rerr).Int("attempt", attempt).Msg("Failed to reset observation client")
			}
		}
		if attempt < o.maxAttempts {
			if err := sleep(ctx, o.retryDelay); err != nil {
				break
			}
		}
	}

	logger.Error().Err(lastErr).Int("attempt", attempt).Msg("Observation attempts exhausted, state unknown")
	return Result{State: model.StateUnknown, Attempts: attempt, Err: lastErr}
}

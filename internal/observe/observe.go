package observe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blackout-monitor/internal/config"
	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

var (
	// ErrObservationFailure means one attempt produced no usable reading.
	ErrObservationFailure = errors.New("observation failed")
	// ErrClientFault means the client itself is broken and must be reset
	// before the next attempt.
	ErrClientFault = errors.New("observation client fault")
	// ErrConfigurationMissing means no source is configured at all.
	ErrConfigurationMissing = errors.New("observation source not configured")
)

// Source reports the current power state at the residence.
type Source interface {
	Name() string
	Observe(ctx context.Context) (model.PowerState, error)
	// Reset tears down and lazily recreates any underlying client.
	Reset() error
	Close() error
}

const userAgent = "blackout-monitor/1.0"

type userAgentTransport struct {
	transport http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	return t.transport.RoundTrip(req)
}

// HTTPClient returns a client that tags requests with the monitor's user
// agent and gives up after timeout.
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{transport: http.DefaultTransport},
		Timeout:   timeout,
	}
}

// NewSource picks the actual-state source once at startup: the UptimeRobot
// API when a key is configured, otherwise the house status page.
func NewSource(cfg config.Observation) Source {
	timeout := time.Duration(cfg.AttemptTimeoutSeconds) * time.Second

	switch {
	case cfg.UptimeRobotAPIKey != "":
		log.Info().Str("source", "uptimerobot").Msg("Using UptimeRobot API for actual state")
		return NewUptimeRobot(cfg.UptimeRobotEndpoint, cfg.UptimeRobotAPIKey, cfg.HouseStateURL, timeout)
	case cfg.HouseStateURL != "":
		log.Info().Str("source", "page").Str("url", cfg.HouseStateURL).Str("renderer", cfg.Renderer).
			Msg("Using status page probe for actual state")
		return NewPageProbe(cfg.HouseStateURL, NewRenderer(cfg.Renderer, timeout), cfg.Ambiguous())
	default:
		log.Error().Msg("No actual-state source configured; set UPTIMEROBOT_API_KEY or URL_HOUSE_STATE")
		return unconfigured{}
	}
}

type unconfigured struct{}

func (unconfigured) Name() string { return "none" }

func (unconfigured) Observe(context.Context) (model.PowerState, error) {
	return model.StateUnknown, ErrConfigurationMissing
}

func (unconfigured) Reset() error { return nil }
func (unconfigured) Close() error { return nil }

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

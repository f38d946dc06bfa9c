package observe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

// uptimeRobotUp is the UptimeRobot monitor status for "up".
const uptimeRobotUp = 2

type UptimeRobot struct {
	endpoint  string
	apiKey    string
	monitorID string
	timeout   time.Duration

	mu     sync.Mutex
	client *http.Client
}

func NewUptimeRobot(endpoint, apiKey, monitorID string, timeout time.Duration) *UptimeRobot {
	return &UptimeRobot{endpoint: endpoint, apiKey: apiKey, monitorID: monitorID, timeout: timeout}
}

func (u *UptimeRobot) Name() string { return "uptimerobot" }

type getMonitorsResponse struct {
	Stat     string `json:"stat"`
	Monitors []struct {
		ID     int64 `json:"id"`
		Status int   `json:"status"`
	} `json:"monitors"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Observe asks UptimeRobot for the monitor status. An up monitor means the
// house has power; any other status means it does not.
func (u *UptimeRobot) Observe(ctx context.Context) (model.PowerState, error) {
	params := url.Values{}
	params.Set("api_key", u.apiKey)
	params.Set("format", "json")
	if u.monitorID != "" {
		params.Set("monitors", u.monitorID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return model.StateUnknown, fmt.Errorf("%w: build request: %v", ErrObservationFailure, err)
	}

	resp, err := u.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return model.StateUnknown, fmt.Errorf("%w: %w", ErrObservationFailure, ctx.Err())
		}
		return model.StateUnknown, fmt.Errorf("%w: %w", ErrClientFault, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.StateUnknown, fmt.Errorf("%w: uptimerobot returned status %d", ErrObservationFailure, resp.StatusCode)
	}

	var body getMonitorsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.StateUnknown, fmt.Errorf("%w: decode response: %v", ErrObservationFailure, err)
	}
	if body.Stat != "ok" {
		msg := "unknown error"
		if body.Error != nil {
			msg = body.Error.Message
		}
		return model.StateUnknown, fmt.Errorf("%w: uptimerobot: %s", ErrObservationFailure, msg)
	}
	if len(body.Monitors) == 0 {
		return model.StateUnknown, fmt.Errorf("%w: uptimerobot returned no monitors", ErrObservationFailure)
	}

	status := body.Monitors[0].Status
	log.Debug().Str("source", u.Name()).Int("monitor_status", status).Msg("UptimeRobot monitor status")
	if status == uptimeRobotUp {
		return model.StateOn, nil
	}
	return model.StateOff, nil
}

func (u *UptimeRobot) httpClient() *http.Client {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.client == nil {
		u.client = HTTPClient(u.timeout)
	}
	return u.client
}

func (u *UptimeRobot) Reset() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.client != nil {
		u.client.CloseIdleConnections()
		u.client = nil
	}
	return nil
}

func (u *UptimeRobot) Close() error {
	return u.Reset()
}

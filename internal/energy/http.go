package energy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/thatsimonsguy/blackout-monitor/internal/config"
	"github.com/thatsimonsguy/blackout-monitor/internal/model"
	"github.com/thatsimonsguy/blackout-monitor/internal/observe"
)

const maxConcurrentDevices = 4

// HTTPCollector polls each device's telemetry endpoint.
type HTTPCollector struct {
	groups []config.Group
	client *http.Client
}

func NewHTTPCollector(groups []config.Group, timeout time.Duration) *HTTPCollector {
	return &HTTPCollector{groups: groups, client: observe.HTTPClient(timeout)}
}

func (c *HTTPCollector) Collect(ctx context.Context, now time.Time) ([]model.EnergySample, error) {
	logger := zerolog.Ctx(ctx)

	var (
		mu      sync.Mutex
		samples []model.EnergySample
		errs    []error
	)

	var g errgroup.Group
	g.SetLimit(maxConcurrentDevices)
	for _, group := range c.groups {
		for _, device := range group.Devices {
			group, device := group, device
			g.Go(func() error {
				hourly, err := c.fetch(ctx, device.URL)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					logger.Warn().Err(err).Str("group", group.ID).Str("device", device.ID).Msg("Skipping energy device")
					errs = append(errs, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, device.ID, err))
					return nil
				}
				samples = append(samples, sample(now, group, device, hourly))
				return nil
			})
		}
	}
	g.Wait()

	return samples, errors.Join(errs...)
}

func (c *HTTPCollector) fetch(ctx context.Context, url string) ([]float64, error) {
	if url == "" {
		return nil, errors.New("device has no url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return decodeHourly(resp.Body)
}

func (c *HTTPCollector) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

package energy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blackout-monitor/internal/config"
	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

// ErrDeviceUnavailable wraps a failure to read one device. Other devices are
// still collected.
var ErrDeviceUnavailable = errors.New("energy device unavailable")

// Collector gathers today's hourly consumption for every configured device.
// A returned error describes devices that were skipped; the samples that were
// collected are still valid.
type Collector interface {
	Collect(ctx context.Context, now time.Time) ([]model.EnergySample, error)
	Close() error
}

// NewCollector builds the collector for the configured transport. No
// transport means no metering.
func NewCollector(cfg config.Energy) (Collector, error) {
	switch cfg.Transport {
	case config.TransportHTTP:
		return NewHTTPCollector(cfg.Groups, time.Duration(cfg.TimeoutSeconds)*time.Second), nil
	case config.TransportMQTT:
		c, err := NewMQTTCollector(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		log.Info().Msg("No energy transport configured, consumption will not be collected")
		return Nop{}, nil
	}
}

type Nop struct{}

func (Nop) Collect(context.Context, time.Time) ([]model.EnergySample, error) { return nil, nil }
func (Nop) Close() error                                                     { return nil }

// payload is a device's telemetry document. Date (YYYY-MM-DD) is optional;
// when present it names the day the series belongs to.
type payload struct {
	Date string    `json:"date,omitempty"`
	Data []float64 `json:"data"`
}

func decodePayload(r io.Reader) (payload, error) {
	var p payload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return p, fmt.Errorf("decode hourly data: %w", err)
	}
	if p.Data == nil {
		return p, errors.New("payload has no data field")
	}
	if len(p.Data) > 24 {
		return p, fmt.Errorf("payload has %d hourly values", len(p.Data))
	}
	return p, nil
}

// decodeHourly reads a {"data": [...]} document holding up to 24 hourly Wh
// values for today.
func decodeHourly(r io.Reader) ([]float64, error) {
	p, err := decodePayload(r)
	if err != nil {
		return nil, err
	}
	return p.Data, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sample(now time.Time, g config.Group, d config.Device, hourly []float64) model.EnergySample {
	return model.EnergySample{
		Timestamp: now,
		GroupID:   g.ID,
		BatteryAh: g.BatteryAh,
		DeviceID:  d.ID,
		Hourly:    hourly,
	}
}

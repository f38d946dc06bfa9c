package energy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blackout-monitor/internal/config"
	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

type reading struct {
	hourly     []float64
	receivedAt time.Time
}

// MQTTCollector keeps the latest retained telemetry message per device and
// hands out whatever arrived today.
type MQTTCollector struct {
	groups []config.Group
	client mqtt.Client
	now    func() time.Time

	mu     sync.Mutex
	latest map[string]reading
	// lastLive is when each device last published a non-retained message.
	lastLive map[string]time.Time
}

func newMQTTCollector(groups []config.Group) *MQTTCollector {
	return &MQTTCollector{
		groups: groups,
		now:    time.Now,
		latest:   make(map[string]reading),
		lastLive: make(map[string]time.Time),
	}
}

// NewMQTTCollector connects to the broker and subscribes to every device
// topic. Subscriptions are renewed on every reconnect.
func NewMQTTCollector(cfg config.Energy) (*MQTTCollector, error) {
	c := newMQTTCollector(cfg.Groups)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)
	opts.SetUsername(cfg.MQTT.Username)
	opts.SetPassword(cfg.MQTT.Password)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)

	opts.OnConnect = func(client mqtt.Client) {
		log.Info().Str("broker", cfg.MQTT.Broker).Msg("Connected to MQTT broker")
		c.subscribe(client)
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Error().Err(err).Msg("MQTT connection lost")
	}

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.MQTT.Broker, token.Error())
	}
	return c, nil
}

func (c *MQTTCollector) subscribe(client mqtt.Client) {
	for _, group := range c.groups {
		for _, device := range group.Devices {
			if device.Topic == "" {
				log.Warn().Str("group", group.ID).Str("device", device.ID).Msg("Device has no MQTT topic")
				continue
			}
			deviceID := device.ID
			token := client.Subscribe(device.Topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
				c.handleMessage(deviceID, msg.Payload(), msg.Retained())
			})
			if token.Wait() && token.Error() != nil {
				log.Error().Err(token.Error()).Str("topic", device.Topic).Msg("Failed to subscribe to device topic")
			}
		}
	}
}

// handleMessage stores a device's latest series. A dated payload must be for
// the day it arrives. An undated retained message is dropped once the device
// has published live on an earlier day, since the broker may be replaying
// yesterday's series after a reconnect past midnight.
func (c *MQTTCollector) handleMessage(deviceID string, body []byte, retained bool) {
	p, err := decodePayload(bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Str("device", deviceID).Msg("Ignoring malformed telemetry message")
		return
	}
	received := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case p.Date != "":
		if p.Date != received.Format(time.DateOnly) {
			log.Warn().Str("device", deviceID).Str("date", p.Date).Msg("Ignoring telemetry for another day")
			return
		}
	case retained:
		if last, ok := c.lastLive[deviceID]; ok && !sameDay(last, received) {
			log.Warn().Str("device", deviceID).Time("last_live", last).Msg("Ignoring retained telemetry from a previous day")
			return
		}
	}

	if !retained {
		c.lastLive[deviceID] = received
	}
	c.latest[deviceID] = reading{hourly: p.Data, receivedAt: received}
}

func (c *MQTTCollector) Collect(ctx context.Context, now time.Time) ([]model.EnergySample, error) {
	logger := zerolog.Ctx(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	var samples []model.EnergySample
	var errs []error
	for _, group := range c.groups {
		for _, device := range group.Devices {
			r, ok := c.latest[device.ID]
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s: no telemetry received", ErrDeviceUnavailable, device.ID))
				logger.Warn().Str("group", group.ID).Str("device", device.ID).Msg("No telemetry received for device")
				continue
			}
			if !sameDay(r.receivedAt, now) {
				errs = append(errs, fmt.Errorf("%w: %s: telemetry is from %s", ErrDeviceUnavailable, device.ID, r.receivedAt.Format(time.DateOnly)))
				logger.Warn().Str("group", group.ID).Str("device", device.ID).Time("received_at", r.receivedAt).Msg("Telemetry for device is stale")
				continue
			}
			samples = append(samples, sample(now, group, device, r.hourly))
		}
	}
	return samples, errors.Join(errs...)
}

func (c *MQTTCollector) Close() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	return nil
}

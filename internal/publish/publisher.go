package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nullsumme/govee-ble-to-mqtt/internal/govee"
	"github.com/nullsumme/govee-ble-to-mqtt/internal/registry"
)

// Transport is the outbound collaborator boundary. The mqtt client
// implements it; tests use a recording fake. Retry and backoff live behind
// this interface, never in front of it.
type Transport interface {
	Publish(topic string, payload []byte, retain bool) error
}

type Options struct {
	TopicPrefix      string
	DiscoveryPrefix  string
	DiscoveryEnabled bool
}

// Publisher formats approved readings into data messages and, when
// discovery is enabled, one-time retained discovery configs per sub-sensor.
type Publisher struct {
	transport Transport
	opts      Options
	logger    *slog.Logger
}

func New(transport Transport, opts Options, logger *slog.Logger) *Publisher {
	return &Publisher{
		transport: transport,
		opts:      opts,
		logger:    logger,
	}
}

// DataPayload is the structured encoding of a reading plus device identity.
// Field names are part of the topic schema contract; the discovery value
// templates reference them.
type DataPayload struct {
	Address     string    `json:"address"`
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Battery     int       `json:"battery"`
	RSSI        int16     `json:"rssi"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewDataPayload builds the wire payload for a reading. Exported so the
// raw-print diagnostic can render exactly what would be published.
func NewDataPayload(id registry.Identity, r govee.Reading, at time.Time) DataPayload {
	return DataPayload{
		Address:     id.Address,
		Model:       string(id.Model),
		Temperature: r.TemperatureC,
		Humidity:    r.HumidityPct,
		Battery:     r.BatteryPct,
		RSSI:        r.RSSI,
		Timestamp:   at,
	}
}

// DataTopic derives the data topic for an identity.
func (p *Publisher) DataTopic(id registry.Identity) string {
	return fmt.Sprintf("%s/%s", p.opts.TopicPrefix, id.Address)
}

// PublishData sends one non-retained data message for a reading the
// registry approved. Transport failures are returned to the caller; the
// publisher does not retry.
func (p *Publisher) PublishData(id registry.Identity, r govee.Reading, at time.Time) error {
	topic := p.DataTopic(id)

	data, err := json.Marshal(NewDataPayload(id, r, at))
	if err != nil {
		return fmt.Errorf("marshal data payload: %w", err)
	}

	if err := p.transport.Publish(topic, data, false); err != nil {
		return fmt.Errorf("publish data: %w", err)
	}

	p.logger.Debug("published reading",
		"topic", topic,
		"addr", id.Address,
		"temperature", r.TemperatureC,
		"humidity", r.HumidityPct,
		"battery", r.BatteryPct,
		"rssi", r.RSSI,
	)
	return nil
}

package publish

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nullsumme/govee-ble-to-mqtt/internal/registry"
)

// Home Assistant MQTT discovery convention: one retained config message per
// sub-sensor under <discovery_prefix>/sensor/<object_id>/config.

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

type discoveryConfig struct {
	UniqueID          string          `json:"unique_id"`
	Name              string          `json:"name"`
	StateTopic        string          `json:"state_topic"`
	UnitOfMeasurement string          `json:"unit_of_measurement"`
	DeviceClass       string          `json:"device_class"`
	StateClass        string          `json:"state_class"`
	ValueTemplate     string          `json:"value_template"`
	Device            discoveryDevice `json:"device"`
}

// subSensors lists the logical sensors every Govee thermo-hygrometer
// exposes. The field names match DataPayload's JSON keys.
var subSensors = []struct {
	field       string
	name        string
	unit        string
	deviceClass string
}{
	{"temperature", "Temperature", "°C", "temperature"},
	{"humidity", "Humidity", "%", "humidity"},
	{"battery", "Battery", "%", "battery"},
	{"rssi", "Signal", "dBm", "signal_strength"},
}

// PublishDiscovery emits one retained discovery config per sub-sensor for a
// newly seen identity. A no-op when discovery is disabled. The first
// transport failure aborts and is returned, so the caller leaves the
// announced flag unset and discovery is retried with the next reading.
func (p *Publisher) PublishDiscovery(id registry.Identity) error {
	if !p.opts.DiscoveryEnabled {
		return nil
	}

	objectBase := strings.ToLower(strings.ReplaceAll(id.Address, ":", ""))
	stateTopic := p.DataTopic(id)

	device := discoveryDevice{
		Identifiers:  []string{"govee_" + objectBase},
		Name:         fmt.Sprintf("Govee %s %s", id.Model, id.Address),
		Model:        string(id.Model),
		Manufacturer: "Govee",
	}

	for _, s := range subSensors {
		topic := fmt.Sprintf("%s/sensor/%s_%s/config", p.opts.DiscoveryPrefix, objectBase, s.field)

		cfg := discoveryConfig{
			UniqueID:          fmt.Sprintf("govee_%s_%s", objectBase, s.field),
			Name:              fmt.Sprintf("Govee %s %s", id.Model, s.name),
			StateTopic:        stateTopic,
			UnitOfMeasurement: s.unit,
			DeviceClass:       s.deviceClass,
			StateClass:        "measurement",
			ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", s.field),
			Device:            device,
		}

		data, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal discovery config: %w", err)
		}

		if err := p.transport.Publish(topic, data, true); err != nil {
			return fmt.Errorf("publish discovery %s: %w", s.field, err)
		}
	}

	p.logger.Info("announced device",
		"addr", id.Address,
		"model", id.Model,
		"sensors", len(subSensors),
	)
	return nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nullsumme/govee-ble-to-mqtt/internal/ble"
	"github.com/nullsumme/govee-ble-to-mqtt/internal/bridge"
	"github.com/nullsumme/govee-ble-to-mqtt/internal/config"
	"github.com/nullsumme/govee-ble-to-mqtt/internal/mqtt"
	"github.com/nullsumme/govee-ble-to-mqtt/internal/publish"
	"github.com/nullsumme/govee-ble-to-mqtt/internal/registry"
)

func Run(ctx context.Context, cfg config.Config) error {
	slog.Info("initializing bridge",
		"mqtt_broker", cfg.MQTTBroker,
		"mqtt_port", cfg.MQTTPort,
		"mqtt_client_id", cfg.MQTTClientID,
		"topic_prefix", cfg.TopicPrefix,
		"discovery", cfg.DiscoveryEnabled,
		"ble_adapter", cfg.BLEAdapter,
		"min_interval", cfg.PublishMinInterval,
	)

	mqttClient := mqtt.NewClient(cfg, slog.Default())
	defer mqttClient.Disconnect()

	go func() {
		// Connect to MQTT broker with retry and backoff; scanning starts
		// regardless, publishes fail with ErrNotConnected until then.
		if err := mqttClient.Connect(ctx); err != nil {
			slog.Error("mqtt connect failed", "error", err)
		}
	}()

	pub := publish.New(mqttClient, publish.Options{
		TopicPrefix:      cfg.TopicPrefix,
		DiscoveryPrefix:  cfg.DiscoveryPrefix,
		DiscoveryEnabled: cfg.DiscoveryEnabled,
	}, slog.Default())

	reg := registry.New(cfg.PublishMinInterval)

	br := bridge.New(reg, pub, bridge.Options{
		DiscoveryEnabled: cfg.DiscoveryEnabled,
		PrintRaw:         cfg.PrintRaw,
	})

	listener := ble.NewListener(ble.Options{Adapter: cfg.BLEAdapter})

	// Radio failure is fatal so an outer supervisor restarts the scan
	// session cleanly.
	if err := br.Run(ctx, listener); err != nil {
		return fmt.Errorf("scan session: %w", err)
	}
	return nil
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	TopicPrefix      string
	DiscoveryEnabled bool
	DiscoveryPrefix  string

	BLEAdapter         string
	PublishMinInterval time.Duration
	PrintRaw           bool
}

// Load resolves the configuration: defaults, then the optional YAML file
// named by CONFIG_FILE (keys are the lower-cased variable names), then
// environment variables. Env wins over file, file over defaults.
func Load() (Config, error) {
	var file map[string]string
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		f, err := loadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		file = f
	}

	get := func(key, def string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		if v, ok := file[key]; ok && v != "" {
			return v
		}
		return def
	}

	appEnv := get("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(get("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	mqttPortStr := get("MQTT_PORT", "1883")
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}
	if mqttPort < 1 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("MQTT_PORT out of range: %d", mqttPort)
	}

	discoveryStr := get("DISCOVERY_ENABLED", "false")
	discovery, err := strconv.ParseBool(discoveryStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DISCOVERY_ENABLED %q: %w", discoveryStr, err)
	}

	printRawStr := get("PRINT_RAW", "false")
	printRaw, err := strconv.ParseBool(printRawStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid PRINT_RAW %q: %w", printRawStr, err)
	}

	minIntervalStr := get("PUBLISH_MIN_INTERVAL", "59s")
	minInterval, err := time.ParseDuration(minIntervalStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid PUBLISH_MIN_INTERVAL %q: %w", minIntervalStr, err)
	}
	if minInterval < 0 {
		return Config{}, fmt.Errorf("PUBLISH_MIN_INTERVAL must not be negative, got %v", minInterval)
	}

	return Config{
		AppEnv:             appEnv,
		LogLevel:           level,
		MQTTBroker:         get("MQTT_BROKER", "localhost"),
		MQTTPort:           mqttPort,
		MQTTClientID:       get("MQTT_CLIENT_ID", "govee-ble-to-mqtt"),
		MQTTUsername:       get("MQTT_USERNAME", ""),
		MQTTPassword:       get("MQTT_PASSWORD", ""),
		TopicPrefix:        get("MQTT_TOPIC_PREFIX", "govee/sensor_data"),
		DiscoveryEnabled:   discovery,
		DiscoveryPrefix:    get("DISCOVERY_PREFIX", "homeassistant"),
		BLEAdapter:         get("BLE_ADAPTER", "hci0"),
		PublishMinInterval: minInterval,
		PrintRaw:           printRaw,
	}, nil
}

// loadFile reads a flat YAML file of scalars and normalizes its keys to the
// environment-variable spelling.
func loadFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

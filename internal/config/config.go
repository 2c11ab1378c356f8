// Package config holds daemon settings, loaded from YAML and overridden by flags.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/garage-door-monitor/internal/gpio"
	"github.com/sweeney/garage-door-monitor/internal/monitor"
	"github.com/sweeney/garage-door-monitor/internal/statusfile"
	"github.com/sweeney/garage-door-monitor/internal/thermo"
)

// Config represents the overall daemon configuration.
type Config struct {
	Chip         string            `yaml:"chip"`
	Pins         PinsConfig        `yaml:"pins"`
	Settle       time.Duration     `yaml:"settle"`
	Poll         time.Duration     `yaml:"poll"`
	StartupDelay time.Duration     `yaml:"startup_delay"`
	StatusFile   string            `yaml:"status_file"`
	IgnoreErrors bool              `yaml:"ignore_errors"`
	Heartbeat    time.Duration     `yaml:"heartbeat"`
	MQTT         MQTTConfig        `yaml:"mqtt"`
	HTTP         HTTPConfig        `yaml:"http"`
	Thermometer  ThermometerConfig `yaml:"thermometer"`
	LogLevel     string            `yaml:"log_level"`
}

// PinsConfig holds BCM line offsets.
type PinsConfig struct {
	Open       int `yaml:"open"`
	Close      int `yaml:"close"`
	RelayOpen  int `yaml:"relay_open"`
	RelayClose int `yaml:"relay_close"`
}

// MQTTConfig holds the broker connection. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
}

// HTTPConfig holds the status server settings. An empty addr disables it.
type HTTPConfig struct {
	Addr      string  `yaml:"addr"`
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// ThermometerConfig locates the optional DS18B20 sensor. With no serial the
// first sensor on the bus is used; an empty path disables it.
type ThermometerConfig struct {
	Path   string `yaml:"path"`
	Serial string `yaml:"serial"`
}

// Default returns the configuration used when nothing else is given.
func Default() Config {
	pins := gpio.DefaultPins()
	return Config{
		Chip: pins.Chip,
		Pins: PinsConfig{
			Open:       pins.Open,
			Close:      pins.Close,
			RelayOpen:  pins.RelayOpen,
			RelayClose: pins.RelayClose,
		},
		Settle:       monitor.DefaultSettle,
		Poll:         250 * time.Millisecond,
		StartupDelay: 500 * time.Millisecond,
		StatusFile:   statusfile.DefaultPath,
		Heartbeat:    15 * time.Minute,
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "garage-door-monitor",
		},
		HTTP: HTTPConfig{
			Addr:      ":80",
			RateLimit: 5,
			Burst:     10,
		},
		Thermometer: ThermometerConfig{
			Path: thermo.DefaultBusPath,
		},
		LogLevel: "info",
	}
}

// Load reads the configuration from the given path. Keys missing from the
// file keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrap(err, "open config")
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate checks the settings are usable.
func (c Config) Validate() error {
	if c.Chip == "" {
		return errors.New("chip must be set")
	}
	if c.Poll <= 0 {
		return errors.Errorf("poll must be positive, got %v", c.Poll)
	}
	if c.Settle < 0 {
		return errors.Errorf("settle must not be negative, got %v", c.Settle)
	}
	if c.HTTP.Addr != "" && (c.HTTP.RateLimit <= 0 || c.HTTP.Burst <= 0) {
		return errors.New("http rate_limit and burst must be positive")
	}

	seen := map[int]string{}
	for _, p := range []struct {
		name   string
		offset int
	}{
		{"open", c.Pins.Open},
		{"close", c.Pins.Close},
		{"relay_open", c.Pins.RelayOpen},
		{"relay_close", c.Pins.RelayClose},
	} {
		if p.offset < 0 {
			return errors.Errorf("pin %s must not be negative", p.name)
		}
		if other, dup := seen[p.offset]; dup {
			return errors.Errorf("pins %s and %s share line %d", other, p.name, p.offset)
		}
		seen[p.offset] = p.name
	}
	return nil
}

// GPIOPins converts the pin settings for the gpio package.
func (c Config) GPIOPins() gpio.Pins {
	return gpio.Pins{
		Chip:       c.Chip,
		Open:       c.Pins.Open,
		Close:      c.Pins.Close,
		RelayOpen:  c.Pins.RelayOpen,
		RelayClose: c.Pins.RelayClose,
	}
}

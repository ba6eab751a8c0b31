package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath     = "/etc/vacuumd/config.yaml"
	DefaultHTTPAddr = "0.0.0.0:8080"
	DefaultGRPCAddr = "0.0.0.0:9000"

	DefaultPollIntervalSeconds  = 30
	DefaultPollTimeoutSeconds   = 10
	DefaultFailureThreshold     = 3
	DefaultCommandRetries       = 2
	DefaultCommandBackoffMillis = 500

	TransportSimulator = "simulator"
	TransportMiio      = "miio"

	miioTokenLength = 32
)

// Config is the full daemon configuration, passed into the core as one
// immutable struct at construction.
type Config struct {
	Device   DeviceConfig  `yaml:"device"`
	Polling  PollingConfig `yaml:"polling"`
	Commands CommandConfig `yaml:"commands"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	Influx   InfluxConfig  `yaml:"influx"`
	Logging  LoggingConfig `yaml:"logging"`
	HTTPAddr string        `yaml:"http_addr"`
	GRPCAddr string        `yaml:"grpc_addr"`
}

type DeviceConfig struct {
	// Name identifies the entity in topics, logs and metrics.
	Name string `yaml:"name"`
	// Transport selects the protocol backend: "miio" for a real device,
	// "simulator" for the in-process fake.
	Transport string `yaml:"transport"`
	Host      string `yaml:"host"`
	Token     string `yaml:"token"`
}

type PollingConfig struct {
	IntervalSeconds  int `yaml:"interval_seconds"`
	TimeoutSeconds   int `yaml:"timeout_seconds"`
	FailureThreshold int `yaml:"failure_threshold"`
	// StalenessSeconds defaults to three polling intervals when zero.
	StalenessSeconds int `yaml:"staleness_seconds"`
}

func (p PollingConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

func (p PollingConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

func (p PollingConfig) Staleness() time.Duration {
	return time.Duration(p.StalenessSeconds) * time.Second
}

type CommandConfig struct {
	// Retries left unset gets the default; an explicit 0 disables
	// command retries.
	Retries       *int `yaml:"retries"`
	BackoffMillis int `yaml:"backoff_millis"`
}

func (c CommandConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMillis) * time.Millisecond
}

type MQTTConfig struct {
	// Broker is a paho URL such as tcp://broker:1883; empty disables
	// the bridge.
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// Load parses the YAML config file, applies overrides (command line
// switches) and defaults, and validates the result.
func Load(path string, overrides ...func(*Config)) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	for _, override := range overrides {
		override(&cfg)
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ApplyDefaults(cfg *Config) {
	if cfg.Device.Name == "" {
		cfg.Device.Name = "vacuum"
	}
	if cfg.Device.Transport == "" {
		cfg.Device.Transport = TransportMiio
	}
	if cfg.Polling.IntervalSeconds == 0 {
		cfg.Polling.IntervalSeconds = DefaultPollIntervalSeconds
	}
	if cfg.Polling.TimeoutSeconds == 0 {
		cfg.Polling.TimeoutSeconds = DefaultPollTimeoutSeconds
	}
	if cfg.Polling.FailureThreshold == 0 {
		cfg.Polling.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Polling.StalenessSeconds == 0 {
		cfg.Polling.StalenessSeconds = 3 * cfg.Polling.IntervalSeconds
	}
	if cfg.Commands.Retries == nil {
		retries := DefaultCommandRetries
		cfg.Commands.Retries = &retries
	}
	if cfg.Commands.BackoffMillis == 0 {
		cfg.Commands.BackoffMillis = DefaultCommandBackoffMillis
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "vacuumd-" + cfg.Device.Name
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "vacuumd"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.GRPCAddr == "" {
		cfg.GRPCAddr = DefaultGRPCAddr
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg Config) error {
	switch cfg.Device.Transport {
	case TransportSimulator:
	case TransportMiio:
		if cfg.Device.Host == "" {
			return fmt.Errorf("device.host is required for the miio transport")
		}
		if len(cfg.Device.Token) != miioTokenLength {
			return fmt.Errorf("device.token must be %d hex characters", miioTokenLength)
		}
	default:
		return fmt.Errorf("unsupported device.transport %q", cfg.Device.Transport)
	}

	if cfg.Polling.IntervalSeconds < 0 || cfg.Polling.TimeoutSeconds < 0 {
		return fmt.Errorf("polling intervals must be positive")
	}
	if cfg.Polling.TimeoutSeconds >= cfg.Polling.IntervalSeconds {
		return fmt.Errorf("polling.timeout_seconds must be shorter than the interval")
	}
	if cfg.Polling.StalenessSeconds < cfg.Polling.IntervalSeconds {
		return fmt.Errorf("polling.staleness_seconds must cover at least one interval")
	}
	if cfg.Commands.Retries != nil && *cfg.Commands.Retries < 0 {
		return fmt.Errorf("commands.retries must not be negative")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.Influx.Enabled {
		if cfg.Influx.URL == "" || cfg.Influx.Org == "" || cfg.Influx.Bucket == "" {
			return fmt.Errorf("influx.url, influx.org and influx.bucket are required when influx is enabled")
		}
	}
	return nil
}

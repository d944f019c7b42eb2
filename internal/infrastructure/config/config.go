package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure shared by the twinsync binaries.
// All configuration is loaded from YAML (or TOML) and can be overridden by
// environment variables. Each binary reads only the sections it needs.
type Config struct {
	Hub       HubConfig       `yaml:"hub" toml:"hub"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt" toml:"mqtt"`
	API       APIConfig       `yaml:"api" toml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket" toml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb" toml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Device    DeviceConfig    `yaml:"device" toml:"device"`
	Client    ClientConfig    `yaml:"client" toml:"client"`
}

// HubConfig identifies the twin hub instance.
type HubConfig struct {
	ID   string `yaml:"id" toml:"id"`
	Name string `yaml:"name" toml:"name"`
	// Transport selects the twin bus: "mqtt" or "memory" (single process).
	Transport string `yaml:"transport" toml:"transport"`
	// AutoRegister creates an empty twin when an unknown device first asks
	// for its twin. When false, devices must be registered over the API.
	AutoRegister bool `yaml:"auto_register" toml:"auto_register"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" toml:"path"`
	WALMode     bool   `yaml:"wal_mode" toml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" toml:"busy_timeout"`
	// HistoryRetention is how many days of twin history are kept.
	// 0 keeps everything.
	HistoryRetention int `yaml:"history_retention" toml:"history_retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker" toml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth" toml:"auth"`
	QoS       int                 `yaml:"qos" toml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect" toml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	TLS      bool   `yaml:"tls" toml:"tls"`
	ClientID string `yaml:"client_id" toml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay" toml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host" toml:"host"`
	Port     int              `yaml:"port" toml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts" toml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read" toml:"read"`
	Write int `yaml:"write" toml:"write"`
	Idle  int `yaml:"idle" toml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size" toml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval" toml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout" toml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	URL           string `yaml:"url" toml:"url"`
	Token         string `yaml:"token" toml:"token"`
	Org           string `yaml:"org" toml:"org"`
	Bucket        string `yaml:"bucket" toml:"bucket"`
	BatchSize     int    `yaml:"batch_size" toml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval" toml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// DeviceConfig contains simulated device settings.
type DeviceConfig struct {
	ID              string `yaml:"id" toml:"id"`
	FirmwareVersion string `yaml:"firmware_version" toml:"firmware_version"`
	// RequestTimeout bounds twin GET and reported-patch acknowledgements (seconds).
	RequestTimeout int `yaml:"request_timeout" toml:"request_timeout"`
}

// ClientConfig contains service client (twinctl) settings.
type ClientConfig struct {
	HubURL string `yaml:"hub_url" toml:"hub_url"`
	// AckTimeout bounds how long a scripted step waits for the device (seconds).
	AckTimeout int `yaml:"ack_timeout" toml:"ack_timeout"`
}

// Load reads configuration from a YAML or TOML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults); ".toml" files are decoded as TOML,
//     everything else as YAML
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TWINSYNC_SECTION_KEY
// For example: TWINSYNC_DATABASE_PATH, TWINSYNC_MQTT_HOST
//
// Parameters:
//   - path: Path to the configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to defaults (with
// environment overrides) when it does not.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("checking config file: %w", err)
		}
		cfg := Default()
		applyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Hub: HubConfig{
			ID:           "twinhub-001",
			Name:         "twinsync hub",
			Transport:    "mqtt",
			AutoRegister: true,
		},
		Database: DatabaseConfig{
			Path:             "./data/twinsync.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "twinsync-hub",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Device: DeviceConfig{
			ID:              "MyTwinDevice",
			FirmwareVersion: "1.2.1",
			RequestTimeout:  10,
		},
		Client: ClientConfig{
			HubURL:     "http://localhost:8080",
			AckTimeout: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TWINSYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Hub
	if v := os.Getenv("TWINSYNC_HUB_TRANSPORT"); v != "" {
		cfg.Hub.Transport = v
	}
	if v := os.Getenv("TWINSYNC_HUB_AUTO_REGISTER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Hub.AutoRegister = b
		}
	}

	// Database
	if v := os.Getenv("TWINSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TWINSYNC_DATABASE_HISTORY_RETENTION"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Database.HistoryRetention = days
		}
	}

	// MQTT
	if v := os.Getenv("TWINSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TWINSYNC_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("TWINSYNC_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("TWINSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TWINSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("TWINSYNC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("TWINSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Device
	if v := os.Getenv("TWINSYNC_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}

	// Client
	if v := os.Getenv("TWINSYNC_CLIENT_HUB_URL"); v != "" {
		cfg.Client.HubURL = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	switch c.Hub.Transport {
	case "mqtt", "memory":
	default:
		errs = append(errs, "hub.transport must be \"mqtt\" or \"memory\"")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.HistoryRetention < 0 {
		errs = append(errs, "database.history_retention must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}
	if c.Device.RequestTimeout < 1 {
		errs = append(errs, "device.request_timeout must be at least 1 second")
	}

	if c.Client.AckTimeout < 1 {
		errs = append(errs, "client.ack_timeout must be at least 1 second")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetHistoryRetention returns the twin history retention as a Duration.
// Zero means history is never pruned.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Database.HistoryRetention) * 24 * time.Hour
}

// GetDeviceRequestTimeout returns the device request timeout as a Duration.
func (c *Config) GetDeviceRequestTimeout() time.Duration {
	return time.Duration(c.Device.RequestTimeout) * time.Second
}

// GetAckTimeout returns the service client acknowledgement timeout as a Duration.
func (c *Config) GetAckTimeout() time.Duration {
	return time.Duration(c.Client.AckTimeout) * time.Second
}

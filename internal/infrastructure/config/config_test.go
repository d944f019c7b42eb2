package config

import (
	"os"
	"path/filepath"
	"testing"
)

// writeConfig writes content to a file named name inside a temp directory.
func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	content := `
hub:
  id: "test-hub"
  transport: "mqtt"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "broker.local"
    port: 1884
    client_id: "test-client"
  qos: 1
api:
  port: 9090
device:
  id: "thermostat-7"
`
	cfg, err := Load(writeConfig(t, "config.yaml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hub.ID != "test-hub" {
		t.Errorf("Hub.ID = %q, want %q", cfg.Hub.ID, "test-hub")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT.Broker.Port = %d, want 1884", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Device.ID != "thermostat-7" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "thermostat-7")
	}
	// Unset keys keep their defaults.
	if cfg.Device.FirmwareVersion != "1.2.1" {
		t.Errorf("Device.FirmwareVersion = %q, want default %q", cfg.Device.FirmwareVersion, "1.2.1")
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	content := `
[hub]
id = "toml-hub"
transport = "memory"

[database]
path = "/tmp/toml.db"

[mqtt.broker]
host = "toml-broker"
port = 8883
tls = true

[client]
hub_url = "http://hub:8080"
ack_timeout = 12
`
	cfg, err := Load(writeConfig(t, "config.toml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hub.ID != "toml-hub" {
		t.Errorf("Hub.ID = %q, want %q", cfg.Hub.ID, "toml-hub")
	}
	if cfg.Hub.Transport != "memory" {
		t.Errorf("Hub.Transport = %q, want %q", cfg.Hub.Transport, "memory")
	}
	if !cfg.MQTT.Broker.TLS {
		t.Error("MQTT.Broker.TLS = false, want true")
	}
	if cfg.Client.HubURL != "http://hub:8080" {
		t.Errorf("Client.HubURL = %q, want %q", cfg.Client.HubURL, "http://hub:8080")
	}
	if got := cfg.GetAckTimeout().Seconds(); got != 12 {
		t.Errorf("GetAckTimeout() = %v, want 12", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", "[hub\nid = "))
	if err == nil {
		t.Error("Load() expected error for invalid TOML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
hub:
  transport: "carrier-pigeon"
`
	_, err := Load(writeConfig(t, "config.yaml", content))
	if err == nil {
		t.Error("Load() expected validation error for unknown transport, got nil")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Setenv("TWINSYNC_DEVICE_ID", "env-device")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Device.ID != "env-device" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "env-device")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}, wantErr: false},
		{name: "memory transport", mutate: func(c *Config) { c.Hub.Transport = "memory" }, wantErr: false},
		{name: "unknown transport", mutate: func(c *Config) { c.Hub.Transport = "amqp" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "keep history forever", mutate: func(c *Config) { c.Database.HistoryRetention = 0 }, wantErr: false},
		{name: "negative history retention", mutate: func(c *Config) { c.Database.HistoryRetention = -1 }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{
			name: "influx enabled without url",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.URL = ""
			},
			wantErr: true,
		},
		{name: "missing device id", mutate: func(c *Config) { c.Device.ID = "" }, wantErr: true},
		{name: "zero request timeout", mutate: func(c *Config) { c.Device.RequestTimeout = 0 }, wantErr: true},
		{name: "zero ack timeout", mutate: func(c *Config) { c.Client.AckTimeout = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Database: DatabaseConfig{HistoryRetention: 2},
		Device:   DeviceConfig{RequestTimeout: 7},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetDeviceRequestTimeout().Seconds(); got != 7 {
		t.Errorf("GetDeviceRequestTimeout() = %v, want 7", got)
	}
	if got := cfg.GetHistoryRetention().Hours(); got != 48 {
		t.Errorf("GetHistoryRetention() = %vh, want 48h", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("TWINSYNC_HUB_TRANSPORT", "memory")
	t.Setenv("TWINSYNC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("TWINSYNC_DATABASE_HISTORY_RETENTION", "7")
	t.Setenv("TWINSYNC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("TWINSYNC_MQTT_PORT", "2883")
	t.Setenv("TWINSYNC_MQTT_CLIENT_ID", "device-client")
	t.Setenv("TWINSYNC_MQTT_USERNAME", "testuser")
	t.Setenv("TWINSYNC_MQTT_PASSWORD", "testpass")
	t.Setenv("TWINSYNC_API_HOST", "192.168.1.1")
	t.Setenv("TWINSYNC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("TWINSYNC_CLIENT_HUB_URL", "http://10.0.0.2:8080")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   any
		want  any
	}{
		{"Hub.Transport", cfg.Hub.Transport, "memory"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"Database.HistoryRetention", cfg.Database.HistoryRetention, 7},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Broker.Port", cfg.MQTT.Broker.Port, 2883},
		{"MQTT.Broker.ClientID", cfg.MQTT.Broker.ClientID, "device-client"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Client.HubURL", cfg.Client.HubURL, "http://10.0.0.2:8080"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := Default()
	t.Setenv("TWINSYNC_MQTT_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

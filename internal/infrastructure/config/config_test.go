package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
discovery:
  enabled: true
  multicast_address: "239.255.255.250:1982"
  probe_port: 0
  ttl: 2
lamp:
  control_port: 55443
music:
  host: "192.168.1.10"
  port: 54321
database:
  path: "/tmp/test.db"
mqtt:
  enabled: true
  broker:
    host: "broker.lan"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "127.0.0.1"
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Discovery.TTL != 2 {
		t.Errorf("Discovery.TTL = %d, want 2", cfg.Discovery.TTL)
	}
	if cfg.Music.Host != "192.168.1.10" {
		t.Errorf("Music.Host = %q, want %q", cfg.Music.Host, "192.168.1.10")
	}
	if cfg.Music.Port != 54321 {
		t.Errorf("Music.Port = %d, want 54321", cfg.Music.Port)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker.Host != "broker.lan" {
		t.Errorf("MQTT = %+v, want enabled broker.lan", cfg.MQTT)
	}
	// Values absent from the file keep their defaults.
	if cfg.WebSocket.PingInterval != 30 {
		t.Errorf("WebSocket.PingInterval = %d, want 30", cfg.WebSocket.PingInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Lamp.ControlPort != 55443 {
		t.Errorf("Lamp.ControlPort = %d, want 55443", cfg.Lamp.ControlPort)
	}
}

func TestLoadOrDefault_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := LoadOrDefault(configPath); err == nil {
		t.Error("LoadOrDefault() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
api:
  port: 0
`
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected validation error for api.port 0, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "api port out of range",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "control port zero",
			mutate:  func(c *Config) { c.Lamp.ControlPort = 0 },
			wantErr: true,
		},
		{
			name:    "music range inverted",
			mutate:  func(c *Config) { c.Music.PortMin, c.Music.PortMax = 60000, 50000 },
			wantErr: true,
		},
		{
			name:    "music attempts zero",
			mutate:  func(c *Config) { c.Music.Attempts = 0 },
			wantErr: true,
		},
		{
			name:    "ttl zero with discovery enabled",
			mutate:  func(c *Config) { c.Discovery.TTL = 0 },
			wantErr: true,
		},
		{
			name: "ttl ignored when discovery disabled",
			mutate: func(c *Config) {
				c.Discovery.Enabled = false
				c.Discovery.TTL = 0
			},
		},
		{
			name:    "database path required when enabled",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "influxdb url required when enabled",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
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
		Lamp: LampConfig{ConnectTimeout: 3, CommandTimeout: 7},
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
	if got := cfg.Lamp.ConnectTimeoutDuration().Seconds(); got != 3 {
		t.Errorf("ConnectTimeoutDuration() = %v, want 3", got)
	}
	if got := cfg.Lamp.CommandTimeoutDuration().Seconds(); got != 7 {
		t.Errorf("CommandTimeoutDuration() = %v, want 7", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("LOGGER_LEVEL", "complete")
	t.Setenv("YEELIGHT_DATABASE_PATH", "/custom/path.db")
	t.Setenv("YEELIGHT_MQTT_HOST", "mqtt.example.com")
	t.Setenv("YEELIGHT_MQTT_USERNAME", "testuser")
	t.Setenv("YEELIGHT_MQTT_PASSWORD", "testpass")
	t.Setenv("YEELIGHT_NATS_URL", "nats://bus:4222")
	t.Setenv("YEELIGHT_API_HOST", "192.168.1.1")
	t.Setenv("YEELIGHT_API_PORT", "9000")
	t.Setenv("YEELIGHT_MUSIC_HOST", "192.168.1.2")
	t.Setenv("YEELIGHT_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Logging.Level != "complete" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "complete")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" || !cfg.MQTT.Enabled {
		t.Errorf("MQTT.Broker.Host = %q enabled=%v, want mqtt.example.com enabled", cfg.MQTT.Broker.Host, cfg.MQTT.Enabled)
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.NATS.URL != "nats://bus:4222" || !cfg.NATS.Enabled {
		t.Errorf("NATS = %+v, want enabled nats://bus:4222", cfg.NATS)
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	if cfg.Music.Host != "192.168.1.2" {
		t.Errorf("Music.Host = %q, want %q", cfg.Music.Host, "192.168.1.2")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestApplyEnvOverrides_LevelPrecedence(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("LOGGER_LEVEL", "minimal")
	t.Setenv("YEELIGHT_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Discovery.MulticastAddress != "239.255.255.250:1982" {
		t.Errorf("Discovery.MulticastAddress = %q, want 239.255.255.250:1982", cfg.Discovery.MulticastAddress)
	}
	if cfg.Discovery.ProbePort != 55555 {
		t.Errorf("Discovery.ProbePort = %d, want 55555", cfg.Discovery.ProbePort)
	}
	if cfg.Lamp.ControlPort != 55443 {
		t.Errorf("Lamp.ControlPort = %d, want 55443", cfg.Lamp.ControlPort)
	}
	if cfg.API.Port != 3056 {
		t.Errorf("API.Port = %d, want 3056", cfg.API.Port)
	}
	if cfg.MQTT.Enabled || cfg.NATS.Enabled || cfg.InfluxDB.Enabled || cfg.MDNS.Enabled {
		t.Error("optional integrations should be disabled by default")
	}
}

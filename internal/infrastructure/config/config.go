package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for yeelightd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Discovery DiscoveryConfig `yaml:"discovery"`
	Lamp      LampConfig      `yaml:"lamp"`
	Music     MusicConfig     `yaml:"music"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	NATS      NATSConfig      `yaml:"nats"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	MDNS      MDNSConfig      `yaml:"mdns"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DiscoveryConfig contains SSDP discovery settings.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`

	// MulticastAddress is the SSDP group lamps listen and announce on.
	MulticastAddress string `yaml:"multicast_address"`

	// ProbePort is the local source port of the M-SEARCH socket.
	// Replies are unicast back to this port.
	ProbePort int `yaml:"probe_port"`

	// TTL is the multicast hop limit for probes.
	TTL int `yaml:"ttl"`

	// Interface optionally pins multicast traffic to one NIC (e.g. "eth0").
	Interface string `yaml:"interface"`

	// ProbeInterval re-sends the probe periodically (seconds). 0 probes once at start.
	ProbeInterval int `yaml:"probe_interval"`
}

// LampConfig contains per-lamp TCP session settings.
type LampConfig struct {
	ControlPort    int `yaml:"control_port"`
	ConnectTimeout int `yaml:"connect_timeout"`
	ConnectRetries int `yaml:"connect_retries"`
	CommandTimeout int `yaml:"command_timeout"`
}

// MusicConfig contains push-channel (music mode) server settings.
type MusicConfig struct {
	// Host is the address advertised to lamps. Empty means autodetect.
	Host string `yaml:"host"`

	// Port pins the listener to one port. 0 means pick from the range.
	Port int `yaml:"port"`

	// PortMin and PortMax bound random port selection. Both 0 means ephemeral.
	PortMin int `yaml:"port_min"`
	PortMax int `yaml:"port_max"`

	// Attempts is the number of random ports tried before giving up.
	Attempts int `yaml:"attempts"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Path             string `yaml:"path"`
	WALMode          bool   `yaml:"wal_mode"`
	BusyTimeout      int    `yaml:"busy_timeout"`
	HistoryRetention int    `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// NATSConfig contains NATS connection settings.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SubjectPrefix string `yaml:"subject_prefix"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MDNSConfig contains mDNS advertisement settings.
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: YEELIGHT_SECTION_KEY
// For example: YEELIGHT_DATABASE_PATH, YEELIGHT_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

// LoadOrDefault behaves like Load but falls back to defaults (plus
// environment overrides) when the file does not exist. The controller is
// normally run on a LAN with no configuration at all.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return finish(defaultConfig())
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			Enabled:          true,
			MulticastAddress: "239.255.255.250:1982",
			ProbePort:        55555,
			TTL:              4,
			ProbeInterval:    0,
		},
		Lamp: LampConfig{
			ControlPort:    55443,
			ConnectTimeout: 5,
			ConnectRetries: 2,
			CommandTimeout: 5,
		},
		Music: MusicConfig{
			PortMin:  50000,
			PortMax:  60000,
			Attempts: 10,
		},
		Database: DatabaseConfig{
			Enabled:          true,
			Path:             "./data/yeelight.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 7,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "yeelightd",
			},
			QoS:         1,
			TopicPrefix: "yeelight",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Name:          "yeelightd",
			SubjectPrefix: "yeelight",
			ReconnectWait: 2,
			MaxReconnects: -1,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3056,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		MDNS: MDNSConfig{
			Instance: "yeelightd",
			Service:  "_yeelight-ctl._tcp",
			Domain:   "local.",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: YEELIGHT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Logging (LOGGER_LEVEL kept for existing deployments)
	if v := os.Getenv("LOGGER_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("YEELIGHT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Discovery
	if v := os.Getenv("YEELIGHT_DISCOVERY_INTERFACE"); v != "" {
		cfg.Discovery.Interface = v
	}

	// Music
	if v := os.Getenv("YEELIGHT_MUSIC_HOST"); v != "" {
		cfg.Music.Host = v
	}

	// Database
	if v := os.Getenv("YEELIGHT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("YEELIGHT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("YEELIGHT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("YEELIGHT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// NATS
	if v := os.Getenv("YEELIGHT_NATS_URL"); v != "" {
		cfg.NATS.URL = v
		cfg.NATS.Enabled = true
	}

	// API
	if v := os.Getenv("YEELIGHT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("YEELIGHT_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("YEELIGHT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Discovery.Enabled {
		if c.Discovery.MulticastAddress == "" {
			errs = append(errs, "discovery.multicast_address is required")
		}
		if c.Discovery.ProbePort < 0 || c.Discovery.ProbePort > 65535 {
			errs = append(errs, "discovery.probe_port must be between 0 and 65535")
		}
		if c.Discovery.TTL < 1 || c.Discovery.TTL > 255 {
			errs = append(errs, "discovery.ttl must be between 1 and 255")
		}
	}

	if c.Lamp.ControlPort < 1 || c.Lamp.ControlPort > 65535 {
		errs = append(errs, "lamp.control_port must be between 1 and 65535")
	}
	if c.Lamp.ConnectRetries < 0 {
		errs = append(errs, "lamp.connect_retries cannot be negative")
	}

	if c.Music.Port < 0 || c.Music.Port > 65535 {
		errs = append(errs, "music.port must be between 0 and 65535")
	}
	if c.Music.PortMin > c.Music.PortMax {
		errs = append(errs, "music.port_min must not exceed music.port_max")
	}
	if c.Music.PortMax > 65535 || c.Music.PortMin < 0 {
		errs = append(errs, "music port range must be within 0 and 65535")
	}
	if c.Music.Attempts < 1 {
		errs = append(errs, "music.attempts must be at least 1")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
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

// ConnectTimeoutDuration returns the lamp connect timeout as a Duration.
func (l LampConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(l.ConnectTimeout) * time.Second
}

// CommandTimeoutDuration returns the per-command response timeout.
func (l LampConfig) CommandTimeoutDuration() time.Duration {
	return time.Duration(l.CommandTimeout) * time.Second
}

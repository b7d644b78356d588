package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the overlay service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site         SiteConfig          `yaml:"site"`
	Backend      BackendConfig       `yaml:"backend"`
	Database     DatabaseConfig      `yaml:"database"`
	MQTT         MQTTConfig          `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig      `yaml:"influxdb"`
	API          APIConfig           `yaml:"api"`
	WebSocket    WebSocketConfig     `yaml:"websocket"`
	Logging      LoggingConfig       `yaml:"logging"`
	Overlay      OverlayConfig       `yaml:"overlay"`
	Bindings     []BindingConfig     `yaml:"bindings"`
	Calculations []CalculationConfig `yaml:"calculations"`
}

// SiteConfig identifies the dashboard this instance serves.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BackendConfig contains the telemetry backend (REST) settings.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`
	// Token is an optional bearer credential. Prefer OVERLAY_BACKEND_TOKEN.
	Token string `yaml:"token"`
	// TokenEnv lists extra environment variables consulted for a credential, in order.
	TokenEnv []string `yaml:"token_env"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for push notifications.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB settings for derived-value history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// OverlayConfig describes the bound overlay and the read cache behaviour.
type OverlayConfig struct {
	// Device is the default device name items resolve against.
	Device string `yaml:"device"`

	// SourceURL is where the vector overlay is loaded from on initialise.
	SourceURL string `yaml:"source_url"`

	// PollInterval is the invalidation poll period in seconds.
	PollInterval int `yaml:"poll_interval"`

	// FirstReadWindowMS is the throttle window for a key that has no cached value.
	FirstReadWindowMS int `yaml:"first_read_window_ms"`

	// RefreshWindowMS is the throttle window for a key that already has a cached value.
	RefreshWindowMS int `yaml:"refresh_window_ms"`

	// ThrottlePolicy is "deferred" (default) or "queue_only".
	ThrottlePolicy string `yaml:"throttle_policy"`

	// Push enables push-notification invalidation when MQTT is available.
	Push bool `yaml:"push"`

	Items []ItemConfig `yaml:"items"`
}

// ItemConfig binds one overlay element to one data key.
type ItemConfig struct {
	// Name is the logical name the view binding receives (e.g. the SVG element id).
	Name   string `yaml:"name"`
	Device string `yaml:"device,omitempty"`
	Key    string `yaml:"key"`
	// Source is "telemetry" or "shared"/"attribute".
	Source string `yaml:"source"`
	// Kind is "text" or "icon".
	Kind string `yaml:"kind"`
	// Decimals formats numeric text values; -1 leaves them as received.
	Decimals *int `yaml:"decimals,omitempty"`
}

// BindingConfig maps a device display name to a backend entity.
type BindingConfig struct {
	Name       string `yaml:"name"`
	EntityID   string `yaml:"entity_id"`
	EntityType string `yaml:"entity_type"`
}

// CalculationConfig declares one derived value.
type CalculationConfig struct {
	Name          string   `yaml:"name"`
	Device        string   `yaml:"device,omitempty"`
	Inputs        []string `yaml:"inputs"`
	Source        string   `yaml:"source"`
	Operation     string   `yaml:"operation"`
	RejectUnknown bool     `yaml:"reject_unknown"`
	// Interval is the tick period in seconds.
	Interval int `yaml:"interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: OVERLAY_SECTION_KEY
// For example: OVERLAY_BACKEND_URL, OVERLAY_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "overlay-001",
			Name: "SCADA Overlay",
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/overlay.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "scada-overlay",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "scada",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Overlay: OverlayConfig{
			PollInterval:      5,
			FirstReadWindowMS: 200,
			RefreshWindowMS:   1000,
			ThrottlePolicy:    "deferred",
			Push:              true,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OVERLAY_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("OVERLAY_BACKEND_TOKEN"); v != "" {
		cfg.Backend.Token = v
	}
	if v := os.Getenv("OVERLAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("OVERLAY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("OVERLAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("OVERLAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("OVERLAY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("OVERLAY_DEVICE"); v != "" {
		cfg.Overlay.Device = v
	}
}

// Validate checks the configuration for errors.
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.Overlay.PollInterval <= 0 {
		errs = append(errs, "overlay.poll_interval must be positive")
	}
	if c.Overlay.FirstReadWindowMS < 0 || c.Overlay.RefreshWindowMS < 0 {
		errs = append(errs, "overlay throttle windows must not be negative")
	}
	switch c.Overlay.ThrottlePolicy {
	case "", "deferred", "queue_only":
	default:
		errs = append(errs, fmt.Sprintf("overlay.throttle_policy %q is not one of deferred, queue_only", c.Overlay.ThrottlePolicy))
	}

	for i, item := range c.Overlay.Items {
		if item.Name == "" || item.Key == "" {
			errs = append(errs, fmt.Sprintf("overlay.items[%d]: name and key are required", i))
		}
		if item.Device == "" && c.Overlay.Device == "" {
			errs = append(errs, fmt.Sprintf("overlay.items[%d]: no device and no overlay.device default", i))
		}
	}

	for i, b := range c.Bindings {
		if b.Name == "" || b.EntityID == "" {
			errs = append(errs, fmt.Sprintf("bindings[%d]: name and entity_id are required", i))
		}
	}

	seen := make(map[string]bool)
	for i, calc := range c.Calculations {
		if calc.Name == "" {
			errs = append(errs, fmt.Sprintf("calculations[%d]: name is required", i))
		} else if seen[calc.Name] {
			errs = append(errs, fmt.Sprintf("calculations[%d]: duplicate name %q", i, calc.Name))
		}
		seen[calc.Name] = true
		if len(calc.Inputs) == 0 {
			errs = append(errs, fmt.Sprintf("calculations[%d]: at least one input is required", i))
		}
		if calc.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("calculations[%d]: interval must be positive", i))
		}
		if calc.Device == "" && c.Overlay.Device == "" {
			errs = append(errs, fmt.Sprintf("calculations[%d]: no device and no overlay.device default", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetBackendTimeout returns the backend request timeout as a Duration.
func (c *Config) GetBackendTimeout() time.Duration {
	return time.Duration(c.Backend.Timeout) * time.Second
}

// GetPollInterval returns the invalidation poll period as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Overlay.PollInterval) * time.Second
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

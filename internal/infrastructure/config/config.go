package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for grill-link.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud    CloudConfig    `yaml:"cloud"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Session  SessionConfig  `yaml:"session"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CloudConfig contains the account credentials and the cloud endpoints.
type CloudConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// IdentityURL is the Cognito identity provider endpoint.
	IdentityURL string `yaml:"identity_url"`

	// ClientID is the Cognito app client the account belongs to.
	ClientID string `yaml:"client_id"`

	// APIURL is the base of the device REST API (users, things, mqtt-connections).
	APIURL string `yaml:"api_url"`

	// RequestTimeout bounds every HTTPS call, in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

// MQTTConfig contains broker session settings. The broker address itself
// comes from the signed lease URL, not from configuration.
type MQTTConfig struct {
	QoS                   int    `yaml:"qos"`
	KeepAlive             int    `yaml:"keepalive"`
	ConnectTimeout        int    `yaml:"connect_timeout"`
	EventBuffer           int    `yaml:"event_buffer"`
	ClientIDPrefix        string `yaml:"client_id_prefix"`
	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify"`
}

// SessionConfig contains watchdog and lifecycle settings.
type SessionConfig struct {
	// TickInterval is the maximum watchdog sleep, in seconds.
	TickInterval int `yaml:"tick_interval"`

	// RenewWindow is how long before expiry a token or lease is refreshed, in seconds.
	RenewWindow int `yaml:"renew_window"`

	// ShutdownTimeout bounds the wait for the message dispatcher on shutdown, in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`

	// DeviceListRetries is how many times Start retries the device listing.
	DeviceListRetries int `yaml:"device_list_retries"`
}

// APIConfig contains local HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	WS       WebSocketConfig  `yaml:"websocket"`
}

// WebSocketConfig contains settings for the live-update WebSocket.
type WebSocketConfig struct {
	// PingInterval and PongTimeout are in seconds.
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
	MaxMessageSize int `yaml:"max_message_size"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings for telemetry export.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
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
// Environment variables follow the pattern: GRILLLINK_SECTION_KEY
// For example: GRILLLINK_CLOUD_USERNAME, GRILLLINK_API_PORT
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

// Default returns the built-in configuration without reading a file.
// Credentials are empty, so the result does not pass Validate until they are set.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			IdentityURL:    "https://cognito-idp.us-west-2.amazonaws.com/",
			ClientID:       "2fuohjtqv1e63dckp5v84rau0j",
			APIURL:         "https://1ywgyc65d1.execute-api.us-west-2.amazonaws.com/prod",
			RequestTimeout: 60,
		},
		MQTT: MQTTConfig{
			QoS:            1,
			KeepAlive:      60,
			ConnectTimeout: 10,
			EventBuffer:    256,
			ClientIDPrefix: "grilllink",
		},
		Session: SessionConfig{
			TickInterval:      30,
			RenewWindow:       60,
			ShutdownTimeout:   5,
			DeviceListRetries: 3,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8099,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WS: WebSocketConfig{
				PingInterval:   30,
				PongTimeout:    10,
				MaxMessageSize: 8192,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Secrets are expected to arrive this way rather than through the file.
func applyEnvOverrides(cfg *Config) {
	// Cloud
	if v := os.Getenv("GRILLLINK_CLOUD_USERNAME"); v != "" {
		cfg.Cloud.Username = v
	}
	if v := os.Getenv("GRILLLINK_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}
	if v := os.Getenv("GRILLLINK_CLOUD_API_URL"); v != "" {
		cfg.Cloud.APIURL = v
	}

	// API
	if v := os.Getenv("GRILLLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRILLLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRILLLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Cloud validation
	if c.Cloud.Username == "" {
		errs = append(errs, "cloud.username is required (set GRILLLINK_CLOUD_USERNAME)")
	}
	if c.Cloud.Password == "" {
		errs = append(errs, "cloud.password is required (set GRILLLINK_CLOUD_PASSWORD)")
	}
	if c.Cloud.ClientID == "" {
		errs = append(errs, "cloud.client_id is required")
	}
	for name, raw := range map[string]string{
		"cloud.identity_url": c.Cloud.IdentityURL,
		"cloud.api_url":      c.Cloud.APIURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, name+" must be an absolute URL")
		}
	}
	if c.Cloud.RequestTimeout <= 0 {
		errs = append(errs, "cloud.request_timeout must be positive")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.EventBuffer <= 0 {
		errs = append(errs, "mqtt.event_buffer must be positive")
	}

	// Session validation
	if c.Session.TickInterval <= 0 {
		errs = append(errs, "session.tick_interval must be positive")
	}
	if c.Session.RenewWindow < 0 {
		errs = append(errs, "session.renew_window cannot be negative")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// RequestTimeout returns the cloud request timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Cloud.RequestTimeout) * time.Second
}

// TickInterval returns the watchdog tick as a Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Session.TickInterval) * time.Second
}

// RenewWindow returns the refresh window as a Duration.
func (c *Config) RenewWindow() time.Duration {
	return time.Duration(c.Session.RenewWindow) * time.Second
}

// ShutdownTimeout returns the dispatcher shutdown wait as a Duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Session.ShutdownTimeout) * time.Second
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

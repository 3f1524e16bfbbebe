package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Poll interval bounds (seconds). The matrix answers slowly; polling faster
// than this starves interactive commands, slower than this leaves the UI stale.
const (
	MinPollInterval = 3
	MaxPollInterval = 300
)

// Config is the root configuration structure for Matrix Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Matrix    MatrixConfig    `yaml:"matrix"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// MatrixConfig contains the connection and session settings for the
// HDMI matrix device itself.
type MatrixConfig struct {
	// Host is the IP address or hostname of the matrix.
	Host string `yaml:"host"`

	// Port is the TCP port of the matrix command interface. Default: 8000.
	Port int `yaml:"port"`

	// Password is the optional admin password. Only sent if the firmware's
	// command table defines a login command.
	Password string `yaml:"password"`

	// PollInterval is the full-status poll interval in seconds (3-300).
	PollInterval int `yaml:"poll_interval"`

	// SyncNames enables periodic refresh of port names from the device.
	SyncNames bool `yaml:"sync_names"`

	// ConnectTimeout is the TCP connect timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// ResponseTimeout is the per-command response timeout in seconds.
	ResponseTimeout int `yaml:"response_timeout"`

	// MinCommandInterval is the minimum spacing between commands in milliseconds.
	MinCommandInterval int `yaml:"min_command_interval"`

	// MaxRetries is how many times a timed-out or nacked command is resent
	// before it is failed back to the caller.
	MaxRetries int `yaml:"max_retries"`

	// Reconnect holds the session reconnect backoff settings.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// Firmware selects the command table variant. Default: "orei-uhd".
	Firmware string `yaml:"firmware"`
}

// ReconnectConfig contains session reconnect backoff settings.
type ReconnectConfig struct {
	// InitialDelay is the first reconnect delay in seconds.
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay caps the exponential backoff in seconds.
	MaxDelay int `yaml:"max_delay"`

	// StableAfter is how long a connection must survive, in seconds,
	// before the backoff resets to InitialDelay.
	StableAfter int `yaml:"stable_after"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays is how long state history rows are kept.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for session telemetry.
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

// SecurityConfig contains security settings for the HTTP API.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes

	// AdminPassword is the password exchanged for an API token.
	AdminPassword string `yaml:"admin_password"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MATRIXCORE_SECTION_KEY
// For example: MATRIXCORE_MATRIX_HOST, MATRIXCORE_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
		Matrix: MatrixConfig{
			Port:               8000,
			PollInterval:       30,
			SyncNames:          true,
			ConnectTimeout:     10,
			ResponseTimeout:    5,
			MinCommandInterval: 100,
			MaxRetries:         2,
			Reconnect: ReconnectConfig{
				InitialDelay: 5,
				MaxDelay:     120,
				StableAfter:  60,
			},
			Firmware: "orei-uhd",
		},
		Database: DatabaseConfig{
			Path:                 "./data/matrixcore.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "matrix-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
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
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MATRIXCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Matrix device
	if v := os.Getenv("MATRIXCORE_MATRIX_HOST"); v != "" {
		cfg.Matrix.Host = v
	}
	if v := os.Getenv("MATRIXCORE_MATRIX_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Matrix.Port = port
		}
	}
	if v := os.Getenv("MATRIXCORE_MATRIX_PASSWORD"); v != "" {
		cfg.Matrix.Password = v
	}

	// Database
	if v := os.Getenv("MATRIXCORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("MATRIXCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MATRIXCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MATRIXCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("MATRIXCORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("MATRIXCORE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("MATRIXCORE_ADMIN_PASSWORD"); v != "" {
		cfg.Security.JWT.AdminPassword = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Matrix device validation
	if c.Matrix.Host == "" {
		errs = append(errs, "matrix.host is required")
	}
	if c.Matrix.Port < 1 || c.Matrix.Port > 65535 {
		errs = append(errs, "matrix.port must be between 1 and 65535")
	}
	if c.Matrix.PollInterval < MinPollInterval || c.Matrix.PollInterval > MaxPollInterval {
		errs = append(errs, fmt.Sprintf("matrix.poll_interval must be between %d and %d seconds",
			MinPollInterval, MaxPollInterval))
	}
	if c.Matrix.MaxRetries < 0 {
		errs = append(errs, "matrix.max_retries must not be negative")
	}
	if c.Matrix.Reconnect.InitialDelay < 1 {
		errs = append(errs, "matrix.reconnect.initial_delay must be at least 1 second")
	}
	if c.Matrix.Reconnect.MaxDelay < c.Matrix.Reconnect.InitialDelay {
		errs = append(errs, "matrix.reconnect.max_delay must not be below initial_delay")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// The API issues signed bearer tokens; a weak secret would let anyone
		// forge a token and reroute physical A/V hardware.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set MATRIXCORE_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
		if c.Security.JWT.AdminPassword == "" {
			errs = append(errs, "security.jwt.admin_password is required when the API is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Duration accessors. The YAML keeps plain integers (seconds or
// milliseconds); callers get time.Duration.

// GetPollInterval returns the full-status poll interval.
func (m MatrixConfig) GetPollInterval() time.Duration {
	return time.Duration(m.PollInterval) * time.Second
}

// GetConnectTimeout returns the TCP connect timeout for the matrix.
func (m MatrixConfig) GetConnectTimeout() time.Duration {
	return time.Duration(m.ConnectTimeout) * time.Second
}

// GetResponseTimeout returns the per-command response timeout.
func (m MatrixConfig) GetResponseTimeout() time.Duration {
	return time.Duration(m.ResponseTimeout) * time.Second
}

// GetMinCommandInterval returns the minimum spacing between commands.
func (m MatrixConfig) GetMinCommandInterval() time.Duration {
	return time.Duration(m.MinCommandInterval) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (a APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (a APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (a APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}

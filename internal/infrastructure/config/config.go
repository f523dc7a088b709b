package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for vlxmqttha.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Velux         VeluxConfig         `yaml:"velux"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Logging       LoggingConfig       `yaml:"logging"`
	Restart       RestartConfig       `yaml:"restart"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`
	Retry  MQTTRetryConfig  `yaml:"retry"`
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

// MQTTRetryConfig controls initial connection establishment.
// Retries are spaced linearly: after attempt i (0-indexed) the supervisor
// waits backoff_step * (i+1) seconds before the next attempt.
type MQTTRetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BackoffStep int `yaml:"backoff_step"`
}

// VeluxConfig contains KLF200 gateway connection settings.
type VeluxConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
}

// HomeAssistantConfig contains Home Assistant integration settings.
type HomeAssistantConfig struct {
	// DiscoveryPrefix is the MQTT discovery prefix Home Assistant listens on.
	// Default: "homeassistant"
	DiscoveryPrefix string `yaml:"discovery_prefix"`

	// Prefix is prepended to every device name and unique ID.
	// Useful when several bridges feed the same broker.
	Prefix string `yaml:"prefix"`

	// InvertAwning publishes awnings with inverted open/close semantics
	// (0% position means closed rather than open).
	InvertAwning bool `yaml:"invert_awning"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`

	// File, when set, appends log output to the given path instead of
	// stdout/stderr.
	File string `yaml:"file"`
}

// RestartConfig contains supervised-restart settings.
type RestartConfig struct {
	// IntervalHours triggers an unconditional graceful restart after the
	// given number of hours. 0 disables the scheduler.
	IntervalHours int `yaml:"interval_hours"`

	// HealthCheckInterval is the gateway liveness check period in seconds.
	// 0 disables the health monitor.
	HealthCheckInterval int `yaml:"health_check_interval"`

	// OnError triggers a graceful restart when the health check detects
	// a stale gateway connection.
	OnError bool `yaml:"on_error"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VLXMQTTHA_SECTION_KEY
// For example: VLXMQTTHA_MQTT_HOST, VLXMQTTHA_VELUX_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vlxmqttha",
			},
			QoS: 1,
			Retry: MQTTRetryConfig{
				MaxAttempts: 10,
				BackoffStep: 10,
			},
		},
		Velux: VeluxConfig{
			Port: 51200,
		},
		HomeAssistant: HomeAssistantConfig{
			DiscoveryPrefix: "homeassistant",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VLXMQTTHA_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("VLXMQTTHA_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VLXMQTTHA_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VLXMQTTHA_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Velux
	if v := os.Getenv("VLXMQTTHA_VELUX_HOST"); v != "" {
		cfg.Velux.Host = v
	}
	if v := os.Getenv("VLXMQTTHA_VELUX_PASSWORD"); v != "" {
		cfg.Velux.Password = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Retry.MaxAttempts < 1 {
		errs = append(errs, "mqtt.retry.max_attempts must be at least 1")
	}
	if c.MQTT.Retry.BackoffStep < 1 {
		errs = append(errs, "mqtt.retry.backoff_step must be at least 1 second")
	}

	// Velux validation. The KLF200 always requires a password (the WiFi
	// key printed on the back of the unit), so an empty value can never
	// be a working setup.
	if c.Velux.Host == "" {
		errs = append(errs, "velux.host is required")
	}
	if c.Velux.Port < 1 || c.Velux.Port > 65535 {
		errs = append(errs, "velux.port must be between 1 and 65535")
	}
	if c.Velux.Password == "" {
		errs = append(errs, "velux.password is required (set VLXMQTTHA_VELUX_PASSWORD environment variable)")
	}

	// HomeAssistant validation
	if c.HomeAssistant.DiscoveryPrefix == "" {
		errs = append(errs, "homeassistant.discovery_prefix is required")
	}

	// Restart validation
	if c.Restart.HealthCheckInterval < 0 {
		errs = append(errs, "restart.health_check_interval must not be negative")
	}
	if c.Restart.IntervalHours < 0 {
		errs = append(errs, "restart.interval_hours must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetHealthCheckInterval returns the gateway liveness check period as a Duration.
// A zero Duration means the health monitor is disabled.
func (c *Config) GetHealthCheckInterval() time.Duration {
	return time.Duration(c.Restart.HealthCheckInterval) * time.Second
}

// GetRestartInterval returns the unconditional restart interval as a Duration.
// A zero Duration means the restart scheduler is disabled.
func (c *Config) GetRestartInterval() time.Duration {
	return time.Duration(c.Restart.IntervalHours) * time.Hour
}

// GetBackoffStep returns the retry backoff step as a Duration.
func (c *Config) GetBackoffStep() time.Duration {
	return time.Duration(c.MQTT.Retry.BackoffStep) * time.Second
}

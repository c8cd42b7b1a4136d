// Package config provides configuration management for the skrape client
// Supports multiple configuration sources: YAML, JSON, environment variables, and command line flags
package config

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL   = "https://skrape.ai/api"
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "skrape-go/1.0 (+https://github.com/Almahr1/skrape)"

	envPrefix = "SKRAPE"
)

// Config represents the complete client configuration
type Config struct {
	// Remote API settings
	API APIConfig `mapstructure:"api" yaml:"api" json:"api"`

	// HTTP transport settings
	HTTP HTTPConfig `mapstructure:"http" yaml:"http" json:"http"`

	// Client-side request pacing
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`

	// Job polling cadence used by WaitForJob
	Poll PollConfig `mapstructure:"poll" yaml:"poll" json:"poll"`

	// Logging and metrics
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring" json:"monitoring"`

	// Internal metadata (not serialized)
	configFileUsed string `json:"-" yaml:"-"`
}

// APIConfig holds credentials and endpoint settings
type APIConfig struct {
	Key       string        `mapstructure:"key" yaml:"key" json:"key"`
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent" json:"user_agent"`
}

// HTTPConfig holds HTTP client settings
type HTTPConfig struct {
	MaxIdleConnections        int           `mapstructure:"max_idle_connections" yaml:"max_idle_connections" json:"max_idle_connections"`
	MaxIdleConnectionsPerHost int           `mapstructure:"max_idle_connections_per_host" yaml:"max_idle_connections_per_host" json:"max_idle_connections_per_host"`
	IdleConnectionTimeout     time.Duration `mapstructure:"idle_connection_timeout" yaml:"idle_connection_timeout" json:"idle_connection_timeout"`
	DisableKeepAlives         bool          `mapstructure:"disable_keep_alives" yaml:"disable_keep_alives" json:"disable_keep_alives"`
	DialTimeout               time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" json:"dial_timeout"`
	TlsHandshakeTimeout       time.Duration `mapstructure:"tls_handshake_timeout" yaml:"tls_handshake_timeout" json:"tls_handshake_timeout"`
	ResponseHeaderTimeout     time.Duration `mapstructure:"response_header_timeout" yaml:"response_header_timeout" json:"response_header_timeout"`
	TlsMinVersion             string        `mapstructure:"tls_min_version" yaml:"tls_min_version" json:"tls_min_version"`
	MaxRedirects              int           `mapstructure:"max_redirects" yaml:"max_redirects" json:"max_redirects"`
}

// RateLimitConfig paces outgoing requests. It never resends a request.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst" json:"burst"`
}

// PollConfig controls the delay between job status checks
type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`
	MaxInterval time.Duration `mapstructure:"max_interval" yaml:"max_interval" json:"max_interval"`
	Multiplier  float64       `mapstructure:"multiplier" yaml:"multiplier" json:"multiplier"`
	Jitter      bool          `mapstructure:"jitter" yaml:"jitter" json:"jitter"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// MonitoringConfig holds logging and metrics settings
type MonitoringConfig struct {
	LogLevel       string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat      string `mapstructure:"log_format" yaml:"log_format" json:"log_format"`
	LogFile        string `mapstructure:"log_file" yaml:"log_file" json:"log_file"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled" yaml:"metrics_enabled" json:"metrics_enabled"`
}

// LoadConfig loads configuration from multiple sources in order of precedence:
// 1. Command line flags
// 2. Environment variables
// 3. Configuration file
// 4. Default values
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	// Set up configuration file paths
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("specified config file does not exist: %s", configPath)
		}
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("skrape")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".skrape"))
		}
		v.AddConfigPath("/etc/skrape")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	BindEnvVariables(v)

	configFileUsed := ""
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and env vars
	} else {
		configFileUsed = v.ConfigFileUsed()
	}

	if flags != nil {
		if err := BindFlags(v, flags); err != nil {
			return nil, fmt.Errorf("failed to bind command flags: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.configFileUsed = configFileUsed
	config.API.BaseURL = strings.TrimRight(config.API.BaseURL, "/")

	if err := ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns the default configuration without consulting files,
// environment or flags. The API key is left empty.
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var config Config
	// Defaults are static and always decode
	_ = v.Unmarshal(&config)
	return &config
}

// BindEnvVariables explicitly binds environment variables that do not follow
// the automatic SKRAPE_<SECTION>_<KEY> mapping
func BindEnvVariables(v *viper.Viper) {
	envMappings := map[string]string{
		"api.key":              "SKRAPE_API_KEY",
		"api.base_url":         "SKRAPE_BASE_URL",
		"monitoring.log_level": "SKRAPE_LOG_LEVEL",
		"monitoring.log_file":  "SKRAPE_LOG_FILE",
	}

	for key, env := range envMappings {
		v.BindEnv(key, env)
	}
}

// flagMappings maps CLI flag names onto configuration keys
var flagMappings = map[string]string{
	"api-key":      "api.key",
	"base-url":     "api.base_url",
	"timeout":      "api.timeout",
	"user-agent":   "api.user_agent",
	"rate-limit":   "rate_limit.requests_per_second",
	"log-level":    "monitoring.log_level",
	"log-format":   "monitoring.log_format",
	"log-file":     "monitoring.log_file",
	"poll-timeout": "poll.timeout",
}

// BindFlags binds the known flags present in flags. Flags the caller did not
// register are skipped.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagMappings {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
		if name == "rate-limit" && flag.Changed {
			v.Set("rate_limit.enabled", true)
		}
	}
	return nil
}

// SetDefaults sets all default configuration values
func SetDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.key", "")
	v.SetDefault("api.base_url", DefaultBaseURL)
	v.SetDefault("api.timeout", DefaultTimeout.String())
	v.SetDefault("api.user_agent", DefaultUserAgent)

	// HTTP defaults
	v.SetDefault("http.max_idle_connections", 100)
	v.SetDefault("http.max_idle_connections_per_host", 10)
	v.SetDefault("http.idle_connection_timeout", "90s")
	v.SetDefault("http.disable_keep_alives", false)
	v.SetDefault("http.dial_timeout", "10s")
	v.SetDefault("http.tls_handshake_timeout", "10s")
	v.SetDefault("http.response_header_timeout", "30s")
	v.SetDefault("http.tls_min_version", "1.2")
	v.SetDefault("http.max_redirects", 10)

	// Rate limiting defaults
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_second", 2.0)
	v.SetDefault("rate_limit.burst", 5)

	// Poll defaults
	v.SetDefault("poll.interval", "2s")
	v.SetDefault("poll.max_interval", "30s")
	v.SetDefault("poll.multiplier", 2.0)
	v.SetDefault("poll.jitter", true)
	v.SetDefault("poll.timeout", "10m")

	// Monitoring defaults
	v.SetDefault("monitoring.log_level", "info")
	v.SetDefault("monitoring.log_format", "json")
	v.SetDefault("monitoring.log_file", "")
	v.SetDefault("monitoring.metrics_enabled", false)
}

// ValidateConfig performs validation of the configuration
func ValidateConfig(config *Config) error {
	// Validate API settings
	if strings.TrimSpace(config.API.Key) == "" {
		return fmt.Errorf("api.key is required (set SKRAPE_API_KEY or --api-key)")
	}
	if err := validateBaseURL(config.API.BaseURL); err != nil {
		return err
	}
	if config.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %v", config.API.Timeout)
	}
	if config.API.UserAgent == "" {
		return fmt.Errorf("api.user_agent cannot be empty")
	}

	// Validate HTTP settings
	if config.HTTP.MaxIdleConnections < 0 {
		return fmt.Errorf("http.max_idle_connections must be non-negative, got %d", config.HTTP.MaxIdleConnections)
	}
	if config.HTTP.MaxIdleConnectionsPerHost < 0 {
		return fmt.Errorf("http.max_idle_connections_per_host must be non-negative, got %d", config.HTTP.MaxIdleConnectionsPerHost)
	}
	if config.HTTP.MaxIdleConnections > 0 && config.HTTP.MaxIdleConnectionsPerHost > config.HTTP.MaxIdleConnections {
		return fmt.Errorf("http.max_idle_connections_per_host (%d) cannot exceed max_idle_connections (%d)",
			config.HTTP.MaxIdleConnectionsPerHost, config.HTTP.MaxIdleConnections)
	}
	if config.HTTP.MaxRedirects < 0 {
		return fmt.Errorf("http.max_redirects must be non-negative, got %d", config.HTTP.MaxRedirects)
	}
	if _, err := TLSVersion(config.HTTP.TlsMinVersion); err != nil {
		return err
	}

	// Validate rate limiting settings
	if config.RateLimit.Enabled {
		if config.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit.requests_per_second must be positive, got %f", config.RateLimit.RequestsPerSecond)
		}
		if config.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit.burst must be positive, got %d", config.RateLimit.Burst)
		}
	}

	// Validate poll settings
	if config.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %v", config.Poll.Interval)
	}
	if config.Poll.MaxInterval < config.Poll.Interval {
		return fmt.Errorf("poll.max_interval (%v) must not be less than poll.interval (%v)",
			config.Poll.MaxInterval, config.Poll.Interval)
	}
	if config.Poll.Multiplier < 1 {
		return fmt.Errorf("poll.multiplier must be at least 1, got %f", config.Poll.Multiplier)
	}
	if config.Poll.Timeout < 0 {
		return fmt.Errorf("poll.timeout must be non-negative, got %v", config.Poll.Timeout)
	}

	// Validate monitoring settings
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Monitoring.LogLevel] {
		return fmt.Errorf("invalid monitoring.log_level: %s. Valid options: debug, info, warn, error", config.Monitoring.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Monitoring.LogFormat] {
		return fmt.Errorf("invalid monitoring.log_format: %s. Valid options: json, text", config.Monitoring.LogFormat)
	}

	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("api.base_url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("api.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url must be an HTTP/HTTPS URL, got: %s", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("api.base_url must include a host, got: %s", raw)
	}
	return nil
}

// TLSVersion maps a configured version string onto its crypto/tls constant
func TLSVersion(version string) (uint16, error) {
	switch version {
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("invalid http.tls_min_version: %s. Valid options: 1.2, 1.3", version)
	}
}

// GetLogger creates a configured logger based on monitoring settings
func (c *Config) GetLogger() (*zap.Logger, error) {
	var zapConfig zap.Config

	if c.Monitoring.LogFormat == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level := zap.InfoLevel
	switch c.Monitoring.LogLevel {
	case "debug":
		level = zap.DebugLevel
	case "info":
		level = zap.InfoLevel
	case "warn":
		level = zap.WarnLevel
	case "error":
		level = zap.ErrorLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	// Logs go to stderr so command output on stdout stays machine-readable
	zapConfig.OutputPaths = []string{"stderr"}
	if c.Monitoring.LogFile != "" {
		if dir := filepath.Dir(c.Monitoring.LogFile); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
			}
		}
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, c.Monitoring.LogFile)
	}

	return zapConfig.Build()
}

// String returns a string representation of the configuration (with the API key redacted)
func (c *Config) String() string {
	configCopy := *c
	configCopy.API.Key = Redact(configCopy.API.Key)

	return fmt.Sprintf("%+v", configCopy)
}

// Redact replaces sensitive values with asterisks
func Redact(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}

// ConfigFileUsed returns the path of the configuration file that was used to load the config
func (c *Config) ConfigFileUsed() string {
	return c.configFileUsed
}

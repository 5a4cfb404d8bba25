package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override upstream credentials from the file.
const (
	EnvUpstreamEndpoint   = "AZURE_VOICE_LIVE_ENDPOINT"
	EnvUpstreamAPIKey     = "AZURE_VOICE_LIVE_API_KEY"
	EnvUpstreamAPIVersion = "AZURE_VOICE_LIVE_API_VERSION"
)

// DefaultAPIVersion is used when neither config nor environment set one.
const DefaultAPIVersion = "2025-05-01-preview"

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Relay    RelayConfig    `yaml:"relay"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP/WebSocket server configuration. The server
// carries no read or write deadlines: the websocket routes hold their
// connections open for the session lifetime.
type ServerConfig struct {
	Port          int    `yaml:"port"`
	Address       string `yaml:"address"`
	AllowedOrigin string `yaml:"allowed_origin"` // "*" disables the origin check
}

// UpstreamConfig contains the voice-AI service connection parameters.
// BearerToken and APIKey are mutually exclusive; exactly one must be set
// before a session can start.
type UpstreamConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	BearerToken    string `yaml:"bearer_token"`
	APIVersion     string `yaml:"api_version"`
	DefaultModel   string `yaml:"default_model"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
}

// RelayConfig contains relay loop tuning parameters
type RelayConfig struct {
	ReceiveBackoffMS  int `yaml:"receive_backoff_ms"`  // pause after an empty receive
	EvaluationGraceS  int `yaml:"evaluation_grace_s"`  // wait after triggering evaluation
	SessionTimeoutMin int `yaml:"session_timeout_min"` // idle session cleanup
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file, then applies environment
// overrides for upstream credentials.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets deployment environments supply upstream secrets
// without writing them into the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvUpstreamEndpoint); v != "" {
		c.Upstream.Endpoint = v
	}
	if v := os.Getenv(EnvUpstreamAPIKey); v != "" {
		c.Upstream.APIKey = v
	}
	if v := os.Getenv(EnvUpstreamAPIVersion); v != "" {
		c.Upstream.APIVersion = v
	}
}

func (c *Config) applyDefaults() {
	if c.Upstream.APIVersion == "" {
		c.Upstream.APIVersion = DefaultAPIVersion
	}
	if c.Upstream.ConnectTimeout == 0 {
		c.Upstream.ConnectTimeout = 15
	}
	if c.Relay.ReceiveBackoffMS == 0 {
		c.Relay.ReceiveBackoffMS = 100
	}
	if c.Relay.EvaluationGraceS == 0 {
		c.Relay.EvaluationGraceS = 8
	}
	if c.Relay.SessionTimeoutMin == 0 {
		c.Relay.SessionTimeoutMin = 60
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("upstream config: %w", err)
	}

	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates upstream configuration. Endpoint and credentials may
// legitimately be empty at load time (they can arrive per-request at session
// start), but when both credential kinds are present the config is rejected.
func (u *UpstreamConfig) Validate() error {
	if u.APIKey != "" && u.BearerToken != "" {
		return fmt.Errorf("api_key and bearer_token are mutually exclusive")
	}

	if u.APIVersion == "" {
		return fmt.Errorf("api_version cannot be empty")
	}

	if u.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout must be at least 1 second, got %d", u.ConnectTimeout)
	}

	return nil
}

// Validate validates relay configuration
func (r *RelayConfig) Validate() error {
	if r.ReceiveBackoffMS < 1 {
		return fmt.Errorf("receive_backoff_ms must be at least 1, got %d", r.ReceiveBackoffMS)
	}

	if r.EvaluationGraceS < 0 {
		return fmt.Errorf("evaluation_grace_s cannot be negative, got %d", r.EvaluationGraceS)
	}

	if r.SessionTimeoutMin < 1 {
		return fmt.Errorf("session_timeout_min must be at least 1 minute, got %d", r.SessionTimeoutMin)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetConnectTimeout returns the upstream connect timeout as a time.Duration
func (u *UpstreamConfig) GetConnectTimeout() time.Duration {
	return time.Duration(u.ConnectTimeout) * time.Second
}

// GetReceiveBackoff returns the relay receive backoff as a time.Duration
func (r *RelayConfig) GetReceiveBackoff() time.Duration {
	return time.Duration(r.ReceiveBackoffMS) * time.Millisecond
}

// GetEvaluationGrace returns the evaluation grace period as a time.Duration
func (r *RelayConfig) GetEvaluationGrace() time.Duration {
	return time.Duration(r.EvaluationGraceS) * time.Second
}

// GetSessionTimeout returns the idle session timeout as a time.Duration
func (r *RelayConfig) GetSessionTimeout() time.Duration {
	return time.Duration(r.SessionTimeoutMin) * time.Minute
}

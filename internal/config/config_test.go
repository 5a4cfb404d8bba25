package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:          8000,
			Address:       "0.0.0.0",
			AllowedOrigin: "*",
		},
		Upstream: UpstreamConfig{
			Endpoint:       "https://example.cognitiveservices.azure.com",
			APIKey:         "secret",
			APIVersion:     "2025-05-01-preview",
			DefaultModel:   "gpt-4o-mini",
			ConnectTimeout: 15,
		},
		Relay: RelayConfig{
			ReceiveBackoffMS:  100,
			EvaluationGraceS:  8,
			SessionTimeoutMin: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "port too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "empty address",
			mutate:  func(c *Config) { c.Server.Address = "" },
			wantErr: true,
		},
		{
			name: "both credential kinds set",
			mutate: func(c *Config) {
				c.Upstream.APIKey = "key"
				c.Upstream.BearerToken = "token"
			},
			wantErr: true,
		},
		{
			name: "bearer token alone is fine",
			mutate: func(c *Config) {
				c.Upstream.APIKey = ""
				c.Upstream.BearerToken = "token"
			},
		},
		{
			name: "no credentials is fine at load time",
			mutate: func(c *Config) {
				c.Upstream.APIKey = ""
				c.Upstream.BearerToken = ""
			},
		},
		{
			name:    "empty api version",
			mutate:  func(c *Config) { c.Upstream.APIVersion = "" },
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.Upstream.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero receive backoff",
			mutate:  func(c *Config) { c.Relay.ReceiveBackoffMS = 0 },
			wantErr: true,
		},
		{
			name:    "negative evaluation grace",
			mutate:  func(c *Config) { c.Relay.EvaluationGraceS = -1 },
			wantErr: true,
		},
		{
			name:   "zero evaluation grace is allowed",
			mutate: func(c *Config) { c.Relay.EvaluationGraceS = 0 },
		},
		{
			name:    "zero session timeout",
			mutate:  func(c *Config) { c.Relay.SessionTimeoutMin = 0 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  address: "127.0.0.1"
  port: 8000
upstream:
  endpoint: "https://example.cognitiveservices.azure.com"
  api_key: "secret"
logging:
  level: "info"
  format: "text"
`)

	// Keep ambient credentials from leaking into the assertions.
	t.Setenv(EnvUpstreamEndpoint, "")
	t.Setenv(EnvUpstreamAPIKey, "")
	t.Setenv(EnvUpstreamAPIVersion, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Upstream.APIVersion != DefaultAPIVersion {
		t.Errorf("api version = %q, want %q", cfg.Upstream.APIVersion, DefaultAPIVersion)
	}
	if cfg.Upstream.ConnectTimeout != 15 {
		t.Errorf("connect timeout = %d, want 15", cfg.Upstream.ConnectTimeout)
	}
	if cfg.Relay.ReceiveBackoffMS != 100 {
		t.Errorf("receive backoff = %d, want 100", cfg.Relay.ReceiveBackoffMS)
	}
	if cfg.Relay.EvaluationGraceS != 8 {
		t.Errorf("evaluation grace = %d, want 8", cfg.Relay.EvaluationGraceS)
	}
	if cfg.Relay.SessionTimeoutMin != 60 {
		t.Errorf("session timeout = %d, want 60", cfg.Relay.SessionTimeoutMin)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
server:
  address: "127.0.0.1"
  port: 8000
upstream:
  endpoint: "https://file.example.com"
logging:
  level: "info"
  format: "text"
`)

	t.Setenv(EnvUpstreamEndpoint, "https://env.example.com")
	t.Setenv(EnvUpstreamAPIKey, "env-secret")
	t.Setenv(EnvUpstreamAPIVersion, "2024-12-01-preview")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Upstream.Endpoint != "https://env.example.com" {
		t.Errorf("endpoint = %q, env override not applied", cfg.Upstream.Endpoint)
	}
	if cfg.Upstream.APIKey != "env-secret" {
		t.Errorf("api key = %q, env override not applied", cfg.Upstream.APIKey)
	}
	if cfg.Upstream.APIVersion != "2024-12-01-preview" {
		t.Errorf("api version = %q, env override not applied", cfg.Upstream.APIVersion)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	if _, err := Load("nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeConfigFile(t, "server: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestDurationAccessors(t *testing.T) {
	u := UpstreamConfig{ConnectTimeout: 15}
	if got := u.GetConnectTimeout(); got != 15*time.Second {
		t.Errorf("GetConnectTimeout() = %v", got)
	}

	r := RelayConfig{ReceiveBackoffMS: 100, EvaluationGraceS: 8, SessionTimeoutMin: 60}
	if got := r.GetReceiveBackoff(); got != 100*time.Millisecond {
		t.Errorf("GetReceiveBackoff() = %v", got)
	}
	if got := r.GetEvaluationGrace(); got != 8*time.Second {
		t.Errorf("GetEvaluationGrace() = %v", got)
	}
	if got := r.GetSessionTimeout(); got != time.Hour {
		t.Errorf("GetSessionTimeout() = %v", got)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	return path
}

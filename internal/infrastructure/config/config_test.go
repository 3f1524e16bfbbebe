package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

const validConfig = `
matrix:
  host: "192.168.1.50"
  port: 8000
  poll_interval: 15
database:
  path: "/tmp/test.db"
api:
  enabled: true
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!!"
    admin_password: "hunter2"
`

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Matrix.Host != "192.168.1.50" {
		t.Errorf("Matrix.Host = %q, want %q", cfg.Matrix.Host, "192.168.1.50")
	}
	if cfg.Matrix.PollInterval != 15 {
		t.Errorf("Matrix.PollInterval = %d, want 15", cfg.Matrix.PollInterval)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Matrix.Port != 8000 {
		t.Errorf("Matrix.Port = %d, want default 8000", cfg.Matrix.Port)
	}
	if cfg.Matrix.MinCommandInterval != 100 {
		t.Errorf("Matrix.MinCommandInterval = %d, want default 100", cfg.Matrix.MinCommandInterval)
	}
	if !cfg.Matrix.SyncNames {
		t.Error("Matrix.SyncNames = false, want default true")
	}
	if cfg.Matrix.Firmware != "orei-uhd" {
		t.Errorf("Matrix.Firmware = %q, want default %q", cfg.Matrix.Firmware, "orei-uhd")
	}
	if got := cfg.Matrix.GetMinCommandInterval(); got != 100*time.Millisecond {
		t.Errorf("GetMinCommandInterval() = %v, want 100ms", got)
	}
	if got := cfg.Matrix.GetPollInterval(); got != 15*time.Second {
		t.Errorf("GetPollInterval() = %v, want 15s", got)
	}
	if got := cfg.API.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = false, want default true")
	}
}

// TestLoad_MQTTDisabled verifies the broker can be switched off in
// YAML for broker-less deployments.
func TestLoad_MQTTDisabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig+"\nmqtt:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = true, want false")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "matrix: [not a mapping"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.Matrix.Host = "" },
			wantMsg: "matrix.host is required",
		},
		{
			name:    "poll interval too low",
			mutate:  func(c *Config) { c.Matrix.PollInterval = 1 },
			wantMsg: "matrix.poll_interval",
		},
		{
			name:    "poll interval too high",
			mutate:  func(c *Config) { c.Matrix.PollInterval = 301 },
			wantMsg: "matrix.poll_interval",
		},
		{
			name:    "invalid device port",
			mutate:  func(c *Config) { c.Matrix.Port = 0 },
			wantMsg: "matrix.port",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantMsg: "at least 32 characters",
		},
		{
			name:    "missing admin password",
			mutate:  func(c *Config) { c.Security.JWT.AdminPassword = "" },
			wantMsg: "admin_password",
		},
		{
			name:    "bad qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantMsg: "mqtt.qos",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Matrix.Host = "192.168.1.50"
			cfg.Security.JWT.Secret = "test-secret-key-at-least-32-chars!!"
			cfg.Security.JWT.AdminPassword = "hunter2"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantMsg)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MATRIXCORE_MATRIX_HOST", "10.0.0.9")
	t.Setenv("MATRIXCORE_MATRIX_PORT", "8001")
	t.Setenv("MATRIXCORE_JWT_SECRET", "env-secret-key-at-least-32-chars!!!")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Matrix.Host != "10.0.0.9" {
		t.Errorf("Matrix.Host = %q, want env override %q", cfg.Matrix.Host, "10.0.0.9")
	}
	if cfg.Matrix.Port != 8001 {
		t.Errorf("Matrix.Port = %d, want env override 8001", cfg.Matrix.Port)
	}
	if cfg.Security.JWT.Secret != "env-secret-key-at-least-32-chars!!!" {
		t.Error("JWT secret env override not applied")
	}
}

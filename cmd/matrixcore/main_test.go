package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/matrix-core/internal/infrastructure/config"
)

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("MATRIXCORE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MQTTDisabled verifies a broker-less deployment starts and
// shuts down cleanly when mqtt.enabled is false. The matrix session
// itself just retries in the background, so an unreachable device is
// not a startup failure.
func TestRun_MQTTDisabled(t *testing.T) {
	dir := t.TempDir()
	cfgYAML := fmt.Sprintf(`
matrix:
  host: "127.0.0.1"
  port: 9
  poll_interval: 30
database:
  path: %q
mqtt:
  enabled: false
api:
  enabled: false
influxdb:
  enabled: false
logging:
  level: "error"
`, filepath.Join(dir, "matrixcore.db"))

	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("MATRIXCORE_CONFIG", cfgPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() with MQTT disabled: %v", err)
	}
}

// TestGetConfigPath verifies the environment override and the default.
func TestGetConfigPath(t *testing.T) {
	t.Setenv("MATRIXCORE_CONFIG", "/etc/matrixcore/config.yaml")
	if got := getConfigPath(); got != "/etc/matrixcore/config.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}

	os.Unsetenv("MATRIXCORE_CONFIG")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

// TestSessionConfig_Mapping verifies YAML settings land on the session
// tuning knobs with the right units.
func TestSessionConfig_Mapping(t *testing.T) {
	cfg := &config.Config{
		Matrix: config.MatrixConfig{
			Host:               "192.168.1.50",
			Port:               8000,
			Password:           "admin",
			PollInterval:       10,
			SyncNames:          true,
			ConnectTimeout:     10,
			ResponseTimeout:    5,
			MinCommandInterval: 100,
			MaxRetries:         2,
			Reconnect: config.ReconnectConfig{
				InitialDelay: 2,
				MaxDelay:     60,
				StableAfter:  60,
			},
		},
	}

	sc := sessionConfig(cfg)
	if sc.Address != "192.168.1.50:8000" {
		t.Errorf("Address = %q", sc.Address)
	}
	if sc.Password != "admin" {
		t.Errorf("Password = %q", sc.Password)
	}
	if sc.Queue.MinInterval != 100*time.Millisecond {
		t.Errorf("MinInterval = %v", sc.Queue.MinInterval)
	}
	if sc.Queue.ResponseTimeout != 5*time.Second {
		t.Errorf("ResponseTimeout = %v", sc.Queue.ResponseTimeout)
	}
	if sc.Queue.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d", sc.Queue.MaxRetries)
	}
	if sc.Poll.Interval != 10*time.Second {
		t.Errorf("Poll.Interval = %v", sc.Poll.Interval)
	}
	if sc.ReconnectMin != 2*time.Second || sc.ReconnectMax != 60*time.Second {
		t.Errorf("reconnect = %v/%v", sc.ReconnectMin, sc.ReconnectMax)
	}
	if sc.DialTimeout != 10*time.Second {
		t.Errorf("DialTimeout = %v", sc.DialTimeout)
	}
	if !sc.SyncNames {
		t.Error("SyncNames not carried over")
	}
}

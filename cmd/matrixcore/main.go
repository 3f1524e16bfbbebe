// Matrix Core - HDMI matrix session engine
//
// This is the main entry point for the Matrix Core application. It
// maintains a persistent TCP session to an 8x8 HDMI matrix, keeps a
// confirmed state model through optimistic updates and periodic polls,
// and exposes the device over MQTT, a REST API, and WebSockets.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	_ "github.com/nerrad567/matrix-core/migrations"

	"github.com/nerrad567/matrix-core/internal/api"
	"github.com/nerrad567/matrix-core/internal/bridge"
	"github.com/nerrad567/matrix-core/internal/history"
	"github.com/nerrad567/matrix-core/internal/infrastructure/config"
	"github.com/nerrad567/matrix-core/internal/infrastructure/database"
	"github.com/nerrad567/matrix-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/matrix-core/internal/infrastructure/logging"
	"github.com/nerrad567/matrix-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/matrix-core/internal/matrix"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// prunePeriod is how often expired history rows are removed.
const prunePeriod = 24 * time.Hour

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Matrix Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// State history: SQLite repository behind an async recorder so the
	// session's diff fan-out never blocks on disk.
	historyRepo := history.NewSQLiteRepository(db.DB)
	recorder := history.NewRecorder(historyRepo, log)
	recordDiff := recorder.Start()
	defer recorder.Close()

	if cfg.Database.HistoryRetentionDays > 0 {
		go pruneHistoryLoop(ctx, historyRepo, cfg.Database.HistoryRetentionDays, log)
	}

	// Connect to InfluxDB (optional session telemetry)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Device session: store, supervisor, telemetry hooks.
	store := matrix.NewStore(0, log)
	session := matrix.NewSession(sessionConfig(cfg), store, log)

	// Select the wire grammar for the configured firmware family. An
	// unknown name is a startup failure, not garbage on the wire.
	commandSet, err := matrix.CommandSetForFirmware(cfg.Matrix.Firmware)
	if err != nil {
		return fmt.Errorf("selecting command table: %w", err)
	}
	session.SetCommandSet(commandSet)
	log.Info("matrix session configured",
		"address", fmt.Sprintf("%s:%d", cfg.Matrix.Host, cfg.Matrix.Port),
		"firmware", cfg.Matrix.Firmware,
		"poll_interval_s", cfg.Matrix.PollInterval,
	)

	// fieldsChanged counts state fields confirmed since the last poll
	// cycle, for the poll telemetry point.
	var fieldsChanged atomic.Int64

	if influxClient != nil {
		session.SetOnCommandResult(func(op matrix.Op, success bool, latency time.Duration, attempts int) {
			influxClient.WriteCommandMetric(string(op), success, latency, attempts)
		})
		session.SetOnSessionEvent(influxClient.WriteSessionEvent)
		session.SetOnPollCycle(func(d time.Duration, failed bool) {
			influxClient.WritePollMetric(d, int(fieldsChanged.Swap(0)), failed)
		})
	}

	// Connect to MQTT broker (optional state mirror + command topic)
	var mqttClient *mqtt.Client
	var bridgeDiff func(matrix.Diff)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		mqttBridge := bridge.New(mqttClient, session, byte(cfg.MQTT.QoS), log)
		bridgeDiff, err = mqttBridge.Start()
		if err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer mqttBridge.Close()
		mqttBridge.PublishSnapshot()
		log.Info("MQTT bridge started")
	} else {
		log.Info("MQTT disabled")
	}

	// HTTP API server (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Session:  session,
			History:  historyRepo,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)
	} else {
		log.Info("API server disabled")
	}

	// Fan confirmed state diffs out to every consumer: the history
	// recorder, the MQTT bridge, WebSocket clients, and telemetry.
	unsubscribe := store.Subscribe(func(diff matrix.Diff) {
		fieldsChanged.Add(int64(len(diff)))
		recordDiff(diff)
		if bridgeDiff != nil {
			bridgeDiff(diff)
		}
		if apiServer != nil {
			apiServer.BroadcastDiff(diff)
		}
		if influxClient != nil {
			if avail, ok := diff[matrix.FieldAvailability]; ok {
				if online, ok := avail.(bool); ok {
					influxClient.WriteAvailability(online)
				}
			}
		}
	})
	defer unsubscribe()

	// Everything downstream is wired; open the device session last.
	session.Start()
	defer func() {
		log.Info("closing matrix session")
		session.Close()
	}()

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Matrix session (fails in-flight commands, marks unavailable)
	// 2. API server
	// 3. MQTT
	// 4. InfluxDB (if enabled)
	// 5. History recorder (drains queued writes)
	// 6. Database

	log.Info("Matrix Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MATRIXCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MATRIXCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// sessionConfig maps the YAML configuration onto the session's tuning
// knobs. Zero values fall through to the session's own defaults.
func sessionConfig(cfg *config.Config) matrix.SessionConfig {
	m := cfg.Matrix
	return matrix.SessionConfig{
		Address:   fmt.Sprintf("%s:%d", m.Host, m.Port),
		Password:  m.Password,
		SyncNames: m.SyncNames,
		Queue: matrix.QueueConfig{
			MinInterval:     m.GetMinCommandInterval(),
			ResponseTimeout: m.GetResponseTimeout(),
			MaxRetries:      m.MaxRetries,
		},
		Poll: matrix.PollerConfig{
			Interval: m.GetPollInterval(),
		},
		ReconnectMin: time.Duration(m.Reconnect.InitialDelay) * time.Second,
		ReconnectMax: time.Duration(m.Reconnect.MaxDelay) * time.Second,
		StableAfter:  time.Duration(m.Reconnect.StableAfter) * time.Second,
		DialTimeout:  m.GetConnectTimeout(),
	}
}

// pruneHistoryLoop deletes expired state history rows once a day.
func pruneHistoryLoop(ctx context.Context, repo history.Repository, retentionDays int, log *logging.Logger) {
	ticker := time.NewTicker(prunePeriod)
	defer ticker.Stop()

	retention := time.Duration(retentionDays) * 24 * time.Hour
	prune := func() {
		removed, err := repo.Prune(ctx, retention)
		if err != nil {
			log.Error("pruning state history failed", "error", err)
			return
		}
		if removed > 0 {
			log.Info("pruned state history", "removed", removed, "retention_days", retentionDays)
		}
	}

	prune()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The matrix session reports its own health through availability:
	// it reconnects forever, so a down device is not a startup failure.

	return nil
}

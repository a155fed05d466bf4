// Fieldlink Core - Tasmota telemetry and control service
//
// This is the main entry point for Fieldlink Core. It ingests Tasmota
// telemetry from an MQTT broker, keeps device status and power history in
// SQLite, correlates power commands with their replies and runs the
// time-of-day automation scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/fieldlink-core/internal/api"
	"github.com/nerrad567/fieldlink-core/internal/auth"
	"github.com/nerrad567/fieldlink-core/internal/automation"
	"github.com/nerrad567/fieldlink-core/internal/command"
	"github.com/nerrad567/fieldlink-core/internal/device"
	"github.com/nerrad567/fieldlink-core/internal/infrastructure/config"
	"github.com/nerrad567/fieldlink-core/internal/infrastructure/database"
	"github.com/nerrad567/fieldlink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/fieldlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/fieldlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fieldlink-core/internal/ingest"
	"github.com/nerrad567/fieldlink-core/internal/telemetry"
	"github.com/nerrad567/fieldlink-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// sweepInterval is how often in-memory session and debounce state is pruned.
const sweepInterval = time.Minute

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Fieldlink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Storage
	db, err := database.Open(ctx, database.Config{
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log.Component("device"))
	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	store := telemetry.NewSQLiteStore(db.DB)

	// Transport
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	verifier := auth.NewVerifier(cfg.Security.JWT.Secret)

	// Ingestion
	sessions := ingest.NewSessionRegistry()
	dispatcher := ingest.NewDispatcher(store, sessions, ingest.NewPowerDebouncer(cfg.Ingest.DebounceWindow))
	dispatcher.SetLogger(log.Component("ingest"))
	dispatcher.SetEvents(hub)
	if influxClient != nil {
		dispatcher.SetMetrics(influxClient)
	}

	syncer := ingest.NewSyncer(sessions, deviceRegistry, cfg.Ingest.SyncInterval, cfg.Ingest.SyncDelay)
	syncer.SetLogger(log.Component("sync"))
	dispatcher.SetSensorHook(syncer.Trigger)

	if err := dispatcher.Subscribe(ctx, mqttClient, byte(cfg.MQTT.QoS)); err != nil {
		return fmt.Errorf("subscribing to device topics: %w", err)
	}
	go dispatcher.RunSweeper(ctx, sweepInterval, cfg.Ingest.SessionTTL)
	go syncer.Run(ctx)
	log.Info("ingestion started",
		"debounce_window", cfg.Ingest.DebounceWindow,
		"sync_interval", cfg.Ingest.SyncInterval,
	)

	// Commands and automation
	correlator := command.NewCorrelator(mqttClient, deviceRegistry, cfg.Command.Timeout, byte(cfg.Command.QoS))
	correlator.SetLogger(log.Component("command"))

	if cfg.Automation.Enabled {
		scheduler := automation.NewScheduler(
			automation.NewSQLiteRepository(db.DB),
			deviceRegistry,
			correlator,
			cfg.Automation.MaxConcurrent,
		)
		scheduler.SetLogger(log.Component("automation"))
		scheduler.SetEvents(hub)
		if influxClient != nil {
			scheduler.SetRunRecorder(influxClient)
		}
		go scheduler.Run(ctx, cfg.Automation.TickInterval)
		log.Info("automation scheduler started", "tick_interval", cfg.Automation.TickInterval)
	} else {
		log.Info("automation scheduler disabled")
	}

	// Operational API
	if cfg.API.Enabled {
		checks := map[string]api.HealthChecker{
			"database": db,
			"mqtt":     mqttClient,
		}
		if influxClient != nil {
			checks["influxdb"] = influxClient
		}

		server, err := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.Component("api"),
			Verifier: verifier,
			Sessions: sessions,
			Devices:  deviceRegistry,
			Hub:      hub,
			Checks:   checks,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		go hub.Run(ctx)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("Fieldlink Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FIELDLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FIELDLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

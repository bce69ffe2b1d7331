// Gray Logic LCN - bridge between LCN installations and the Gray Logic bus.
//
// The binary connects to one or more PCHK couplers, exposes their outputs
// and relays as entities, accepts commands over MQTT and publishes state,
// health and telemetry.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-lcn/migrations"

	"github.com/nerrad567/gray-logic-lcn/internal/bridges/lcn"
	"github.com/nerrad567/gray-logic-lcn/internal/device"
	"github.com/nerrad567/gray-logic-lcn/internal/hub"
	"github.com/nerrad567/gray-logic-lcn/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lcn/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-lcn/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-lcn/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lcn/internal/infrastructure/mqtt"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// entryRetryInterval is how long an entry whose coupler was unreachable
	// waits before the next setup attempt.
	entryRetryInterval = 30 * time.Second

	// healthInterval republishes connection health for dashboards that
	// subscribe late.
	healthInterval = time.Minute

	shutdownTimeout = 15 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic LCN",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to report to
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log)
	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	h := hub.New(hub.Options{
		Devices:       deviceRegistry,
		Entries:       hub.NewSQLiteEntryRepository(db.DB),
		Logger:        log,
		RetryInterval: entryRetryInterval,
	})
	if loadErr := h.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading config entries: %w", loadErr)
	}

	lcnOpts := lcn.Options{
		Logger:         log,
		HealthInterval: healthInterval,
	}

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := connectMQTT(cfg.MQTT, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		lcnOpts.MQTT = mqttClient
	} else {
		log.Info("MQTT disabled, commands and state publishing are off")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		lcnOpts.Telemetry = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	if regErr := h.RegisterIntegration(lcn.New(lcnOpts)); regErr != nil {
		return fmt.Errorf("registering LCN integration: %w", regErr)
	}

	// Stop the hub before the deferred client closes run, so entries
	// unsubscribe and close their couplers while MQTT is still up.
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("stopping hub")
		if stopErr := h.Stop(stopCtx); stopErr != nil {
			log.Error("error stopping hub", "error", stopErr)
		}
	}()

	if setupErr := setupIntegrations(ctx, h, cfg.Integrations, log); setupErr != nil {
		return setupErr
	}

	if err := healthCheck(ctx, db); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"entries", len(h.Entries(lcn.Domain)),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns GRAYLOGIC_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, nil
}

// setupIntegrations imports every integrations block of the config and then
// sets up the stored entries the import did not touch.
//
// An invalid import block is fatal. Entries that fail to set up are logged
// and left to the hub's retry.
func setupIntegrations(ctx context.Context, h *hub.Hub, blocks config.IntegrationsConfig, log *logging.Logger) error {
	for domain, block := range blocks {
		if err := h.SetupComponent(ctx, domain, block); err != nil {
			return fmt.Errorf("importing %s configuration: %w", domain, err)
		}
		log.Info("integration configuration imported", "domain", domain)
	}

	if err := h.SetupAll(ctx); err != nil {
		if !errors.Is(err, hub.ErrEntryNotReady) {
			log.Error("some config entries failed to set up", "error", err)
		} else {
			log.Warn("some config entries are waiting for their coupler", "error", err)
		}
	}
	return nil
}

// healthCheck verifies the database. MQTT and InfluxDB are verified when
// they connect; PCHK connections report through entry states.
func healthCheck(ctx context.Context, db *database.DB) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

// Gray Logic Tuya - Tuya MCU dimmer bridge
//
// This is the main entry point for the Gray Logic Tuya bridge. It drives
// Tuya MCU dimmers through an MQTT gateway and exposes them to Gray Logic
// Core as lights, over MQTT and a small HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-logic-tuya/migrations"

	"github.com/nerrad567/gray-logic-tuya/internal/api"
	"github.com/nerrad567/gray-logic-tuya/internal/bridges/tuya"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/mqtt"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Tuya",
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

	if !cfg.Tuya.Enabled {
		log.Warn("tuya bridge disabled in configuration, exiting")
		return nil
	}

	tuyaCfg, err := tuya.LoadConfig(cfg.Tuya.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading tuya bridge config: %w", err)
	}
	log.Info("tuya bridge config loaded",
		"path", cfg.Tuya.ConfigFile,
		"devices", len(tuyaCfg.Devices),
		"lights", tuyaCfg.LightCount(),
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	will, err := bridgeWill(tuyaCfg, cfg.MQTT.QoS)
	if err != nil {
		return fmt.Errorf("building last will: %w", err)
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(will), mqtt.WithLogger(log.Component("mqtt")))
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

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}

	var telemetry tuya.TelemetryWriter
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		telemetry = influxClient
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	recorder := tuya.NewRecorder(db.DB)
	recorder.SetLogger(log.Component("recorder"))
	if startErr := recorder.Start(); startErr != nil {
		return fmt.Errorf("starting datapoint recorder: %w", startErr)
	}
	defer func() {
		log.Info("stopping datapoint recorder")
		recorder.Stop()
	}()

	bridge, err := startBridge(ctx, tuyaCfg, mqttClient, recorder, telemetry, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("stopping tuya bridge")
		bridge.Stop()
	}()

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log.Component("api"),
			Bridge:     bridge,
			Datapoints: recorder,
			Checks:     checks,
			DB:         db,
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge, recorder,
	// InfluxDB, MQTT, database.
	log.Info("Gray Logic Tuya stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_TUYA_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_TUYA_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// bridgeWill returns the retained offline health message the broker
// publishes if the bridge drops off without a clean disconnect.
func bridgeWill(tuyaCfg *tuya.Config, qos int) (mqtt.Will, error) {
	reporter := tuya.NewHealthReporter(tuya.HealthReporterConfig{BridgeID: tuyaCfg.Bridge.ID})

	payload, err := reporter.GetLWTPayload()
	if err != nil {
		return mqtt.Will{}, err
	}
	return mqtt.Will{
		Topic:    reporter.GetLWTTopic(),
		Payload:  payload,
		QoS:      byte(qos), // #nosec G115 -- validated 0-2
		Retained: true,
	}, nil
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range []string{"database", "mqtt", "influxdb"} {
		check, ok := checks[name]
		if !ok {
			continue
		}
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// startBridge creates and starts the Tuya bridge.
//
// Parameters:
//   - ctx: Context for startup/cancellation
//   - tuyaCfg: Loaded bridge device configuration
//   - mqttClient: MQTT client shared by Core topics and the gateway
//   - recorder: Datapoint recorder for passive discovery
//   - telemetry: Telemetry writer (nil when InfluxDB is disabled)
//   - log: Logger instance
//
// Returns:
//   - *tuya.Bridge: Running bridge
//   - error: If the bridge fails to build or start
func startBridge(
	ctx context.Context,
	tuyaCfg *tuya.Config,
	mqttClient *mqtt.Client,
	recorder *tuya.Recorder,
	telemetry tuya.TelemetryWriter,
	log *logging.Logger,
) (*tuya.Bridge, error) {
	adapter := &mqttBridgeAdapter{client: mqttClient}

	bridge, err := tuya.NewBridge(tuya.BridgeOptions{
		Config:     tuyaCfg,
		MQTTClient: adapter,
		Logger:     log.Component("tuya"),
		Recorder:   recorder,
		Telemetry:  telemetry,
		Version:    version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tuya bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return nil, fmt.Errorf("starting tuya bridge: %w", err)
	}
	log.Info("tuya bridge started", "bridge_id", tuyaCfg.Bridge.ID)

	return bridge, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Tuya bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements tuya.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements tuya.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements tuya.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements tuya.MQTTClient.
// The MQTT client lifecycle belongs to run's defer chain, so this is a no-op.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}

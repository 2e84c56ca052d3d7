// grill-link keeps a live connection to the grill cloud, mirrors every
// grill's state locally and exposes it over a small HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/grill-link/internal/api"
	"github.com/nerrad567/grill-link/internal/cloud"
	"github.com/nerrad567/grill-link/internal/grill"
	"github.com/nerrad567/grill-link/internal/infrastructure/config"
	"github.com/nerrad567/grill-link/internal/infrastructure/influxdb"
	"github.com/nerrad567/grill-link/internal/infrastructure/logging"
	"github.com/nerrad567/grill-link/internal/session"
	"github.com/nerrad567/grill-link/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// stopTimeout bounds the session shutdown once a signal arrives.
const stopTimeout = 15 * time.Second

// deviceListJitter spreads device-list retries from many instances.
const deviceListJitter = 0.2

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the application together and blocks until ctx is cancelled or
// the session ends on its own. A session that ends on its own is an error.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting grill-link",
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
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	coord := newCoordinator(cfg, log)

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
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
		coord.Register(grill.AllDevices, telemetry.NewRecorder(coord.Store(), influxClient, nil))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log.Component("api"),
			Session: coord,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		coord.Register(grill.AllDevices, srv)
	}

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"connection", coord.ConnectionState().String(),
	)

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-coord.Done():
		// Ended on its own; Err explains why.
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	coord.Stop(stopCtx)

	if err := coord.Err(); err != nil {
		return fmt.Errorf("session ended: %w", err)
	}
	log.Info("grill-link stopped")
	return nil
}

// newCoordinator builds the cloud client chain and the session on top of it.
func newCoordinator(cfg *config.Config, log *logging.Logger) *session.Coordinator {
	cloudLog := log.Component("cloud")
	cloudAPI := cloud.NewAPI(cloud.APIOptions{
		IdentityURL: cfg.Cloud.IdentityURL,
		ClientID:    cfg.Cloud.ClientID,
		BaseURL:     cfg.Cloud.APIURL,
		Timeout:     cfg.RequestTimeout(),
		Logger:      cloudLog,
	})
	auth := cloud.NewAuth(cloudAPI, cloud.Credentials{
		Username: cfg.Cloud.Username,
		Password: cfg.Cloud.Password,
	}, nil, cfg.RenewWindow())
	auth.SetLogger(cloudLog)

	client := cloud.NewClient(cloudAPI, auth)
	client.SetLogger(cloudLog)

	sessionLog := log.Component("session")
	return session.NewCoordinator(session.Options{
		Cloud:             client,
		Leases:            auth,
		Dialer:            session.MQTTDialer{Config: cfg.MQTT, Logger: log.Component("mqtt")},
		TickInterval:      cfg.TickInterval(),
		DeviceListRetries: cfg.Session.DeviceListRetries,
		DeviceListJitter:  deviceListJitter,
		Supervisor: session.SupervisorConfig{
			QoS:             byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
			EventBuffer:     cfg.MQTT.EventBuffer,
			RenewWindow:     cfg.RenewWindow(),
			ShutdownTimeout: cfg.ShutdownTimeout(),
		},
		Logger: sessionLog,
	})
}

// getConfigPath returns the config path from GRILLLINK_CONFIG or the default.
func getConfigPath() string {
	if path := os.Getenv("GRILLLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// twinhub is the device twin hub.
//
// It stores every device twin in SQLite, forwards desired-property patches
// to devices over the twin bus (MQTT, or an in-process bus) and serves the
// twin HTTP API with a WebSocket change stream.
//
// With the in-process bus nothing outside the process can reach the hub's
// devices, so twinhub then also runs the configured simulated device.
//
// "twinhub migrate up|down|status" manages the database schema instead.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/browniz421/twinsync/internal/app"
	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/infrastructure/logging"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		err = runMigrate(ctx, os.Args[2:], os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
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
	log.Info("starting twinhub", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, "twinhub", version)
	log.Info("configuration loaded", "path", configPath, "transport", cfg.Hub.Transport)

	transport, err := app.ConnectTransport(cfg, "", log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing twin bus")
		if closeErr := transport.Close(); closeErr != nil {
			log.Error("error closing twin bus", "error", closeErr)
		}
	}()

	hub, err := app.NewHub(ctx, app.HubOptions{
		Config:    cfg,
		Transport: transport,
		Logger:    log,
		Version:   version,
	})
	if err != nil {
		return err
	}
	defer func() {
		log.Info("stopping hub")
		if closeErr := hub.Close(); closeErr != nil {
			log.Error("error stopping hub", "error", closeErr)
		}
	}()

	if err := hub.API.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if transport.Name() == app.TransportMemory {
		device := app.NewDevice(cfg.Device, transport, hub.Telemetry.Recorder, log)
		defer device.Close() //nolint:errcheck // Subscriptions end with the bus
		log.Info("running embedded device", "device_id", cfg.Device.ID)
		g.Go(func() error {
			return device.Run(gctx)
		})
	}
	g.Go(func() error {
		hub.RunHistoryRetention(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal", "address", hub.API.Addr())
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("twinhub stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TWINSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TWINSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

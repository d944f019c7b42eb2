// simdevice is a simulated twin device.
//
// It connects to the hub's MQTT broker, syncs to its twin and then applies
// every desired-properties delta the hub forwards, printing what changed
// and reporting its state back.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/browniz421/twinsync/internal/app"
	"github.com/browniz421/twinsync/internal/console"
	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// clientIDPrefix keeps device MQTT client IDs apart from the hub's.
const clientIDPrefix = "twinsync-device-"

var errNeedsBroker = errors.New("simdevice needs hub.transport \"mqtt\"; the memory transport only reaches devices inside twinhub")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadOrDefault(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Hub.Transport != app.TransportMQTT {
		return errNeedsBroker
	}

	log := logging.New(cfg.Logging, "simdevice", version).With("device_id", cfg.Device.ID)
	log.Info("starting simdevice", "version", version, "commit", commit, "firmware", cfg.Device.FirmwareVersion)

	transport, err := app.ConnectTransport(cfg, clientIDPrefix+cfg.Device.ID, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := transport.Close(); closeErr != nil {
			log.Error("error closing twin bus", "error", closeErr)
		}
	}()

	tel, err := app.NewTelemetry(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	defer tel.Close() //nolint:errcheck // Flush errors are logged by the writer

	device := app.NewDevice(cfg.Device, transport, tel.Recorder, log, console.New(os.Stdout))
	defer device.Close() //nolint:errcheck // Subscriptions end with the bus

	if err := device.Run(ctx); err != nil {
		return err
	}
	log.Info("simdevice stopped")
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

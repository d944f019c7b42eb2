package app

import (
	"context"
	"time"

	"github.com/browniz421/twinsync/internal/agent"
	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/infrastructure/logging"
	"github.com/browniz421/twinsync/internal/telemetry"
)

// Device is a simulated device attached to a transport.
type Device struct {
	Agent  *agent.Agent
	client *agent.BusClient
}

// NewDevice creates the simulated device described by cfg.
func NewDevice(cfg config.DeviceConfig, t *Transport, recorder telemetry.Recorder, log *logging.Logger, observers ...agent.Observer) *Device {
	timeout := agent.DefaultRequestTimeout
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	client := agent.NewBusClient(t.Bus, cfg.ID, timeout)

	opts := []agent.Option{agent.WithLogger(log), agent.WithRecorder(recorder)}
	for _, o := range observers {
		opts = append(opts, agent.WithObserver(o))
	}
	return &Device{
		Agent:  agent.New(cfg.ID, cfg.FirmwareVersion, client, opts...),
		client: client,
	}
}

// Run syncs the device and handles desired deltas until ctx is done.
func (d *Device) Run(ctx context.Context) error {
	return d.Agent.Run(ctx)
}

// Close releases the device's bus subscriptions.
func (d *Device) Close() error {
	return d.client.Close()
}

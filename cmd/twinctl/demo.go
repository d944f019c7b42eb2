package main

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/browniz421/twinsync/internal/agent"
	"github.com/browniz421/twinsync/internal/app"
	"github.com/browniz421/twinsync/internal/console"
	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/infrastructure/database"
	"github.com/browniz421/twinsync/internal/infrastructure/logging"
	"github.com/browniz421/twinsync/internal/service"
	"github.com/browniz421/twinsync/internal/twin"
)

// deviceSyncTimeout bounds how long an embedded device may take to sync.
const deviceSyncTimeout = 10 * time.Second

type demoOptions struct {
	deviceID string
	embedded bool
}

func newDemoCommand(opts *globalOptions) *cobra.Command {
	demo := &demoOptions{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the scripted device lifecycle",
		Long: `Send the scripted sequence of desired-property patches to a device and
wait for the device to acknowledge each one.

The sequence resets the desired properties, configures the system and
climate components, turns the fan on, raises the maximum temperature and
then adds, updates and removes a wifi component.

With --embedded the hub, an in-memory database and the simulated device
all run inside twinctl, so no broker or hub is needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if demo.deviceID != "" {
				cfg.Device.ID = demo.deviceID
			}
			p := opts.printer(cmd.OutOrStdout())
			if demo.embedded {
				return runEmbeddedDemo(cmd.Context(), cfg, p)
			}
			c := service.NewClient(cfg.Client.HubURL, requestTimeout)
			return runDemo(cmd.Context(), c, cfg, p)
		},
	}

	cmd.Flags().StringVarP(&demo.deviceID, "device", "d", "", "Device ID (overrides device.id)")
	cmd.Flags().BoolVar(&demo.embedded, "embedded", false, "Run hub and device in-process")

	return cmd
}

// runDemo drives the script against a device that is already connected to
// the hub.
func runDemo(ctx context.Context, c service.TwinAPI, cfg *config.Config, p *console.Printer) error {
	id := cfg.Device.ID

	start, err := c.GetTwin(ctx, id)
	if err != nil {
		return fmt.Errorf("reading twin of %s: %w", id, err)
	}
	p.PrintReported("Reported properties at start", start)

	final, err := service.RunScript(ctx, c, id, service.Script(), service.RunOptions{
		AckTimeout: cfg.GetAckTimeout(),
		Sent:       p.StepSent,
		Acked: func(step service.Step, t *twin.Twin) {
			p.StepAcked(step, t)
			if step.IsReset() {
				p.PrintReported("Reported properties after reset", t)
			}
		},
	})
	if err != nil {
		p.Error("demo failed: %v", err)
		return err
	}

	p.PrintReported("Final reported properties", final)
	return nil
}

// runEmbeddedDemo starts a hub on the in-process bus with an in-memory
// database, serves its API on a loopback port, runs the simulated device
// next to it and then drives the script over HTTP.
func runEmbeddedDemo(ctx context.Context, cfg *config.Config, p *console.Printer) error {
	cfg.Hub.Transport = app.TransportMemory
	cfg.Hub.AutoRegister = true
	cfg.Database.Path = database.MemoryPath
	cfg.Logging.Output = "discard"
	log := logging.New(cfg.Logging, "twinctl", version)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	transport := app.MemoryTransport(log)
	defer transport.Close() //nolint:errcheck // Nothing left to deliver

	hub, err := app.NewHub(ctx, app.HubOptions{Config: cfg, Transport: transport, Logger: log, Version: version})
	if err != nil {
		return err
	}
	defer hub.Close() //nolint:errcheck // Demo is finished

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listening for embedded API: %w", err)
	}
	if err := hub.API.Serve(ctx, ln); err != nil {
		return err
	}

	synced := &syncedObserver{done: make(chan struct{})}
	device := app.NewDevice(cfg.Device, transport, hub.Telemetry.Recorder, log, p, synced)
	defer device.Close() //nolint:errcheck // Subscriptions end with the bus

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return device.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		select {
		case <-synced.done:
		case <-time.After(deviceSyncTimeout):
			return fmt.Errorf("device %s did not sync within %s", cfg.Device.ID, deviceSyncTimeout)
		case <-gctx.Done():
			return gctx.Err()
		}
		c := service.NewClient("http://"+hub.API.Addr(), requestTimeout)
		return runDemo(gctx, c, cfg, p)
	})
	return g.Wait()
}

// syncedObserver closes done the first time the device syncs.
type syncedObserver struct {
	agent.NopObserver
	done chan struct{}
	once sync.Once
}

func (o *syncedObserver) Connected(string) {
	o.once.Do(func() { close(o.done) })
}

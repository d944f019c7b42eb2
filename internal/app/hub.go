package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/browniz421/twinsync/internal/api"
	"github.com/browniz421/twinsync/internal/hub"
	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/infrastructure/database"
	"github.com/browniz421/twinsync/internal/infrastructure/logging"
	"github.com/browniz421/twinsync/internal/twin"
	"github.com/browniz421/twinsync/migrations"
)

// historyPruneInterval is how often RunHistoryRetention prunes.
const historyPruneInterval = time.Hour

// Hub is a running twin hub.
type Hub struct {
	DB        *database.DB
	Registry  *twin.Registry
	Service   *hub.Service
	API       *api.Server
	Telemetry *Telemetry

	log       *logging.Logger
	history   *twin.SQLiteHistoryRepository
	retention time.Duration
	closers   []func() error
}

// HubOptions configures NewHub.
type HubOptions struct {
	Config    *config.Config
	Transport *Transport
	Logger    *logging.Logger
	Version   string
}

// NewHub opens the database, loads every twin, starts the hub service on
// the transport and creates (but does not start) the API server.
//
// On error everything opened so far is closed again.
func NewHub(ctx context.Context, opts HubOptions) (_ *Hub, err error) {
	cfg, log := opts.Config, opts.Logger
	h := &Hub{log: log, retention: cfg.GetHistoryRetention()}
	defer func() {
		if err != nil {
			h.Close() //nolint:errcheck // Returning the setup error
		}
	}()

	h.DB, err = database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	h.closers = append(h.closers, h.DB.Close)
	log.Info("database connected", "path", cfg.Database.Path)

	if err := h.DB.Migrate(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	h.history = twin.NewSQLiteHistoryRepository(h.DB.DB)
	h.Registry = twin.NewRegistry(twin.NewSQLiteRepository(h.DB.DB), h.history)
	h.Registry.SetLogger(log)
	if err := h.Registry.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("loading twins: %w", err)
	}

	h.Telemetry, err = NewTelemetry(ctx, cfg.InfluxDB, log)
	if err != nil {
		return nil, err
	}
	h.closers = append(h.closers, h.Telemetry.Close)

	h.Service = hub.NewService(h.Registry, opts.Transport.Bus, h.Telemetry.Recorder, log)
	h.Service.SetAutoRegister(cfg.Hub.AutoRegister)
	if err := h.Service.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting hub service: %w", err)
	}
	h.closers = append(h.closers, h.Service.Stop)

	checks := map[string]api.HealthChecker{
		"database":  h.DB,
		"transport": opts.Transport,
	}
	if h.Telemetry.Influx != nil {
		checks["influxdb"] = h.Telemetry.Influx
	}

	h.API, err = api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Twins:    h.Service,
		Checks:   checks,
		Stats:    h.DB,
		Counters: h.Telemetry.Collector,
		Version:  opts.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	h.closers = append(h.closers, h.API.Close)

	return h, nil
}

// RunHistoryRetention deletes twin history older than the configured
// retention, right away and then every historyPruneInterval, until ctx
// is done. It returns immediately when retention is disabled.
func (h *Hub) RunHistoryRetention(ctx context.Context) {
	if h.retention <= 0 {
		return
	}
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		n, err := h.history.Prune(ctx, h.retention)
		switch {
		case err != nil && ctx.Err() == nil:
			h.log.Warn("pruning twin history failed", "error", err)
		case n > 0:
			h.log.Info("twin history pruned", "deleted", n, "retention", h.retention.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close stops the hub in reverse order of startup.
func (h *Hub) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errors.Join(errs...)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/browniz421/twinsync/internal/api"
	"github.com/browniz421/twinsync/internal/bus"
	"github.com/browniz421/twinsync/internal/hub"
	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/infrastructure/database"
	"github.com/browniz421/twinsync/internal/infrastructure/logging"
	"github.com/browniz421/twinsync/internal/twin"
	"github.com/browniz421/twinsync/migrations"
)

const testDevice = "MyTwinDevice"

// ============================================================================
// Helpers
// ============================================================================

type testEnv struct {
	client *Client
	hub    *hub.Service
	bus    *bus.MemBus
}

// setupEnv runs a complete hub (database, bus, service and API) behind an
// httptest server.
func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := database.Open(ctx, config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	registry := twin.NewRegistry(twin.NewSQLiteRepository(db.DB), twin.NewSQLiteHistoryRepository(db.DB))
	b := bus.NewMemBus()
	t.Cleanup(func() { b.Close() }) //nolint:errcheck // Test cleanup

	svc := hub.NewService(registry, b, nil, nil)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	srv, err := api.New(api.Deps{
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  logging.Nop(),
		Twins:   svc,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("api.New() error = %v", err)
	}
	go srv.Feed().Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{client: NewClient(ts.URL, time.Second), hub: svc, bus: b}
}

func (e *testEnv) register(t *testing.T) {
	t.Helper()
	if _, err := e.client.Register(context.Background(), testDevice); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
}

// ============================================================================
// Client Tests
// ============================================================================

func TestClient_RegisterGetUpdate(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	created, err := env.client.Register(ctx, testDevice)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if created.DeviceID != testDevice {
		t.Errorf("DeviceID = %q, want %q", created.DeviceID, testDevice)
	}

	again, err := env.client.Register(ctx, testDevice)
	if err != nil {
		t.Fatalf("Register() again error = %v", err)
	}
	if again.DeviceID != testDevice {
		t.Errorf("DeviceID = %q, want %q", again.DeviceID, testDevice)
	}

	updated, err := env.client.UpdateDesired(ctx, testDevice, json.RawMessage(`{"patchId":"p","fanOn":"true"}`))
	if err != nil {
		t.Fatalf("UpdateDesired() error = %v", err)
	}
	if updated.DesiredVersion != 1 {
		t.Errorf("DesiredVersion = %d, want 1", updated.DesiredVersion)
	}

	got, err := env.client.GetTwin(ctx, testDevice)
	if err != nil {
		t.Fatalf("GetTwin() error = %v", err)
	}
	if v, _ := got.Desired.String("fanOn"); v != "true" {
		t.Errorf("desired fanOn = %q, want %q", v, "true")
	}

	reset, err := env.client.UpdateDesired(ctx, testDevice, json.RawMessage(`null`))
	if err != nil {
		t.Fatalf("UpdateDesired(null) error = %v", err)
	}
	if len(reset.Desired) != 0 {
		t.Errorf("Desired after reset = %v, want empty", reset.Desired)
	}

	twins, err := env.client.Twins(ctx)
	if err != nil {
		t.Fatalf("Twins() error = %v", err)
	}
	if len(twins) != 1 {
		t.Errorf("Twins() returned %d twins, want 1", len(twins))
	}
}

func TestClient_Errors(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.register(t)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{
			name: "unknown twin",
			call: func() error {
				_, err := env.client.GetTwin(ctx, "nobody")
				return err
			},
			want: ErrNotFound,
		},
		{
			name: "patch not an object",
			call: func() error {
				_, err := env.client.UpdateDesired(ctx, testDevice, json.RawMessage(`[1]`))
				return err
			},
			want: ErrInvalidRequest,
		},
		{
			name: "stale version",
			call: func() error {
				_, err := env.client.UpdateDesiredIf(ctx, testDevice, json.RawMessage(`{"a":1}`), 7)
				return err
			},
			want: ErrConflict,
		},
		{
			name: "history of unknown twin",
			call: func() error {
				_, err := env.client.History(ctx, "nobody", 5)
				return err
			},
			want: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClient_UpdateDesiredIf(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.register(t)

	got, err := env.client.UpdateDesiredIf(ctx, testDevice, json.RawMessage(`{"a":1}`), 0)
	if err != nil {
		t.Fatalf("UpdateDesiredIf() error = %v", err)
	}
	if got.DesiredVersion != 1 {
		t.Errorf("DesiredVersion = %d, want 1", got.DesiredVersion)
	}
}

func TestClient_HistoryAndDeregister(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.register(t)

	for _, patch := range []string{`{"a":1}`, `{"a":2}`, `{"a":3}`} {
		if _, err := env.client.UpdateDesired(ctx, testDevice, json.RawMessage(patch)); err != nil {
			t.Fatalf("UpdateDesired() error = %v", err)
		}
	}

	entries, err := env.client.History(ctx, testDevice, 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("History() returned %d entries, want 2", len(entries))
	}
	if entries[0].Version != 3 {
		t.Errorf("newest entry version = %d, want 3", entries[0].Version)
	}

	if err := env.client.Deregister(ctx, testDevice); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}
	if _, err := env.client.GetTwin(ctx, testDevice); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTwin() after Deregister error = %v, want ErrNotFound", err)
	}
}

func TestClient_HealthCheck(t *testing.T) {
	env := setupEnv(t)
	if err := env.client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestClient_Watch(t *testing.T) {
	env := setupEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.register(t)

	changes, err := env.client.Watch(ctx, testDevice)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if _, err := env.client.UpdateDesired(ctx, testDevice, json.RawMessage(`{"fanOn":"true"}`)); err != nil {
		t.Fatalf("UpdateDesired() error = %v", err)
	}

	select {
	case change := <-changes:
		if change.Side != twin.SideDesired || change.Version != 1 {
			t.Errorf("change = %s v%d, want desired v1", change.Side, change.Version)
		}
		if change.DeviceID != testDevice {
			t.Errorf("DeviceID = %q, want %q", change.DeviceID, testDevice)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}

	cancel()
	select {
	case _, ok := <-changes:
		for ok {
			_, ok = <-changes
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

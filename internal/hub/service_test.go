package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/browniz421/twinsync/internal/bus"
	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/infrastructure/database"
	"github.com/browniz421/twinsync/internal/twin"
	"github.com/browniz421/twinsync/migrations"
)

const testDevice = "MyTwinDevice"

// ============================================================================
// Helpers
// ============================================================================

type testHub struct {
	svc      *Service
	registry *twin.Registry
	bus      *bus.MemBus
}

func setupHub(t *testing.T) *testHub {
	t.Helper()
	ctx := context.Background()

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

	svc := NewService(registry, b, nil, nil)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return &testHub{svc: svc, registry: registry, bus: b}
}

// listen subscribes to topic and returns decoded messages on a channel.
func listen[T any](t *testing.T, b bus.Bus, topic string) <-chan T {
	t.Helper()
	ch := make(chan T, 8)
	err := b.Subscribe(topic, func(_ string, payload []byte) error {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			t.Errorf("decoding %s: %v", topic, err)
			return err
		}
		ch <- v
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe(%s) error = %v", topic, err)
	}
	return ch
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus message")
		var zero T
		return zero
	}
}

func publish(t *testing.T, b bus.Bus, topic string, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encoding message: %v", err)
	}
	if err := b.Publish(context.Background(), topic, payload); err != nil {
		t.Fatalf("Publish(%s) error = %v", topic, err)
	}
}

// ============================================================================
// Desired path
// ============================================================================

func TestService_UpdateDesiredPublishesDelta(t *testing.T) {
	ctx := context.Background()
	h := setupHub(t)
	if _, err := h.svc.Register(ctx, testDevice); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var mu sync.Mutex
	var changes []twin.Change
	h.svc.OnChange(func(c twin.Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	deltas := listen[twin.DesiredDelta](t, h.bus, bus.Topics{}.Desired(testDevice))

	tw, err := h.svc.UpdateDesired(ctx, testDevice, json.RawMessage(`{"patchId":"Switch the fan on","fanOn":"true"}`), twin.AnyVersion)
	if err != nil {
		t.Fatalf("UpdateDesired() error = %v", err)
	}
	if tw.DesiredVersion != 1 {
		t.Errorf("DesiredVersion = %d, want 1", tw.DesiredVersion)
	}

	delta := receive(t, deltas)
	if delta.Version != 1 || delta.DeviceID != testDevice || delta.Reset {
		t.Errorf("delta = %+v", delta)
	}
	var patch map[string]any
	if err := json.Unmarshal(delta.Patch, &patch); err != nil || patch["fanOn"] != "true" {
		t.Errorf("delta patch = %s", delta.Patch)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || changes[0].Side != twin.SideDesired || changes[0].Twin == nil {
		t.Errorf("changes = %+v, want one desired change", changes)
	}
}

func TestService_UpdateDesiredErrors(t *testing.T) {
	ctx := context.Background()
	h := setupHub(t)
	if _, err := h.svc.Register(ctx, testDevice); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name      string
		deviceID  string
		patch     string
		ifVersion int64
		wantErr   error
	}{
		{"unknown device", "ghost", `{}`, twin.AnyVersion, twin.ErrTwinNotFound},
		{"stale version", testDevice, `{}`, 5, twin.ErrVersionConflict},
		{"invalid patch", testDevice, `"text"`, twin.AnyVersion, twin.ErrInvalidPatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.UpdateDesired(ctx, tt.deviceID, json.RawMessage(tt.patch), tt.ifVersion)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("UpdateDesired() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

type failingBus struct{ *bus.MemBus }

func (failingBus) Publish(context.Context, string, []byte) error {
	return errors.New("broker unavailable")
}

func TestService_UpdateDesiredDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	h := setupHub(t)
	if _, err := h.registry.Create(ctx, testDevice); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	svc := NewService(h.registry, failingBus{h.bus}, nil, nil)

	tw, err := svc.UpdateDesired(ctx, testDevice, json.RawMessage(`{"fanOn":"false"}`), twin.AnyVersion)
	if !errors.Is(err, ErrDeltaNotDelivered) {
		t.Fatalf("UpdateDesired() error = %v, want ErrDeltaNotDelivered", err)
	}
	if tw == nil || tw.DesiredVersion != 1 {
		t.Errorf("twin = %+v, want the saved twin at version 1", tw)
	}
}

// ============================================================================
// Device requests
// ============================================================================

func TestService_ReportedIsAcknowledged(t *testing.T) {
	ctx := context.Background()
	h := setupHub(t)
	if _, err := h.svc.Register(ctx, testDevice); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	changed := make(chan twin.Change, 1)
	h.svc.OnChange(func(c twin.Change) { changed <- c })

	acks := listen[bus.Ack](t, h.bus, bus.Topics{}.Ack(testDevice))
	publish(t, h.bus, bus.Topics{}.Reported(testDevice), bus.ReportedMessage{
		RequestID: "r1",
		Patch:     json.RawMessage(`{"firmwareVersion":"1.2.1","fanOn":"{unknown}"}`),
	})

	ack := receive(t, acks)
	if !ack.OK() || ack.RequestID != "r1" || ack.Version != 1 {
		t.Errorf("ack = %+v", ack)
	}
	if c := receive(t, changed); c.Side != twin.SideReported {
		t.Errorf("change side = %s, want reported", c.Side)
	}

	tw, err := h.svc.Twin(ctx, testDevice)
	if err != nil {
		t.Fatalf("Twin() error = %v", err)
	}
	if tw.Reported["firmwareVersion"] != "1.2.1" {
		t.Errorf("reported = %v", tw.Reported)
	}

	entries, err := h.svc.History(ctx, testDevice, 10)
	if err != nil || len(entries) != 1 {
		t.Errorf("History() = %v, %v; want one entry", entries, err)
	}
}

func TestService_ReportedRejected(t *testing.T) {
	h := setupHub(t)
	ctx := context.Background()
	if _, err := h.svc.Register(ctx, testDevice); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name       string
		deviceID   string
		patch      string
		wantStatus int
	}{
		{"unknown device", "ghost", `{"a":"1"}`, bus.StatusNotFound},
		{"null patch", testDevice, `null`, bus.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acks := listen[bus.Ack](t, h.bus, bus.Topics{}.Ack(tt.deviceID))
			t.Cleanup(func() { h.bus.Unsubscribe(bus.Topics{}.Ack(tt.deviceID)) }) //nolint:errcheck // Test cleanup

			publish(t, h.bus, bus.Topics{}.Reported(tt.deviceID), bus.ReportedMessage{
				RequestID: tt.name,
				Patch:     json.RawMessage(tt.patch),
			})
			ack := receive(t, acks)
			if ack.Status != tt.wantStatus || ack.Error == "" {
				t.Errorf("ack = %+v, want status %d with error", ack, tt.wantStatus)
			}
		})
	}
}

func TestService_Get(t *testing.T) {
	ctx := context.Background()
	h := setupHub(t)

	t.Run("unknown device", func(t *testing.T) {
		res := listen[bus.GetResponse](t, h.bus, bus.Topics{}.Res("ghost"))
		publish(t, h.bus, bus.Topics{}.Get("ghost"), bus.GetRequest{RequestID: "g1"})

		got := receive(t, res)
		if got.Status != bus.StatusNotFound || got.Twin != nil || got.RequestID != "g1" {
			t.Errorf("response = %+v, want 404 without twin", got)
		}
	})

	t.Run("auto register", func(t *testing.T) {
		h.svc.SetAutoRegister(true)
		res := listen[bus.GetResponse](t, h.bus, bus.Topics{}.Res("newcomer"))
		publish(t, h.bus, bus.Topics{}.Get("newcomer"), bus.GetRequest{RequestID: "g2"})

		got := receive(t, res)
		if !got.OK() || got.Twin == nil || got.Twin.DeviceID != "newcomer" {
			t.Errorf("response = %+v, want created twin", got)
		}
		if _, err := h.svc.Twin(ctx, "newcomer"); err != nil {
			t.Errorf("Twin() error = %v", err)
		}
	})

	t.Run("existing twin", func(t *testing.T) {
		if _, err := h.svc.Register(ctx, testDevice); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if _, err := h.svc.UpdateDesired(ctx, testDevice, json.RawMessage(`{"fanOn":"true"}`), twin.AnyVersion); err != nil {
			t.Fatalf("UpdateDesired() error = %v", err)
		}

		res := listen[bus.GetResponse](t, h.bus, bus.Topics{}.Res(testDevice))
		publish(t, h.bus, bus.Topics{}.Get(testDevice), bus.GetRequest{RequestID: "g3"})

		got := receive(t, res)
		if !got.OK() || got.Twin.Desired["fanOn"] != "true" {
			t.Errorf("response = %+v", got)
		}
	})
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestService_StartStop(t *testing.T) {
	h := setupHub(t)
	if err := h.svc.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	if err := h.svc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := h.svc.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("second Stop() error = %v, want ErrNotStarted", err)
	}
	if err := h.svc.Start(context.Background()); err != nil {
		t.Errorf("restart error = %v", err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{twin.ErrTwinNotFound, bus.StatusNotFound},
		{twin.ErrInvalidPatch, bus.StatusBadRequest},
		{twin.ErrVersionConflict, bus.StatusConflict},
		{errors.New("disk"), bus.StatusError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

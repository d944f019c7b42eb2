package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu    sync.Mutex
	lines []string
	srv   *httptest.Server
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
			f.mu.Lock()
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "twinsync-test-token",
		Org:           "twinsync",
		Bucket:        "twins",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	f := newFakeInflux(t)

	client, err := influxdb.Connect(context.Background(), testConfig(f.srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	if _, err := influxdb.Connect(context.Background(), cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := influxdb.Connect(ctx, testConfig("http://127.0.0.1:1"))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	f := newFakeInflux(t)
	cfg := testConfig(f.srv.URL)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteTwinActivity(t *testing.T) {
	f := newFakeInflux(t)

	client, err := influxdb.Connect(context.Background(), testConfig(f.srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	at := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	client.WriteReconcileEvent("MyTwinDevice", "wifi", "added", at)
	client.WriteTwinPatch("MyTwinDevice", "desired", 4, 58, at)
	client.Flush()

	lines := f.written()
	if len(lines) != 2 {
		t.Fatalf("written lines = %v, want 2", lines)
	}
	if !strings.HasPrefix(lines[0], "reconcile_events,component=wifi,device_id=MyTwinDevice,kind=added count=1i") {
		t.Errorf("reconcile line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "twin_patches,device_id=MyTwinDevice,side=desired bytes=58i,version=4i") {
		t.Errorf("patch line = %q", lines[1])
	}
}

func TestWriteAfterClose(t *testing.T) {
	f := newFakeInflux(t)

	client, err := influxdb.Connect(context.Background(), testConfig(f.srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	client.WriteReconcileEvent("d", "c", "deleted", time.Now())
	client.Flush()

	if got := f.written(); len(got) != 0 {
		t.Errorf("written after Close() = %v", got)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestPoints(t *testing.T) {
	at := time.Unix(1760702400, 0)

	tests := []struct {
		name  string
		point *write.Point
		want  string
	}{
		{
			name:  "reconcile event",
			point: influxdb.ReconcileEventPoint("dev-1", "climate", "updated", at),
			want:  "reconcile_events,component=climate,device_id=dev-1,kind=updated count=1i 1760702400\n",
		},
		{
			name:  "twin patch",
			point: influxdb.TwinPatchPoint("dev-1", "reported", 9, 120, at),
			want:  "twin_patches,device_id=dev-1,side=reported bytes=120i,version=9i 1760702400\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := write.PointToLineProtocol(tt.point, time.Second); got != tt.want {
				t.Errorf("line protocol = %q, want %q", got, tt.want)
			}
		})
	}
}

package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// freePort returns a TCP port nothing listens on.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close() //nolint:errcheck // Test cleanup
	return ln.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("TWINSYNC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidTransport verifies validation errors stop startup.
func TestRun_InvalidTransport(t *testing.T) {
	t.Setenv("TWINSYNC_CONFIG", writeConfig(t, `
hub:
  transport: carrier-pigeon
`))

	if err := run(context.Background()); err == nil {
		t.Fatal("run() should fail with an unknown transport")
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("TWINSYNC_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("TWINSYNC_CONFIG", "/custom/config.yaml")
	if got := getConfigPath(); got != "/custom/config.yaml" {
		t.Errorf("getConfigPath() = %q, want %q", got, "/custom/config.yaml")
	}
}

// TestRun_SuccessfulStartupAndShutdown runs the hub on the in-process bus
// and stops it with the context.
func TestRun_SuccessfulStartupAndShutdown(t *testing.T) {
	port := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "twins.db")
	t.Setenv("TWINSYNC_CONFIG", writeConfig(t, `
hub:
  transport: memory
database:
  path: "`+dbPath+`"
api:
  host: "127.0.0.1"
  port: `+strconv.Itoa(port)+`
logging:
  level: error
  output: discard
`))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/api/v1/twins/MyTwinDevice"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close() //nolint:errcheck // Test cleanup
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("embedded device twin never appeared")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestRunMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "twins.db")
	t.Setenv("TWINSYNC_CONFIG", writeConfig(t, `
database:
  path: "`+dbPath+`"
`))
	ctx := context.Background()

	status := func() string {
		t.Helper()
		var out strings.Builder
		if err := runMigrate(ctx, []string{"status"}, &out); err != nil {
			t.Fatalf("runMigrate(status) error = %v", err)
		}
		return out.String()
	}

	if got := status(); strings.Count(got, "pending") != 2 {
		t.Errorf("fresh database status:\n%s\nwant 2 pending", got)
	}

	var out strings.Builder
	if err := runMigrate(ctx, []string{"up"}, &out); err != nil {
		t.Fatalf("runMigrate(up) error = %v", err)
	}
	if got := status(); strings.Count(got, "applied") != 2 || strings.Contains(got, "pending") {
		t.Errorf("status after up:\n%s\nwant 2 applied", got)
	}

	if err := runMigrate(ctx, []string{"down"}, &out); err != nil {
		t.Fatalf("runMigrate(down) error = %v", err)
	}
	got := status()
	if strings.Count(got, "applied") != 1 || !strings.Contains(got, "pending  20261017_120100  twin_history") {
		t.Errorf("status after down:\n%s\nwant twin_history pending", got)
	}
}

func TestRunMigrate_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"sideways"}, {"up", "extra"}} {
		if err := runMigrate(context.Background(), args, io.Discard); !errors.Is(err, errMigrateUsage) {
			t.Errorf("runMigrate(%q) error = %v, want usage error", args, err)
		}
	}
}

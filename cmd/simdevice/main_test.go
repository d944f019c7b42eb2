package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRun_RequiresBroker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("hub:\n  transport: memory\n"), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("TWINSYNC_CONFIG", path)

	if err := run(context.Background()); !errors.Is(err, errNeedsBroker) {
		t.Errorf("run() error = %v, want %v", err, errNeedsBroker)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("device:\n  id: \"\"\n"), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("TWINSYNC_CONFIG", path)

	if err := run(context.Background()); err == nil {
		t.Fatal("run() should fail without a device ID")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("TWINSYNC_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
	t.Setenv("TWINSYNC_CONFIG", "/etc/twinsync/device.toml")
	if got := getConfigPath(); got != "/etc/twinsync/device.toml" {
		t.Errorf("getConfigPath() = %q, want override", got)
	}
}

package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20261001_090000_create_kv.up.sql":   {Data: []byte("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT);")},
		"20261001_090000_create_kv.down.sql": {Data: []byte("DROP TABLE kv;")},
		"20261002_090000_add_log.up.sql":     {Data: []byte("CREATE TABLE log (id INTEGER PRIMARY KEY, line TEXT);")},
		"20261002_090000_add_log.down.sql":   {Data: []byte("DROP TABLE log;")},
		"README.md":                          {Data: []byte("not a migration")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master query: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "kv") || !tableExists(t, db, "log") {
		t.Fatal("migrated tables missing")
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d pending = %d, want 2 and 0", len(applied), len(pending))
	}

	// Idempotent
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "log") {
		t.Error("latest migration was not rolled back")
	}
	if !tableExists(t, db, "kv") {
		t.Error("earlier migration was rolled back")
	}

	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "add_log" {
		t.Errorf("pending = %+v, want [add_log]", pending)
	}
}

func TestMigrateDown_NothingApplied(t *testing.T) {
	db := openTestDB(t)
	if err := db.MigrateDown(context.Background(), testMigrations()); err != nil {
		t.Errorf("MigrateDown() error = %v", err)
	}
}

func TestMigrate_NoMigrations(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(context.Background(), fstest.MapFS{}); err != nil {
		t.Errorf("Migrate(empty) error = %v", err)
	}
	if err := db.Migrate(context.Background(), nil); err != nil {
		t.Errorf("Migrate(nil) error = %v", err)
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"20261001_090000_ok.up.sql":  {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"20261002_090000_bad.up.sql": {Data: []byte("CREATE TABLE half (id INTEGER); NOT SQL;")},
	}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() expected error for invalid SQL")
	}
	if !tableExists(t, db, "ok") {
		t.Error("earlier migration should stay committed")
	}

	applied, _, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("applied = %d, want 1", len(applied))
	}
}

func TestLoadMigrations_Order(t *testing.T) {
	migrations, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("len = %d, want 2", len(migrations))
	}
	if migrations[0].Version != "20261001_090000" || migrations[1].Version != "20261002_090000" {
		t.Errorf("versions = %s, %s", migrations[0].Version, migrations[1].Version)
	}
	if migrations[0].DownSQL == "" {
		t.Error("down SQL not loaded")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{name: "valid up", filename: "20261017_120000_twins.up.sql", wantVersion: "20261017_120000", wantIsUp: true, wantOk: true},
		{name: "valid down", filename: "20261017_120000_twins.down.sql", wantVersion: "20261017_120000", wantOk: true},
		{name: "not sql file", filename: "readme.txt"},
		{name: "missing direction", filename: "20261017_120000_twins.sql"},
		{name: "invalid format", filename: "invalid.up.sql"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && (version != tt.wantVersion || isUp != tt.wantIsUp) {
				t.Errorf("got (%q, %v), want (%q, %v)", version, isUp, tt.wantVersion, tt.wantIsUp)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20261017_120000_twins.up.sql", "twins"},
		{"20261017_120100_twin_history.down.sql", "twin_history"},
	}
	for _, tt := range tests {
		if got := extractMigrationName(tt.filename); got != tt.want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

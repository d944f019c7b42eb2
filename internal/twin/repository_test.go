package twin

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/infrastructure/database"
	"github.com/browniz421/twinsync/migrations"
)

// setupTestDB opens an in-memory database with the twin schema applied.
func setupTestDB(t *testing.T) *database.DB {
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
	return db
}

func TestSQLiteRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t).DB)

	tw := New("MyTwinDevice", testNow)
	tw.Desired = decode(t, `{"patchId":"init","components":{"climate":{"maxTemperature":"76"}}}`)
	tw.DesiredVersion = 1

	if err := repo.Create(ctx, tw); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.Get(ctx, "MyTwinDevice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if diff := cmp.Diff(tw, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	if err := repo.Create(ctx, tw); !errors.Is(err, ErrTwinExists) {
		t.Errorf("second Create() error = %v, want ErrTwinExists", err)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrTwinNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrTwinNotFound", err)
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t).DB)

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if err := repo.Create(ctx, New(id, testNow)); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	twins, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var ids []string
	for _, tw := range twins {
		ids = append(ids, tw.DeviceID)
	}
	if diff := cmp.Diff([]string{"alpha", "bravo", "charlie"}, ids); diff != "" {
		t.Errorf("List() order mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteRepository_Save(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t).DB)

	tw := New("dev", testNow)
	if err := repo.Create(ctx, tw); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	next, _, err := ApplyDesired(tw, json.RawMessage(`{"fanOn":"true"}`), testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("ApplyDesired() error = %v", err)
	}

	t.Run("matching versions", func(t *testing.T) {
		if err := repo.Save(ctx, next, 0, 0); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := repo.Get(ctx, "dev")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.DesiredVersion != 1 || got.Desired["fanOn"] != "true" {
			t.Errorf("saved twin = %+v", got)
		}
	})

	t.Run("stale versions", func(t *testing.T) {
		if err := repo.Save(ctx, next, 0, 0); !errors.Is(err, ErrVersionConflict) {
			t.Errorf("Save() error = %v, want ErrVersionConflict", err)
		}
	})

	t.Run("missing twin", func(t *testing.T) {
		ghost := New("ghost", testNow)
		if err := repo.Save(ctx, ghost, 0, 0); !errors.Is(err, ErrTwinNotFound) {
			t.Errorf("Save() error = %v, want ErrTwinNotFound", err)
		}
	})
}

func TestSQLiteRepository_Delete(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	history := NewSQLiteHistoryRepository(db.DB)

	if err := repo.Create(ctx, New("dev", testNow)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := history.Record(ctx, "dev", SideDesired, 1, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if err := repo.Delete(ctx, "dev"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "dev"); !errors.Is(err, ErrTwinNotFound) {
		t.Errorf("second Delete() error = %v, want ErrTwinNotFound", err)
	}

	entries, err := history.List(ctx, "dev", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("history survived twin delete: %v", entries)
	}
}

// =============================================================================
// History
// =============================================================================

func TestSQLiteHistoryRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	if err := NewSQLiteRepository(db.DB).Create(ctx, New("dev", testNow)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	history := NewSQLiteHistoryRepository(db.DB)
	clock := testNow
	history.now = func() time.Time { return clock }

	for v := int64(1); v <= 3; v++ {
		clock = clock.Add(time.Minute)
		if err := history.Record(ctx, "dev", SideDesired, v, json.RawMessage(`{"patchId":"p"}`)); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := history.Record(ctx, "dev", SideReported, 1, nil); err != nil {
		t.Fatalf("Record(nil patch) error = %v", err)
	}

	entries, err := history.List(ctx, "dev", 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(entries))
	}
	if entries[0].Side != SideReported || string(entries[0].Patch) != "null" {
		t.Errorf("newest entry = %+v, want reported null", entries[0])
	}
	if entries[1].Version != 3 || !entries[1].RecordedAt.Equal(testNow.Add(3*time.Minute)) {
		t.Errorf("second entry = %+v", entries[1])
	}

	if err := history.Record(ctx, "dev", Side("sideways"), 1, nil); err == nil {
		t.Error("Record() accepted an unknown side")
	}
	if err := history.Record(ctx, "", SideDesired, 1, nil); !errors.Is(err, ErrInvalidDeviceID) {
		t.Errorf("Record(empty id) error = %v, want ErrInvalidDeviceID", err)
	}

	t.Run("prune", func(t *testing.T) {
		clock = testNow.Add(time.Hour)
		// Entries were recorded at +1..+4 minutes; keep the last 58 minutes.
		n, err := history.Prune(ctx, 58*time.Minute)
		if err != nil {
			t.Fatalf("Prune() error = %v", err)
		}
		if n != 1 {
			t.Errorf("Prune() deleted %d, want 1", n)
		}
		if _, err := history.Prune(ctx, 0); err == nil {
			t.Error("Prune(0) should fail")
		}
	})
}

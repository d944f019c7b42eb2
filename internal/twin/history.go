package twin

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HistoryEntry is one applied patch, kept as a local audit trail.
type HistoryEntry struct {
	ID         int64           `json:"id"`
	DeviceID   string          `json:"deviceId"`
	Side       Side            `json:"side"`
	Version    int64           `json:"version"`
	Patch      json.RawMessage `json:"patch"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// HistoryRepository stores and retrieves applied patches.
type HistoryRepository interface {
	// Record stores a patch applied to one side of a twin.
	Record(ctx context.Context, deviceID string, side Side, version int64, patch json.RawMessage) error

	// List returns up to limit entries for deviceID, newest first.
	// limit <= 0 selects the default (50); values above 200 are clamped.
	List(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error)
}

// SQLiteHistoryRepository implements HistoryRepository on twin_history.
type SQLiteHistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteHistoryRepository creates a history repository on an open,
// migrated database.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db, now: time.Now}
}

// Record inserts a history entry.
func (r *SQLiteHistoryRepository) Record(ctx context.Context, deviceID string, side Side, version int64, patch json.RawMessage) error {
	if deviceID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDeviceID)
	}
	if !side.Valid() {
		return fmt.Errorf("twin: unknown side %q", side)
	}
	if len(patch) == 0 {
		patch = jsonNull
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO twin_history (device_id, side, version, patch, recorded_at) VALUES (?, ?, ?, ?, ?)",
		deviceID, string(side), version, string(patch), formatTime(r.now()),
	)
	if err != nil {
		return fmt.Errorf("inserting twin history: %w", err)
	}
	return nil
}

// List returns recent history entries for a device, newest first.
func (r *SQLiteHistoryRepository) List(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, side, version, patch, recorded_at
		 FROM twin_history
		 WHERE device_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying twin history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			e          HistoryEntry
			side       string
			patch      string
			recordedAt string
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &side, &e.Version, &patch, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning twin history: %w", err)
		}
		e.Side = Side(side)
		e.Patch = json.RawMessage(patch)
		if e.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating twin history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded more than olderThan ago.
func (r *SQLiteHistoryRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := formatTime(r.now().Add(-olderThan))
	res, err := r.db.ExecContext(ctx, "DELETE FROM twin_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting twin history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

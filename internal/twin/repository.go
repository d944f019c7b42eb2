package twin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository defines twin persistence.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns the twin for deviceID or ErrTwinNotFound.
	Get(ctx context.Context, deviceID string) (*Twin, error)

	// List returns every twin ordered by device ID.
	List(ctx context.Context) ([]Twin, error)

	// Create inserts t. Returns ErrTwinExists when the device already has one.
	Create(ctx context.Context, t *Twin) error

	// Save overwrites t when the stored versions still equal the expected
	// ones. Returns ErrVersionConflict when another write got there first
	// and ErrTwinNotFound when the twin is gone.
	Save(ctx context.Context, t *Twin, expectedDesired, expectedReported int64) error

	// Delete removes the twin for deviceID or returns ErrTwinNotFound.
	Delete(ctx context.Context, deviceID string) error
}

// SQLiteRepository implements Repository on the twins table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectTwin = `
	SELECT device_id, desired, reported, desired_version, reported_version, created_at, updated_at
	FROM twins`

// Get returns the twin for deviceID.
func (r *SQLiteRepository) Get(ctx context.Context, deviceID string) (*Twin, error) {
	row := r.db.QueryRowContext(ctx, selectTwin+" WHERE device_id = ?", deviceID)
	t, err := scanTwin(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTwinNotFound
		}
		return nil, fmt.Errorf("querying twin: %w", err)
	}
	return t, nil
}

// List returns every twin ordered by device ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Twin, error) {
	rows, err := r.db.QueryContext(ctx, selectTwin+" ORDER BY device_id")
	if err != nil {
		return nil, fmt.Errorf("querying twins: %w", err)
	}
	defer rows.Close()

	var twins []Twin
	for rows.Next() {
		t, err := scanTwin(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning twin: %w", err)
		}
		twins = append(twins, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating twins: %w", err)
	}
	return twins, nil
}

// Create inserts a new twin.
func (r *SQLiteRepository) Create(ctx context.Context, t *Twin) error {
	desired, reported, err := marshalSides(t)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO twins (device_id, desired, reported, desired_version, reported_version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.DeviceID, desired, reported, t.DesiredVersion, t.ReportedVersion,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return ErrTwinExists
		}
		return fmt.Errorf("inserting twin: %w", err)
	}
	return nil
}

// Save overwrites a twin under an optimistic version check.
func (r *SQLiteRepository) Save(ctx context.Context, t *Twin, expectedDesired, expectedReported int64) error {
	desired, reported, err := marshalSides(t)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE twins
		 SET desired = ?, reported = ?, desired_version = ?, reported_version = ?, updated_at = ?
		 WHERE device_id = ? AND desired_version = ? AND reported_version = ?`,
		desired, reported, t.DesiredVersion, t.ReportedVersion, formatTime(t.UpdatedAt),
		t.DeviceID, expectedDesired, expectedReported,
	)
	if err != nil {
		return fmt.Errorf("updating twin: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing matched: either the row is gone or the versions moved on.
	if _, err := r.Get(ctx, t.DeviceID); err != nil {
		return err
	}
	return ErrVersionConflict
}

// Delete removes a twin.
func (r *SQLiteRepository) Delete(ctx context.Context, deviceID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM twins WHERE device_id = ?", deviceID)
	if err != nil {
		return fmt.Errorf("deleting twin: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrTwinNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTwin(row rowScanner) (*Twin, error) {
	var (
		t                    Twin
		desired, reported    string
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.DeviceID, &desired, &reported, &t.DesiredVersion, &t.ReportedVersion, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(desired), &t.Desired); err != nil {
		return nil, fmt.Errorf("decoding desired: %w", err)
	}
	if err := json.Unmarshal([]byte(reported), &t.Reported); err != nil {
		return nil, fmt.Errorf("decoding reported: %w", err)
	}
	if t.Desired == nil {
		t.Desired = Properties{}
	}
	if t.Reported == nil {
		t.Reported = Properties{}
	}

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalSides(t *Twin) (desired, reported string, err error) {
	d, err := json.Marshal(t.Desired.DeepCopy())
	if err != nil {
		return "", "", fmt.Errorf("marshalling desired: %w", err)
	}
	r, err := json.Marshal(t.Reported.DeepCopy())
	if err != nil {
		return "", "", fmt.Errorf("marshalling reported: %w", err)
	}
	return string(d), string(r), nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// isConstraintError reports a primary key or unique constraint violation.
func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

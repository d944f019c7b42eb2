package twin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides twin management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// Reads take the cache lock only. Writes are serialised by writeMu so each
// twin has a single writer, and the repository's version check guards
// against writers outside this process.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	history HistoryRepository

	cache   map[string]*Twin
	loaded  bool
	cacheMu sync.RWMutex

	writeMu sync.Mutex

	logger Logger
	now    func() time.Time
}

// NewRegistry creates a registry over repo. history may be nil, in which
// case patches are not recorded.
func NewRegistry(repo Repository, history HistoryRepository) *Registry {
	return &Registry{
		repo:    repo,
		history: history,
		cache:   make(map[string]*Twin),
		logger:  noopLogger{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Refresh reloads every twin from the repository into the cache.
// Call it on startup.
func (r *Registry) Refresh(ctx context.Context) error {
	twins, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading twins: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Twin, len(twins))
	for i := range twins {
		r.cache[twins[i].DeviceID] = twins[i].DeepCopy()
	}
	r.loaded = true

	r.logger.Info("twin cache refreshed", "count", len(twins))
	return nil
}

// Get returns a deep copy of the twin for deviceID, or ErrTwinNotFound.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Twin, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[deviceID]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	t, err := r.repo.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	r.store(t)
	return t, nil
}

// List returns deep copies of every twin ordered by device ID.
func (r *Registry) List(ctx context.Context) ([]Twin, error) {
	r.cacheMu.RLock()
	if r.loaded {
		twins := make([]Twin, 0, len(r.cache))
		for _, t := range r.cache {
			twins = append(twins, *t.DeepCopy())
		}
		r.cacheMu.RUnlock()
		sort.Slice(twins, func(i, j int) bool { return twins[i].DeviceID < twins[j].DeviceID })
		return twins, nil
	}
	r.cacheMu.RUnlock()

	return r.repo.List(ctx)
}

// Create registers an empty twin for deviceID.
// Returns ErrTwinExists when the device already has one.
func (r *Registry) Create(ctx context.Context, deviceID string) (*Twin, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	t := New(deviceID, r.now())
	if err := r.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	r.store(t)

	r.logger.Info("twin created", "device_id", deviceID)
	return t.DeepCopy(), nil
}

// GetOrCreate returns the twin for deviceID, creating an empty one when
// none exists. created reports which happened.
func (r *Registry) GetOrCreate(ctx context.Context, deviceID string) (t *Twin, created bool, err error) {
	t, err = r.Get(ctx, deviceID)
	if err == nil {
		return t, false, nil
	}
	if !errors.Is(err, ErrTwinNotFound) {
		return nil, false, err
	}

	t, err = r.Create(ctx, deviceID)
	if errors.Is(err, ErrTwinExists) {
		// Lost a race with another creator.
		t, err = r.Get(ctx, deviceID)
		return t, false, err
	}
	return t, err == nil, err
}

// UpdateDesired applies a desired merge patch (or null reset) to a twin.
//
// Parameters:
//   - ctx: Context for cancellation
//   - deviceID: Twin to update
//   - desiredPatch: RFC 7386 merge patch, or JSON null
//   - ifVersion: Required current desired version, or AnyVersion
//
// Returns:
//   - *Twin: The updated twin (deep copy)
//   - DesiredDelta: The message to forward to the device
//   - error: ErrTwinNotFound, ErrVersionConflict, ErrInvalidPatch or a
//     repository error
func (r *Registry) UpdateDesired(ctx context.Context, deviceID string, desiredPatch json.RawMessage, ifVersion int64) (*Twin, DesiredDelta, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current, err := r.Get(ctx, deviceID)
	if err != nil {
		return nil, DesiredDelta{}, err
	}
	if ifVersion != AnyVersion && ifVersion != current.DesiredVersion {
		return nil, DesiredDelta{}, fmt.Errorf("%w: desired version is %d, not %d", ErrVersionConflict, current.DesiredVersion, ifVersion)
	}

	next, delta, err := ApplyDesired(current, desiredPatch, r.now())
	if err != nil {
		return nil, DesiredDelta{}, err
	}
	if err := r.save(ctx, next, current); err != nil {
		return nil, DesiredDelta{}, err
	}
	r.record(ctx, deviceID, SideDesired, next.DesiredVersion, delta.Patch)

	r.logger.Debug("desired properties updated", "device_id", deviceID, "version", next.DesiredVersion, "reset", delta.Reset)
	return next.DeepCopy(), delta, nil
}

// UpdateReported applies a reported merge patch to a twin.
func (r *Registry) UpdateReported(ctx context.Context, deviceID string, reportedPatch json.RawMessage) (*Twin, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current, err := r.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	next, err := ApplyReported(current, reportedPatch, r.now())
	if err != nil {
		return nil, err
	}
	if err := r.save(ctx, next, current); err != nil {
		return nil, err
	}
	r.record(ctx, deviceID, SideReported, next.ReportedVersion, compact(reportedPatch))

	r.logger.Debug("reported properties updated", "device_id", deviceID, "version", next.ReportedVersion)
	return next.DeepCopy(), nil
}

// Delete removes a twin.
func (r *Registry) Delete(ctx context.Context, deviceID string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.Delete(ctx, deviceID); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, deviceID)
	r.cacheMu.Unlock()

	r.logger.Info("twin deleted", "device_id", deviceID)
	return nil
}

// History returns recent patches applied to deviceID, newest first.
func (r *Registry) History(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error) {
	if _, err := r.Get(ctx, deviceID); err != nil {
		return nil, err
	}
	if r.history == nil {
		return []HistoryEntry{}, nil
	}
	return r.history.List(ctx, deviceID, limit)
}

func (r *Registry) save(ctx context.Context, next, current *Twin) error {
	err := r.repo.Save(ctx, next, current.DesiredVersion, current.ReportedVersion)
	if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrTwinNotFound) {
		// The cache is stale; drop the entry so the next read reloads it.
		r.cacheMu.Lock()
		delete(r.cache, next.DeviceID)
		r.cacheMu.Unlock()
	}
	if err != nil {
		return err
	}
	r.store(next)
	return nil
}

// record writes a history entry. Failures are logged, not returned: the
// twin itself is already saved.
func (r *Registry) record(ctx context.Context, deviceID string, side Side, version int64, patch json.RawMessage) {
	if r.history == nil {
		return
	}
	if err := r.history.Record(ctx, deviceID, side, version, patch); err != nil {
		r.logger.Warn("recording twin history failed", "device_id", deviceID, "side", side, "error", err)
	}
}

func (r *Registry) store(t *Twin) {
	r.cacheMu.Lock()
	r.cache[t.DeviceID] = t.DeepCopy()
	r.cacheMu.Unlock()
}

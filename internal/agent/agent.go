package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/browniz421/twinsync/internal/reconcile"
	"github.com/browniz421/twinsync/internal/telemetry"
	"github.com/browniz421/twinsync/internal/twin"
)

// Desired property keys the device acts on.
const (
	keyPatchID        = "patchId"
	keyFanOn          = "fanOn"
	keyComponents     = "components"
	keyClimate        = "climate"
	keyMinTemperature = "minTemperature"
	keyMaxTemperature = "maxTemperature"
)

// deltaQueueSize bounds deltas buffered between the bus and the Run loop.
const deltaQueueSize = 64

// TwinClient is the device's connection to the hub.
type TwinClient interface {
	// GetTwin fetches the device's full twin.
	GetTwin(ctx context.Context) (*twin.Twin, error)

	// SubscribeDesired delivers every desired delta to fn until ctx ends.
	SubscribeDesired(ctx context.Context, fn func(twin.DesiredDelta)) error

	// PublishReported sends a reported-properties merge patch and returns
	// once the hub acknowledged it.
	PublishReported(ctx context.Context, patch json.RawMessage) error
}

// Logger defines the logging interface used by the Agent.
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

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the agent's logger.
func WithLogger(l Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithObserver adds an observer. Observers are called in the order added.
func WithObserver(o Observer) Option {
	return func(a *Agent) { a.observers = append(a.observers, o) }
}

// WithRecorder sets the telemetry recorder for reconciliation events.
func WithRecorder(r telemetry.Recorder) Option {
	return func(a *Agent) { a.recorder = r }
}

// Agent is a simulated device mirroring its desired twin properties.
//
// Thread Safety: HandleDelta serialises on an internal mutex, so the
// component registry has a single writer.
type Agent struct {
	deviceID  string
	client    TwinClient
	logger    Logger
	observers observers
	recorder  telemetry.Recorder

	mu         sync.Mutex
	synced     bool
	version    int64
	created    time.Time
	desired    twin.Properties
	components reconcile.Registry
	reported   Reported
}

// New creates an agent for deviceID reporting firmwareVersion.
func New(deviceID, firmwareVersion string, client TwinClient, opts ...Option) *Agent {
	a := &Agent{
		deviceID:   deviceID,
		client:     client,
		logger:     noopLogger{},
		recorder:   telemetry.Nop{},
		desired:    twin.Properties{},
		components: reconcile.NewRegistry(),
		reported:   Reported{FirmwareVersion: firmwareVersion},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run connects the device and handles desired deltas until ctx is done.
//
// It subscribes first so no delta committed during the twin fetch is lost,
// then syncs to the fetched twin (reporting its state) and processes queued
// and later deltas in order of arrival. A failed delta is logged and does
// not stop the loop.
//
// Returns:
//   - error: nil when ctx is cancelled; ErrNotRegistered or a transport
//     error when the initial sync fails
func (a *Agent) Run(ctx context.Context) error {
	queue := make(chan twin.DesiredDelta, deltaQueueSize)
	err := a.client.SubscribeDesired(ctx, func(d twin.DesiredDelta) {
		select {
		case queue <- d:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to desired properties: %w", err)
	}

	if err := a.Sync(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-queue:
			if err := a.HandleDelta(ctx, d); err != nil {
				a.logger.Error("handling desired delta failed", "device_id", a.deviceID, "version", d.Version, "error", err)
			}
		}
	}
}

// Sync fetches the twin and converges on its full desired state: the
// component mirror is reconciled to the desired components and the
// reported properties are derived from the desired values.
func (a *Agent) Sync(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.resync(ctx); err != nil {
		return err
	}
	a.observers.connected(a.deviceID)
	return nil
}

// HandleDelta applies one desired delta and publishes the resulting
// reported properties.
//
// A delta at or below the current desired version of the same twin is
// stale and ignored. The device resyncs from the full twin instead when a
// delta skips versions, belongs to a twin registered anew, or goes
// backwards without saying which twin it belongs to.
//
// Returns:
//   - error: ErrInvalidDelta, reconcile.ErrMissingFullState, or
//     ErrPublishFailed wrapping the transport error
func (a *Agent) HandleDelta(ctx context.Context, d twin.DesiredDelta) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.synced && !d.Created.IsZero() && !d.Created.Equal(a.created) {
		a.logger.Warn("device twin re-registered, resyncing", "device_id", a.deviceID, "version", d.Version)
		return a.resync(ctx)
	}
	if a.synced && d.Version < a.version && d.Created.IsZero() {
		a.logger.Warn("desired version went backwards, resyncing", "device_id", a.deviceID, "version", d.Version, "current", a.version)
		return a.resync(ctx)
	}
	if a.synced && d.Version <= a.version {
		a.logger.Debug("ignoring stale delta", "device_id", a.deviceID, "version", d.Version, "current", a.version)
		return nil
	}
	if a.synced && d.Version > a.version+1 {
		a.logger.Warn("desired deltas missed, resyncing", "device_id", a.deviceID, "version", d.Version, "current", a.version)
		return a.resync(ctx)
	}

	var keys map[string]json.RawMessage
	desired := twin.Properties{}
	if !d.Reset {
		if err := json.Unmarshal(d.Patch, &keys); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDelta, err)
		}
		merged, err := twin.MergeInto(a.desired, d.Patch)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDelta, err)
		}
		desired = merged
	}
	patchID, hasPatchID := patchIDOf(keys)
	a.observers.deltaReceived(d, patchID, hasPatchID)

	components, hasComponents := reconcile.Delta{}, false
	if d.Reset {
		components, hasComponents = reconcile.NullDelta(), true
	} else if raw, ok := keys[keyComponents]; ok {
		parsed, err := reconcile.ParseDelta(raw)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDelta, err)
		}
		components, hasComponents = parsed, true
	}

	if err := a.apply(ctx, keys, desired, components, hasComponents); err != nil {
		return err
	}
	a.version = d.Version
	a.synced = true
	return nil
}

// resync adopts the fetched twin as if all its desired properties had just
// arrived. a.mu must be held.
func (a *Agent) resync(ctx context.Context) error {
	t, err := a.client.GetTwin(ctx)
	if err != nil {
		return fmt.Errorf("fetching twin: %w", err)
	}
	a.logger.Info("device twin fetched", "device_id", a.deviceID, "desired_version", t.DesiredVersion)

	raw, err := json.Marshal(t.Desired)
	if err != nil {
		return fmt.Errorf("encoding desired properties: %w", err)
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDelta, err)
	}

	desired := t.Desired.DeepCopy()
	full, err := fullComponents(desired)
	if err != nil {
		return err
	}
	components := reconcile.Inverse(full, a.components)

	if err := a.apply(ctx, keys, desired, components, true); err != nil {
		return err
	}
	a.version = t.DesiredVersion
	a.created = t.CreatedAt
	a.synced = true
	return nil
}

// apply dispatches the keys present in a desired patch against the full
// desired state and publishes the reported properties. Nothing changes when
// reconciliation or publishing fails. a.mu must be held.
func (a *Agent) apply(ctx context.Context, keys map[string]json.RawMessage, desired twin.Properties, components reconcile.Delta, hasComponents bool) error {
	next := a.reported

	// patchId: acknowledge it, or forget everything when it is missing.
	patchID, hasPatchID := patchIDOf(keys)
	if hasPatchID {
		next.LastPatchReceivedID = patchID
	} else {
		next.markUnknown()
	}

	// fanOn: report the desired value.
	if raw, ok := keys[keyFanOn]; ok {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("%w: fanOn: %w", ErrInvalidDelta, err)
		}
		next.FanOn = Unknown
		if truthy(v) {
			next.FanOn = text(v)
		}
		a.observers.fanChanged(next.FanOn)
	}

	// components: reconcile the mirror and pick up climate limits.
	mirror := a.components
	if hasComponents {
		full, err := fullComponents(desired)
		if err != nil {
			return err
		}
		var events []reconcile.Event
		mirror, events, err = a.reconcile(ctx, components, full)
		if err != nil {
			return err
		}
		for _, ev := range events {
			a.logger.Debug("component changed", "device_id", a.deviceID, "component", ev.Name, "kind", ev.Kind.String())
			a.recorder.ReconcileEvent(ctx, a.deviceID, ev)
			a.observers.componentChanged(ev)
		}
		a.applyClimate(components, full, &next)
	}

	if err := a.publish(ctx, next); err != nil {
		return err
	}
	a.desired = desired
	a.components = mirror
	return nil
}

func patchIDOf(keys map[string]json.RawMessage) (string, bool) {
	raw, ok := keys[keyPatchID]
	if !ok {
		return "", false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil || !truthy(v) {
		return "", false
	}
	return text(v), true
}

func (a *Agent) reconcile(ctx context.Context, delta reconcile.Delta, full reconcile.Registry) (reconcile.Registry, []reconcile.Event, error) {
	start := time.Now()
	next, events, err := reconcile.Reconcile(a.components, delta, full)
	a.recorder.Reconciled(ctx, a.deviceID, time.Since(start), err)
	if err != nil {
		return nil, nil, fmt.Errorf("reconciling components: %w", err)
	}
	return next, events, nil
}

// applyClimate reports both climate limits from the full desired state
// when the delta set either of them.
func (a *Agent) applyClimate(delta reconcile.Delta, full reconcile.Registry, next *Reported) {
	v, ok := delta.Get(keyClimate)
	if !ok || v.IsDelete() {
		return
	}
	fields := v.Fields()
	if !truthy(fields[keyMinTemperature]) && !truthy(fields[keyMaxTemperature]) {
		return
	}

	climate := full[keyClimate]
	next.MinTemperature = text(climate[keyMinTemperature])
	next.MaxTemperature = text(climate[keyMaxTemperature])
	a.observers.climateChanged(next.MinTemperature, next.MaxTemperature)
}

// fullComponents returns the desired components as a reconcile registry.
func fullComponents(desired twin.Properties) (reconcile.Registry, error) {
	full := reconcile.NewRegistry()
	raw, ok := desired[keyComponents]
	if !ok || raw == nil {
		return full, nil
	}
	components, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: components must be an object", ErrInvalidDelta)
	}
	for name, v := range components {
		if v == nil {
			continue
		}
		fields, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: component %q must be an object", ErrInvalidDelta, name)
		}
		full[name] = reconcile.Component(fields).Clone()
	}
	return full, nil
}

func (a *Agent) publish(ctx context.Context, next Reported) error {
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding reported properties: %w", err)
	}
	if err := a.client.PublishReported(ctx, payload); err != nil {
		a.observers.reportFailed(err)
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	a.reported = next
	a.observers.reportedSent(next)
	return nil
}

// Reported returns the last reported properties the hub acknowledged.
func (a *Agent) Reported() Reported {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reported
}

// Components returns a copy of the mirrored component registry.
func (a *Agent) Components() reconcile.Registry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.components.Clone()
}

// DesiredVersion returns the desired version the agent has applied.
func (a *Agent) DesiredVersion() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version
}

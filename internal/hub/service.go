package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/browniz421/twinsync/internal/bus"
	"github.com/browniz421/twinsync/internal/telemetry"
	"github.com/browniz421/twinsync/internal/twin"
)

// handlerTimeout bounds the registry update and reply publish for one
// incoming bus message.
const handlerTimeout = 10 * time.Second

// Logger defines the logging interface used by the Service.
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

// Service routes twin traffic between service clients and devices.
//
// Thread Safety: all methods are safe for concurrent use. Listeners are
// called synchronously from the goroutine that applied the patch and must
// not block.
type Service struct {
	registry *twin.Registry
	bus      bus.Bus
	recorder telemetry.Recorder
	logger   Logger
	topics   bus.Topics

	autoRegister bool

	listeners []func(twin.Change)
	listenMu  sync.RWMutex

	baseCtx context.Context
	started bool
	startMu sync.Mutex
}

// NewService creates a hub service.
//
// Parameters:
//   - registry: Twin registry holding every device twin
//   - b: Bus carrying deltas, reported patches and twin requests
//   - recorder: Telemetry sink for applied patches (may be nil)
//   - logger: Logger instance (may be nil)
func NewService(registry *twin.Registry, b bus.Bus, recorder telemetry.Recorder, logger Logger) *Service {
	if recorder == nil {
		recorder = telemetry.Nop{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{
		registry: registry,
		bus:      b,
		recorder: recorder,
		logger:   logger,
		baseCtx:  context.Background(),
	}
}

// SetAutoRegister controls whether a get request from an unknown device
// creates an empty twin for it.
func (s *Service) SetAutoRegister(enabled bool) {
	s.startMu.Lock()
	s.autoRegister = enabled
	s.startMu.Unlock()
}

// OnChange registers fn to be called after every applied patch.
func (s *Service) OnChange(fn func(twin.Change)) {
	s.listenMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenMu.Unlock()
}

// Start subscribes to reported patches and twin requests from every device.
// ctx bounds the handling of incoming messages, not the subscriptions.
func (s *Service) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.baseCtx = ctx

	if err := s.bus.Subscribe(s.topics.AllReported(), s.handleReported); err != nil {
		return fmt.Errorf("subscribing to reported patches: %w", err)
	}
	if err := s.bus.Subscribe(s.topics.AllGet(), s.handleGet); err != nil {
		_ = s.bus.Unsubscribe(s.topics.AllReported()) //nolint:errcheck // best-effort rollback
		return fmt.Errorf("subscribing to twin requests: %w", err)
	}
	s.started = true

	s.logger.Info("hub service started", "auto_register", s.autoRegister)
	return nil
}

// Stop removes the bus subscriptions made by Start.
func (s *Service) Stop() error {
	s.startMu.Lock()
	if !s.started {
		s.startMu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	s.startMu.Unlock()

	// Unsubscribe waits for in-flight handlers, which take startMu.
	return errors.Join(
		s.bus.Unsubscribe(s.topics.AllReported()),
		s.bus.Unsubscribe(s.topics.AllGet()),
	)
}

// Twin returns the twin for deviceID.
func (s *Service) Twin(ctx context.Context, deviceID string) (*twin.Twin, error) {
	return s.registry.Get(ctx, deviceID)
}

// Twins returns every twin ordered by device ID.
func (s *Service) Twins(ctx context.Context) ([]twin.Twin, error) {
	return s.registry.List(ctx)
}

// History returns the most recent patches applied to deviceID.
func (s *Service) History(ctx context.Context, deviceID string, limit int) ([]twin.HistoryEntry, error) {
	return s.registry.History(ctx, deviceID, limit)
}

// Register creates an empty twin for deviceID.
func (s *Service) Register(ctx context.Context, deviceID string) (*twin.Twin, error) {
	return s.registry.Create(ctx, deviceID)
}

// Deregister deletes the twin for deviceID.
func (s *Service) Deregister(ctx context.Context, deviceID string) error {
	return s.registry.Delete(ctx, deviceID)
}

// UpdateDesired applies a desired patch and publishes the delta to the device.
//
// Parameters:
//   - ctx: Context for cancellation
//   - deviceID: Twin to update
//   - patch: The properties.desired merge patch, or JSON null to reset
//   - ifVersion: Required current desired version, or twin.AnyVersion
//
// Returns:
//   - *twin.Twin: The updated twin
//   - error: registry errors (ErrTwinNotFound, ErrVersionConflict,
//     ErrInvalidPatch), or ErrDeltaNotDelivered together with the saved twin
//     when publishing failed. Delivery is not retried.
func (s *Service) UpdateDesired(ctx context.Context, deviceID string, patch json.RawMessage, ifVersion int64) (*twin.Twin, error) {
	t, delta, err := s.registry.UpdateDesired(ctx, deviceID, patch, ifVersion)
	if err != nil {
		return nil, err
	}
	s.recorder.TwinPatch(ctx, deviceID, twin.SideDesired, delta.Version, len(delta.Patch))
	s.notify(twin.Change{
		DeviceID: deviceID,
		Side:     twin.SideDesired,
		Version:  delta.Version,
		Patch:    delta.Patch,
		Twin:     t,
	})

	payload, err := json.Marshal(delta)
	if err != nil {
		return t, fmt.Errorf("%w: encoding delta: %w", ErrDeltaNotDelivered, err)
	}
	if err := s.bus.Publish(ctx, s.topics.Desired(deviceID), payload); err != nil {
		s.logger.Warn("publishing desired delta failed", "device_id", deviceID, "version", delta.Version, "error", err)
		return t, fmt.Errorf("%w: %w", ErrDeltaNotDelivered, err)
	}

	s.logger.Debug("desired delta published", "device_id", deviceID, "version", delta.Version, "reset", delta.Reset)
	return t, nil
}

func (s *Service) handleReported(topic string, payload []byte) error {
	deviceID, err := bus.DeviceFromTopic(topic)
	if err != nil {
		return err
	}
	var msg bus.ReportedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: reported from %s: %w", ErrInvalidMessage, deviceID, err)
	}

	ctx, cancel := s.handlerContext()
	defer cancel()

	ack := bus.Ack{RequestID: msg.RequestID, Status: bus.StatusOK}
	t, err := s.registry.UpdateReported(ctx, deviceID, msg.Patch)
	if err != nil {
		ack.Status = statusFor(err)
		ack.Error = err.Error()
		s.logger.Warn("reported patch rejected", "device_id", deviceID, "request_id", msg.RequestID, "error", err)
	} else {
		ack.Version = t.ReportedVersion
		s.recorder.TwinPatch(ctx, deviceID, twin.SideReported, t.ReportedVersion, len(msg.Patch))
		s.notify(twin.Change{
			DeviceID: deviceID,
			Side:     twin.SideReported,
			Version:  t.ReportedVersion,
			Patch:    msg.Patch,
			Twin:     t,
		})
	}

	return s.reply(ctx, s.topics.Ack(deviceID), ack)
}

func (s *Service) handleGet(topic string, payload []byte) error {
	deviceID, err := bus.DeviceFromTopic(topic)
	if err != nil {
		return err
	}
	var req bus.GetRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: get from %s: %w", ErrInvalidMessage, deviceID, err)
	}

	ctx, cancel := s.handlerContext()
	defer cancel()

	var t *twin.Twin
	if s.autoRegisterEnabled() {
		var created bool
		t, created, err = s.registry.GetOrCreate(ctx, deviceID)
		if created {
			s.logger.Info("device registered on first twin request", "device_id", deviceID)
		}
	} else {
		t, err = s.registry.Get(ctx, deviceID)
	}

	res := bus.GetResponse{RequestID: req.RequestID, Status: bus.StatusOK, Twin: t}
	if err != nil {
		res.Status = statusFor(err)
		res.Error = err.Error()
	}
	return s.reply(ctx, s.topics.Res(deviceID), res)
}

func (s *Service) reply(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding reply for %s: %w", topic, err)
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("publishing reply to %s: %w", topic, err)
	}
	return nil
}

func (s *Service) handlerContext() (context.Context, context.CancelFunc) {
	s.startMu.Lock()
	base := s.baseCtx
	s.startMu.Unlock()
	return context.WithTimeout(base, handlerTimeout)
}

func (s *Service) autoRegisterEnabled() bool {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	return s.autoRegister
}

func (s *Service) notify(c twin.Change) {
	s.listenMu.RLock()
	defer s.listenMu.RUnlock()
	for _, fn := range s.listeners {
		fn(c)
	}
}

// statusFor maps registry errors onto bus response statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, twin.ErrTwinNotFound):
		return bus.StatusNotFound
	case errors.Is(err, twin.ErrInvalidPatch), errors.Is(err, twin.ErrInvalidDeviceID):
		return bus.StatusBadRequest
	case errors.Is(err, twin.ErrVersionConflict):
		return bus.StatusConflict
	default:
		return bus.StatusError
	}
}

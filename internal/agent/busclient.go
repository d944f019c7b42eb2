package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/browniz421/twinsync/internal/bus"
	"github.com/browniz421/twinsync/internal/twin"
)

// DefaultRequestTimeout bounds how long the BusClient waits for the hub.
const DefaultRequestTimeout = 10 * time.Second

// BusClient is a TwinClient talking to the hub over a bus.Bus.
//
// Requests carry a fresh request ID and are matched to the hub's answer on
// the device's res and ack topics, which are subscribed on first use.
type BusClient struct {
	bus      bus.Bus
	deviceID string
	topics   bus.Topics
	timeout  time.Duration

	mu         sync.Mutex
	subscribed []string
	pending    map[string]chan []byte
}

// NewBusClient creates a client for deviceID. A timeout of zero uses
// DefaultRequestTimeout.
func NewBusClient(b bus.Bus, deviceID string, timeout time.Duration) *BusClient {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &BusClient{
		bus:      b,
		deviceID: deviceID,
		timeout:  timeout,
		pending:  make(map[string]chan []byte),
	}
}

// GetTwin asks the hub for the device's twin.
//
// Returns:
//   - *twin.Twin: The full twin
//   - error: ErrNotRegistered, ErrRejected, ErrTimeout or a bus error
func (c *BusClient) GetTwin(ctx context.Context) (*twin.Twin, error) {
	id := uuid.NewString()
	raw, err := c.request(ctx, c.topics.Get(c.deviceID), id, bus.GetRequest{RequestID: id})
	if err != nil {
		return nil, err
	}

	var resp bus.GetResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding twin response: %w", err)
	}
	switch {
	case resp.Status == bus.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, c.deviceID)
	case !resp.OK():
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.Status, resp.Error)
	case resp.Twin == nil:
		return nil, fmt.Errorf("%w: response has no twin", ErrRejected)
	}
	return resp.Twin, nil
}

// PublishReported sends a reported merge patch and waits for the hub's ack.
func (c *BusClient) PublishReported(ctx context.Context, patch json.RawMessage) error {
	id := uuid.NewString()
	raw, err := c.request(ctx, c.topics.Reported(c.deviceID), id, bus.ReportedMessage{RequestID: id, Patch: patch})
	if err != nil {
		return err
	}

	var ack bus.Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return fmt.Errorf("decoding ack: %w", err)
	}
	if !ack.OK() {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, ack.Status, ack.Error)
	}
	return nil
}

// SubscribeDesired delivers desired deltas for the device to fn until ctx
// is done. Undecodable deltas and deltas for other devices are dropped.
func (c *BusClient) SubscribeDesired(ctx context.Context, fn func(twin.DesiredDelta)) error {
	topic := c.topics.Desired(c.deviceID)
	err := c.bus.Subscribe(topic, func(_ string, payload []byte) error {
		var d twin.DesiredDelta
		if err := json.Unmarshal(payload, &d); err != nil {
			return fmt.Errorf("decoding desired delta: %w", err)
		}
		if d.DeviceID != "" && d.DeviceID != c.deviceID {
			return nil
		}
		fn(d)
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	go func() {
		<-ctx.Done()
		//nolint:errcheck // already unsubscribed when the client was closed
		c.bus.Unsubscribe(topic)
	}()
	return nil
}

// Close releases the client's response subscriptions and fails every
// pending request.
func (c *BusClient) Close() error {
	c.mu.Lock()
	topics := c.subscribed
	c.subscribed = nil
	pending := c.pending
	c.pending = make(map[string]chan []byte)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}

	var errs []error
	for _, topic := range topics {
		if err := c.bus.Unsubscribe(topic); err != nil && !errors.Is(err, bus.ErrNotSubscribed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// request publishes msg on topic and waits for the answer tagged with id.
func (c *BusClient) request(ctx context.Context, topic, id string, msg any) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	ch := make(chan []byte, 1)
	c.mu.Lock()
	err = c.subscribeLocked()
	if err == nil {
		c.pending[id] = ch
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer c.forget(id)

	if err := c.bus.Publish(ctx, topic, payload); err != nil {
		return nil, fmt.Errorf("publishing to %s: %w", topic, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case raw, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: client closed", ErrTimeout)
		}
		return raw, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no answer on %s after %s", ErrTimeout, topic, c.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// subscribeLocked subscribes to the res and ack topics once.
// c.mu must be held.
func (c *BusClient) subscribeLocked() error {
	if len(c.subscribed) > 0 {
		return nil
	}
	for _, topic := range []string{c.topics.Res(c.deviceID), c.topics.Ack(c.deviceID)} {
		if err := c.bus.Subscribe(topic, c.deliver); err != nil {
			for _, t := range c.subscribed {
				//nolint:errcheck // best-effort rollback
				c.bus.Unsubscribe(t)
			}
			c.subscribed = nil
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		c.subscribed = append(c.subscribed, topic)
	}
	return nil
}

// deliver routes an answer to the request waiting for it.
func (c *BusClient) deliver(_ string, payload []byte) error {
	var envelope struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("decoding answer: %w", err)
	}

	c.mu.Lock()
	ch, ok := c.pending[envelope.RequestID]
	delete(c.pending, envelope.RequestID)
	c.mu.Unlock()
	if ok {
		ch <- payload
	}
	return nil
}

func (c *BusClient) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

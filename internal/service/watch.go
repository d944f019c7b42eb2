package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/browniz421/twinsync/internal/api"
	"github.com/browniz421/twinsync/internal/twin"
)

const (
	watchBuffer      = 64
	subscribeTimeout = 5 * time.Second
)

// Watch streams every desired and reported change applied to deviceID
// until ctx is done. The channel is closed when the stream ends.
//
// Watch returns once the hub has confirmed the subscription, so every
// change committed after Watch returns is delivered.
func (c *Client) Watch(ctx context.Context, deviceID string) (<-chan twin.Change, error) {
	wsURL := "ws" + strings.TrimPrefix(c.url, "http") + apiPrefix + "/ws"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // Upgrade response body carries nothing
	}
	if err != nil {
		if resp != nil {
			return nil, responseError(resp.StatusCode, nil)
		}
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}

	if err := subscribe(conn, deviceID); err != nil {
		conn.Close() //nolint:errcheck // Already failing
		return nil, err
	}

	changes := make(chan twin.Change, watchBuffer)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close() //nolint:errcheck // Unblocks the reader
	}()

	go func() {
		defer close(changes)
		defer close(done)
		for {
			var msg api.WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != api.WSTypeEvent {
				continue
			}
			var change twin.Change
			if err := json.Unmarshal(msg.Payload, &change); err != nil {
				continue
			}
			select {
			case changes <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return changes, nil
}

// subscribe asks for both change channels of deviceID and waits for the
// hub's confirmation.
func subscribe(conn *websocket.Conn, deviceID string) error {
	payload, err := json.Marshal(api.WSSubscribePayload{
		Channels: []string{api.ChannelDesiredChanged, api.ChannelReportedChanged},
		Devices:  []string{deviceID},
	})
	if err != nil {
		return fmt.Errorf("encoding subscription: %w", err)
	}

	id := uuid.NewString()
	if err := conn.WriteJSON(api.WSMessage{Type: api.WSTypeSubscribe, ID: id, Payload: payload}); err != nil {
		return fmt.Errorf("sending subscription: %w", err)
	}

	//nolint:errcheck // A failed deadline surfaces on the read below
	conn.SetReadDeadline(time.Now().Add(subscribeTimeout))
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck // Cleared before streaming

	for {
		var msg api.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("waiting for subscription: %w", err)
		}
		if msg.ID != id {
			continue
		}
		switch msg.Type {
		case api.WSTypeResponse:
			return nil
		case api.WSTypeError:
			return fmt.Errorf("%w: subscription refused: %s", ErrRequestFailed, msg.Payload)
		}
	}
}

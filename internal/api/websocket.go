package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/infrastructure/logging"
	"github.com/browniz421/twinsync/internal/twin"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Change channels a watcher can subscribe to.
const (
	ChannelDesiredChanged  = "twin.desired_changed"
	ChannelReportedChanged = "twin.reported_changed"
)

// feedBufferSize is the number of events queued per watcher before events
// for it are dropped.
const feedBufferSize = 256

var errUnknownChannel = errors.New("unknown channel")

// ChannelFor returns the event channel for changes to one side of a twin.
func ChannelFor(side twin.Side) string {
	if side == twin.SideReported {
		return ChannelReportedChanged
	}
	return ChannelDesiredChanged
}

// WSMessage is the envelope of every WebSocket frame in both directions.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe messages.
// Devices narrows events to the listed device IDs; empty means all devices.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices,omitempty"`
}

// =============================================================================
// Feed
// =============================================================================

// Feed fans twin changes out to WebSocket watchers.
type Feed struct {
	logger *logging.Logger

	mu       sync.RWMutex
	watchers map[*watcher]struct{}

	dropped atomic.Int64
}

// NewFeed creates an empty feed.
func NewFeed(logger *logging.Logger) *Feed {
	return &Feed{
		logger:   logger,
		watchers: make(map[*watcher]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every watcher.
func (f *Feed) Run(ctx context.Context) {
	<-ctx.Done()

	f.mu.Lock()
	defer f.mu.Unlock()
	for w := range f.watchers {
		close(w.send)
		w.conn.Close() //nolint:errcheck // Shutting down
		delete(f.watchers, w)
	}
}

func (f *Feed) add(w *watcher) {
	f.mu.Lock()
	f.watchers[w] = struct{}{}
	n := len(f.watchers)
	f.mu.Unlock()
	f.logger.Debug("twin watcher connected", "watchers", n)
}

// remove drops w. Only the caller that finds w still registered closes its
// send channel, so remove and Run never double-close.
func (f *Feed) remove(w *watcher) {
	f.mu.Lock()
	_, ok := f.watchers[w]
	delete(f.watchers, w)
	n := len(f.watchers)
	f.mu.Unlock()

	if ok {
		close(w.send)
	}
	f.logger.Debug("twin watcher disconnected", "watchers", n)
}

// Publish sends c to every watcher subscribed to its channel and device.
func (f *Feed) Publish(c twin.Change) {
	channel := ChannelFor(c.Side)
	payload, err := json.Marshal(c)
	if err != nil {
		f.logger.Error("encoding twin change failed", "device_id", c.DeviceID, "error", err)
		return
	}
	frame, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: timestamp(),
		Payload:   payload,
	})
	if err != nil {
		f.logger.Error("encoding twin change failed", "device_id", c.DeviceID, "error", err)
		return
	}

	f.mu.RLock()
	targets := make([]*watcher, 0, len(f.watchers))
	for w := range f.watchers {
		if w.filter.admits(channel, c.DeviceID) {
			targets = append(targets, w)
		}
	}
	f.mu.RUnlock()

	for _, w := range targets {
		if !w.enqueue(frame) {
			f.dropped.Add(1)
			f.logger.Warn("twin watcher too slow, change dropped", "device_id", c.DeviceID, "version", c.Version)
		}
	}
}

// Watchers returns the number of connected watchers.
func (f *Feed) Watchers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.watchers)
}

// Dropped returns the number of changes dropped for slow watchers.
func (f *Feed) Dropped() int64 {
	return f.dropped.Load()
}

// =============================================================================
// Subscription Filter
// =============================================================================

// filter holds a watcher's channel and device subscriptions.
type filter struct {
	mu       sync.RWMutex
	channels map[string]struct{}
	devices  map[string]struct{}
}

func newFilter() *filter {
	return &filter{
		channels: make(map[string]struct{}),
		devices:  make(map[string]struct{}),
	}
}

// update adds or removes the subscription. Unknown channels reject the
// whole request.
func (f *filter) update(sub WSSubscribePayload, add bool) error {
	for _, ch := range sub.Channels {
		if ch != ChannelDesiredChanged && ch != ChannelReportedChanged {
			return fmt.Errorf("%w %q", errUnknownChannel, ch)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range sub.Channels {
		if add {
			f.channels[ch] = struct{}{}
		} else {
			delete(f.channels, ch)
		}
	}
	for _, id := range sub.Devices {
		if add {
			f.devices[id] = struct{}{}
		} else {
			delete(f.devices, id)
		}
	}
	return nil
}

func (f *filter) admits(channel, deviceID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, ok := f.channels[channel]; !ok {
		return false
	}
	if len(f.devices) == 0 {
		return true
	}
	_, ok := f.devices[deviceID]
	return ok
}

// =============================================================================
// Watcher Connection
// =============================================================================

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// watcher is one WebSocket connection.
type watcher struct {
	feed   *Feed
	conn   *websocket.Conn
	send   chan []byte
	filter *filter
}

// handleWebSocket upgrades the request and starts the watcher's pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	wt := &watcher{
		feed:   s.feed,
		conn:   conn,
		send:   make(chan []byte, feedBufferSize),
		filter: newFilter(),
	}
	s.feed.add(wt)

	go wt.writeLoop(s.wsCfg)
	go wt.readLoop(s.wsCfg)
}

// readLoop handles client frames until the connection fails or closes.
func (w *watcher) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		w.feed.remove(w)
		w.conn.Close() //nolint:errcheck // Connection is done
	}()

	alive := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return w.conn.SetReadDeadline(time.Now().Add(alive)) }

	w.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // A failed deadline surfaces on the next read
	w.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.feed.logger.Warn("twin watcher read failed", "error", err)
			}
			return
		}
		extend() //nolint:errcheck // A failed deadline surfaces on the next read
		w.handle(data)
	}
}

// writeLoop drains the send queue and pings the client.
func (w *watcher) writeLoop(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		w.conn.Close() //nolint:errcheck // Connection is done
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		if err := w.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return w.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, ok := <-w.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // Closing anyway
				return
			}
			if err := write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle answers one client frame.
func (w *watcher) handle(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		w.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		add := msg.Type == WSTypeSubscribe
		var sub WSSubscribePayload
		if err := json.Unmarshal(msg.Payload, &sub); err != nil {
			w.reply(msg.ID, WSTypeError, errorPayload("invalid subscription payload"))
			return
		}
		if err := w.filter.update(sub, add); err != nil {
			w.reply(msg.ID, WSTypeError, errorPayload(err.Error()))
			return
		}
		key := "unsubscribed"
		if add {
			key = "subscribed"
			w.feed.logger.Debug("twin watcher subscribed", "channels", sub.Channels, "devices", sub.Devices)
		}
		w.reply(msg.ID, WSTypeResponse, map[string]any{key: sub.Channels, "devices": sub.Devices})
	case WSTypePing:
		w.reply(msg.ID, WSTypePong, nil)
	default:
		w.reply(msg.ID, WSTypeError, errorPayload("unknown message type: "+msg.Type))
	}
}

// reply queues a response frame.
func (w *watcher) reply(id, msgType string, payload any) {
	msg := WSMessage{Type: msgType, ID: id, Timestamp: timestamp()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		msg.Payload = raw
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	w.enqueue(frame)
}

// enqueue queues frame without blocking. It reports false when the queue
// is full. A watcher removed mid-send is treated as delivered.
func (w *watcher) enqueue(frame []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = true
		}
	}()

	select {
	case w.send <- frame:
		return true
	default:
		return false
	}
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

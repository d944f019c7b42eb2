package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gocloud.dev/gcerrors"
	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/mempubsub"
)

const (
	// metadataTopic carries the twin topic of a message on the shared
	// pubsub topic.
	metadataTopic = "topic"

	memAckDeadline     = time.Minute
	memShutdownTimeout = 5 * time.Second
)

// MemBus is an in-process Bus over a single gocloud.dev mempubsub topic.
// Every subscription receives every message and keeps the ones whose twin
// topic matches its pattern.
//
// Handlers for one subscription run on that subscription's goroutine, so
// messages matching a pattern are handled one at a time.
type MemBus struct {
	topic *pubsub.Topic

	mu     sync.Mutex
	subs   map[string]*memSub
	closed bool

	logger Logger
}

type memSub struct {
	sub    *pubsub.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemBus creates an empty in-process bus.
func NewMemBus() *MemBus {
	return &MemBus{
		topic:  mempubsub.NewTopic(),
		subs:   make(map[string]*memSub),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for handler failures.
func (b *MemBus) SetLogger(logger Logger) {
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Publish sends payload to every subscription matching topic.
func (b *MemBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg := &pubsub.Message{
		Body:     payload,
		Metadata: map[string]string{metadataTopic: topic},
	}
	if err := b.topic.Send(ctx, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts delivering messages matching pattern to handler.
// Only messages published after Subscribe returns are delivered.
func (b *MemBus) Subscribe(pattern string, handler Handler) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, ok := b.subs[pattern]; ok {
		return ErrAlreadySubscribed
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &memSub{
		sub:    mempubsub.NewSubscription(b.topic, memAckDeadline),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.subs[pattern] = s
	go b.receive(ctx, s, pattern, handler)
	return nil
}

func (b *MemBus) receive(ctx context.Context, s *memSub, pattern string, handler Handler) {
	defer close(s.done)
	for {
		msg, err := s.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil && gcerrors.Code(err) != gcerrors.FailedPrecondition {
				b.getLogger().Error("membus receive failed", "pattern", pattern, "error", err)
			}
			return
		}
		msg.Ack()

		topic := msg.Metadata[metadataTopic]
		if !Match(pattern, topic) {
			continue
		}
		b.dispatch(handler, pattern, topic, msg.Body)
	}
}

func (b *MemBus) dispatch(handler Handler, pattern, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.getLogger().Error("membus handler panicked", "pattern", pattern, "topic", topic, "panic", r)
		}
	}()
	if err := handler(topic, payload); err != nil {
		b.getLogger().Warn("membus handler failed", "pattern", pattern, "topic", topic, "error", err)
	}
}

// Unsubscribe stops delivery for pattern and waits for its in-flight
// handler to return.
func (b *MemBus) Unsubscribe(pattern string) error {
	b.mu.Lock()
	s, ok := b.subs[pattern]
	delete(b.subs, pattern)
	b.mu.Unlock()
	if !ok {
		return ErrNotSubscribed
	}
	return b.stop(s)
}

func (b *MemBus) stop(s *memSub) error {
	s.cancel()
	<-s.done

	ctx, cancel := context.WithTimeout(context.Background(), memShutdownTimeout)
	defer cancel()
	return s.sub.Shutdown(ctx)
}

// Close stops every subscription and shuts the topic down.
// Safe to call more than once.
func (b *MemBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*memSub)
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := b.stop(s); err != nil {
			errs = append(errs, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), memShutdownTimeout)
	defer cancel()
	if err := b.topic.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *MemBus) getLogger() Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logger
}

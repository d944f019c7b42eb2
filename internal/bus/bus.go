package bus

import "context"

// Handler processes one message. A returned error is logged by the
// transport; it never stops delivery of later messages.
type Handler func(topic string, payload []byte) error

// Bus is the transport between hub and devices.
//
// Subscribe accepts MQTT wildcard patterns. Each pattern holds at most one
// handler; subscribing twice returns ErrAlreadySubscribed.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler Handler) error
	Unsubscribe(topic string) error
}

// Logger is the logging surface the transports need.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

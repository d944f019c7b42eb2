package bus

import (
	"context"

	"github.com/browniz421/twinsync/internal/infrastructure/mqtt"
)

// mqttClient is the part of *mqtt.Client that MQTTBus uses.
type mqttClient interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	HasSubscription(topic string) bool
	QoS() byte
}

// MQTTBus carries twin messages over an MQTT broker.
//
// Messages are published at the client's configured QoS and never
// retained: a delta is only meaningful to a device that is listening.
type MQTTBus struct {
	client mqttClient
}

// NewMQTTBus wraps a connected MQTT client.
func NewMQTTBus(client *mqtt.Client) *MQTTBus {
	return &MQTTBus{client: client}
}

// Publish sends payload on topic.
func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload, b.client.QoS(), false)
}

// Subscribe registers handler for topic, which may contain wildcards.
func (b *MQTTBus) Subscribe(topic string, handler Handler) error {
	if b.client.HasSubscription(topic) {
		return ErrAlreadySubscribed
	}
	return b.client.Subscribe(topic, b.client.QoS(), mqtt.MessageHandler(handler))
}

// Unsubscribe removes the handler for topic.
func (b *MQTTBus) Unsubscribe(topic string) error {
	if !b.client.HasSubscription(topic) {
		return ErrNotSubscribed
	}
	return b.client.Unsubscribe(topic)
}

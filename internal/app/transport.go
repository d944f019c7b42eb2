package app

import (
	"context"
	"fmt"

	"github.com/browniz421/twinsync/internal/bus"
	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/infrastructure/logging"
	"github.com/browniz421/twinsync/internal/infrastructure/mqtt"
)

// Transport names accepted in hub.transport.
const (
	TransportMQTT   = "mqtt"
	TransportMemory = "memory"
)

// Transport is a connected twin bus.
type Transport struct {
	Bus bus.Bus

	name   string
	health func(ctx context.Context) error
	close  func() error
}

// Name returns the transport name.
func (t *Transport) Name() string { return t.name }

// HealthCheck reports whether the transport can carry messages.
func (t *Transport) HealthCheck(ctx context.Context) error {
	if t.health == nil {
		return nil
	}
	return t.health(ctx)
}

// Close disconnects the transport.
func (t *Transport) Close() error {
	if t.close == nil {
		return nil
	}
	return t.close()
}

// MemoryTransport returns an in-process transport. Hub and devices must
// share the returned value.
func MemoryTransport(log *logging.Logger) *Transport {
	b := bus.NewMemBus()
	b.SetLogger(log)
	return &Transport{Bus: b, name: TransportMemory, close: b.Close}
}

// ConnectTransport connects the transport named by cfg.Hub.Transport.
//
// Parameters:
//   - cfg: Application configuration
//   - clientID: MQTT client ID, or "" for the configured one
//   - log: Logger for connection events
//
// Returns:
//   - *Transport: Connected transport
//   - error: If the broker is unreachable
func ConnectTransport(cfg *config.Config, clientID string, log *logging.Logger) (*Transport, error) {
	if cfg.Hub.Transport == TransportMemory {
		return MemoryTransport(log), nil
	}

	mqttCfg := cfg.MQTT
	if clientID != "" {
		mqttCfg.Broker.ClientID = clientID
	}
	client, err := mqtt.Connect(mqttCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", mqttCfg.Broker.Host, mqttCfg.Broker.Port),
		"client_id", mqttCfg.Broker.ClientID,
	)

	return &Transport{
		Bus:    bus.NewMQTTBus(client),
		name:   TransportMQTT,
		health: client.HealthCheck,
		close:  client.Close,
	}, nil
}

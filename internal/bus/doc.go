// Package bus carries twin messages between the hub and devices.
//
// The topic layout is fixed (see Topics). Two transports implement Bus:
// MQTTBus over the paho client in internal/infrastructure/mqtt, and MemBus,
// an in-process bus over gocloud.dev's mempubsub used by embedded mode and
// broker-free tests. Both accept MQTT-style wildcard subscriptions.
package bus

// Package mqtt provides MQTT client connectivity for twinsync.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees and context deadlines
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The twin hub and each device agent hold one client each. Twin documents
// and patches travel over the twinsync/devices/{id}/twin/... topic tree
// (see package bus); this package only knows about the per-client status
// topic used for presence.
//
//	twinhub ↔ MQTT broker ↔ simdevice
//
// # Security Considerations
//
//   - TLS should be enabled outside development (cfg.Broker.TLS=true)
//   - Credentials are checked against the broker ACL
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("twinsync/devices/+/twin/reported", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt

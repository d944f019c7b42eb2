package bus

import (
	"fmt"
	"strings"

	"github.com/browniz421/twinsync/internal/infrastructure/mqtt"
)

// Twin topic kinds, the last segment of every twin topic.
const (
	KindDesired  = "desired"
	KindReported = "reported"
	KindGet      = "get"
	KindRes      = "res"
	KindAck      = "ack"
)

// Topics provides builders for the twin topic layout:
//
//	twinsync/devices/{id}/twin/{kind}
type Topics struct{}

func (Topics) device(deviceID, kind string) string {
	return fmt.Sprintf("%s/devices/%s/twin/%s", mqtt.TopicPrefix, deviceID, kind)
}

// Desired is the hub -> device topic carrying DesiredDelta messages.
func (t Topics) Desired(deviceID string) string { return t.device(deviceID, KindDesired) }

// Reported is the device -> hub topic carrying ReportedMessage envelopes.
func (t Topics) Reported(deviceID string) string { return t.device(deviceID, KindReported) }

// Get is the device -> hub topic for full twin requests.
func (t Topics) Get(deviceID string) string { return t.device(deviceID, KindGet) }

// Res is the hub -> device topic answering Get requests.
func (t Topics) Res(deviceID string) string { return t.device(deviceID, KindRes) }

// Ack is the hub -> device topic acknowledging reported patches.
func (t Topics) Ack(deviceID string) string { return t.device(deviceID, KindAck) }

// AllReported matches the reported topic of every device.
//
// Pattern: twinsync/devices/+/twin/reported
func (t Topics) AllReported() string { return t.device("+", KindReported) }

// AllGet matches the get topic of every device.
//
// Pattern: twinsync/devices/+/twin/get
func (t Topics) AllGet() string { return t.device("+", KindGet) }

// Parse splits a concrete twin topic into its device ID and kind.
func (Topics) Parse(topic string) (deviceID, kind string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != mqtt.TopicPrefix || parts[1] != "devices" || parts[3] != "twin" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	deviceID, kind = parts[2], parts[4]
	if deviceID == "" || deviceID == "+" || deviceID == "#" {
		return "", "", fmt.Errorf("%w: %q has no device ID", ErrInvalidTopic, topic)
	}
	switch kind {
	case KindDesired, KindReported, KindGet, KindRes, KindAck:
	default:
		return "", "", fmt.Errorf("%w: unknown kind %q", ErrInvalidTopic, kind)
	}
	return deviceID, kind, nil
}

// DeviceFromTopic returns the device ID segment of a twin topic.
func DeviceFromTopic(topic string) (string, error) {
	id, _, err := Topics{}.Parse(topic)
	return id, err
}

// Match reports whether topic matches an MQTT subscription pattern.
// "+" matches exactly one level, and "#" as the final level matches the
// parent level and everything below it.
func Match(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")
	for i, seg := range p {
		if seg == "#" {
			return i == len(p)-1
		}
		if i >= len(t) {
			return false
		}
		if seg != "+" && seg != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}

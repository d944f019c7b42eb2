package mqtt

import "fmt"

// TopicPrefix is the root of every twinsync MQTT topic.
const TopicPrefix = "twinsync"

// Topics provides builders for the presence topics owned by this package.
// Twin topics are built by package bus.
type Topics struct{}

// ClientStatus returns the retained presence topic for a client.
//
// Example: twinsync/clients/twinsync-hub/status
func (Topics) ClientStatus(clientID string) string {
	return fmt.Sprintf("%s/clients/%s/status", TopicPrefix, clientID)
}

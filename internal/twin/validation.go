package twin

import (
	"fmt"
	"regexp"
)

const maxDeviceIDLength = 128

var deviceIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// ValidateDeviceID checks that id is usable as a device identity and as an
// MQTT topic level.
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDeviceID)
	}
	if len(id) > maxDeviceIDLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidDeviceID, maxDeviceIDLength)
	}
	if !deviceIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %q contains characters outside [A-Za-z0-9._:-]", ErrInvalidDeviceID, id)
	}
	return nil
}

package agent

import (
	"fmt"
	"strconv"
)

// Unknown is reported for values the device has lost track of, such as
// after the desired properties were reset.
const Unknown = "{unknown}"

// Reported is the reported-properties patch the device sends after handling
// a delta. Every field is always sent.
type Reported struct {
	FirmwareVersion     string `json:"firmwareVersion"`
	LastPatchReceivedID string `json:"lastPatchReceivedId"`
	FanOn               string `json:"fanOn"`
	MinTemperature      string `json:"minTemperature"`
	MaxTemperature      string `json:"maxTemperature"`
}

// markUnknown forgets every value that comes from desired properties.
func (r *Reported) markUnknown() {
	r.LastPatchReceivedID = Unknown
	r.FanOn = Unknown
	r.MinTemperature = Unknown
	r.MaxTemperature = Unknown
}

// truthy reports whether a decoded JSON value is non-empty: not null,
// false, zero or the empty string.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	default:
		return true
	}
}

// text renders a decoded JSON scalar as reported text. Strings are kept
// as-is; other values use their JSON spelling.
func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

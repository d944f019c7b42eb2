package twin

import (
	"encoding/json"
	"time"

	"github.com/browniz421/twinsync/internal/reconcile"
)

// Side names one half of a twin.
type Side string

const (
	SideDesired  Side = "desired"
	SideReported Side = "reported"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideDesired || s == SideReported
}

// AnyVersion disables the version precondition of Registry.UpdateDesired.
const AnyVersion int64 = -1

// Properties is a JSON object of twin properties.
type Properties map[string]any

// DeepCopy returns a copy sharing no nested maps or slices with p.
// A nil receiver yields an empty, non-nil map.
func (p Properties) DeepCopy() Properties {
	if p == nil {
		return Properties{}
	}
	return Properties(reconcile.Component(p).Clone())
}

// String returns the property at key when it is a string.
func (p Properties) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// Object returns the property at key when it is a JSON object.
func (p Properties) Object(key string) (map[string]any, bool) {
	v, ok := p[key].(map[string]any)
	return v, ok
}

// Twin is the hub's record of one device.
type Twin struct {
	DeviceID        string     `json:"deviceId"`
	Desired         Properties `json:"desired"`
	Reported        Properties `json:"reported"`
	DesiredVersion  int64      `json:"desiredVersion"`
	ReportedVersion int64      `json:"reportedVersion"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// New returns an empty twin for deviceID.
func New(deviceID string, now time.Time) *Twin {
	return &Twin{
		DeviceID:  deviceID,
		Desired:   Properties{},
		Reported:  Properties{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DeepCopy returns a copy of t sharing no property maps with it.
func (t *Twin) DeepCopy() *Twin {
	if t == nil {
		return nil
	}
	cpy := *t
	cpy.Desired = t.Desired.DeepCopy()
	cpy.Reported = t.Reported.DeepCopy()
	return &cpy
}

// DesiredDelta is what a device receives after a desired patch is applied.
//
// Patch is the merge patch as applied; Reset marks the null patch that
// cleared every desired property (Patch is then JSON null). Version is the
// desired version after the patch. Created is the twin's CreatedAt; it
// changes when the twin is deregistered and registered again, which restarts
// Version at zero.
type DesiredDelta struct {
	DeviceID string          `json:"deviceId"`
	Version  int64           `json:"version"`
	Created  time.Time       `json:"created,omitzero"`
	Reset    bool            `json:"reset,omitempty"`
	Patch    json.RawMessage `json:"patch"`
}

// Change describes an applied patch, for listeners such as the API change feed.
type Change struct {
	DeviceID string          `json:"deviceId"`
	Side     Side            `json:"side"`
	Version  int64           `json:"version"`
	Patch    json.RawMessage `json:"patch"`
	Twin     *Twin           `json:"twin"`
}

package twin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

var jsonNull = json.RawMessage("null")

// keyComponents is the desired member holding device components.
const keyComponents = "components"

// Patch is the service-side update document:
//
//	{"properties": {"desired": {...} | null}}
type Patch struct {
	Properties PatchProperties `json:"properties"`
}

// PatchProperties holds the desired merge patch of a Patch.
type PatchProperties struct {
	Desired json.RawMessage `json:"desired"`
}

// NewPatch builds a Patch whose desired section is desired marshalled to
// JSON. A nil desired yields a reset patch.
func NewPatch(desired any) (Patch, error) {
	if desired == nil {
		return Patch{Properties: PatchProperties{Desired: jsonNull}}, nil
	}
	raw, err := json.Marshal(desired)
	if err != nil {
		return Patch{}, fmt.Errorf("%w: %w", ErrInvalidPatch, err)
	}
	p := Patch{Properties: PatchProperties{Desired: raw}}
	if err := p.Validate(); err != nil {
		return Patch{}, err
	}
	return p, nil
}

// ParsePatch decodes and validates a service patch document.
func ParsePatch(raw []byte) (Patch, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return Patch{}, fmt.Errorf("%w: document must be a JSON object", ErrInvalidPatch)
	}
	propsRaw, ok := top["properties"]
	if !ok {
		return Patch{}, fmt.Errorf("%w: missing properties", ErrInvalidPatch)
	}
	var props map[string]json.RawMessage
	if err := json.Unmarshal(propsRaw, &props); err != nil || props == nil {
		return Patch{}, fmt.Errorf("%w: properties must be a JSON object", ErrInvalidPatch)
	}
	desired, ok := props["desired"]
	if !ok {
		return Patch{}, fmt.Errorf("%w: missing properties.desired", ErrInvalidPatch)
	}

	p := Patch{Properties: PatchProperties{Desired: desired}}
	if err := p.Validate(); err != nil {
		return Patch{}, err
	}
	return p, nil
}

// Validate checks that the desired section is null or a JSON object, and
// that its components member, if present, is null or an object whose
// members are each null or an object.
func (p Patch) Validate() error {
	return validateDesired(p.Properties.Desired)
}

func validateDesired(raw json.RawMessage) error {
	if isNull(raw) {
		return nil
	}
	if !isObject(raw) {
		return fmt.Errorf("%w: properties.desired must be an object or null", ErrInvalidPatch)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPatch, err)
	}
	components, ok := top[keyComponents]
	if !ok || isNull(components) {
		return nil
	}
	if !isObject(components) {
		return fmt.Errorf("%w: components must be an object or null", ErrInvalidPatch)
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(components, &members); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPatch, err)
	}
	for name, c := range members {
		if !isNull(c) && !isObject(c) {
			return fmt.Errorf("%w: component %q must be an object or null", ErrInvalidPatch, name)
		}
	}
	return nil
}

// IsReset reports whether the patch clears every desired property.
func (p Patch) IsReset() bool {
	return isNull(p.Properties.Desired)
}

// PatchID returns the desired patchId member, if any.
func (p Patch) PatchID() string {
	if p.IsReset() {
		return ""
	}
	var body struct {
		PatchID string `json:"patchId"`
	}
	_ = json.Unmarshal(p.Properties.Desired, &body) //nolint:errcheck // non-string patchId reads as empty
	return body.PatchID
}

// ApplyDesired merges desiredPatch into t's desired properties and returns
// the next twin plus the delta to forward to the device. A null patch
// resets desired to {}. t is not modified.
//
// Parameters:
//   - t: Current twin
//   - desiredPatch: RFC 7386 merge patch, or JSON null
//   - now: Timestamp recorded as UpdatedAt
//
// Returns:
//   - *Twin: Next twin with DesiredVersion incremented
//   - DesiredDelta: Message for the device
//   - error: ErrInvalidPatch when the patch is neither object nor null, or
//     its components member is malformed
func ApplyDesired(t *Twin, desiredPatch json.RawMessage, now time.Time) (*Twin, DesiredDelta, error) {
	if err := validateDesired(desiredPatch); err != nil {
		return nil, DesiredDelta{}, err
	}

	next := t.DeepCopy()
	next.DesiredVersion++
	next.UpdatedAt = now

	delta := DesiredDelta{DeviceID: t.DeviceID, Version: next.DesiredVersion, Created: t.CreatedAt}

	if isNull(desiredPatch) {
		next.Desired = Properties{}
		delta.Reset = true
		delta.Patch = jsonNull
		return next, delta, nil
	}

	merged, err := mergeProperties(t.Desired, desiredPatch)
	if err != nil {
		return nil, DesiredDelta{}, err
	}
	next.Desired = merged
	delta.Patch = compact(desiredPatch)
	return next, delta, nil
}

// ApplyReported merges reportedPatch into t's reported properties.
// Reported properties cannot be reset; a null patch is ErrInvalidPatch.
func ApplyReported(t *Twin, reportedPatch json.RawMessage, now time.Time) (*Twin, error) {
	merged, err := mergeProperties(t.Reported, reportedPatch)
	if err != nil {
		return nil, err
	}
	next := t.DeepCopy()
	next.Reported = merged
	next.ReportedVersion++
	next.UpdatedAt = now
	return next, nil
}

// MergeInto applies an RFC 7386 merge patch to props and returns the result.
// props is not modified.
func MergeInto(props Properties, patch json.RawMessage) (Properties, error) {
	return mergeProperties(props, patch)
}

// Diff returns the merge patch that turns before into after.
func Diff(before, after Properties) (json.RawMessage, error) {
	a, err := json.Marshal(before.DeepCopy())
	if err != nil {
		return nil, fmt.Errorf("marshalling properties: %w", err)
	}
	b, err := json.Marshal(after.DeepCopy())
	if err != nil {
		return nil, fmt.Errorf("marshalling properties: %w", err)
	}
	patch, err := jsonpatch.CreateMergePatch(a, b)
	if err != nil {
		return nil, fmt.Errorf("creating merge patch: %w", err)
	}
	return patch, nil
}

func mergeProperties(props Properties, patch json.RawMessage) (Properties, error) {
	if !isObject(patch) {
		return nil, fmt.Errorf("%w: patch must be a JSON object", ErrInvalidPatch)
	}
	doc, err := json.Marshal(props.DeepCopy())
	if err != nil {
		return nil, fmt.Errorf("marshalling properties: %w", err)
	}
	merged, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPatch, err)
	}
	out := Properties{}
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, fmt.Errorf("decoding merged properties: %w", err)
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

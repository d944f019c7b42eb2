package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/browniz421/twinsync/internal/twin"
)

// UnknownPatchID is what a device reports after its desired properties
// were reset.
const UnknownPatchID = "{unknown}"

// DefaultAckTimeout bounds how long RunScript waits for each acknowledgement.
const DefaultAckTimeout = 30 * time.Second

// Step is one scripted desired-properties patch.
type Step struct {
	// Name identifies the step in output.
	Name string

	// Desired is the merge patch for properties.desired, or JSON null for
	// a reset.
	Desired json.RawMessage
}

// IsReset reports whether the step clears every desired property.
func (s Step) IsReset() bool {
	return twin.Patch{Properties: twin.PatchProperties{Desired: s.Desired}}.IsReset()
}

// PatchID returns the patchId the device acknowledges once it applied the
// step. A reset, or a patch without a patchId, is acknowledged with
// UnknownPatchID.
func (s Step) PatchID() string {
	id := twin.Patch{Properties: twin.PatchProperties{Desired: s.Desired}}.PatchID()
	if id == "" {
		return UnknownPatchID
	}
	return id
}

// Script returns the standard device lifecycle: reset the desired
// properties, configure the system and climate components, turn the fan
// on, raise the maximum temperature, then add, update and remove a wifi
// component.
func Script() []Step {
	return []Step{
		{Name: "reset", Desired: json.RawMessage(`null`)},
		{Name: "init", Desired: json.RawMessage(`{
			"patchId": "initialise",
			"fanOn": "false",
			"components": {
				"system": {"id": "17", "units": "farenheit", "firmwareVersion": "9.75"},
				"climate": {"minTemperature": "68", "maxTemperature": "76"}
			}
		}`)},
		{Name: "fan-on", Desired: json.RawMessage(`{
			"patchId": "turn the fan on",
			"fanOn": "true"
		}`)},
		{Name: "max-temperature", Desired: json.RawMessage(`{
			"patchId": "set the maximum temperature",
			"components": {"climate": {"maxTemperature": "101"}}
		}`)},
		{Name: "add-wifi", Desired: json.RawMessage(`{
			"patchId": "add the wifi component",
			"components": {"wifi": {"channel": "6", "ssid": "my_network"}}
		}`)},
		{Name: "update-wifi", Desired: json.RawMessage(`{
			"patchId": "update the wifi component",
			"components": {"wifi": {"channel": "13", "ssid": "my_other_network"}}
		}`)},
		{Name: "delete-wifi", Desired: json.RawMessage(`{
			"patchId": "delete the wifi component",
			"components": {"wifi": null}
		}`)},
	}
}

// TwinAPI is the part of Client RunScript needs.
type TwinAPI interface {
	GetTwin(ctx context.Context, deviceID string) (*twin.Twin, error)
	UpdateDesired(ctx context.Context, deviceID string, desired json.RawMessage) (*twin.Twin, error)
	Watch(ctx context.Context, deviceID string) (<-chan twin.Change, error)
}

// RunOptions tunes RunScript.
type RunOptions struct {
	// AckTimeout bounds the wait for each step. Zero uses DefaultAckTimeout.
	AckTimeout time.Duration

	// Sent is called after a step's patch was applied by the hub.
	Sent func(step Step, t *twin.Twin)

	// Acked is called once the device acknowledged a step, with the twin
	// holding the acknowledging reported properties.
	Acked func(step Step, t *twin.Twin)
}

// RunScript sends each step's patch to deviceID and waits for the device
// to report the step's patch ID as lastPatchReceivedId before sending the
// next one.
//
// Returns:
//   - *twin.Twin: The twin after the last acknowledgement
//   - error: ErrAckTimeout naming the step, ErrWatchClosed, or a client error
func RunScript(ctx context.Context, c TwinAPI, deviceID string, steps []Step, opts RunOptions) (*twin.Twin, error) {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	changes, err := c.Watch(watchCtx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("watching %s: %w", deviceID, err)
	}

	current, err := c.GetTwin(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	for _, step := range steps {
		since := current.ReportedVersion

		t, err := c.UpdateDesired(ctx, deviceID, step.Desired)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.Name, err)
		}
		if opts.Sent != nil {
			opts.Sent(step, t)
		}

		current, err = awaitAck(ctx, changes, step, since, opts.AckTimeout)
		if err != nil {
			return nil, err
		}
		if opts.Acked != nil {
			opts.Acked(step, current)
		}
	}
	return current, nil
}

// awaitAck waits for a reported change newer than since whose
// lastPatchReceivedId matches the step.
func awaitAck(ctx context.Context, changes <-chan twin.Change, step Step, since int64, timeout time.Duration) (*twin.Twin, error) {
	want := step.PatchID()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				return nil, fmt.Errorf("step %s: %w", step.Name, ErrWatchClosed)
			}
			if acknowledges(change, want, since) {
				return change.Twin, nil
			}
		case <-timer.C:
			return nil, fmt.Errorf("%w: step %s waited %s for %q", ErrAckTimeout, step.Name, timeout, want)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func acknowledges(c twin.Change, patchID string, since int64) bool {
	if c.Side != twin.SideReported || c.Version <= since || c.Twin == nil {
		return false
	}
	got, _ := c.Twin.Reported.String("lastPatchReceivedId")
	return got == patchID
}

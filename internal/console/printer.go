package console

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	fcolor "github.com/fatih/color"

	"github.com/browniz421/twinsync/internal/agent"
	"github.com/browniz421/twinsync/internal/reconcile"
	"github.com/browniz421/twinsync/internal/service"
	"github.com/browniz421/twinsync/internal/twin"
)

// noPatchID is printed for deltas that carry no patchId.
const noPatchID = "{no patchId in patch}"

// style is one kind of output line.
type style struct {
	symbol string
	color  *fcolor.Color
}

// Printer writes device and script events to a terminal.
//
// Printer implements agent.Observer. Lines are written whole, so one
// Printer can be shared by the device and the script.
type Printer struct {
	w  io.Writer
	mu sync.Mutex

	info    style
	success style
	change  style
	warn    style
	fail    style
	title   style
}

// Option configures a Printer.
type Option func(*Printer)

// WithoutColor disables colour escapes.
func WithoutColor() Option {
	return func(p *Printer) {
		for _, s := range []style{p.info, p.success, p.change, p.warn, p.fail, p.title} {
			s.color.DisableColor()
		}
	}
}

// New creates a printer writing to w, or to stdout when w is nil.
func New(w io.Writer, opts ...Option) *Printer {
	if w == nil {
		w = os.Stdout
	}
	p := &Printer{
		w:       w,
		info:    style{symbol: "ℹ ", color: fcolor.New(fcolor.FgBlue)},
		success: style{symbol: "✔ ", color: fcolor.New(fcolor.FgGreen)},
		change:  style{symbol: "► ", color: fcolor.New(fcolor.FgYellow)},
		warn:    style{symbol: "⚠ ", color: fcolor.New(fcolor.FgYellow)},
		fail:    style{symbol: "✗ ", color: fcolor.New(fcolor.FgRed)},
		title:   style{symbol: "", color: fcolor.New(fcolor.Reset, fcolor.Bold)},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Printer) printf(s style, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	//nolint:errcheck // Console output is best-effort
	s.color.Fprintf(p.w, "%s%s\n", s.symbol, fmt.Sprintf(format, args...))
}

// =============================================================================
// Device Events
// =============================================================================

// Connected prints that the device synced to its twin.
func (p *Printer) Connected(deviceID string) {
	p.printf(p.success, "device %s connected", deviceID)
}

// DeltaReceived prints the patchId of a new delta.
func (p *Printer) DeltaReceived(d twin.DesiredDelta, patchID string, hasPatchID bool) {
	switch {
	case d.Reset:
		p.printf(p.change, "new desired properties (v%d): reset", d.Version)
	case hasPatchID:
		p.printf(p.change, "new desired properties (v%d): %s", d.Version, patchID)
	default:
		p.printf(p.change, "new desired properties (v%d): %s", d.Version, noPatchID)
	}
}

// ComponentChanged prints a component added, updated or deleted.
func (p *Printer) ComponentChanged(ev reconcile.Event) {
	if ev.Kind == reconcile.Deleted {
		p.printf(p.success, "component %s deleted", ev.Name)
		return
	}
	fields, err := json.Marshal(ev.Payload)
	if err != nil {
		fields = []byte("?")
	}
	p.printf(p.success, "component %s %s: %s", ev.Name, ev.Kind, fields)
}

// ClimateChanged prints the new climate limits.
func (p *Printer) ClimateChanged(minTemperature, maxTemperature string) {
	p.printf(p.success, "climate settings: minimum temperature %s, maximum temperature %s", minTemperature, maxTemperature)
}

// FanChanged prints the fan state.
func (p *Printer) FanChanged(fanOn string) {
	p.printf(p.success, "fan state: %s", fanOn)
}

// ReportedSent prints the reported properties the hub acknowledged.
func (p *Printer) ReportedSent(r agent.Reported) {
	payload, err := json.Marshal(r)
	if err != nil {
		payload = []byte("?")
	}
	p.printf(p.info, "reported properties sent: %s", payload)
}

// ReportFailed prints a failed report.
func (p *Printer) ReportFailed(err error) {
	p.printf(p.fail, "reported properties not sent: %v", err)
}

// =============================================================================
// Script Events
// =============================================================================

// StepSent prints a script step applied by the hub.
func (p *Printer) StepSent(step service.Step, t *twin.Twin) {
	if step.IsReset() {
		p.printf(p.change, "%s patch sent: desired properties reset (v%d)", step.Name, t.DesiredVersion)
		return
	}
	p.printf(p.change, "%s patch sent (v%d): %s", step.Name, t.DesiredVersion, compact(step.Desired))
}

// StepAcked prints a script step acknowledged by the device.
func (p *Printer) StepAcked(step service.Step, _ *twin.Twin) {
	p.printf(p.success, "%s acknowledged by device", step.Name)
}

// PrintReported dumps the device-reported properties of t under title.
func (p *Printer) PrintReported(title string, t *twin.Twin) {
	value := func(key string) string {
		v, ok := t.Reported[key]
		if !ok || v == nil {
			return "-"
		}
		return fmt.Sprint(v)
	}

	p.printf(p.title, "%s", title)
	p.printf(p.info, "last patch received: %s", value("lastPatchReceivedId"))
	p.printf(p.info, "firmware version: %s", value("firmwareVersion"))
	p.printf(p.info, "fan state: %s", value("fanOn"))
	p.printf(p.info, "minimum temperature: %s", value("minTemperature"))
	p.printf(p.info, "maximum temperature: %s", value("maxTemperature"))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	p.printf(p.warn, format, args...)
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	p.printf(p.fail, format, args...)
}

func compact(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

var _ agent.Observer = (*Printer)(nil)

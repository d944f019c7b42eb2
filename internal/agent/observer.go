package agent

import (
	"github.com/browniz421/twinsync/internal/reconcile"
	"github.com/browniz421/twinsync/internal/twin"
)

// Observer is notified of everything the agent does. Calls are made from
// the goroutine handling the delta and must not block.
type Observer interface {
	// Connected is called once the device has synced to its twin.
	Connected(deviceID string)

	// DeltaReceived is called for each applied delta. hasPatchID is false
	// when the delta carries no patchId.
	DeltaReceived(delta twin.DesiredDelta, patchID string, hasPatchID bool)

	// ComponentChanged is called for each component added, updated or deleted.
	ComponentChanged(ev reconcile.Event)

	// ClimateChanged is called when the climate limits change.
	ClimateChanged(minTemperature, maxTemperature string)

	// FanChanged is called when the desired fan state changes.
	FanChanged(fanOn string)

	// ReportedSent is called after reported properties were acknowledged.
	ReportedSent(r Reported)

	// ReportFailed is called when reported properties could not be published.
	ReportFailed(err error)
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// some methods.
type NopObserver struct{}

func (NopObserver) Connected(string)                              {}
func (NopObserver) DeltaReceived(twin.DesiredDelta, string, bool) {}
func (NopObserver) ComponentChanged(reconcile.Event)              {}
func (NopObserver) ClimateChanged(string, string)                 {}
func (NopObserver) FanChanged(string)                             {}
func (NopObserver) ReportedSent(Reported)                         {}
func (NopObserver) ReportFailed(error)                            {}

// observers fans calls out in registration order.
type observers []Observer

func (o observers) connected(id string) {
	for _, ob := range o {
		ob.Connected(id)
	}
}

func (o observers) deltaReceived(d twin.DesiredDelta, patchID string, has bool) {
	for _, ob := range o {
		ob.DeltaReceived(d, patchID, has)
	}
}

func (o observers) componentChanged(ev reconcile.Event) {
	for _, ob := range o {
		ob.ComponentChanged(ev)
	}
}

func (o observers) climateChanged(minT, maxT string) {
	for _, ob := range o {
		ob.ClimateChanged(minT, maxT)
	}
}

func (o observers) fanChanged(fanOn string) {
	for _, ob := range o {
		ob.FanChanged(fanOn)
	}
}

func (o observers) reportedSent(r Reported) {
	for _, ob := range o {
		ob.ReportedSent(r)
	}
}

func (o observers) reportFailed(err error) {
	for _, ob := range o {
		ob.ReportFailed(err)
	}
}

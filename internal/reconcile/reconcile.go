package reconcile

import (
	"fmt"
	"reflect"
)

// EventKind classifies a component transition.
type EventKind int

const (
	// Added means the component was Absent and is now Present.
	Added EventKind = iota + 1
	// Updated means the component was Present and received new fields.
	Updated
	// Deleted means the component was Present and is now Absent.
	Deleted
)

// String returns the lowercase name of the kind.
func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a transient notification describing one component transition.
// Payload holds the delta fields for Added and Updated, and is nil for Deleted.
type Event struct {
	Name    string
	Kind    EventKind
	Payload Component
}

// Reconcile applies delta to registry and returns the next registry plus one
// event per affected component, in delta order.
//
// fullState must hold the complete current value of every component the delta
// sets; that complete value (not the delta fields) is what gets stored. A set
// entry without a fullState counterpart is a contract violation: Reconcile
// returns ErrMissingFullState, a nil registry and no events.
//
// registry and fullState are never modified.
func Reconcile(registry Registry, delta Delta, fullState Registry) (Registry, []Event, error) {
	if delta.IsNull() {
		return NewRegistry(), nil, nil
	}

	next := registry.Clone()
	var events []Event
	var err error

	delta.Each(func(name string, v Value) {
		if err != nil {
			return
		}

		present := next.Has(name)
		if v.IsDelete() {
			if present {
				delete(next, name)
				events = append(events, Event{Name: name, Kind: Deleted})
			}
			return
		}

		full, ok := fullState[name]
		if !ok || full == nil {
			err = fmt.Errorf("%w: %q", ErrMissingFullState, name)
			return
		}

		kind := Added
		if present {
			kind = Updated
		}
		next[name] = full.Clone()
		events = append(events, Event{Name: name, Kind: kind, Payload: v.Fields().Clone()})
	})

	if err != nil {
		return nil, nil, err
	}
	return next, events, nil
}

// Inverse builds the delta that takes after back to before.
//
// Components present only in after are deleted, and components whose value
// differs (or that were removed) are set to their value in before. Applying
// the result with before as the full state restores before exactly. Entries
// are ordered by component name.
func Inverse(before, after Registry) Delta {
	d := NewDelta()

	union := make(Registry, len(before)+len(after))
	for name, c := range after {
		union[name] = c
	}
	for name, c := range before {
		union[name] = c
	}

	for _, name := range union.Names() {
		prev, had := before[name]
		_, has := after[name]
		switch {
		case !had && has:
			d = d.Delete(name)
		case had && !has:
			d = d.Set(name, prev.Clone())
		case had && has && !reflect.DeepEqual(prev, after[name]):
			d = d.Set(name, prev.Clone())
		}
	}
	return d
}

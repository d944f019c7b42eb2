// Package reconcile classifies desired-state deltas for a device's dynamic
// component collection.
//
// A device keeps a local mirror of every component it has acknowledged (the
// Registry). Each desired-property notification carries a partial view of the
// "components" section (the Delta). Reconcile diffs the delta against the
// registry and returns the next registry together with one Event per affected
// component:
//
//	Absent  --(Set)-->    Present   emits Added
//	Present --(Set)-->    Present   emits Updated
//	Present --(Delete)--> Absent    emits Deleted
//	Absent  --(Delete)--> Absent    no event
//
// A null delta container is a global reset: the registry is emptied and no
// per-component events are emitted.
//
// # Purity
//
// Reconcile performs no I/O and never mutates its inputs. Callers own the
// returned registry and must serialise calls for a given registry (single
// writer). The device agent does this by processing deltas on one goroutine.
//
// # Storage
//
// Event payloads carry only the fields present in the delta, but the registry
// stores the complete component taken from the caller's full desired state, so
// later deltas carrying a subset of fields are still diffed against the whole
// component.
//
// # Usage
//
//	delta, err := reconcile.ParseDelta(raw)
//	if err != nil {
//	    return err
//	}
//	next, events, err := reconcile.Reconcile(current, delta, fullComponents)
//	if err != nil {
//	    return err // contract violation, current is untouched
//	}
//	current = next
package reconcile

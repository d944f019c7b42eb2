package reconcile

import (
	"reflect"
	"sort"
)

// Component is the structured state of a single named component: a mapping of
// field names to JSON-compatible values.
type Component map[string]any

// Clone returns a deep copy of the component.
// Nested maps and slices are copied so the clone shares no memory with c.
func (c Component) Clone() Component {
	if c == nil {
		return nil
	}
	cpy := make(Component, len(c))
	for k, v := range c {
		cpy[k] = cloneValue(v)
	}
	return cpy
}

// cloneValue recursively copies JSON-shaped values.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return map[string]any(Component(val).Clone())
	case Component:
		return val.Clone()
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = cloneValue(elem)
		}
		return cpy
	default:
		return v
	}
}

// Registry is the device's local mirror of acknowledged components, keyed by
// component name. A present key always maps to a non-nil Component.
type Registry map[string]Component

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return make(Registry)
}

// Has reports whether the named component is Present.
func (r Registry) Has(name string) bool {
	_, ok := r[name]
	return ok
}

// Names returns the component names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the registry.
func (r Registry) Clone() Registry {
	cpy := make(Registry, len(r))
	for name, c := range r {
		cpy[name] = c.Clone()
	}
	return cpy
}

// Equal reports whether both registries hold the same components with equal
// field values.
func (r Registry) Equal(other Registry) bool {
	if len(r) != len(other) {
		return false
	}
	for name, c := range r {
		o, ok := other[name]
		if !ok || !reflect.DeepEqual(c, o) {
			return false
		}
	}
	return true
}

package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ValueKind discriminates the two states a component can take inside a delta.
// A component that is not mentioned at all is simply absent from the Delta.
type ValueKind int

const (
	// KindDelete is an explicit null: remove the component.
	KindDelete ValueKind = iota
	// KindSet carries a structured (partial or full) component value.
	KindSet
)

// String returns the lowercase name of the kind.
func (k ValueKind) String() string {
	switch k {
	case KindDelete:
		return "delete"
	case KindSet:
		return "set"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// Value is one component entry of a Delta.
type Value struct {
	kind   ValueKind
	fields Component
}

// SetValue returns a Value that sets a component to (at least) fields.
func SetValue(fields Component) Value {
	if fields == nil {
		fields = Component{}
	}
	return Value{kind: KindSet, fields: fields}
}

// DeleteValue returns a Value that deletes a component.
func DeleteValue() Value {
	return Value{kind: KindDelete}
}

// Kind returns the value's discriminator.
func (v Value) Kind() ValueKind { return v.kind }

// IsDelete reports whether the value is an explicit null.
func (v Value) IsDelete() bool { return v.kind == KindDelete }

// Fields returns the delta fields of a KindSet value, or nil for KindDelete.
func (v Value) Fields() Component { return v.fields }

// Delta is a partial update of the components collection. Entries keep the
// order in which they were added (for parsed deltas, document order).
//
// The zero Delta is an empty, non-null delta. Set and Delete on it allocate
// the entries, so keep the Delta they return. NullDelta is a global reset.
type Delta struct {
	null    bool
	entries *orderedmap.OrderedMap[string, Value]
}

// NewDelta returns an empty delta ready for Set and Delete.
func NewDelta() Delta {
	return Delta{entries: orderedmap.New[string, Value]()}
}

// NullDelta returns the null container, meaning every component is deleted.
func NullDelta() Delta {
	return Delta{null: true}
}

// Set adds a KindSet entry and returns d for chaining.
// Setting an existing name replaces its value but keeps its position.
func (d Delta) Set(name string, fields Component) Delta {
	d = d.ensure()
	d.entries.Set(name, SetValue(fields))
	return d
}

// Delete adds a KindDelete entry and returns d for chaining.
func (d Delta) Delete(name string) Delta {
	d = d.ensure()
	d.entries.Set(name, DeleteValue())
	return d
}

func (d Delta) ensure() Delta {
	if d.entries == nil {
		d.entries = orderedmap.New[string, Value]()
	}
	return d
}

// IsNull reports whether d is the null container.
func (d Delta) IsNull() bool { return d.null }

// Len returns the number of entries.
func (d Delta) Len() int {
	if d.entries == nil {
		return 0
	}
	return d.entries.Len()
}

// Get returns the entry for name.
func (d Delta) Get(name string) (Value, bool) {
	if d.entries == nil {
		return Value{}, false
	}
	return d.entries.Get(name)
}

// Keys returns entry names in delta order.
func (d Delta) Keys() []string {
	keys := make([]string, 0, d.Len())
	d.Each(func(name string, _ Value) {
		keys = append(keys, name)
	})
	return keys
}

// Each calls fn for every entry in delta order.
func (d Delta) Each(fn func(name string, v Value)) {
	if d.entries == nil {
		return
	}
	for pair := d.entries.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// ParseDelta decodes a JSON components delta.
//
// The document must be either null (global reset) or an object whose members
// are null (delete) or objects (set). Member order is preserved.
func ParseDelta(raw []byte) (Delta, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Delta{}, fmt.Errorf("%w: empty document", ErrInvalidDelta)
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return NullDelta(), nil
	}
	if trimmed[0] != '{' {
		return Delta{}, fmt.Errorf("%w: expected object or null", ErrInvalidDelta)
	}

	members := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(trimmed, members); err != nil {
		return Delta{}, fmt.Errorf("%w: %w", ErrInvalidDelta, err)
	}

	d := NewDelta()
	for pair := members.Oldest(); pair != nil; pair = pair.Next() {
		member := bytes.TrimSpace(pair.Value)
		if bytes.Equal(member, []byte("null")) {
			d = d.Delete(pair.Key)
			continue
		}
		var fields Component
		if err := json.Unmarshal(member, &fields); err != nil {
			return Delta{}, fmt.Errorf("%w: component %q: %w", ErrInvalidDelta, pair.Key, err)
		}
		d = d.Set(pair.Key, fields)
	}
	return d, nil
}

// MarshalJSON encodes the delta back to its JSON form, preserving order.
func (d Delta) MarshalJSON() ([]byte, error) {
	if d.null {
		return []byte("null"), nil
	}
	out := orderedmap.New[string, any]()
	d.Each(func(name string, v Value) {
		if v.IsDelete() {
			out.Set(name, nil)
			return
		}
		out.Set(name, v.fields)
	})
	return json.Marshal(out)
}

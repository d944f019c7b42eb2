package reconcile

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseDelta(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantNull bool
		wantKeys []string
		wantErr  error
	}{
		{name: "null container", raw: "null", wantNull: true, wantKeys: []string{}},
		{name: "null with whitespace", raw: "  null\n", wantNull: true, wantKeys: []string{}},
		{name: "empty object", raw: "{}", wantKeys: []string{}},
		{
			name:     "keeps document order",
			raw:      `{"wifi":{"channel":"6"},"climate":null,"system":{"id":"17"}}`,
			wantKeys: []string{"wifi", "climate", "system"},
		},
		{name: "empty document", raw: "", wantErr: ErrInvalidDelta},
		{name: "array", raw: `[1,2]`, wantErr: ErrInvalidDelta},
		{name: "scalar component", raw: `{"wifi":"on"}`, wantErr: ErrInvalidDelta},
		{name: "malformed", raw: `{"wifi":`, wantErr: ErrInvalidDelta},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDelta([]byte(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseDelta() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDelta() error = %v", err)
			}
			if d.IsNull() != tt.wantNull {
				t.Errorf("IsNull() = %v, want %v", d.IsNull(), tt.wantNull)
			}
			if diff := cmp.Diff(tt.wantKeys, d.Keys()); diff != "" {
				t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseDelta_Values(t *testing.T) {
	d, err := ParseDelta([]byte(`{"wifi":{"channel":"6","ssid":"my_network"},"climate":null}`))
	if err != nil {
		t.Fatalf("ParseDelta() error = %v", err)
	}

	wifi, ok := d.Get("wifi")
	if !ok {
		t.Fatal("Get(wifi) not found")
	}
	if wifi.Kind() != KindSet {
		t.Errorf("wifi kind = %s, want set", wifi.Kind())
	}
	if diff := cmp.Diff(Component{"channel": "6", "ssid": "my_network"}, wifi.Fields()); diff != "" {
		t.Errorf("wifi fields mismatch (-want +got):\n%s", diff)
	}

	climate, ok := d.Get("climate")
	if !ok {
		t.Fatal("Get(climate) not found")
	}
	if !climate.IsDelete() {
		t.Errorf("climate kind = %s, want delete", climate.Kind())
	}
	if climate.Fields() != nil {
		t.Errorf("climate fields = %v, want nil", climate.Fields())
	}

	if _, ok := d.Get("system"); ok {
		t.Error("Get(system) found, want absent")
	}
}

func TestDelta_MarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		delta Delta
		want  string
	}{
		{name: "null", delta: NullDelta(), want: "null"},
		{name: "zero value", delta: Delta{}, want: "{}"},
		{
			name:  "ordered entries",
			delta: NewDelta().Set("wifi", Component{"channel": "6"}).Delete("climate"),
			want:  `{"wifi":{"channel":"6"},"climate":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.delta.MarshalJSON()
			if err != nil {
				t.Fatalf("MarshalJSON() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("MarshalJSON() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDelta_ZeroValue(t *testing.T) {
	var d Delta
	if d.IsNull() {
		t.Error("zero Delta IsNull() = true, want false")
	}
	if d.Len() != 0 {
		t.Errorf("zero Delta Len() = %d, want 0", d.Len())
	}
	if _, ok := d.Get("x"); ok {
		t.Error("zero Delta Get() found entry")
	}

	got, events, err := Reconcile(Registry{"x": {"v": 1}}, d, nil)
	if err != nil {
		t.Fatalf("Reconcile(zero delta) error = %v", err)
	}
	if !got.Has("x") || len(events) != 0 {
		t.Errorf("Reconcile(zero delta) = (%v, %v), want registry unchanged and no events", got, events)
	}

	built := Delta{}.Set("wifi", Component{"channel": "6"}).Delete("x")
	if diff := cmp.Diff([]string{"wifi", "x"}, built.Keys()); diff != "" {
		t.Errorf("Keys() after Set/Delete on zero Delta mismatch (-want +got):\n%s", diff)
	}
	data, err := json.Marshal(built)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if want := `{"wifi":{"channel":"6"},"x":null}`; string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

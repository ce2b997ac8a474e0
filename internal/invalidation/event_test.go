package invalidation

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		ok   bool
	}{
		{"delete", Event{Version: 1, Op: "delete", Layer: "roads", TS: mustTS()}, true},
		{"insert prefixed", Event{Version: 1, Op: "insert", Layer: "demo:roads", TS: mustTS()}, true},
		{"schema without layer", Event{Version: 1, Op: "schema", TS: mustTS()}, true},
		{"bad version", Event{Version: 2, Op: "delete", Layer: "roads", TS: mustTS()}, false},
		{"bad op", Event{Version: 1, Op: "truncate", Layer: "roads", TS: mustTS()}, false},
		{"data without layer", Event{Version: 1, Op: "update", Layer: "  ", TS: mustTS()}, false},
		{"no ts", Event{Version: 1, Op: "delete", Layer: "roads"}, false},
	}
	for _, tc := range cases {
		err := tc.ev.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestEvent_JSONShape(t *testing.T) {
	ev := Event{Version: 1, Op: "delete", Layer: "roads", TS: mustTS(), Source: "node-a"}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"version":1,"op":"delete","layer":"roads","ts":"2025-10-26T12:30:45Z","source":"node-a"}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}
}

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"version":1,"op":"update","layer":"roads","ts":"2025-10-26T12:30:45Z"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Layer != "roads" || !ev.TS.Equal(mustTS()) || !ev.IsData() {
		t.Fatalf("decoded %+v", ev)
	}

	if _, err := Decode([]byte(`{not json`)); err == nil || !strings.Contains(err.Error(), "decode") {
		t.Fatalf("expected decode error, got %v", err)
	}
	if _, err := Decode([]byte(`{"version":1,"op":"update","ts":"2025-10-26T12:30:45Z"}`)); err == nil || !strings.Contains(err.Error(), "invalid") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEvent_DedupeKey(t *testing.T) {
	a := Event{Source: "n1", Layer: "roads", Op: "insert"}
	b := Event{Source: "n1", Layer: "roads", Op: "delete"}
	c := Event{Source: "n2", Layer: "roads"}
	if a.DedupeKey() != b.DedupeKey() {
		t.Fatalf("same source and layer must share a key")
	}
	if a.DedupeKey() == c.DedupeKey() {
		t.Fatalf("different sources must not share a key")
	}
	if (Event{Op: "schema"}).IsData() {
		t.Fatalf("schema event reported as data")
	}
}

package invalidation

import (
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
		{"update", Event{Version: 1, Op: OpUpdate, Layer: "layer-50772", TS: mustTS()}, true},
		{"clear all", Event{Version: 1, Op: OpClear, TS: mustTS()}, true},
		{"missing layer", Event{Version: 1, Op: OpDelete, TS: mustTS()}, false},
		{"bad version", Event{Version: 2, Op: OpUpdate, Layer: "l", TS: mustTS()}, false},
		{"bad op", Event{Version: 1, Op: "truncate", Layer: "l", TS: mustTS()}, false},
		{"missing ts", Event{Version: 1, Op: OpUpdate, Layer: "l"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ev.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"version":1,"op":"update","layer":"layer-1","ts":"2025-10-26T12:30:45Z"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Layer != "layer-1" || !ev.TS.Equal(mustTS()) {
		t.Fatalf("ev=%+v", ev)
	}
	if _, err := Decode([]byte(`{"version":`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

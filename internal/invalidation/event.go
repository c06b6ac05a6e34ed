// Package invalidation defines the cache invalidation event carried over the message bus.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpClear  = "clear"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Layer   string    `json:"layer"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func Decode(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, fmt.Errorf("json decode: %w", err)
	}
	return ev, ev.Validate()
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
		if strings.TrimSpace(e.Layer) == "" {
			return fmt.Errorf("layer is required")
		}
	case OpClear:
	default:
		return fmt.Errorf("op must be insert|update|delete|clear")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// Package invalidation defines the change events that keep cached
// responses and the schema registry in step with the database.
package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventVersion is the only event schema version understood.
const EventVersion = 1

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	// OpSchema announces a catalog change; Layer may be empty.
	OpSchema = "schema"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Layer   string    `json:"layer,omitempty"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != EventVersion {
		return fmt.Errorf("version must be %d", EventVersion)
	}
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
		if strings.TrimSpace(e.Layer) == "" {
			return errors.New("layer is required")
		}
	case OpSchema:
	default:
		return errors.New("op must be insert|update|delete|schema")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	return nil
}

// IsData reports whether the event changes features rather than the
// catalog.
func (e Event) IsData() bool {
	return e.Op != OpSchema
}

// DedupeKey groups events whose timestamps are ordered against each other.
func (e Event) DedupeKey() string {
	return e.Source + "|" + e.Layer
}

// Decode parses and validates one JSON event.
func Decode(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, fmt.Errorf("invalid event: %w", err)
	}
	return ev, nil
}

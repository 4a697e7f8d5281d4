// Package status shows user-facing status text: every change is logged and,
// when a publisher is attached, published as a msgpack-encoded Event.
package status

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind is the kind of a status change.
type Kind string

const (
	KindInfo   Kind = "info"
	KindError  Kind = "error"
	KindHidden Kind = "hidden"
)

// Event is one status change as published on the status topic.
type Event struct {
	InstanceID string `msgpack:"instance_id"`
	Kind       Kind   `msgpack:"kind"`
	Message    string `msgpack:"message,omitempty"`
	Timestamp  int64  `msgpack:"ts_ms"`
	Seq        uint64 `msgpack:"seq"`
}

// NewEvent stamps an event with the current time.
func NewEvent(kind Kind, msg string) Event {
	return Event{Kind: kind, Message: msg, Timestamp: time.Now().UnixMilli()}
}

// Marshal encodes the event as msgpack.
func (e Event) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(&e)
	if err != nil {
		return nil, fmt.Errorf("status: failed to marshal event: %w", err)
	}
	return b, nil
}

// Decode parses a msgpack-encoded event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("status: failed to decode event: %w", err)
	}
	return e, nil
}

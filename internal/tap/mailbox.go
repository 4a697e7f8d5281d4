// Package tap holds the pending input event consumed by the render goroutine.
package tap

import (
	"sync"
	"sync/atomic"
	"time"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
)

// Mailbox is a single-slot tap queue with poll semantics.
//
// Offer never blocks: a new tap overwrites an unconsumed one and counts a
// drop. Poll returns and clears the pending tap. Safe for concurrent use.
type Mailbox struct {
	mu      sync.Mutex
	pending *sharedcamera.TapEvent

	offered  atomic.Uint64
	consumed atomic.Uint64
	drops    atomic.Uint64
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Offer stores a tap at screen coordinates (x, y).
func (m *Mailbox) Offer(x, y float32) {
	ev := sharedcamera.TapEvent{X: x, Y: y, Timestamp: time.Now()}

	m.mu.Lock()
	if m.pending != nil {
		m.drops.Add(1)
	}
	m.pending = &ev
	m.mu.Unlock()

	m.offered.Add(1)
}

// Poll implements sharedcamera.TapSource.
func (m *Mailbox) Poll() (sharedcamera.TapEvent, bool) {
	m.mu.Lock()
	ev := m.pending
	m.pending = nil
	m.mu.Unlock()

	if ev == nil {
		return sharedcamera.TapEvent{}, false
	}
	m.consumed.Add(1)
	return *ev, true
}

// Stats is a snapshot of mailbox counters.
type Stats struct {
	Offered  uint64
	Consumed uint64
	Drops    uint64
}

// Stats returns the mailbox counters.
func (m *Mailbox) Stats() Stats {
	return Stats{
		Offered:  m.offered.Load(),
		Consumed: m.consumed.Load(),
		Drops:    m.drops.Load(),
	}
}

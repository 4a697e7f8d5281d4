package sharedcamera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Gate is the "session changes possible" safe point.
//
// The gate is closed between "reconfiguration requested" and "session reports
// active". Any goroutine that wants to reconfigure the session or close the
// device waits for it to be open first. Open wakes every waiter at once.
//
// Gate is safe for concurrent use. The background looper must never wait on
// the gate: it is the goroutine that eventually opens it.
type Gate struct {
	mu     sync.Mutex
	open   bool
	opened chan struct{} // closed while the gate is open

	waits    atomic.Uint64
	timeouts atomic.Uint64
}

// NewGate returns a gate in the given initial state.
func NewGate(open bool) *Gate {
	g := &Gate{opened: make(chan struct{})}
	if open {
		g.open = true
		close(g.opened)
	}
	return g
}

// Close marks the gate closed. Future waiters block until Open.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.open {
		return
	}
	g.open = false
	g.opened = make(chan struct{})
}

// Open marks the gate open and releases all waiters.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.open {
		return
	}
	g.open = true
	close(g.opened)
}

// IsOpen reports the current state.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// AwaitOpen blocks until the gate is open. There is no upper bound on the wait.
func (g *Gate) AwaitOpen() {
	_ = g.Await(context.Background())
}

// Await blocks until the gate is open or ctx is done.
//
// A gate that is re-closed between the wakeup and the re-check is waited on
// again. On expiry the returned error wraps both ErrGateTimeout and ctx.Err().
func (g *Gate) Await(ctx context.Context) error {
	counted := false
	for {
		g.mu.Lock()
		if g.open {
			g.mu.Unlock()
			return nil
		}
		opened := g.opened
		g.mu.Unlock()

		if !counted {
			g.waits.Add(1)
			counted = true
			slog.Debug("shared-camera: waiting for reconfiguration gate")
		}

		select {
		case <-opened:
			// re-check: the gate may have been closed again
		case <-ctx.Done():
			g.timeouts.Add(1)
			slog.Warn("shared-camera: reconfiguration gate wait abandoned", "error", ctx.Err())
			return fmt.Errorf("shared-camera: %w: %w", ErrGateTimeout, ctx.Err())
		}
	}
}

// GateStats is a snapshot of gate counters.
type GateStats struct {
	Open     bool
	Waits    uint64
	Timeouts uint64
}

// Stats returns the gate counters.
func (g *Gate) Stats() GateStats {
	return GateStats{
		Open:     g.IsOpen(),
		Waits:    g.waits.Load(),
		Timeouts: g.timeouts.Load(),
	}
}

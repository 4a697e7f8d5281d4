// Package looper implements the dedicated background goroutine that owns all
// device, session and capture callbacks.
//
// A Looper is a FIFO task queue drained by exactly one goroutine. It is
// created on each resume and torn down on each pause: QuitSafely stops
// accepting new work, the goroutine drains what was already queued, and Join
// waits for it to exit.
package looper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrQuit is returned by Call when the looper no longer accepts work.
var ErrQuit = errors.New("looper: quit")

// Looper runs posted tasks one at a time, in posting order, on its own goroutine.
//
// Architecture:
//   - Unbounded queue (slice) guarded by mu
//   - cond wakes the loop goroutine when work arrives or on quit
//   - Post never blocks, so callbacks may post to their own looper
//
// Thread-safety: Post, Call, QuitSafely and Join are safe for concurrent use.
type Looper struct {
	name string

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	quitting bool
	started  bool

	done chan struct{}

	executed atomic.Uint64
	rejected atomic.Uint64
}

// New returns a stopped looper. Call Start to launch its goroutine.
func New(name string) *Looper {
	l := &Looper{
		name: name,
		done: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Start launches the loop goroutine. Idempotent.
func (l *Looper) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return
	}
	l.started = true

	go l.loop()

	slog.Debug("looper: started", "name", l.name)
}

// Post enqueues task. It returns false once QuitSafely has been called.
func (l *Looper) Post(task func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.quitting {
		l.rejected.Add(1)
		slog.Debug("looper: task rejected, looper quitting", "name", l.name)
		return false
	}

	l.queue = append(l.queue, task)
	l.cond.Signal()
	return true
}

// Call posts task and waits for it to finish or for ctx to end.
//
// Must not be called from the looper goroutine itself: the task would be
// queued behind the caller and never run.
func (l *Looper) Call(ctx context.Context, task func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		task()
	}) {
		return fmt.Errorf("looper: %s: %w", l.name, ErrQuit)
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("looper: %s: call abandoned: %w", l.name, ctx.Err())
	}
}

// QuitSafely stops accepting new tasks. Tasks already queued still run.
// Idempotent.
func (l *Looper) QuitSafely() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.quitting {
		return
	}
	l.quitting = true
	l.cond.Broadcast()

	if !l.started {
		// Never started: nothing will drain the queue.
		l.started = true
		l.queue = nil
		close(l.done)
	}

	slog.Debug("looper: quit requested", "name", l.name, "pending", len(l.queue))
}

// Join waits for the loop goroutine to exit after QuitSafely.
func (l *Looper) Join(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("looper: %s: join: %w", l.name, ctx.Err())
	}
}

// Done is closed when the loop goroutine has exited.
func (l *Looper) Done() <-chan struct{} {
	return l.done
}

// Stats is a snapshot of looper counters.
type Stats struct {
	Executed uint64
	Rejected uint64
	Pending  int
}

// Stats returns the looper counters.
func (l *Looper) Stats() Stats {
	l.mu.Lock()
	pending := len(l.queue)
	l.mu.Unlock()

	return Stats{
		Executed: l.executed.Load(),
		Rejected: l.rejected.Load(),
		Pending:  pending,
	}
}

// loop drains the queue until quit is requested and the queue is empty.
func (l *Looper) loop() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.quitting {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.quitting {
			l.mu.Unlock()
			slog.Debug("looper: exited", "name", l.name, "executed", l.executed.Load())
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(task)
	}
}

func (l *Looper) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("looper: task panicked", "name", l.name, "panic", r)
		}
	}()

	task()
	l.executed.Add(1)
}

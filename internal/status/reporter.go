package status

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Publisher sends status events somewhere outside the process.
type Publisher interface {
	PublishStatus(ev Event) error
}

// Reporter implements sharedcamera.StatusSink.
//
// Show and ShowError replace the current message; Hide clears it. Calls are
// safe from any goroutine. Publishing is fire-and-forget: a failed publish is
// logged and counted, never returned.
type Reporter struct {
	instanceID string

	mu        sync.Mutex
	current   Event
	showing   bool
	publisher Publisher

	seq           atomic.Uint64
	shown         atomic.Uint64
	errorsShown   atomic.Uint64
	hidden        atomic.Uint64
	publishErrors atomic.Uint64
}

// NewReporter returns a reporter with nothing showing.
func NewReporter(instanceID string) *Reporter {
	return &Reporter{instanceID: instanceID}
}

// SetPublisher attaches p. A nil p stops publishing.
func (r *Reporter) SetPublisher(p Publisher) {
	r.mu.Lock()
	r.publisher = p
	r.mu.Unlock()
}

func (r *Reporter) Show(msg string) {
	r.shown.Add(1)
	slog.Info("status: message shown", "message", msg)
	r.set(KindInfo, msg, true)
}

func (r *Reporter) ShowError(msg string) {
	r.errorsShown.Add(1)
	slog.Error("status: error shown", "message", msg)
	r.set(KindError, msg, true)
}

func (r *Reporter) Hide() {
	r.mu.Lock()
	wasShowing := r.showing
	r.mu.Unlock()
	if !wasShowing {
		return
	}

	r.hidden.Add(1)
	slog.Debug("status: message hidden")
	r.set(KindHidden, "", false)
}

func (r *Reporter) IsShowing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.showing
}

// Current returns the message showing, if any.
func (r *Reporter) Current() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.showing
}

func (r *Reporter) set(kind Kind, msg string, showing bool) {
	ev := NewEvent(kind, msg)
	ev.InstanceID = r.instanceID
	ev.Seq = r.seq.Add(1)

	r.mu.Lock()
	r.current = ev
	r.showing = showing
	p := r.publisher
	r.mu.Unlock()

	if p == nil {
		return
	}
	if err := p.PublishStatus(ev); err != nil {
		r.publishErrors.Add(1)
		slog.Warn("status: publish failed", "kind", string(kind), "error", err)
	}
}

// Stats contains reporter statistics
type Stats struct {
	Showing       bool
	Shown         uint64
	ErrorsShown   uint64
	Hidden        uint64
	PublishErrors uint64
}

// Stats returns reporter statistics.
func (r *Reporter) Stats() Stats {
	return Stats{
		Showing:       r.IsShowing(),
		Shown:         r.shown.Load(),
		ErrorsShown:   r.errorsShown.Load(),
		Hidden:        r.hidden.Load(),
		PublishErrors: r.publishErrors.Load(),
	}
}

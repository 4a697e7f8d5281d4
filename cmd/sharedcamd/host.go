package main

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// host implements sharedcamera.Host for the daemon: Finish cancels the run
// with the fatal error as cause.
type host struct {
	cancel context.CancelCauseFunc

	keepAwake atomic.Bool

	mu  sync.Mutex
	err error
}

func newHost(cancel context.CancelCauseFunc) *host {
	return &host{cancel: cancel}
}

func (h *host) Finish(err error) {
	slog.Error("sharedcamd: fatal camera error, finishing", "error", err)

	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()

	h.cancel(err)
}

// SetKeepAwake logs changes only; it is called once per rendered frame.
func (h *host) SetKeepAwake(on bool) {
	if h.keepAwake.Swap(on) != on {
		slog.Info("sharedcamd: keep awake changed", "on", on)
	}
}

// Err returns the error passed to Finish, if any.
func (h *host) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

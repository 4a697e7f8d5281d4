/*
Package sharedcamera coordinates one physical camera between two consumers that
take turns owning the active capture stream: a tracking pipeline and a raw
passthrough renderer.

# Overview

Both consumers share a single opened device and a single capture session. Only
one of them may issue capture requests at a time, and session reconfiguration
(creating a session, closing the device) never overlaps an in-flight capture.
The package owns that discipline:

  - Gate: the "session changes possible" safe point. Closed while a
    reconfiguration is pending, opened when the session reports active.
  - Controller: opens and closes the device across foreground/background
    transitions and hands the stream between tracking and raw mode.
  - AnchorSet: bounded, FIFO-evicted world anchors created from taps.
  - PathBuffer: append-only point list smoothed with Catmull-Rom.
  - FrameDispatcher: the per-frame driver that routes to the tracking or the
    raw draw path.

# Threads

Three goroutines cooperate:

	main        Resume / Pause / OpenDevice / CloseDevice / mode switches
	background  one looper per resume; every device, session and capture
	            callback runs here, and only here are capture requests issued
	render      FrameDispatcher.DrawFrame once per display refresh

The lifecycle itself is a pure state machine (see Transition). Callbacks are
turned into events, the controller applies the event and then executes the
returned effects in order.

# Usage

	ctrl, err := sharedcamera.NewController(sharedcamera.Options{
	    Backend:      backend,
	    NewTracking:  factory,
	    Permissions:  perms,
	    Availability: avail,
	    Status:       status,
	    Host:         host,
	    Background:   renderers.Background,
	})
	if err != nil {
	    log.Fatal(err)
	}

	dispatcher := sharedcamera.NewFrameDispatcher(ctrl, renderers, taps, textures,
	    sharedcamera.DispatcherOptions{Letter: "DENIZ"})

	ctrl.OnSurfaceCreated(ctx)
	if err := ctrl.Resume(ctx); err != nil {
	    log.Fatal(err)
	}
	defer ctrl.Pause(ctx)

	for range ticker.C {
	    dispatcher.DrawFrame()
	}

# Error handling

Errors carry an ErrorCategory (see CategoryOf): permission errors are retried
on the next lifecycle pass, capability errors are surfaced and not retried,
resource-access errors roll the controller back to Idle, transient capture
errors are only logged, and fatal device errors terminate the host.
*/
package sharedcamera

package sharedcamera

import (
	"log/slog"
	"slices"
)

// User-facing status text.
const (
	StatusTrackingActive = "Tracking is active.\nTap on a detected surface to place the letter or add to the path."
	StatusTrackingPaused = "Tracking is paused."
)

// ResumeTracking hands the capture stream to the tracking engine.
//
// No-op when tracking is already active or no capture session exists yet. A
// camera-not-available failure is logged and the attempt abandoned.
func (c *Controller) ResumeTracking() {
	c.resumeTracking()
}

// PauseTracking pauses the tracking engine and marks the next raw frame as
// the first frame without tracking.
func (c *Controller) PauseTracking() {
	c.pauseTracking()
}

// ResumeRaw re-issues the repeating capture request for the raw renderer.
func (c *Controller) ResumeRaw() {
	st := c.State()
	if !st.SessionPresent || !st.GateOpen {
		slog.Debug("shared-camera: no active session, raw resume skipped", "mode", st.Mode.String())
		return
	}
	c.post(c.issueRepeatingRequest)
}

// SetTrackingEnabled selects which consumer owns the stream. Enabling resumes
// tracking; disabling pauses it and resumes the raw renderer.
func (c *Controller) SetTrackingEnabled(enabled bool) {
	if enabled {
		c.dispatch(EventTrackingModeSelected)
		return
	}
	c.dispatch(EventRawModeSelected)
}

// createSession builds the capture request and requests a capture session
// over the tracking surfaces plus the secondary image endpoint.
func (c *Controller) createSession() {
	c.mu.Lock()
	dev := c.device
	shared := c.shared
	reader := c.reader
	tracking := c.tracking
	h := c.handlerLocked()
	c.mu.Unlock()

	if dev == nil || shared == nil || h == nil {
		slog.Warn("shared-camera: cannot create capture session, device not ready")
		c.dispatch(EventSessionConfigureFailed)
		return
	}

	if tracking != nil {
		tracking.SetCameraTexture(c.opts.Background.TextureID())
	}

	req, err := dev.CreateCaptureRequest(TemplateRecord)
	if err != nil {
		slog.Error("shared-camera: failed to create capture request", "error", err)
		c.dispatch(EventSessionConfigureFailed)
		return
	}

	targets := slices.Clone(shared.Surfaces())
	if reader != nil {
		targets = append(targets, reader.Surface())
	}
	for _, s := range targets {
		req.AddTarget(s)
	}

	c.mu.Lock()
	c.request = req
	c.mu.Unlock()

	if err := dev.CreateCaptureSession(targets, c.sessionCallbacks(), h); err != nil {
		slog.Error("shared-camera: failed to create capture session", "error", err, "targets", len(targets))
		c.dispatch(EventSessionConfigureFailed)
		return
	}

	slog.Debug("shared-camera: capture session requested", "targets", len(targets))
}

func (c *Controller) sessionCallbacks() SessionCallbacks {
	return SessionCallbacks{
		OnConfigured: func(s CaptureSession) {
			c.mu.Lock()
			c.session = s
			c.mu.Unlock()
			slog.Info("shared-camera: capture session configured")
			c.dispatch(EventSessionConfigured)
		},

		OnConfigureFailed: func(_ CaptureSession, err error) {
			slog.Error("shared-camera: failed to configure capture session", "error", err)
			c.dispatch(EventSessionConfigureFailed)
		},

		OnActive: func(_ CaptureSession) {
			slog.Info("shared-camera: capture session active")
			c.dispatch(EventSessionActive)
		},
	}
}

// issueRepeatingRequest runs on the background looper.
func (c *Controller) issueRepeatingRequest() {
	c.mu.Lock()
	sess := c.session
	req := c.request
	h := c.handlerLocked()
	c.mu.Unlock()

	if sess == nil || req == nil || h == nil {
		slog.Debug("shared-camera: no capture session, repeating request skipped")
		return
	}

	c.applyCaptureEffect(req)

	if err := sess.SetRepeatingRequest(req, c.captureCallbacks(), h); err != nil {
		slog.Error("shared-camera: failed to set repeating request", "error", err)
	}
}

// applyCaptureEffect sets the sepia effect unless changing the effect key
// can cause a visible capture delay on this device.
func (c *Controller) applyCaptureEffect(req *CaptureRequest) {
	if c.keyCanCauseDelay(KeyEffectMode) {
		c.effectsSkipped.Add(1)
		slog.Warn("shared-camera: not setting effect mode, it can cause delays between transitions",
			"key", string(KeyEffectMode))
		return
	}

	req.Set(KeyEffectMode, EffectSepia)
	c.effectsApplied.Add(1)
	slog.Debug("shared-camera: effect mode set", "key", string(KeyEffectMode), "effect", "sepia")
}

// keyCanCauseDelay reports whether key is a session key. Devices without a
// capability list are treated as delay-sensitive.
func (c *Controller) keyCanCauseDelay(key CaptureKey) bool {
	c.mu.Lock()
	available := c.sessionKeysAvailable
	keys := c.sessionKeys
	c.mu.Unlock()

	if !available {
		slog.Warn("shared-camera: capability list unavailable, changing key may cause a noticeable capture delay",
			"key", string(key))
		return true
	}
	return slices.Contains(keys, key)
}

func (c *Controller) captureCallbacks() CaptureCallbacks {
	return CaptureCallbacks{
		OnCompleted: func(r CaptureResult) {
			c.capturesCompleted.Add(1)
			c.frameReady.Store(true)
		},
		OnFailed: func(f CaptureFailure) {
			c.captureFailures.Add(1)
			slog.Warn("shared-camera: capture failed",
				"seq", f.Seq,
				"reason", f.Reason,
				"category", ErrCategoryTransientCapture.String(),
			)
		},
		OnBufferLost: func(_ Surface, seq uint64) {
			c.buffersLost.Add(1)
			slog.Warn("shared-camera: capture buffer lost",
				"seq", seq,
				"category", ErrCategoryTransientCapture.String(),
			)
		},
		OnSequenceAborted: func(sequenceID int) {
			c.sequencesAborted.Add(1)
			slog.Warn("shared-camera: capture sequence aborted",
				"sequence_id", sequenceID,
				"category", ErrCategoryTransientCapture.String(),
			)
		},
	}
}

func (c *Controller) resumeTracking() {
	c.mu.Lock()
	tracking := c.tracking
	shared := c.shared
	st := c.state
	h := c.handlerLocked()
	c.mu.Unlock()

	if tracking == nil || !st.SessionPresent || st.TrackingActive {
		return
	}

	c.opts.Background.SuppressTimestampZeroRendering(false)

	if err := tracking.Resume(); err != nil {
		slog.Error("shared-camera: failed to resume tracking session",
			"error", err,
			"category", CategoryOf(err).String(),
		)
		c.dispatch(EventTrackingResumeFailed)
		return
	}

	c.dispatch(EventTrackingResumed)

	if shared != nil && h != nil {
		shared.SetCaptureCallback(c.captureCallbacks(), h)
	}
}

func (c *Controller) pauseTracking() {
	c.mu.Lock()
	tracking := c.tracking
	active := c.state.TrackingActive
	c.mu.Unlock()

	if !active || tracking == nil {
		return
	}

	if err := tracking.Pause(); err != nil {
		slog.Warn("shared-camera: tracking session pause failed", "error", err)
	}
	c.dispatch(EventTrackingPaused)
}

func (c *Controller) updateStatus() {
	if c.State().TrackingActive {
		c.opts.Status.Show(StatusTrackingActive)
		return
	}
	c.opts.Status.Show(StatusTrackingPaused)
}

// frameContext is what the render goroutine needs from the controller for one frame.
type frameContext struct {
	tracking       TrackingSession
	shared         SharedCamera
	trackingActive bool
	trackingMode   bool
	sessionError   bool
}

func (c *Controller) frameContext() frameContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	return frameContext{
		tracking:       c.tracking,
		shared:         c.shared,
		trackingActive: c.state.TrackingActive,
		trackingMode:   c.state.TrackingDesired,
		sessionError:   c.errorCreatingSession,
	}
}

// FrameReady reports whether a capture has completed since the last resume.
func (c *Controller) FrameReady() bool {
	return c.frameReady.Load()
}

// consumeFirstRawFrame reports and clears the first-frame-without-tracking mark.
func (c *Controller) consumeFirstRawFrame() bool {
	return c.firstRawFrame.CompareAndSwap(true, false)
}

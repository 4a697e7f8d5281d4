package sharedcamera

// Stats is an operational snapshot of the controller.
//
// Semantics:
//   - Non-blocking: returns immediately, counters are read atomically
//   - Consistency: lifecycle fields come from one locked read, counters may be
//     slightly ahead of them (acceptable for monitoring)
type Stats struct {
	Mode            Mode
	DeviceOpen      bool
	SessionPresent  bool
	GateOpen        bool
	TrackingDesired bool
	TrackingActive  bool
	CameraID        string

	CapturesCompleted uint64
	CaptureFailures   uint64
	BuffersLost       uint64
	SequencesAborted  uint64
	ImagesProcessed   uint64
	EffectsApplied    uint64
	EffectsSkipped    uint64
	Disconnects       uint64
	FatalErrors       uint64

	GateWaits    uint64
	GateTimeouts uint64
}

// Stats returns operational statistics.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	st := c.state
	cameraID := c.cameraID
	c.mu.Unlock()

	gate := c.gate.Stats()

	return Stats{
		Mode:            st.Mode,
		DeviceOpen:      st.DeviceOpen,
		SessionPresent:  st.SessionPresent,
		GateOpen:        st.GateOpen,
		TrackingDesired: st.TrackingDesired,
		TrackingActive:  st.TrackingActive,
		CameraID:        cameraID,

		CapturesCompleted: c.capturesCompleted.Load(),
		CaptureFailures:   c.captureFailures.Load(),
		BuffersLost:       c.buffersLost.Load(),
		SequencesAborted:  c.sequencesAborted.Load(),
		ImagesProcessed:   c.imagesProcessed.Load(),
		EffectsApplied:    c.effectsApplied.Load(),
		EffectsSkipped:    c.effectsSkipped.Load(),
		Disconnects:       c.disconnects.Load(),
		FatalErrors:       c.fatalErrors.Load(),

		GateWaits:    gate.Waits,
		GateTimeouts: gate.Timeouts,
	}
}

// DispatcherStats is an operational snapshot of the FrameDispatcher.
type DispatcherStats struct {
	FramesDrawn   uint64
	FramesSkipped uint64
	RawFrames     uint64
	TapsResolved  uint64
	TapsMissed    uint64
	Anchors       int
	PathPoints    int
	PathVertices  int
	Placement     PlacementMode
	Letter        string
}

package sharedcamera

// State is the lifecycle state of the shared camera.
//
// Invariants maintained by Transition:
//   - SessionPresent implies Mode is ModeActiveTracking or ModeActiveRaw
//   - TrackingActive implies Mode is ModeActiveTracking
//   - GateOpen is false only while a reconfiguration is pending
type State struct {
	Mode            Mode
	DeviceOpen      bool
	SessionPresent  bool
	GateOpen        bool
	TrackingDesired bool
	TrackingActive  bool
}

// InitialState is Idle with the gate open.
func InitialState(trackingDesired bool) State {
	return State{Mode: ModeIdle, GateOpen: true, TrackingDesired: trackingDesired}
}

// Event is an input to the lifecycle state machine.
type Event int

const (
	EventOpenRequested Event = iota
	EventOpenFailed
	EventDeviceOpened
	EventDeviceClosed
	EventDeviceDisconnected
	EventDeviceError
	EventSessionConfigured
	EventSessionConfigureFailed
	EventSessionActive
	EventCloseRequested
	EventTrackingResumed
	EventTrackingResumeFailed
	EventTrackingPaused
	EventTrackingModeSelected
	EventRawModeSelected
)

var eventNames = [...]string{
	EventOpenRequested:          "open_requested",
	EventOpenFailed:             "open_failed",
	EventDeviceOpened:           "device_opened",
	EventDeviceClosed:           "device_closed",
	EventDeviceDisconnected:     "device_disconnected",
	EventDeviceError:            "device_error",
	EventSessionConfigured:      "session_configured",
	EventSessionConfigureFailed: "session_configure_failed",
	EventSessionActive:          "session_active",
	EventCloseRequested:         "close_requested",
	EventTrackingResumed:        "tracking_resumed",
	EventTrackingResumeFailed:   "tracking_resume_failed",
	EventTrackingPaused:         "tracking_paused",
	EventTrackingModeSelected:   "tracking_mode_selected",
	EventRawModeSelected:        "raw_mode_selected",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "unknown"
}

// Effect is a side effect the controller executes after a transition.
type Effect int

const (
	EffectCloseGate Effect = iota
	EffectOpenGate
	EffectCreateSession
	EffectIssueRepeatingRequest
	EffectResumeTracking
	EffectPauseTracking
	EffectMarkFirstRawFrame
	EffectCloseSession
	EffectCloseDevice
	EffectForceCloseDevice
	EffectReleaseImageReader
	EffectSignalReleased
	EffectFinishHost
	EffectUpdateStatus
)

var effectNames = [...]string{
	EffectCloseGate:             "close_gate",
	EffectOpenGate:              "open_gate",
	EffectCreateSession:         "create_session",
	EffectIssueRepeatingRequest: "issue_repeating_request",
	EffectResumeTracking:        "resume_tracking",
	EffectPauseTracking:         "pause_tracking",
	EffectMarkFirstRawFrame:     "mark_first_raw_frame",
	EffectCloseSession:          "close_session",
	EffectCloseDevice:           "close_device",
	EffectForceCloseDevice:      "force_close_device",
	EffectReleaseImageReader:    "release_image_reader",
	EffectSignalReleased:        "signal_released",
	EffectFinishHost:            "finish_host",
	EffectUpdateStatus:          "update_status",
}

func (e Effect) String() string {
	if e >= 0 && int(e) < len(effectNames) {
		return effectNames[e]
	}
	return "unknown"
}

// Transition computes the next state and the effects to run for ev.
//
// It is a pure function: no I/O, no handles, only bookkeeping. Events that do
// not apply in the current state return the state unchanged and no effects.
func Transition(s State, ev Event) (State, []Effect) {
	switch ev {
	case EventOpenRequested:
		if s.Mode != ModeIdle || s.DeviceOpen {
			return s, nil
		}
		s.Mode = ModeOpening
		s.GateOpen = false
		return s, []Effect{EffectCloseGate}

	case EventOpenFailed:
		if s.Mode != ModeOpening {
			return s, nil
		}
		s = rollback(s)
		return s, []Effect{EffectReleaseImageReader, EffectOpenGate}

	case EventDeviceOpened:
		if s.Mode != ModeOpening {
			// Opened after the attempt was abandoned: release it.
			return s, []Effect{EffectForceCloseDevice}
		}
		s.DeviceOpen = true
		return s, []Effect{EffectCreateSession}

	case EventSessionConfigured:
		if s.Mode != ModeOpening || !s.DeviceOpen {
			return s, []Effect{EffectCloseSession}
		}
		s.SessionPresent = true
		s.Mode = ModeActiveRaw
		return s, []Effect{EffectMarkFirstRawFrame, EffectIssueRepeatingRequest}

	case EventSessionConfigureFailed:
		if s.Mode != ModeOpening {
			return s, nil
		}
		// No session: mode stays unset (Opening) until the next lifecycle pass.
		var effects []Effect
		if !s.GateOpen {
			s.GateOpen = true
			effects = append(effects, EffectOpenGate)
		}
		return s, effects

	case EventSessionActive:
		if !s.SessionPresent {
			return s, nil
		}
		var effects []Effect
		if s.TrackingDesired && !s.TrackingActive {
			effects = append(effects, EffectResumeTracking)
		}
		if !s.GateOpen {
			s.GateOpen = true
			effects = append(effects, EffectOpenGate)
		}
		return s, append(effects, EffectUpdateStatus)

	case EventTrackingResumed:
		if !s.SessionPresent || s.TrackingActive {
			return s, nil
		}
		s.TrackingActive = true
		s.Mode = ModeActiveTracking
		return s, []Effect{EffectUpdateStatus}

	case EventTrackingResumeFailed:
		return s, nil

	case EventTrackingPaused:
		if !s.TrackingActive {
			return s, nil
		}
		s.TrackingActive = false
		if s.SessionPresent {
			s.Mode = ModeActiveRaw
		}
		return s, []Effect{EffectMarkFirstRawFrame, EffectUpdateStatus}

	case EventTrackingModeSelected:
		s.TrackingDesired = true
		if s.SessionPresent && s.GateOpen && !s.TrackingActive {
			return s, []Effect{EffectResumeTracking}
		}
		return s, nil

	case EventRawModeSelected:
		s.TrackingDesired = false
		var effects []Effect
		if s.TrackingActive {
			effects = append(effects, EffectPauseTracking)
		}
		if s.SessionPresent && s.GateOpen {
			effects = append(effects, EffectIssueRepeatingRequest)
		}
		return s, effects

	case EventCloseRequested:
		if s.Mode == ModeClosing {
			return s, nil
		}
		var effects []Effect
		if s.SessionPresent {
			effects = append(effects, EffectCloseSession)
		}
		s.SessionPresent = false
		s.TrackingActive = false
		if !s.DeviceOpen {
			s.Mode = ModeIdle
			if !s.GateOpen {
				s.GateOpen = true
				effects = append(effects, EffectOpenGate)
			}
			return s, effects
		}
		s.Mode = ModeClosing
		return s, append(effects, EffectCloseDevice)

	case EventDeviceClosed:
		var effects []Effect
		wasOpen := s.GateOpen
		s = rollback(s)
		effects = append(effects, EffectReleaseImageReader, EffectSignalReleased)
		if !wasOpen {
			effects = append(effects, EffectOpenGate)
		}
		return s, effects

	case EventDeviceDisconnected, EventDeviceError:
		var effects []Effect
		if s.SessionPresent {
			effects = append(effects, EffectCloseSession)
		}
		wasOpen := s.GateOpen
		s = rollback(s)
		effects = append(effects, EffectForceCloseDevice, EffectReleaseImageReader)
		if !wasOpen {
			effects = append(effects, EffectOpenGate)
		}
		if ev == EventDeviceError {
			effects = append(effects, EffectFinishHost)
		}
		return s, effects
	}

	return s, nil
}

// rollback returns s reset to Idle with the gate open, keeping the desired mode.
func rollback(s State) State {
	return InitialState(s.TrackingDesired)
}

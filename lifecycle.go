package sharedcamera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/looper"
)

const (
	// ImageReaderMaxImages is the buffer depth of the secondary image endpoint.
	ImageReaderMaxImages = 2

	defaultImageWidth  = 640
	defaultImageHeight = 480
	defaultJoinTimeout = 3 * time.Second
)

var tracer = otel.Tracer("github.com/e7canasta/orion-care-sensor/modules/shared-camera")

// Options configures a Controller.
type Options struct {
	Backend      CameraBackend
	NewTracking  TrackingFactory
	Permissions  PermissionChecker
	Availability AvailabilityChecker
	Status       StatusSink
	Host         Host
	Background   BackgroundRenderer

	// ImageWidth and ImageHeight size the secondary YUV endpoint (default 640x480).
	ImageWidth  int
	ImageHeight int

	// TrackingEnabled selects tracking mode when the session first becomes active.
	TrackingEnabled bool

	// GateTimeout bounds waits on the reconfiguration gate. Zero waits forever.
	GateTimeout time.Duration
	// CloseTimeout bounds the wait for the device-released signal. Zero waits forever.
	CloseTimeout time.Duration
	// JoinTimeout bounds the wait for the background looper on Pause (default 3s).
	JoinTimeout time.Duration

	// Observer, when set, is called after every state transition on the
	// goroutine that produced the event. It must not block.
	Observer func(ev Event, prev, next State)
}

// Controller is the DeviceLifecycleController and SessionModeCoordinator.
//
// Device, session and image endpoint handles are mutated only from background
// callbacks or by the close path while the gate is open.
type Controller struct {
	opts Options
	gate *Gate

	mu             sync.Mutex
	state          State
	looper         *looper.Looper
	resumed        bool
	surfaceCreated bool

	tracking             TrackingSession
	shared               SharedCamera
	errorCreatingSession bool
	cameraID             string
	device               Device
	session              CaptureSession
	reader               ImageReader
	request              *CaptureRequest
	sessionKeys          []CaptureKey
	sessionKeysAvailable bool
	released             chan struct{}
	deviceErr            error

	frameReady    atomic.Bool
	firstRawFrame atomic.Bool

	capturesCompleted atomic.Uint64
	captureFailures   atomic.Uint64
	buffersLost       atomic.Uint64
	sequencesAborted  atomic.Uint64
	imagesProcessed   atomic.Uint64
	effectsApplied    atomic.Uint64
	effectsSkipped    atomic.Uint64
	disconnects       atomic.Uint64
	fatalErrors       atomic.Uint64
}

// NewController creates a controller with fail-fast validation of its collaborators.
func NewController(opts Options) (*Controller, error) {
	switch {
	case opts.Backend == nil:
		return nil, fmt.Errorf("shared-camera: camera backend is required")
	case opts.NewTracking == nil:
		return nil, fmt.Errorf("shared-camera: tracking factory is required")
	case opts.Permissions == nil:
		return nil, fmt.Errorf("shared-camera: permission checker is required")
	case opts.Availability == nil:
		return nil, fmt.Errorf("shared-camera: availability checker is required")
	case opts.Status == nil:
		return nil, fmt.Errorf("shared-camera: status sink is required")
	case opts.Host == nil:
		return nil, fmt.Errorf("shared-camera: host is required")
	case opts.Background == nil:
		return nil, fmt.Errorf("shared-camera: background renderer is required")
	}
	if opts.GateTimeout < 0 || opts.CloseTimeout < 0 {
		return nil, fmt.Errorf("shared-camera: timeouts must not be negative")
	}

	if opts.ImageWidth <= 0 {
		opts.ImageWidth = defaultImageWidth
	}
	if opts.ImageHeight <= 0 {
		opts.ImageHeight = defaultImageHeight
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}

	c := &Controller{
		opts:  opts,
		gate:  NewGate(true),
		state: InitialState(opts.TrackingEnabled),
	}

	slog.Info("shared-camera: controller created",
		"image_size", fmt.Sprintf("%dx%d", opts.ImageWidth, opts.ImageHeight),
		"tracking_enabled", opts.TrackingEnabled,
		"gate_timeout", opts.GateTimeout,
		"close_timeout", opts.CloseTimeout,
	)

	return c, nil
}

// Gate returns the reconfiguration gate.
func (c *Controller) Gate() *Gate {
	return c.gate
}

// State returns a snapshot of the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnSurfaceCreated records that the render surface exists and opens the
// device if the controller is already resumed.
func (c *Controller) OnSurfaceCreated(ctx context.Context) error {
	c.mu.Lock()
	c.surfaceCreated = true
	resumed := c.resumed
	c.mu.Unlock()

	if !resumed {
		return nil
	}
	return c.OpenDevice(ctx)
}

// Resume starts the background looper and opens the device when the render
// surface exists.
//
// Waits for the reconfiguration gate first. Idempotent.
func (c *Controller) Resume(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "shared-camera.Resume")
	defer endSpan(span, &err)

	if err := c.awaitGate(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.resumed {
		c.mu.Unlock()
		slog.Debug("shared-camera: already resumed")
		return nil
	}
	lp := looper.New("shared-camera-background")
	lp.Start()
	c.looper = lp
	c.resumed = true
	surface := c.surfaceCreated
	c.mu.Unlock()

	slog.Info("shared-camera: resumed", "surface_created", surface)

	if !surface {
		return nil
	}
	return c.OpenDevice(ctx)
}

// Pause pauses tracking, closes the device and tears down the background
// looper: stop accepting work, drain, join.
func (c *Controller) Pause(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "shared-camera.Pause")
	defer endSpan(span, &err)

	c.frameReady.Store(false)

	if err := c.awaitGate(ctx); err != nil {
		return err
	}

	c.pauseTracking()
	closeErr := c.CloseDevice(ctx)

	c.mu.Lock()
	lp := c.looper
	c.looper = nil
	c.resumed = false
	c.mu.Unlock()

	if lp != nil {
		lp.QuitSafely()
		joinCtx, cancel := context.WithTimeout(context.Background(), c.opts.JoinTimeout)
		defer cancel()
		if err := lp.Join(joinCtx); err != nil {
			slog.Warn("shared-camera: background looper did not exit in time", "error", err)
		}
	}

	slog.Info("shared-camera: paused", "close_error", closeErr)
	return closeErr
}

// Close pauses the controller and releases the tracking session.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Pause(ctx)

	c.mu.Lock()
	tracking := c.tracking
	c.tracking = nil
	c.shared = nil
	c.mu.Unlock()

	if tracking != nil {
		tracking.Close()
	}
	return err
}

// OpenDevice runs the open prechecks and requests an asynchronous device open.
//
// Returns nil without doing anything when a device is already open or an open
// is pending. Errors wrap ErrPermissionDenied, ErrInstallRequested,
// ErrBackendUnavailable, ErrResourceAccess or ErrNotStarted.
func (c *Controller) OpenDevice(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "shared-camera.OpenDevice")
	defer endSpan(span, &err)

	// Claim Idle -> Opening before any precheck so overlapping callers see
	// the pending open and back off.
	claimed := c.dispatchWhen(EventOpenRequested, func(s State) bool {
		return c.device == nil && !s.DeviceOpen && s.Mode == ModeIdle
	})
	if !claimed {
		slog.Debug("shared-camera: device already open or opening")
		return nil
	}

	cameraID, keys, available, err := c.prepareOpen(ctx, span)
	if err != nil {
		c.dispatch(EventOpenFailed)
		return err
	}

	c.mu.Lock()
	h := c.handlerLocked()
	c.mu.Unlock()

	if err := c.opts.Backend.OpenDevice(cameraID, c.deviceCallbacks(), h); err != nil {
		slog.Error("shared-camera: failed to open camera", "camera_id", cameraID, "error", err)
		c.dispatch(EventOpenFailed)
		return fmt.Errorf("shared-camera: open camera %s: %w: %w", cameraID, ErrResourceAccess, err)
	}

	slog.Info("shared-camera: camera open requested",
		"camera_id", cameraID,
		"session_keys", len(keys),
		"session_keys_available", available,
	)
	return nil
}

// prepareOpen runs the open prechecks, allocates the image reader and reads
// the camera characteristics. Called with the open claimed.
func (c *Controller) prepareOpen(ctx context.Context, span trace.Span) (cameraID string, keys []CaptureKey, available bool, err error) {
	c.mu.Lock()
	h := c.handlerLocked()
	c.mu.Unlock()

	if h == nil {
		return "", nil, false, wrapf(ErrNotStarted, "open device")
	}

	if !c.opts.Permissions.HasCameraPermission() {
		slog.Warn("shared-camera: camera permission missing, requesting")
		c.opts.Permissions.RequestCameraPermission()
		return "", nil, false, wrapf(ErrPermissionDenied, "open device")
	}

	if err := c.checkAvailability(ctx); err != nil {
		return "", nil, false, err
	}

	tracking, err := c.ensureTrackingSession()
	if err != nil {
		return "", nil, false, err
	}
	shared := tracking.SharedCamera()
	cameraID = tracking.CameraID()
	span.SetAttributes(attribute.String("camera.id", cameraID))

	reader, err := c.opts.Backend.NewImageReader(
		c.opts.ImageWidth, c.opts.ImageHeight, FormatYUV420, ImageReaderMaxImages, h, c.onImageAvailable)
	if err != nil {
		slog.Error("shared-camera: failed to allocate image reader", "error", err)
		return "", nil, false, fmt.Errorf("shared-camera: image reader: %w: %w", ErrResourceAccess, err)
	}
	shared.SetAppSurfaces(cameraID, []Surface{reader.Surface()})

	chars, err := c.opts.Backend.Characteristics(cameraID)
	if err != nil {
		reader.Close()
		slog.Error("shared-camera: failed to read camera characteristics", "camera_id", cameraID, "error", err)
		return "", nil, false, fmt.Errorf("shared-camera: characteristics %s: %w: %w", cameraID, ErrResourceAccess, err)
	}
	keys = chars.SessionKeys
	if keys == nil {
		keys = []CaptureKey{}
	}

	c.mu.Lock()
	c.shared = shared
	c.cameraID = cameraID
	c.reader = reader
	c.sessionKeys = keys
	c.sessionKeysAvailable = chars.SessionKeysAvailable
	c.deviceErr = nil
	c.mu.Unlock()

	return cameraID, keys, chars.SessionKeysAvailable, nil
}

// CloseDevice closes the session, then the device, and blocks until the
// device reports released.
//
// Waits for the reconfiguration gate before touching anything. On return
// without error the device handle is cleared and the image endpoint released.
func (c *Controller) CloseDevice(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "shared-camera.CloseDevice")
	defer endSpan(span, &err)

	if err := c.awaitGate(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	var released chan struct{}
	if c.state.DeviceOpen || c.device != nil {
		released = make(chan struct{})
		c.released = released
	}
	c.mu.Unlock()

	c.dispatch(EventCloseRequested)

	if released == nil {
		return nil
	}

	waitCtx := ctx
	if c.opts.CloseTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.opts.CloseTimeout)
		defer cancel()
	}

	select {
	case <-released:
		slog.Info("shared-camera: camera device released")
		return nil
	case <-waitCtx.Done():
		slog.Error("shared-camera: camera device not released", "error", waitCtx.Err())
		return fmt.Errorf("shared-camera: close device: %w: %w", ErrCloseTimeout, waitCtx.Err())
	}
}

func (c *Controller) awaitGate(ctx context.Context) error {
	if c.opts.GateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.GateTimeout)
		defer cancel()
	}
	return c.gate.Await(ctx)
}

func (c *Controller) checkAvailability(ctx context.Context) error {
	availability := c.opts.Availability.CheckAvailability(ctx)
	switch availability {
	case AvailabilitySupportedInstalled:
		return nil

	case AvailabilitySupportedOutdated, AvailabilitySupportedNotInstalled:
		status, err := c.opts.Availability.RequestInstall(ctx)
		if err != nil {
			slog.Error("shared-camera: capture backend install failed", "availability", availability.String(), "error", err)
			c.opts.Status.ShowError("Capture backend is not installed: " + err.Error())
			return fmt.Errorf("shared-camera: request install: %w: %w", ErrBackendUnavailable, err)
		}
		if status == InstallRequested {
			slog.Info("shared-camera: capture backend install requested")
			return wrapf(ErrInstallRequested, "open device")
		}
		return nil

	default:
		slog.Error("shared-camera: capture backend not supported", "availability", availability.String())
		c.opts.Status.ShowError("This host does not support the capture backend (" + availability.String() + ")")
		return wrapf(ErrBackendUnavailable, "availability %s", availability)
	}
}

func (c *Controller) ensureTrackingSession() (TrackingSession, error) {
	c.mu.Lock()
	existing := c.tracking
	c.mu.Unlock()
	if existing != nil {
		return existing, nil
	}

	fail := func(err error) (TrackingSession, error) {
		c.mu.Lock()
		c.errorCreatingSession = true
		c.mu.Unlock()
		slog.Error("shared-camera: failed to create tracking session that supports camera sharing", "error", err)
		c.opts.Status.ShowError("Failed to create tracking session that supports camera sharing")
		return nil, fmt.Errorf("shared-camera: create tracking session: %w: %w", ErrResourceAccess, err)
	}

	tracking, err := c.opts.NewTracking()
	if err != nil {
		return fail(err)
	}
	if err := tracking.Configure(TrackingConfig{FocusMode: FocusAuto}); err != nil {
		tracking.Close()
		return fail(err)
	}

	c.mu.Lock()
	c.tracking = tracking
	c.errorCreatingSession = false
	c.mu.Unlock()

	slog.Info("shared-camera: tracking session created", "camera_id", tracking.CameraID())
	return tracking, nil
}

func (c *Controller) deviceCallbacks() DeviceCallbacks {
	return DeviceCallbacks{
		OnOpened: func(dev Device) {
			c.mu.Lock()
			c.device = dev
			c.mu.Unlock()
			slog.Info("shared-camera: camera device opened", "camera_id", dev.ID())
			c.dispatch(EventDeviceOpened)
		},

		OnClosed: func(dev Device) {
			c.mu.Lock()
			current := c.device != nil && c.device == dev
			if current {
				c.device = nil
			}
			waiting := c.released != nil
			c.mu.Unlock()

			if !current && !waiting {
				slog.Debug("shared-camera: stale camera device closed", "camera_id", dev.ID())
				return
			}
			slog.Info("shared-camera: camera device closed", "camera_id", dev.ID())
			c.dispatch(EventDeviceClosed)
		},

		OnDisconnected: func(dev Device) {
			c.disconnects.Add(1)
			if !c.adoptDevice(dev) {
				dev.Close()
				return
			}
			slog.Warn("shared-camera: camera device disconnected", "camera_id", dev.ID())
			c.dispatch(EventDeviceDisconnected)
		},

		OnError: func(dev Device, err error) {
			c.fatalErrors.Add(1)
			if !c.adoptDevice(dev) {
				dev.Close()
				return
			}
			c.mu.Lock()
			c.deviceErr = err
			c.mu.Unlock()
			slog.Error("shared-camera: camera device error",
				"camera_id", dev.ID(),
				"error", err,
				"category", ErrCategoryFatalDevice.String(),
			)
			c.dispatch(EventDeviceError)
		},
	}
}

// adoptDevice makes dev the current device when none is stashed yet and
// reports whether dev is the current device.
func (c *Controller) adoptDevice(dev Device) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		c.device = dev
	}
	return c.device == dev
}

func (c *Controller) onImageAvailable(reader ImageReader) {
	img, ok := reader.AcquireLatestImage()
	if !ok {
		slog.Warn("shared-camera: image available but none acquired, skipping")
		return
	}
	img.Close()
	c.imagesProcessed.Add(1)
}

// dispatch applies ev to the state machine and executes the resulting effects.
func (c *Controller) dispatch(ev Event) {
	c.dispatchWhen(ev, nil)
}

// dispatchWhen applies ev only if allow, evaluated under c.mu, accepts the
// current state. Reports whether ev was applied.
func (c *Controller) dispatchWhen(ev Event, allow func(State) bool) bool {
	c.mu.Lock()
	prev := c.state
	if allow != nil && !allow(prev) {
		c.mu.Unlock()
		return false
	}
	next, effects := Transition(prev, ev)
	c.state = next
	c.mu.Unlock()

	slog.Debug("shared-camera: transition",
		"event", ev.String(),
		"from", prev.Mode.String(),
		"to", next.Mode.String(),
		"gate_open", next.GateOpen,
		"effects", len(effects),
	)

	if c.opts.Observer != nil {
		c.opts.Observer(ev, prev, next)
	}

	for _, eff := range effects {
		c.apply(eff)
	}
	return true
}

func (c *Controller) apply(eff Effect) {
	switch eff {
	case EffectCloseGate:
		c.gate.Close()
	case EffectOpenGate:
		c.gate.Open()
	case EffectCreateSession:
		c.createSession()
	case EffectIssueRepeatingRequest:
		c.post(c.issueRepeatingRequest)
	case EffectResumeTracking:
		c.resumeTracking()
	case EffectPauseTracking:
		c.pauseTracking()
	case EffectMarkFirstRawFrame:
		c.firstRawFrame.Store(true)
	case EffectCloseSession:
		c.closeSession()
	case EffectCloseDevice:
		c.closeDevice(false)
	case EffectForceCloseDevice:
		c.closeDevice(true)
	case EffectReleaseImageReader:
		c.releaseImageReader()
	case EffectSignalReleased:
		c.signalReleased()
	case EffectFinishHost:
		c.finishHost()
	case EffectUpdateStatus:
		c.updateStatus()
	default:
		slog.Warn("shared-camera: unknown effect", "effect", int(eff))
	}
}

func (c *Controller) closeSession() {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s != nil {
		// No captures may arrive while the session is torn down.
		if err := s.StopRepeating(); err != nil {
			slog.Warn("shared-camera: failed to stop repeating request", "error", err)
		}
		s.Close()
		slog.Debug("shared-camera: capture session closed")
	}
}

// closeDevice closes the device. A graceful close keeps the handle until
// OnClosed; a forced close clears it immediately.
func (c *Controller) closeDevice(force bool) {
	c.mu.Lock()
	dev := c.device
	if force {
		c.device = nil
	}
	c.mu.Unlock()

	if dev != nil {
		dev.Close()
	}
}

func (c *Controller) releaseImageReader() {
	c.mu.Lock()
	r := c.reader
	c.reader = nil
	c.mu.Unlock()

	if r != nil {
		r.Close()
	}
}

func (c *Controller) signalReleased() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released != nil {
		close(c.released)
		c.released = nil
	}
}

func (c *Controller) finishHost() {
	c.mu.Lock()
	cause := c.deviceErr
	id := c.cameraID
	c.mu.Unlock()

	err := fmt.Errorf("shared-camera: camera %s: %w", id, ErrFatalDevice)
	if cause != nil {
		err = fmt.Errorf("shared-camera: camera %s: %w: %w", id, ErrFatalDevice, cause)
	}
	c.opts.Host.Finish(err)
}

// handlerLocked returns the background looper as a Handler, or nil. c.mu must be held.
func (c *Controller) handlerLocked() Handler {
	if c.looper == nil {
		return nil
	}
	return c.looper
}

func (c *Controller) handler() Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlerLocked()
}

// post runs task on the background looper.
func (c *Controller) post(task func()) {
	h := c.handler()
	if h == nil || !h.Post(task) {
		slog.Warn("shared-camera: background looper not accepting work, task dropped")
	}
}

func endSpan(span trace.Span, err *error) {
	if err != nil && *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
		span.SetAttributes(attribute.String("error.category", CategoryOf(*err).String()))
	}
	span.End()
}

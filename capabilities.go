package sharedcamera

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// Handler runs callbacks on the goroutine that owns it.
//
// Post returns false when the handler no longer accepts work.
type Handler interface {
	Post(task func()) bool
}

// PixelFormat identifies the memory layout of an Image.
type PixelFormat int

const (
	// FormatRGB is packed 8-bit RGB
	FormatRGB PixelFormat = iota
	// FormatYUV420 is planar I420 (Y plane, then U, then V)
	FormatYUV420
)

// String returns a human-readable representation of the format
func (f PixelFormat) String() string {
	switch f {
	case FormatRGB:
		return "RGB"
	case FormatYUV420:
		return "I420"
	default:
		return "unknown"
	}
}

// Image is one captured buffer delivered to a Surface.
type Image struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Format    PixelFormat
	Data      []byte
	TraceID   string

	// Release returns the buffer to its producer. Called once by Close.
	Release func()
}

// Close releases the image back to its producer. Safe to call twice.
func (img *Image) Close() {
	if img == nil || img.Release == nil {
		return
	}
	release := img.Release
	img.Release = nil
	release()
}

// Surface is an output target of a capture session.
type Surface interface {
	Format() PixelFormat
	Size() (width, height int)
	// Deliver hands a captured buffer to the surface. It must not block.
	Deliver(img *Image)
}

// SurfaceTexture is the display surface the raw renderer samples from.
type SurfaceTexture interface {
	Surface
	AttachToTexture(id TextureID) error
	DetachFromTexture() error
	// UpdateTexImage latches the most recent delivered image into the attached texture.
	UpdateTexImage() error
}

// ImageReader is the secondary image-consumption endpoint.
type ImageReader interface {
	Surface() Surface
	// AcquireLatestImage returns the newest queued image, dropping older ones.
	AcquireLatestImage() (*Image, bool)
	Close()
}

// CaptureKey names a capture-request setting.
type CaptureKey string

// KeyEffectMode selects a color effect on the capture pipeline.
const KeyEffectMode CaptureKey = "control.effect_mode"

// EffectMode is the value type of KeyEffectMode.
type EffectMode int

const (
	// EffectOff disables color effects
	EffectOff EffectMode = iota
	// EffectSepia applies a sepia tone
	EffectSepia
)

// RequestTemplate selects default settings for a new capture request.
type RequestTemplate int

const (
	// TemplatePreview favors frame rate
	TemplatePreview RequestTemplate = iota
	// TemplateRecord favors stable frame rate for recording
	TemplateRecord
)

// CaptureRequest is the settings and targets of a (repeating) capture.
type CaptureRequest struct {
	Template RequestTemplate
	Targets  []Surface
	Settings map[CaptureKey]any
}

// NewCaptureRequest returns an empty request for the template.
func NewCaptureRequest(template RequestTemplate) *CaptureRequest {
	return &CaptureRequest{
		Template: template,
		Settings: make(map[CaptureKey]any),
	}
}

// AddTarget appends an output surface.
func (r *CaptureRequest) AddTarget(s Surface) {
	r.Targets = append(r.Targets, s)
}

// Set stores a setting.
func (r *CaptureRequest) Set(key CaptureKey, value any) {
	if r.Settings == nil {
		r.Settings = make(map[CaptureKey]any)
	}
	r.Settings[key] = value
}

// Get reads a setting.
func (r *CaptureRequest) Get(key CaptureKey) (any, bool) {
	v, ok := r.Settings[key]
	return v, ok
}

// Characteristics describes a camera device.
type Characteristics struct {
	CameraID string
	// SessionKeys lists settings whose change forces a session reconfiguration
	// and therefore a visible capture delay.
	SessionKeys []CaptureKey
	// SessionKeysAvailable is false on devices that cannot report SessionKeys.
	SessionKeysAvailable bool
}

// DeviceCallbacks receives device state transitions on the supplied Handler.
type DeviceCallbacks struct {
	OnOpened       func(dev Device)
	OnClosed       func(dev Device)
	OnDisconnected func(dev Device)
	OnError        func(dev Device, err error)
}

// SessionCallbacks receives capture-session state transitions.
type SessionCallbacks struct {
	OnConfigured      func(s CaptureSession)
	OnConfigureFailed func(s CaptureSession, err error)
	OnActive          func(s CaptureSession)
}

// CaptureResult describes a completed capture.
type CaptureResult struct {
	Seq       uint64
	Timestamp time.Time
}

// CaptureFailure describes a failed capture.
type CaptureFailure struct {
	Seq    uint64
	Reason string
}

// CaptureCallbacks receives per-capture notifications, one per submitted
// capture in submission order.
type CaptureCallbacks struct {
	OnCompleted       func(r CaptureResult)
	OnFailed          func(f CaptureFailure)
	OnBufferLost      func(target Surface, seq uint64)
	OnSequenceAborted func(sequenceID int)
}

// CameraBackend opens devices and allocates image endpoints.
type CameraBackend interface {
	Characteristics(cameraID string) (Characteristics, error)
	// OpenDevice requests an asynchronous open. The outcome arrives through cb on h.
	OpenDevice(cameraID string, cb DeviceCallbacks, h Handler) error
	NewImageReader(width, height int, format PixelFormat, maxImages int, h Handler, onAvailable func(ImageReader)) (ImageReader, error)
}

// Device is an opened camera.
type Device interface {
	ID() string
	CreateCaptureRequest(template RequestTemplate) (*CaptureRequest, error)
	// CreateCaptureSession configures a session asynchronously; the outcome arrives through cb on h.
	CreateCaptureSession(targets []Surface, cb SessionCallbacks, h Handler) error
	// Close releases the device asynchronously; OnClosed fires when done.
	Close()
}

// CaptureSession is the negotiated pipeline between a device and its targets.
type CaptureSession interface {
	SetRepeatingRequest(req *CaptureRequest, cb CaptureCallbacks, h Handler) error
	StopRepeating() error
	Close()
}

// TrackingState is the tracking quality of a camera or trackable.
type TrackingState int

const (
	// TrackingStopped means the element will never be tracked again
	TrackingStopped TrackingState = iota
	// TrackingPaused means tracking is temporarily lost
	TrackingPaused
	// TrackingTracking means the element is actively tracked
	TrackingTracking
)

// String returns a human-readable representation of the tracking state
func (s TrackingState) String() string {
	switch s {
	case TrackingStopped:
		return "stopped"
	case TrackingPaused:
		return "paused"
	case TrackingTracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// FocusMode is the autofocus setting of the tracking session.
type FocusMode int

const (
	FocusFixed FocusMode = iota
	FocusAuto
)

// TrackingConfig configures a tracking session.
type TrackingConfig struct {
	FocusMode FocusMode
}

// TrackingFactory creates a tracking session that shares the camera.
type TrackingFactory func() (TrackingSession, error)

// TrackingSession is the opaque pose-estimation engine.
type TrackingSession interface {
	Configure(cfg TrackingConfig) error
	CameraID() string
	SharedCamera() SharedCamera
	// Resume returns an error wrapping ErrCameraNotAvailable when the camera cannot be used.
	Resume() error
	Pause() error
	Update() (Frame, error)
	AllTrackables(kind TrackableKind) []Trackable
	SetCameraTexture(id TextureID)
	Close()
}

// SharedCamera is the tracking engine's view of the shared device.
type SharedCamera interface {
	// Surfaces returns the targets the tracking engine needs in every session.
	Surfaces() []Surface
	SetAppSurfaces(cameraID string, surfaces []Surface)
	SurfaceTexture() SurfaceTexture
	// SetCaptureCallback routes capture notifications while tracking owns the stream.
	SetCaptureCallback(cb CaptureCallbacks, h Handler)
}

// Frame is one tracking update.
type Frame interface {
	Timestamp() time.Duration
	Camera() Camera
	LightEstimate() LightEstimate
	HitTest(x, y float32) []HitResult
	PointCloud() []mgl32.Vec4
}

// Camera is the tracked viewpoint of a frame.
type Camera interface {
	Pose() Pose
	DisplayOrientedPose() Pose
	TrackingState() TrackingState
	ProjectionMatrix(near, far float32) mgl32.Mat4
	ViewMatrix() mgl32.Mat4
}

// LightEstimate is the ambient light of a frame.
type LightEstimate struct {
	PixelIntensity  float32
	ColorCorrection [4]float32
}

// TrackableKind selects trackables in AllTrackables.
type TrackableKind int

const (
	KindPlane TrackableKind = iota
	KindPoint
)

// Trackable is a surface or point whose pose the engine estimates.
type Trackable interface {
	Kind() TrackableKind
	TrackingState() TrackingState
}

// Plane is a detected planar surface.
type Plane interface {
	Trackable
	CenterPose() Pose
	IsPoseInPolygon(p Pose) bool
	// Polygon returns the boundary in plane-local XZ coordinates.
	Polygon() []mgl32.Vec2
}

// OrientationMode describes how a point trackable is oriented.
type OrientationMode int

const (
	OrientationInitializedToIdentity OrientationMode = iota
	OrientationEstimatedSurfaceNormal
)

// Point is a point trackable.
type Point interface {
	Trackable
	OrientationMode() OrientationMode
}

// HitResult is one intersection of a tap ray with a trackable.
type HitResult interface {
	Trackable() Trackable
	HitPose() Pose
	Distance() float32
	CreateAnchor() (Anchor, error)
}

// Anchor is a pose binding tracked across frames.
type Anchor interface {
	ID() string
	Pose() Pose
	TrackingState() TrackingState
	// Detach releases the anchor; it stops being tracked.
	Detach()
}

// TextureID is an opaque texture handle.
type TextureID uint32

// BackgroundRenderer draws the camera image behind everything else.
type BackgroundRenderer interface {
	TextureID() TextureID
	SuppressTimestampZeroRendering(suppress bool)
	Clear()
	DrawTracking(frame Frame)
	DrawRaw()
}

// PlaneRenderer draws detected planes.
type PlaneRenderer interface {
	DrawPlanes(planes []Plane, cameraPose Pose, projection mgl32.Mat4)
}

// PointCloudRenderer draws feature points (xyz + confidence).
type PointCloudRenderer interface {
	DrawPoints(points []mgl32.Vec4, view, projection mgl32.Mat4)
}

// MeshRenderer draws the predefined mesh with a bound texture and color.
type MeshRenderer interface {
	Draw(mvp mgl32.Mat4, texture TextureID, color Color, light LightEstimate)
}

// PathRenderer draws a polyline.
type PathRenderer interface {
	DrawPath(vertices []mgl32.Vec3, mvp mgl32.Mat4)
}

// Renderers groups the rendering capabilities used by the FrameDispatcher.
type Renderers struct {
	Background BackgroundRenderer
	Planes     PlaneRenderer
	PointCloud PointCloudRenderer
	Mesh       MeshRenderer
	Path       PathRenderer
}

// TextureProvider turns text into a texture sized to fit the glyphs.
type TextureProvider interface {
	Generate(text string) (TextureID, error)
	UpdateLetter(text string) (TextureID, error)
}

// StatusSink shows user-facing status text.
type StatusSink interface {
	Show(msg string)
	ShowError(msg string)
	Hide()
	IsShowing() bool
}

// PermissionChecker checks and requests camera access.
type PermissionChecker interface {
	HasCameraPermission() bool
	// RequestCameraPermission starts an asynchronous request; the caller retries later.
	RequestCameraPermission()
}

// Availability is the state of the tracking/capture backend on this host.
type Availability int

const (
	AvailabilityUnknown Availability = iota
	AvailabilitySupportedInstalled
	AvailabilitySupportedOutdated
	AvailabilitySupportedNotInstalled
	AvailabilityUnsupported
)

// String returns a human-readable representation of the availability
func (a Availability) String() string {
	switch a {
	case AvailabilitySupportedInstalled:
		return "supported_installed"
	case AvailabilitySupportedOutdated:
		return "supported_outdated"
	case AvailabilitySupportedNotInstalled:
		return "supported_not_installed"
	case AvailabilityUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// InstallStatus is the outcome of RequestInstall.
type InstallStatus int

const (
	InstallInstalled InstallStatus = iota
	InstallRequested
)

// AvailabilityChecker reports whether the backend can run and requests installs.
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context) Availability
	RequestInstall(ctx context.Context) (InstallStatus, error)
}

// Host is the hosting context of the coordinator.
type Host interface {
	// Finish terminates the hosting context after a fatal error.
	Finish(err error)
	SetKeepAwake(on bool)
}

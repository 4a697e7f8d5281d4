// Package flatworld is a lightweight tracking session for a fixed camera
// looking at a floor.
//
// The world model is one horizontal plane below the camera. Frames arrive on
// a YUV surface shared with the capture session; luma drives the light
// estimate and the warmup that moves the camera from paused to tracking.
// Hit tests cast a ray from the tap through the camera onto the plane.
package flatworld

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
)

// Config contains configuration for a tracking session
type Config struct {
	CameraID string

	// ImageWidth and ImageHeight size the YUV tracking surface.
	ImageWidth  int
	ImageHeight int

	// ViewWidth and ViewHeight are the render viewport, in tap coordinates.
	ViewWidth  int
	ViewHeight int

	WarmupFrames int     // frames after resume before the camera tracks (default: 5)
	PlaneHeight  float32 // camera height above the floor in meters (default: 1.4)
	PlaneExtent  float32 // half-size of the floor polygon in meters (default: 5)
	FOVDegrees   float32 // vertical field of view (default: 60)
	PitchDegrees float32 // downward camera tilt (default: 30)

	// Texture is the camera texture stream drawn behind the scene.
	Texture CameraTexture
}

// CameraTexture is the camera image stream the session latches on Update.
type CameraTexture interface {
	sharedcamera.SurfaceTexture
	// LatchInto copies the newest image into texture id regardless of attachment.
	LatchInto(id sharedcamera.TextureID) error
}

// Session implements sharedcamera.TrackingSession.
type Session struct {
	cfg Config

	mu          sync.Mutex
	focus       sharedcamera.FocusMode
	resumed     bool
	closed      bool
	appSurfaces []sharedcamera.Surface
	cameraTex   sharedcamera.TextureID
	captureCB   sharedcamera.CaptureCallbacks
	captureH    sharedcamera.Handler
	framesSeen  int // frames ingested since the last resume
	luma        float32
	startedAt   time.Time
	lastFrameAt time.Time

	plane   *plane
	surface *trackingSurface

	frames  atomic.Uint64
	lost    atomic.Uint64
	anchors atomic.Uint64
}

// New creates a session with fail-fast validation of cfg.
func New(cfg Config) (*Session, error) {
	if cfg.CameraID == "" {
		return nil, fmt.Errorf("flatworld: camera id is required")
	}
	if cfg.ImageWidth <= 0 || cfg.ImageHeight <= 0 {
		return nil, fmt.Errorf("flatworld: invalid image size %dx%d", cfg.ImageWidth, cfg.ImageHeight)
	}
	if cfg.ViewWidth <= 0 || cfg.ViewHeight <= 0 {
		return nil, fmt.Errorf("flatworld: invalid view size %dx%d", cfg.ViewWidth, cfg.ViewHeight)
	}
	if cfg.WarmupFrames <= 0 {
		cfg.WarmupFrames = 5
	}
	if cfg.PlaneHeight <= 0 {
		cfg.PlaneHeight = 1.4
	}
	if cfg.PlaneExtent <= 0 {
		cfg.PlaneExtent = 5
	}
	if cfg.FOVDegrees <= 0 || cfg.FOVDegrees >= 180 {
		cfg.FOVDegrees = 60
	}
	if cfg.PitchDegrees == 0 {
		cfg.PitchDegrees = 30
	}

	s := &Session{
		cfg:       cfg,
		startedAt: time.Now(),
	}
	s.plane = &plane{
		session: s,
		center:  sharedcamera.TranslationPose(0, -cfg.PlaneHeight, 0),
		extent:  cfg.PlaneExtent,
	}
	s.surface = &trackingSurface{session: s, width: cfg.ImageWidth, height: cfg.ImageHeight}

	return s, nil
}

// Factory returns a TrackingFactory creating sessions from cfg.
func Factory(cfg Config) sharedcamera.TrackingFactory {
	return func() (sharedcamera.TrackingSession, error) {
		return New(cfg)
	}
}

func (s *Session) Configure(cfg sharedcamera.TrackingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("flatworld: session closed")
	}
	s.focus = cfg.FocusMode
	return nil
}

func (s *Session) CameraID() string {
	return s.cfg.CameraID
}

func (s *Session) SharedCamera() sharedcamera.SharedCamera {
	return sharedCamera{s}
}

// Resume starts tracking. Fails with ErrCameraNotAvailable until the app
// surfaces have been registered.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("flatworld: session closed: %w", sharedcamera.ErrCameraNotAvailable)
	}
	if len(s.appSurfaces) == 0 {
		return fmt.Errorf("flatworld: camera %s not configured for sharing: %w", s.cfg.CameraID, sharedcamera.ErrCameraNotAvailable)
	}
	if s.resumed {
		return nil
	}

	// The session owns the camera texture while tracking.
	if s.cfg.Texture != nil {
		_ = s.cfg.Texture.DetachFromTexture()
	}

	s.resumed = true
	s.framesSeen = 0
	slog.Info("flatworld: tracking resumed", "camera_id", s.cfg.CameraID, "warmup_frames", s.cfg.WarmupFrames)
	return nil
}

func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.resumed {
		return nil
	}
	s.resumed = false
	slog.Info("flatworld: tracking paused", "frames", s.frames.Load())
	return nil
}

// Update returns the current frame and latches the camera texture.
func (s *Session) Update() (sharedcamera.Frame, error) {
	s.mu.Lock()
	if !s.resumed {
		s.mu.Unlock()
		return nil, fmt.Errorf("flatworld: session not resumed")
	}
	state := sharedcamera.TrackingPaused
	if s.framesSeen >= s.cfg.WarmupFrames {
		state = sharedcamera.TrackingTracking
	}
	luma := s.luma
	texID := s.cameraTex
	ts := time.Duration(0)
	if !s.lastFrameAt.IsZero() {
		ts = s.lastFrameAt.Sub(s.startedAt)
	}
	s.mu.Unlock()

	if s.cfg.Texture != nil && texID != 0 {
		if err := s.cfg.Texture.LatchInto(texID); err != nil {
			slog.Debug("flatworld: camera texture not latched", "error", err)
		}
	}

	return &frame{
		session:   s,
		timestamp: ts,
		camera:    s.camera(state),
		luma:      luma,
	}, nil
}

// AllTrackables returns the floor once tracking has been established.
func (s *Session) AllTrackables(kind sharedcamera.TrackableKind) []sharedcamera.Trackable {
	if kind != sharedcamera.KindPlane {
		return nil
	}
	s.mu.Lock()
	detected := s.framesSeen >= s.cfg.WarmupFrames
	s.mu.Unlock()

	if !detected {
		return nil
	}
	return []sharedcamera.Trackable{s.plane}
}

func (s *Session) SetCameraTexture(id sharedcamera.TextureID) {
	s.mu.Lock()
	s.cameraTex = id
	s.mu.Unlock()
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.resumed = false
	slog.Info("flatworld: session closed",
		"frames", s.frames.Load(),
		"buffers_lost", s.lost.Load(),
		"anchors_created", s.anchors.Load(),
	)
}

// Stats is a snapshot of session counters.
type Stats struct {
	Frames         uint64
	BuffersLost    uint64
	AnchorsCreated uint64
	Tracking       bool
	Luma           float32
}

// Stats returns session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	tracking := s.resumed && s.framesSeen >= s.cfg.WarmupFrames
	luma := s.luma
	s.mu.Unlock()

	return Stats{
		Frames:         s.frames.Load(),
		BuffersLost:    s.lost.Load(),
		AnchorsCreated: s.anchors.Load(),
		Tracking:       tracking,
		Luma:           luma,
	}
}

func (s *Session) isTracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumed && !s.closed && s.framesSeen >= s.cfg.WarmupFrames
}

// ingest consumes one YUV image from the tracking surface.
func (s *Session) ingest(img *sharedcamera.Image) {
	defer img.Close()

	need := s.cfg.ImageWidth * s.cfg.ImageHeight
	if len(img.Data) < need {
		s.lost.Add(1)
		s.reportLost(img.Seq)
		slog.Warn("flatworld: short tracking image", "seq", img.Seq, "size_bytes", len(img.Data), "expected", need)
		return
	}

	luma := meanLuma(img.Data[:need])
	s.frames.Add(1)

	s.mu.Lock()
	s.luma = luma
	s.lastFrameAt = img.Timestamp
	if s.resumed {
		s.framesSeen++
	}
	s.mu.Unlock()
}

func (s *Session) reportLost(seq uint64) {
	s.mu.Lock()
	cb, h := s.captureCB, s.captureH
	s.mu.Unlock()

	if cb.OnBufferLost == nil || h == nil {
		return
	}
	surface := s.surface
	h.Post(func() { cb.OnBufferLost(surface, seq) })
}

// meanLuma averages a sparse sample of the Y plane, normalized to [0, 1].
func meanLuma(y []byte) float32 {
	const stride = 16
	var sum, n uint64
	for i := 0; i < len(y); i += stride {
		sum += uint64(y[i])
		n++
	}
	if n == 0 {
		return 0
	}
	return float32(sum) / float32(n) / 255
}

// camera returns the fixed camera for the given tracking state.
func (s *Session) camera(state sharedcamera.TrackingState) *camera {
	pitch := mgl32.DegToRad(-s.cfg.PitchDegrees)
	pose := sharedcamera.NewPose(mgl32.Vec3{0, 0, 0}, mgl32.QuatRotate(pitch, mgl32.Vec3{1, 0, 0}))
	return &camera{
		pose:   pose,
		state:  state,
		fovY:   mgl32.DegToRad(s.cfg.FOVDegrees),
		aspect: float32(s.cfg.ViewWidth) / float32(s.cfg.ViewHeight),
	}
}

// sharedCamera is the session's view of the shared capture device.
type sharedCamera struct {
	s *Session
}

// Surfaces returns the tracking surface and the camera texture.
func (c sharedCamera) Surfaces() []sharedcamera.Surface {
	surfaces := []sharedcamera.Surface{c.s.surface}
	if c.s.cfg.Texture != nil {
		surfaces = append(surfaces, c.s.cfg.Texture)
	}
	return surfaces
}

func (c sharedCamera) SetAppSurfaces(cameraID string, surfaces []sharedcamera.Surface) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if cameraID != c.s.cfg.CameraID {
		slog.Warn("flatworld: app surfaces for another camera ignored", "camera_id", cameraID)
		return
	}
	c.s.appSurfaces = append([]sharedcamera.Surface(nil), surfaces...)
}

func (c sharedCamera) SurfaceTexture() sharedcamera.SurfaceTexture {
	if c.s.cfg.Texture == nil {
		return nil
	}
	return c.s.cfg.Texture
}

// SetCaptureCallback installs the callback that receives lost tracking buffers.
func (c sharedCamera) SetCaptureCallback(cb sharedcamera.CaptureCallbacks, h sharedcamera.Handler) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.captureCB = cb
	c.s.captureH = h
}

// trackingSurface is the YUV capture target feeding the session.
type trackingSurface struct {
	session *Session
	width   int
	height  int
}

func (t *trackingSurface) Format() sharedcamera.PixelFormat {
	return sharedcamera.FormatYUV420
}

func (t *trackingSurface) Size() (int, int) {
	return t.width, t.height
}

func (t *trackingSurface) Deliver(img *sharedcamera.Image) {
	t.session.ingest(img)
}

// clampUnit clamps v to [0, 1].
func clampUnit(v float32) float32 {
	return float32(math.Max(0, math.Min(1, float64(v))))
}

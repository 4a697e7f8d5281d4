package sharedcamera

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// --- Surfaces ---

type fakeSurface struct {
	name      string
	format    PixelFormat
	delivered atomic.Uint64
}

func (s *fakeSurface) Format() PixelFormat { return s.format }
func (s *fakeSurface) Size() (int, int)    { return 640, 480 }
func (s *fakeSurface) Deliver(img *Image) {
	s.delivered.Add(1)
	img.Close()
}

type fakeSurfaceTexture struct {
	fakeSurface

	mu       sync.Mutex
	attached TextureID
	attaches int
	detaches int
	updates  int
}

func (s *fakeSurfaceTexture) AttachToTexture(id TextureID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached != 0 {
		return errors.New("already attached")
	}
	s.attached = id
	s.attaches++
	return nil
}

func (s *fakeSurfaceTexture) DetachFromTexture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached == 0 {
		return errors.New("not attached")
	}
	s.attached = 0
	s.detaches++
	return nil
}

func (s *fakeSurfaceTexture) UpdateTexImage() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached == 0 {
		return errors.New("not attached")
	}
	s.updates++
	return nil
}

// --- Backend, device, session ---

type fakeBackend struct {
	mu            sync.Mutex
	chars         Characteristics
	charsErr      error
	openErr       error
	readerErr     error
	configureFail bool
	dropClose     bool
	readerDelay   time.Duration
	opened        []string
	devices       []*fakeDevice
	readers       []*fakeReader
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chars: Characteristics{CameraID: "cam0", SessionKeys: []CaptureKey{}, SessionKeysAvailable: true},
	}
}

func (b *fakeBackend) Characteristics(cameraID string) (Characteristics, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chars, b.charsErr
}

func (b *fakeBackend) OpenDevice(cameraID string, cb DeviceCallbacks, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return b.openErr
	}
	dev := &fakeDevice{backend: b, id: cameraID, cb: cb, h: h}
	b.opened = append(b.opened, cameraID)
	b.devices = append(b.devices, dev)
	h.Post(func() { cb.OnOpened(dev) })
	return nil
}

func (b *fakeBackend) NewImageReader(width, height int, format PixelFormat, maxImages int, h Handler, onAvailable func(ImageReader)) (ImageReader, error) {
	b.mu.Lock()
	delay := b.readerDelay
	b.mu.Unlock()
	time.Sleep(delay)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readerErr != nil {
		return nil, b.readerErr
	}
	r := &fakeReader{surface: &fakeSurface{name: "reader", format: format}, maxImages: maxImages}
	b.readers = append(b.readers, r)
	return r, nil
}

func (b *fakeBackend) counts() (opens, readers int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.opened), len(b.readers)
}

func (b *fakeBackend) device(i int) *fakeDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.devices) {
		return nil
	}
	return b.devices[i]
}

func (b *fakeBackend) reader(i int) *fakeReader {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.readers) {
		return nil
	}
	return b.readers[i]
}

type fakeDevice struct {
	backend *fakeBackend
	id      string
	cb      DeviceCallbacks
	h       Handler

	mu      sync.Mutex
	targets []Surface
	session *fakeSession
	closes  int
}

func (d *fakeDevice) ID() string { return d.id }

func (d *fakeDevice) CreateCaptureRequest(template RequestTemplate) (*CaptureRequest, error) {
	req := NewCaptureRequest(template)
	req.Set(KeyEffectMode, EffectOff)
	return req, nil
}

func (d *fakeDevice) CreateCaptureSession(targets []Surface, cb SessionCallbacks, h Handler) error {
	s := &fakeSession{cb: cb, h: h}

	d.mu.Lock()
	d.targets = append([]Surface(nil), targets...)
	d.session = s
	d.mu.Unlock()

	d.backend.mu.Lock()
	fail := d.backend.configureFail
	d.backend.mu.Unlock()

	if fail {
		h.Post(func() { cb.OnConfigureFailed(s, errors.New("unsupported stream combination")) })
		return nil
	}
	h.Post(func() { cb.OnConfigured(s) })
	return nil
}

func (d *fakeDevice) Close() {
	d.mu.Lock()
	d.closes++
	d.mu.Unlock()

	d.backend.mu.Lock()
	drop := d.backend.dropClose
	d.backend.mu.Unlock()
	if drop {
		return
	}
	d.h.Post(func() { d.cb.OnClosed(d) })
}

func (d *fakeDevice) disconnect() {
	d.h.Post(func() { d.cb.OnDisconnected(d) })
}

func (d *fakeDevice) fail(err error) {
	d.h.Post(func() { d.cb.OnError(d, err) })
}

func (d *fakeDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *fakeDevice) currentSession() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

func (d *fakeDevice) sessionTargets() []Surface {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.targets
}

type fakeSession struct {
	cb SessionCallbacks
	h  Handler

	mu        sync.Mutex
	repeating int
	effects   []any
	captureCB CaptureCallbacks
	stops     int
	closed    int
}

// SetRepeatingRequest reports the session active on the first request and
// completes one capture per request.
func (s *fakeSession) SetRepeatingRequest(req *CaptureRequest, cb CaptureCallbacks, h Handler) error {
	effect, _ := req.Get(KeyEffectMode)

	s.mu.Lock()
	s.repeating++
	first := s.repeating == 1
	s.effects = append(s.effects, effect)
	s.captureCB = cb
	s.mu.Unlock()

	if first {
		h.Post(func() { s.cb.OnActive(s) })
	}
	h.Post(func() { cb.OnCompleted(CaptureResult{Seq: 1, Timestamp: time.Now()}) })
	return nil
}

func (s *fakeSession) StopRepeating() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed > 0 {
		return errors.New("session closed")
	}
	s.stops++
	return nil
}

func (s *fakeSession) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
}

func (s *fakeSession) lastEffect() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.effects) == 0 {
		return nil
	}
	return s.effects[len(s.effects)-1]
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) repeatingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repeating
}

type fakeReader struct {
	surface   *fakeSurface
	maxImages int
	closed    atomic.Int32
}

func (r *fakeReader) Surface() Surface                   { return r.surface }
func (r *fakeReader) AcquireLatestImage() (*Image, bool) { return &Image{}, true }
func (r *fakeReader) Close()                             { r.closed.Add(1) }

// --- Tracking ---

type fakeTracking struct {
	mu           sync.Mutex
	configureErr error
	resumeErr    error
	configured   []TrackingConfig
	resumes      int
	pauses       int
	closed       int
	cameraTex    TextureID
	frame        *fakeFrame
	trackables   []Trackable

	shared *fakeShared
}

func newFakeTracking() *fakeTracking {
	return &fakeTracking{
		shared: &fakeShared{
			surfaces: []Surface{&fakeSurface{name: "tracking", format: FormatYUV420}},
			texture:  &fakeSurfaceTexture{fakeSurface: fakeSurface{name: "texture", format: FormatRGB}},
		},
		frame: newFakeFrame(TrackingTracking),
	}
}

func (t *fakeTracking) Configure(cfg TrackingConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.configured = append(t.configured, cfg)
	return t.configureErr
}

func (t *fakeTracking) CameraID() string           { return "cam0" }
func (t *fakeTracking) SharedCamera() SharedCamera { return t.shared }

func (t *fakeTracking) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resumeErr != nil {
		return t.resumeErr
	}
	t.resumes++
	return nil
}

func (t *fakeTracking) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pauses++
	return nil
}

func (t *fakeTracking) Update() (Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frame, nil
}

func (t *fakeTracking) AllTrackables(kind TrackableKind) []Trackable {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Trackable
	for _, tr := range t.trackables {
		if tr.Kind() == kind {
			out = append(out, tr)
		}
	}
	return out
}

func (t *fakeTracking) SetCameraTexture(id TextureID) {
	t.mu.Lock()
	t.cameraTex = id
	t.mu.Unlock()
}

func (t *fakeTracking) Close() {
	t.mu.Lock()
	t.closed++
	t.mu.Unlock()
}

func (t *fakeTracking) counts() (resumes, pauses int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resumes, t.pauses
}

type fakeShared struct {
	surfaces []Surface
	texture  *fakeSurfaceTexture

	mu          sync.Mutex
	appSurfaces []Surface
	captureCBs  int
}

func (s *fakeShared) Surfaces() []Surface { return s.surfaces }

func (s *fakeShared) SetAppSurfaces(cameraID string, surfaces []Surface) {
	s.mu.Lock()
	s.appSurfaces = surfaces
	s.mu.Unlock()
}

func (s *fakeShared) SurfaceTexture() SurfaceTexture { return s.texture }

func (s *fakeShared) SetCaptureCallback(cb CaptureCallbacks, h Handler) {
	s.mu.Lock()
	s.captureCBs++
	s.mu.Unlock()
}

func (s *fakeShared) captureCallbackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureCBs
}

// --- Frame, camera, trackables ---

type fakeFrame struct {
	camera *fakeCamera
	light  LightEstimate
	hits   []HitResult
	points []mgl32.Vec4
}

func newFakeFrame(state TrackingState) *fakeFrame {
	return &fakeFrame{
		camera: &fakeCamera{pose: TranslationPose(0, 1, 0), state: state},
		light:  LightEstimate{PixelIntensity: 1},
		points: []mgl32.Vec4{{0, 0, -1, 1}},
	}
}

func (f *fakeFrame) Timestamp() time.Duration        { return time.Second }
func (f *fakeFrame) Camera() Camera                  { return f.camera }
func (f *fakeFrame) LightEstimate() LightEstimate    { return f.light }
func (f *fakeFrame) HitTest(x, y float32) []HitResult { return f.hits }
func (f *fakeFrame) PointCloud() []mgl32.Vec4        { return f.points }

type fakeCamera struct {
	pose  Pose
	state TrackingState
}

func (c *fakeCamera) Pose() Pose                { return c.pose }
func (c *fakeCamera) DisplayOrientedPose() Pose { return c.pose }
func (c *fakeCamera) TrackingState() TrackingState {
	return c.state
}
func (c *fakeCamera) ProjectionMatrix(near, far float32) mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(60), 4.0/3.0, near, far)
}
func (c *fakeCamera) ViewMatrix() mgl32.Mat4 { return c.pose.Inverse().Matrix() }

type fakePlane struct {
	state     TrackingState
	inPolygon bool
}

func (p *fakePlane) Kind() TrackableKind          { return KindPlane }
func (p *fakePlane) TrackingState() TrackingState { return p.state }
func (p *fakePlane) CenterPose() Pose             { return TranslationPose(0, 0, 0) }
func (p *fakePlane) IsPoseInPolygon(Pose) bool    { return p.inPolygon }
func (p *fakePlane) Polygon() []mgl32.Vec2 {
	return []mgl32.Vec2{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
}

type fakePoint struct {
	orientation OrientationMode
}

func (p *fakePoint) Kind() TrackableKind              { return KindPoint }
func (p *fakePoint) TrackingState() TrackingState     { return TrackingTracking }
func (p *fakePoint) OrientationMode() OrientationMode { return p.orientation }

type fakeHit struct {
	trackable Trackable
	pose      Pose
	anchorErr error
	anchors   []*fakeAnchor
}

func (h *fakeHit) Trackable() Trackable { return h.trackable }
func (h *fakeHit) HitPose() Pose        { return h.pose }
func (h *fakeHit) Distance() float32    { return 1 }

func (h *fakeHit) CreateAnchor() (Anchor, error) {
	if h.anchorErr != nil {
		return nil, h.anchorErr
	}
	a := &fakeAnchor{id: "a", pose: h.pose, state: TrackingTracking}
	h.anchors = append(h.anchors, a)
	return a, nil
}

type fakeAnchor struct {
	id       string
	pose     Pose
	state    TrackingState
	detached int
}

func (a *fakeAnchor) ID() string                   { return a.id }
func (a *fakeAnchor) Pose() Pose                   { return a.pose }
func (a *fakeAnchor) TrackingState() TrackingState { return a.state }
func (a *fakeAnchor) Detach() {
	a.detached++
	a.state = TrackingStopped
}

// --- Renderers ---

type fakeBackground struct {
	id TextureID

	mu       sync.Mutex
	suppress []bool
	clears   int
	tracking int
	raw      int
}

func (b *fakeBackground) TextureID() TextureID { return b.id }
func (b *fakeBackground) SuppressTimestampZeroRendering(s bool) {
	b.mu.Lock()
	b.suppress = append(b.suppress, s)
	b.mu.Unlock()
}
func (b *fakeBackground) Clear() {
	b.mu.Lock()
	b.clears++
	b.mu.Unlock()
}
func (b *fakeBackground) DrawTracking(Frame) {
	b.mu.Lock()
	b.tracking++
	b.mu.Unlock()
}
func (b *fakeBackground) DrawRaw() {
	b.mu.Lock()
	b.raw++
	b.mu.Unlock()
}

type fakePlanes struct {
	calls  int
	planes int
}

func (p *fakePlanes) DrawPlanes(planes []Plane, _ Pose, _ mgl32.Mat4) {
	p.calls++
	p.planes = len(planes)
}

type fakePointCloud struct{ calls int }

func (p *fakePointCloud) DrawPoints([]mgl32.Vec4, mgl32.Mat4, mgl32.Mat4) { p.calls++ }

type fakeMesh struct {
	textures []TextureID
	colors   []Color
}

func (m *fakeMesh) Draw(_ mgl32.Mat4, tex TextureID, col Color, _ LightEstimate) {
	m.textures = append(m.textures, tex)
	m.colors = append(m.colors, col)
}

type fakePath struct {
	calls    int
	vertices int
}

func (p *fakePath) DrawPath(vertices []mgl32.Vec3, _ mgl32.Mat4) {
	p.calls++
	p.vertices = len(vertices)
}

type fakeRenderers struct {
	bg     *fakeBackground
	planes *fakePlanes
	points *fakePointCloud
	mesh   *fakeMesh
	path   *fakePath
}

func newFakeRenderers() *fakeRenderers {
	return &fakeRenderers{
		bg:     &fakeBackground{id: 7},
		planes: &fakePlanes{},
		points: &fakePointCloud{},
		mesh:   &fakeMesh{},
		path:   &fakePath{},
	}
}

func (r *fakeRenderers) renderers() Renderers {
	return Renderers{Background: r.bg, Planes: r.planes, PointCloud: r.points, Mesh: r.mesh, Path: r.path}
}

type fakeTextures struct {
	next      TextureID
	generated []string
	updated   []string
	err       error
}

func (f *fakeTextures) Generate(text string) (TextureID, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.next++
	f.generated = append(f.generated, text)
	return 100 + f.next, nil
}

func (f *fakeTextures) UpdateLetter(text string) (TextureID, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.updated = append(f.updated, text)
	return 101, nil
}

// --- Input ---

type fakeTaps struct {
	mu     sync.Mutex
	events []TapEvent
}

func (f *fakeTaps) tap(x, y float32) {
	f.mu.Lock()
	f.events = append(f.events, TapEvent{X: x, Y: y, Timestamp: time.Now()})
	f.mu.Unlock()
}

func (f *fakeTaps) Poll() (TapEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return TapEvent{}, false
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev, true
}

// --- Host collaborators ---

type fakeStatus struct {
	mu      sync.Mutex
	shown   []string
	errs    []string
	hidden  int
	showing bool
}

func (s *fakeStatus) Show(msg string) {
	s.mu.Lock()
	s.shown = append(s.shown, msg)
	s.showing = true
	s.mu.Unlock()
}

func (s *fakeStatus) ShowError(msg string) {
	s.mu.Lock()
	s.errs = append(s.errs, msg)
	s.showing = true
	s.mu.Unlock()
}

func (s *fakeStatus) Hide() {
	s.mu.Lock()
	s.hidden++
	s.showing = false
	s.mu.Unlock()
}

func (s *fakeStatus) IsShowing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showing
}

func (s *fakeStatus) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.shown) == 0 {
		return ""
	}
	return s.shown[len(s.shown)-1]
}

func (s *fakeStatus) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

type fakePermissions struct {
	granted  atomic.Bool
	requests atomic.Int32
}

func (p *fakePermissions) HasCameraPermission() bool { return p.granted.Load() }
func (p *fakePermissions) RequestCameraPermission()  { p.requests.Add(1) }

type fakeAvailability struct {
	availability Availability
	install      InstallStatus
	installErr   error
	installs     atomic.Int32
}

func (a *fakeAvailability) CheckAvailability(context.Context) Availability {
	return a.availability
}

func (a *fakeAvailability) RequestInstall(context.Context) (InstallStatus, error) {
	a.installs.Add(1)
	return a.install, a.installErr
}

type fakeHost struct {
	mu        sync.Mutex
	finished  []error
	keepAwake []bool
}

func (h *fakeHost) Finish(err error) {
	h.mu.Lock()
	h.finished = append(h.finished, err)
	h.mu.Unlock()
}

func (h *fakeHost) SetKeepAwake(on bool) {
	h.mu.Lock()
	h.keepAwake = append(h.keepAwake, on)
	h.mu.Unlock()
}

func (h *fakeHost) finishedErrs() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.finished...)
}

// --- Environment ---

type testEnv struct {
	backend  *fakeBackend
	tracking *fakeTracking
	perms    *fakePermissions
	avail    *fakeAvailability
	status   *fakeStatus
	host     *fakeHost
	r        *fakeRenderers

	mu     sync.Mutex
	events []Event

	ctrl *Controller
}

// newTestEnv builds a controller over fakes. configure may adjust the fakes
// and options before the controller is created.
func newTestEnv(t *testing.T, trackingEnabled bool, configure func(env *testEnv, opts *Options)) *testEnv {
	t.Helper()

	env := &testEnv{
		backend:  newFakeBackend(),
		tracking: newFakeTracking(),
		perms:    &fakePermissions{},
		avail:    &fakeAvailability{availability: AvailabilitySupportedInstalled},
		status:   &fakeStatus{},
		host:     &fakeHost{},
		r:        newFakeRenderers(),
	}
	env.perms.granted.Store(true)

	opts := Options{
		Backend:         env.backend,
		NewTracking:     func() (TrackingSession, error) { return env.tracking, nil },
		Permissions:     env.perms,
		Availability:    env.avail,
		Status:          env.status,
		Host:            env.host,
		Background:      env.r.bg,
		TrackingEnabled: trackingEnabled,
		CloseTimeout:    2 * time.Second,
		Observer: func(ev Event, prev, next State) {
			env.mu.Lock()
			env.events = append(env.events, ev)
			env.mu.Unlock()
		},
	}
	if configure != nil {
		configure(env, &opts)
	}

	ctrl, err := NewController(opts)
	if err != nil {
		t.Fatalf("NewController() failed: %v", err)
	}
	env.ctrl = ctrl

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = ctrl.Close(ctx)
	})
	return env
}

func (env *testEnv) sawEvent(ev Event) bool {
	env.mu.Lock()
	defer env.mu.Unlock()
	for _, e := range env.events {
		if e == ev {
			return true
		}
	}
	return false
}

// start resumes the controller with a surface and waits for the gate to reopen.
func (env *testEnv) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := env.ctrl.OnSurfaceCreated(ctx); err != nil {
		t.Fatalf("OnSurfaceCreated() failed: %v", err)
	}
	if err := env.ctrl.Resume(ctx); err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}
	if err := env.ctrl.Gate().Await(ctx); err != nil {
		t.Fatalf("gate did not reopen: %v", err)
	}
}

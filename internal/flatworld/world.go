package flatworld

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
)

// pointGridStep is the spacing of the synthetic feature points on the floor.
const pointGridStep float32 = 0.5

type camera struct {
	pose   sharedcamera.Pose
	state  sharedcamera.TrackingState
	fovY   float32
	aspect float32
}

func (c *camera) Pose() sharedcamera.Pose {
	return c.pose
}

func (c *camera) DisplayOrientedPose() sharedcamera.Pose {
	return c.pose
}

func (c *camera) TrackingState() sharedcamera.TrackingState {
	return c.state
}

func (c *camera) ProjectionMatrix(near, far float32) mgl32.Mat4 {
	return mgl32.Perspective(c.fovY, c.aspect, near, far)
}

func (c *camera) ViewMatrix() mgl32.Mat4 {
	return c.pose.Inverse().Matrix()
}

type frame struct {
	session   *Session
	timestamp time.Duration
	camera    *camera
	luma      float32
}

func (f *frame) Timestamp() time.Duration {
	return f.timestamp
}

func (f *frame) Camera() sharedcamera.Camera {
	return f.camera
}

func (f *frame) LightEstimate() sharedcamera.LightEstimate {
	i := clampUnit(f.luma)
	return sharedcamera.LightEstimate{
		PixelIntensity:  i,
		ColorCorrection: [4]float32{1, 1, 1, i},
	}
}

// HitTest casts a ray from viewport point (x, y) onto the floor plane.
func (f *frame) HitTest(x, y float32) []sharedcamera.HitResult {
	if f.camera.state != sharedcamera.TrackingTracking {
		return nil
	}

	cfg := f.session.cfg
	ndcX := 2*x/float32(cfg.ViewWidth) - 1
	ndcY := 1 - 2*y/float32(cfg.ViewHeight)

	proj := f.camera.ProjectionMatrix(0.1, 100)
	inv := proj.Mul4(f.camera.ViewMatrix()).Inv()

	near := unproject(inv, mgl32.Vec4{ndcX, ndcY, -1, 1})
	far := unproject(inv, mgl32.Vec4{ndcX, ndcY, 1, 1})
	dir := far.Sub(near)

	p := f.session.plane
	planeY := p.center.Translation.Y()
	if dir.Y() >= 0 {
		return nil
	}
	t := (planeY - near.Y()) / dir.Y()
	if t < 0 {
		return nil
	}
	point := near.Add(dir.Mul(t))

	return []sharedcamera.HitResult{&hit{
		session:  f.session,
		target:   p,
		pose:     sharedcamera.NewPose(point, mgl32.QuatIdent()),
		distance: point.Sub(f.camera.pose.Translation).Len(),
	}}
}

// PointCloud returns floor grid points around the camera with luma confidence.
func (f *frame) PointCloud() []mgl32.Vec4 {
	if f.camera.state != sharedcamera.TrackingTracking {
		return nil
	}
	p := f.session.plane
	y := p.center.Translation.Y()
	conf := clampUnit(f.luma)

	var points []mgl32.Vec4
	for x := -p.extent; x <= p.extent; x += pointGridStep {
		for z := -p.extent; z <= 0; z += pointGridStep {
			points = append(points, mgl32.Vec4{x, y, z, conf})
		}
	}
	return points
}

func unproject(inv mgl32.Mat4, ndc mgl32.Vec4) mgl32.Vec3 {
	v := inv.Mul4x1(ndc)
	if v.W() == 0 {
		return v.Vec3()
	}
	return v.Vec3().Mul(1 / v.W())
}

// plane is the floor, with a square polygon of half-size extent.
type plane struct {
	session *Session
	center  sharedcamera.Pose
	extent  float32
}

func (p *plane) Kind() sharedcamera.TrackableKind {
	return sharedcamera.KindPlane
}

func (p *plane) TrackingState() sharedcamera.TrackingState {
	if p.session.isTracking() {
		return sharedcamera.TrackingTracking
	}
	return sharedcamera.TrackingPaused
}

func (p *plane) CenterPose() sharedcamera.Pose {
	return p.center
}

func (p *plane) IsPoseInPolygon(pose sharedcamera.Pose) bool {
	local := pose.Translation.Sub(p.center.Translation)
	return abs(local.X()) <= p.extent && abs(local.Z()) <= p.extent
}

func (p *plane) Polygon() []mgl32.Vec2 {
	e := p.extent
	return []mgl32.Vec2{{-e, -e}, {e, -e}, {e, e}, {-e, e}}
}

type hit struct {
	session  *Session
	target   sharedcamera.Trackable
	pose     sharedcamera.Pose
	distance float32
}

func (h *hit) Trackable() sharedcamera.Trackable {
	return h.target
}

func (h *hit) HitPose() sharedcamera.Pose {
	return h.pose
}

func (h *hit) Distance() float32 {
	return h.distance
}

func (h *hit) CreateAnchor() (sharedcamera.Anchor, error) {
	if !h.session.isTracking() {
		return nil, fmt.Errorf("flatworld: cannot create anchor while not tracking")
	}
	h.session.anchors.Add(1)
	return &anchor{session: h.session, id: uuid.New().String(), pose: h.pose}, nil
}

type anchor struct {
	session *Session
	id      string
	pose    sharedcamera.Pose

	mu       sync.Mutex
	detached bool
}

func (a *anchor) ID() string {
	return a.id
}

func (a *anchor) Pose() sharedcamera.Pose {
	return a.pose
}

func (a *anchor) TrackingState() sharedcamera.TrackingState {
	a.mu.Lock()
	detached := a.detached
	a.mu.Unlock()

	switch {
	case detached:
		return sharedcamera.TrackingStopped
	case a.session.isTracking():
		return sharedcamera.TrackingTracking
	default:
		return sharedcamera.TrackingPaused
	}
}

func (a *anchor) Detach() {
	a.mu.Lock()
	a.detached = true
	a.mu.Unlock()
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

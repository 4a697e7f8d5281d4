package sharedcamera

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	// DefaultLetter is the text drawn on placed anchors.
	DefaultLetter = "DENIZ"

	projectionNear float32 = 0.1
	projectionFar  float32 = 100

	enqueueDepth = 16
)

// DispatcherOptions configures a FrameDispatcher.
type DispatcherOptions struct {
	// Letter is the anchor text (default "DENIZ").
	Letter string
	// Placement selects what a resolved tap produces.
	Placement PlacementMode
}

// FrameDispatcher is the per-frame driver of the render goroutine.
//
// DrawFrame is called once per display refresh. The AnchorSet and PathBuffer
// are touched only from DrawFrame; other goroutines mutate dispatcher state
// through Enqueue.
type FrameDispatcher struct {
	ctrl     *Controller
	r        Renderers
	taps     TapSource
	textures TextureProvider

	anchors *AnchorSet
	path    *PathBuffer

	placement PlacementMode
	letter    string
	letterTex TextureID

	pending chan func()

	framesDrawn   atomic.Uint64
	framesSkipped atomic.Uint64
	rawFrames     atomic.Uint64
	tapsResolved  atomic.Uint64
	tapsMissed    atomic.Uint64

	// counts published at the end of each frame for Stats
	snapMu sync.Mutex
	snap   DispatcherStats
}

// NewFrameDispatcher creates a dispatcher bound to ctrl.
//
// Generates the initial letter texture. Must be called on the render goroutine.
func NewFrameDispatcher(ctrl *Controller, r Renderers, taps TapSource, textures TextureProvider, opts DispatcherOptions) (*FrameDispatcher, error) {
	switch {
	case ctrl == nil:
		return nil, fmt.Errorf("shared-camera: controller is required")
	case r.Background == nil || r.Planes == nil || r.PointCloud == nil || r.Mesh == nil || r.Path == nil:
		return nil, fmt.Errorf("shared-camera: all renderers are required")
	case taps == nil:
		return nil, fmt.Errorf("shared-camera: tap source is required")
	case textures == nil:
		return nil, fmt.Errorf("shared-camera: texture provider is required")
	}

	if opts.Letter == "" {
		opts.Letter = DefaultLetter
	}

	tex, err := textures.Generate(opts.Letter)
	if err != nil {
		return nil, fmt.Errorf("shared-camera: letter texture: %w", err)
	}

	d := &FrameDispatcher{
		ctrl:      ctrl,
		r:         r,
		taps:      taps,
		textures:  textures,
		anchors:   NewAnchorSet(),
		path:      NewPathBuffer(),
		placement: opts.Placement,
		letter:    opts.Letter,
		letterTex: tex,
		pending:   make(chan func(), enqueueDepth),
	}
	d.publish()
	return d, nil
}

// Anchors returns the anchor set. Render goroutine only.
func (d *FrameDispatcher) Anchors() *AnchorSet {
	return d.anchors
}

// Path returns the path buffer. Render goroutine only.
func (d *FrameDispatcher) Path() *PathBuffer {
	return d.path
}

// Enqueue schedules fn on the render goroutine before the next frame.
// Returns false when the queue is full.
func (d *FrameDispatcher) Enqueue(fn func()) bool {
	select {
	case d.pending <- fn:
		return true
	default:
		slog.Warn("shared-camera: render queue full, dropping task")
		return false
	}
}

// SetPlacementMode switches between object and path placement.
func (d *FrameDispatcher) SetPlacementMode(m PlacementMode) bool {
	return d.Enqueue(func() {
		d.placement = m
		slog.Info("shared-camera: placement mode changed", "mode", m.String())
	})
}

// SetLetter regenerates the anchor texture for text.
func (d *FrameDispatcher) SetLetter(text string) bool {
	return d.Enqueue(func() {
		tex, err := d.textures.UpdateLetter(text)
		if err != nil {
			slog.Error("shared-camera: failed to update letter texture", "letter", text, "error", err)
			return
		}
		d.letter = text
		d.letterTex = tex
		slog.Info("shared-camera: letter changed", "letter", text)
	})
}

// LoadPathText replaces the path with the points in text.
func (d *FrameDispatcher) LoadPathText(text string, factor float32) bool {
	return d.Enqueue(func() {
		d.loadPath(strings.NewReader(text), "inline", factor)
	})
}

// LoadPathFile replaces the path with the points in the file at name.
func (d *FrameDispatcher) LoadPathFile(name string, factor float32) bool {
	return d.Enqueue(func() {
		n, err := d.path.LoadFromFile(name, factor)
		if err != nil {
			slog.Error("shared-camera: failed to load path", "source", name, "error", err)
			return
		}
		slog.Info("shared-camera: path loaded", "source", name, "points", n)
	})
}

func (d *FrameDispatcher) loadPath(r io.Reader, source string, factor float32) {
	n, err := d.path.LoadFromStream(r, factor)
	if err != nil {
		slog.Error("shared-camera: failed to load path", "source", source, "error", err)
		return
	}
	slog.Info("shared-camera: path loaded", "source", source, "points", n)
}

// ClearPath empties the path.
func (d *FrameDispatcher) ClearPath() bool {
	return d.Enqueue(d.path.Clear)
}

// ClearAnchors releases every placed anchor.
func (d *FrameDispatcher) ClearAnchors() bool {
	return d.Enqueue(d.anchors.ClearAll)
}

// Close releases all anchors and drops pending tasks. Call on the render
// goroutine after the render loop has stopped.
func (d *FrameDispatcher) Close() {
	for {
		select {
		case <-d.pending:
		default:
			d.anchors.ClearAll()
			d.publish()
			return
		}
	}
}

func (d *FrameDispatcher) drainPending() {
	for {
		select {
		case fn := <-d.pending:
			fn()
		default:
			return
		}
	}
}

// DrawFrame renders one frame.
//
// The frame is skipped (cleared only) until a capture has completed. Then the
// frame goes to the tracking path when tracking owns the stream, otherwise to
// the raw passthrough path.
func (d *FrameDispatcher) DrawFrame() {
	d.drainPending()
	defer d.publish()

	d.r.Background.Clear()

	if !d.ctrl.FrameReady() {
		d.framesSkipped.Add(1)
		return
	}

	fc := d.ctrl.frameContext()
	if fc.trackingActive {
		d.drawTracking(fc)
	} else {
		d.drawRaw(fc)
	}
	d.framesDrawn.Add(1)
}

func (d *FrameDispatcher) drawTracking(fc frameContext) {
	if fc.sessionError || fc.tracking == nil {
		return
	}

	frame, err := fc.tracking.Update()
	if err != nil {
		slog.Error("shared-camera: tracking update failed", "error", err)
		return
	}
	camera := frame.Camera()

	d.handleTap(frame, camera)

	d.r.Background.DrawTracking(frame)

	trackingState := camera.TrackingState()
	d.ctrl.opts.Host.SetKeepAwake(trackingState == TrackingTracking)

	if trackingState == TrackingPaused {
		return
	}

	projection := camera.ProjectionMatrix(projectionNear, projectionFar)
	view := camera.ViewMatrix()
	light := frame.LightEstimate()

	d.r.PointCloud.DrawPoints(frame.PointCloud(), view, projection)

	planes := planesOf(fc.tracking.AllTrackables(KindPlane))
	status := d.ctrl.opts.Status
	if status.IsShowing() && anyTracking(planes) {
		status.Hide()
	}
	d.r.Planes.DrawPlanes(planes, camera.DisplayOrientedPose(), projection)

	d.anchors.DrawAll(view, projection, d.r.Mesh, d.letterTex, light)

	if vertices := d.path.Vertices(); len(vertices) > 0 {
		d.r.Path.DrawPath(vertices, projection.Mul4(view))
	}
}

// handleTap resolves at most one pending tap against frame.
func (d *FrameDispatcher) handleTap(frame Frame, camera Camera) {
	tap, ok := d.taps.Poll()
	if !ok {
		return
	}
	if camera.TrackingState() != TrackingTracking {
		d.tapsMissed.Add(1)
		slog.Debug("shared-camera: tap ignored, camera not tracking", "state", camera.TrackingState().String())
		return
	}

	for _, hit := range frame.HitTest(tap.X, tap.Y) {
		if !acceptHit(hit, camera.Pose()) {
			continue
		}

		switch d.placement {
		case PlacePath:
			t := hit.HitPose().Translation
			d.path.AddPoint(t.X(), t.Y(), t.Z())
			slog.Debug("shared-camera: path point added", "points", d.path.Len())

		default:
			anchor, err := hit.CreateAnchor()
			if err != nil {
				d.tapsMissed.Add(1)
				slog.Warn("shared-camera: failed to create anchor", "error", err)
				return
			}
			if evicted := d.anchors.Add(anchor, White); evicted != nil {
				slog.Debug("shared-camera: oldest anchor evicted", "anchor_id", evicted.ID())
			}
		}

		d.tapsResolved.Add(1)
		return
	}

	d.tapsMissed.Add(1)
}

// acceptHit selects hits inside a plane polygon and in front of the camera,
// or on a point oriented as an estimated surface normal.
func acceptHit(hit HitResult, cameraPose Pose) bool {
	tr := hit.Trackable()
	if tr == nil {
		return false
	}

	switch tr.Kind() {
	case KindPlane:
		plane, ok := tr.(Plane)
		if !ok {
			return false
		}
		pose := hit.HitPose()
		return plane.IsPoseInPolygon(pose) && DistanceToPlane(pose, cameraPose) > 0

	case KindPoint:
		point, ok := tr.(Point)
		return ok && point.OrientationMode() == OrientationEstimatedSurfaceNormal
	}
	return false
}

func planesOf(trackables []Trackable) []Plane {
	planes := make([]Plane, 0, len(trackables))
	for _, t := range trackables {
		if p, ok := t.(Plane); ok {
			planes = append(planes, p)
		}
	}
	return planes
}

func anyTracking(planes []Plane) bool {
	for _, p := range planes {
		if p.TrackingState() == TrackingTracking {
			return true
		}
	}
	return false
}

func (d *FrameDispatcher) drawRaw(fc frameContext) {
	if fc.shared == nil {
		return
	}
	tex := fc.shared.SurfaceTexture()
	if tex == nil {
		return
	}

	if d.ctrl.consumeFirstRawFrame() {
		if err := tex.DetachFromTexture(); err != nil {
			slog.Debug("shared-camera: camera texture was not attached", "error", err)
		}
		if err := tex.AttachToTexture(d.r.Background.TextureID()); err != nil {
			slog.Error("shared-camera: failed to attach camera texture", "error", err)
			return
		}
	}

	if err := tex.UpdateTexImage(); err != nil {
		slog.Warn("shared-camera: camera texture update failed", "error", err)
		return
	}

	d.r.Background.DrawRaw()
	d.rawFrames.Add(1)
}

func (d *FrameDispatcher) publish() {
	d.snapMu.Lock()
	d.snap = DispatcherStats{
		Anchors:      d.anchors.Len(),
		PathPoints:   d.path.Len(),
		PathVertices: len(d.path.Vertices()),
		Placement:    d.placement,
		Letter:       d.letter,
	}
	d.snapMu.Unlock()
}

// Stats returns operational statistics. Safe to call from any goroutine.
func (d *FrameDispatcher) Stats() DispatcherStats {
	d.snapMu.Lock()
	s := d.snap
	d.snapMu.Unlock()

	s.FramesDrawn = d.framesDrawn.Load()
	s.FramesSkipped = d.framesSkipped.Load()
	s.RawFrames = d.rawFrames.Load()
	s.TapsResolved = d.tapsResolved.Load()
	s.TapsMissed = d.tapsMissed.Load()
	return s
}

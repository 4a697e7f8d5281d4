package overlay

import (
	"image"
	"image/color"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
)

var (
	planeColor = color.NRGBA{R: 255, G: 255, B: 255, A: 60}
	pointColor = color.NRGBA{R: 31, G: 188, B: 210, A: 255}
	pathColor  = color.NRGBA{R: 255, G: 64, B: 64, A: 255}
)

const (
	pointSize = 3
	pathWidth = 3

	// letter quad half-extents in model space, meters
	letterHalfWidth  float32 = 0.1
	letterHalfHeight float32 = 0.05
)

// Background draws the camera texture behind the scene.
type Background struct {
	canvas   *Canvas
	id       sharedcamera.TextureID
	suppress atomic.Bool
}

// NewBackground allocates the camera texture in the canvas store.
func NewBackground(c *Canvas) *Background {
	return &Background{canvas: c, id: c.store.Allocate(nil)}
}

func (b *Background) TextureID() sharedcamera.TextureID {
	return b.id
}

// SuppressTimestampZeroRendering skips tracking frames with a zero timestamp.
func (b *Background) SuppressTimestampZeroRendering(suppress bool) {
	b.suppress.Store(suppress)
}

func (b *Background) Clear() {
	b.canvas.fill(color.Black)
}

func (b *Background) DrawTracking(frame sharedcamera.Frame) {
	if b.suppress.Load() && frame.Timestamp() == 0 {
		return
	}
	b.drawTexture()
}

func (b *Background) DrawRaw() {
	b.drawTexture()
}

func (b *Background) drawTexture() {
	src := b.canvas.texture(b.id)
	if src == nil {
		return
	}
	b.canvas.with(func(dst *image.RGBA) {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	})
}

// Planes fills the polygon of every tracked plane.
type Planes struct {
	canvas *Canvas
}

func NewPlanes(c *Canvas) *Planes {
	return &Planes{canvas: c}
}

func (p *Planes) DrawPlanes(planes []sharedcamera.Plane, cameraPose sharedcamera.Pose, projection mgl32.Mat4) {
	view := cameraPose.Inverse().Matrix()
	viewProj := projection.Mul4(view)
	w, h := p.canvas.Size()

	for _, plane := range planes {
		if plane.TrackingState() != sharedcamera.TrackingTracking {
			continue
		}
		model := plane.CenterPose().Matrix()
		mvp := viewProj.Mul4(model)

		var pts []mgl32.Vec2
		for _, v := range plane.Polygon() {
			if s, ok := p.canvas.Project(mvp, mgl32.Vec3{v.X(), 0, v.Y()}); ok {
				pts = append(pts, s)
			}
		}
		if len(pts) < 3 {
			continue
		}

		z := vector.NewRasterizer(w, h)
		z.MoveTo(pts[0].X(), pts[0].Y())
		for _, s := range pts[1:] {
			z.LineTo(s.X(), s.Y())
		}
		z.ClosePath()

		p.canvas.with(func(dst *image.RGBA) {
			z.Draw(dst, dst.Bounds(), image.NewUniform(planeColor), image.Point{})
		})
	}
}

// PointCloud draws feature points as small squares.
type PointCloud struct {
	canvas *Canvas
}

func NewPointCloud(c *Canvas) *PointCloud {
	return &PointCloud{canvas: c}
}

func (pc *PointCloud) DrawPoints(points []mgl32.Vec4, view, projection mgl32.Mat4) {
	if len(points) == 0 {
		return
	}
	mvp := projection.Mul4(view)
	src := image.NewUniform(pointColor)

	pc.canvas.with(func(dst *image.RGBA) {
		for _, pt := range points {
			s, ok := pc.canvas.Project(mvp, pt.Vec3())
			if !ok {
				continue
			}
			x, y := int(s.X()), int(s.Y())
			r := image.Rect(x-pointSize/2, y-pointSize/2, x+pointSize/2+1, y+pointSize/2+1)
			draw.Draw(dst, r.Intersect(dst.Bounds()), src, image.Point{}, draw.Over)
		}
	})
}

// Mesh draws the letter quad with its texture, dimmed by the light estimate.
type Mesh struct {
	canvas *Canvas
}

func NewMesh(c *Canvas) *Mesh {
	return &Mesh{canvas: c}
}

func (m *Mesh) Draw(mvp mgl32.Mat4, tex sharedcamera.TextureID, col sharedcamera.Color, light sharedcamera.LightEstimate) {
	src := m.canvas.texture(tex)
	if src == nil {
		return
	}

	corners := [4]mgl32.Vec3{
		{-letterHalfWidth, -letterHalfHeight, 0},
		{letterHalfWidth, -letterHalfHeight, 0},
		{letterHalfWidth, letterHalfHeight, 0},
		{-letterHalfWidth, letterHalfHeight, 0},
	}

	bounds := image.Rectangle{}
	for i, c := range corners {
		s, ok := m.canvas.Project(mvp, c)
		if !ok {
			return
		}
		pt := image.Pt(int(s.X()), int(s.Y()))
		if i == 0 {
			bounds = image.Rectangle{Min: pt, Max: pt}
			continue
		}
		bounds = bounds.Union(image.Rectangle{Min: pt, Max: pt.Add(image.Pt(1, 1))})
	}
	if bounds.Empty() {
		return
	}

	alpha := uint8(255 * lightAlpha(col, light))
	opts := &draw.Options{SrcMask: image.NewUniform(color.Alpha{A: alpha})}

	m.canvas.with(func(dst *image.RGBA) {
		draw.ApproxBiLinear.Scale(dst, bounds, src, src.Bounds(), draw.Over, opts)
	})
}

// lightAlpha combines the color alpha (0..255) with the pixel intensity.
func lightAlpha(col sharedcamera.Color, light sharedcamera.LightEstimate) float32 {
	a := col[3] / 255
	i := light.PixelIntensity
	if i <= 0 {
		i = 1
	}
	v := a * (0.3 + 0.7*i)
	return max(0, min(1, v))
}

// Path strokes the path polyline.
type Path struct {
	canvas *Canvas
}

func NewPath(c *Canvas) *Path {
	return &Path{canvas: c}
}

func (p *Path) DrawPath(vertices []mgl32.Vec3, mvp mgl32.Mat4) {
	if len(vertices) < 2 {
		return
	}
	w, h := p.canvas.Size()
	z := vector.NewRasterizer(w, h)
	segments := 0

	prev, prevOK := p.canvas.Project(mvp, vertices[0])
	for _, v := range vertices[1:] {
		cur, ok := p.canvas.Project(mvp, v)
		if ok && prevOK {
			strokeSegment(z, prev, cur, pathWidth)
			segments++
		}
		prev, prevOK = cur, ok
	}
	if segments == 0 {
		return
	}

	p.canvas.with(func(dst *image.RGBA) {
		z.Draw(dst, dst.Bounds(), image.NewUniform(pathColor), image.Point{})
	})
}

// strokeSegment adds a width-wide quad from a to b to z.
func strokeSegment(z *vector.Rasterizer, a, b mgl32.Vec2, width float32) {
	d := b.Sub(a)
	if d.Len() == 0 {
		return
	}
	n := mgl32.Vec2{-d.Y(), d.X()}.Normalize().Mul(width / 2)

	z.MoveTo(a.X()+n.X(), a.Y()+n.Y())
	z.LineTo(b.X()+n.X(), b.Y()+n.Y())
	z.LineTo(b.X()-n.X(), b.Y()-n.Y())
	z.LineTo(a.X()-n.X(), a.Y()-n.Y())
	z.ClosePath()
}

// Renderers returns all overlay renderers bound to c.
func Renderers(c *Canvas) sharedcamera.Renderers {
	return sharedcamera.Renderers{
		Background: NewBackground(c),
		Planes:     NewPlanes(c),
		PointCloud: NewPointCloud(c),
		Mesh:       NewMesh(c),
		Path:       NewPath(c),
	}
}

// Package overlay implements the renderer capabilities in software on an
// RGBA canvas: camera background, planes, point cloud, letter mesh and path.
package overlay

import (
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/texture"
)

// Canvas is the render target shared by all overlay renderers.
//
// Draw calls come from the render goroutine; Snapshot may be called from any
// goroutine.
type Canvas struct {
	store  *texture.Store
	width  int
	height int

	mu  sync.Mutex
	img *image.RGBA

	draws atomic.Uint64
}

// NewCanvas returns a black canvas of width x height.
func NewCanvas(store *texture.Store, width, height int) *Canvas {
	c := &Canvas{
		store:  store,
		width:  width,
		height: height,
		img:    image.NewRGBA(image.Rect(0, 0, width, height)),
	}
	c.fill(color.Black)
	return c
}

// Size returns the canvas dimensions.
func (c *Canvas) Size() (int, int) {
	return c.width, c.height
}

// Snapshot returns a copy of the current canvas.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := image.NewRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}

// Draws returns the number of draw calls submitted.
func (c *Canvas) Draws() uint64 {
	return c.draws.Load()
}

func (c *Canvas) fill(col color.Color) {
	c.mu.Lock()
	defer c.mu.Unlock()
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(col), image.Point{}, draw.Src)
}

// with runs fn with the canvas image locked.
func (c *Canvas) with(fn func(dst *image.RGBA)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.img)
	c.draws.Add(1)
}

// Project maps a world point through mvp to canvas pixels. Points behind the
// camera are reported as not visible.
func (c *Canvas) Project(mvp mgl32.Mat4, p mgl32.Vec3) (mgl32.Vec2, bool) {
	clip := mvp.Mul4x1(p.Vec4(1))
	if clip.W() <= 1e-6 {
		return mgl32.Vec2{}, false
	}
	ndc := clip.Vec3().Mul(1 / clip.W())
	x := (ndc.X() + 1) / 2 * float32(c.width)
	y := (1 - ndc.Y()) / 2 * float32(c.height)
	return mgl32.Vec2{x, y}, true
}

// texture returns the image of id, or nil.
func (c *Canvas) texture(id sharedcamera.TextureID) *image.RGBA {
	if c.store == nil {
		return nil
	}
	return c.store.Get(id)
}

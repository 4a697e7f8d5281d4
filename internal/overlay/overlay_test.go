package overlay

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/texture"
)

const size = 100

func newTestCanvas() (*Canvas, *texture.Store) {
	store := texture.NewStore()
	return NewCanvas(store, size, size), store
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func isBlack(img *image.RGBA, x, y int) bool {
	c := img.RGBAAt(x, y)
	return c.R == 0 && c.G == 0 && c.B == 0
}

type stubFrame struct{ ts time.Duration }

func (f stubFrame) Timestamp() time.Duration { return f.ts }
func (stubFrame) Camera() sharedcamera.Camera { return nil }
func (stubFrame) LightEstimate() sharedcamera.LightEstimate {
	return sharedcamera.LightEstimate{}
}
func (stubFrame) HitTest(x, y float32) []sharedcamera.HitResult { return nil }
func (stubFrame) PointCloud() []mgl32.Vec4 { return nil }

// squarePlane is a tracked 1m square around the origin.
type squarePlane struct{}

func (squarePlane) Kind() sharedcamera.TrackableKind { return sharedcamera.KindPlane }
func (squarePlane) TrackingState() sharedcamera.TrackingState {
	return sharedcamera.TrackingTracking
}
func (squarePlane) CenterPose() sharedcamera.Pose { return sharedcamera.TranslationPose(0, 0, 0) }
func (squarePlane) IsPoseInPolygon(sharedcamera.Pose) bool { return true }
func (squarePlane) Polygon() []mgl32.Vec2 {
	return []mgl32.Vec2{{-0.5, -0.5}, {0.5, -0.5}, {0.5, 0.5}, {-0.5, 0.5}}
}

func TestCanvas_Project(t *testing.T) {
	c, _ := newTestCanvas()

	s, ok := c.Project(mgl32.Ident4(), mgl32.Vec3{0, 0, 0})
	if !ok || s != (mgl32.Vec2{50, 50}) {
		t.Errorf("Expected center (50,50), got %v ok=%v", s, ok)
	}
	s, _ = c.Project(mgl32.Ident4(), mgl32.Vec3{1, 1, 0})
	if s != (mgl32.Vec2{100, 0}) {
		t.Errorf("Expected top-right corner, got %v", s)
	}

	proj := mgl32.Perspective(mgl32.DegToRad(60), 1, 0.1, 100)
	if _, ok := c.Project(proj, mgl32.Vec3{0, 0, 1}); ok {
		t.Error("Expected point behind the camera to be hidden")
	}
}

// TestBackground_Draw verifies that the camera texture is scaled onto the canvas.
//
// Contract:
//   - DrawRaw paints the texture
//   - Suppressed zero-timestamp tracking frames are skipped
//   - Clear paints black
func TestBackground_Draw(t *testing.T) {
	c, store := newTestCanvas()
	bg := NewBackground(c)

	bg.DrawRaw()
	if !isBlack(c.Snapshot(), 50, 50) {
		t.Fatal("Expected no draw without a texture image")
	}

	store.Replace(bg.TextureID(), solid(4, 4, color.RGBA{R: 200, A: 255}))

	bg.SuppressTimestampZeroRendering(true)
	bg.DrawTracking(stubFrame{ts: 0})
	if !isBlack(c.Snapshot(), 50, 50) {
		t.Error("Expected zero-timestamp frame to be skipped")
	}

	bg.DrawTracking(stubFrame{ts: time.Millisecond})
	if got := c.Snapshot().RGBAAt(50, 50); got.R != 200 {
		t.Errorf("Expected red background, got %v", got)
	}

	bg.Clear()
	if !isBlack(c.Snapshot(), 50, 50) {
		t.Error("Expected black after Clear")
	}
	t.Logf("✅ Background draws=%d", c.Draws())
}

func TestPlanes_FillsTrackedPolygon(t *testing.T) {
	c, _ := newTestCanvas()
	// Tilt so the XZ polygon faces the viewer.
	proj := mgl32.HomogRotate3DX(math.Pi / 2)

	NewPlanes(c).DrawPlanes([]sharedcamera.Plane{squarePlane{}}, sharedcamera.TranslationPose(0, 0, 0), proj)

	img := c.Snapshot()
	if isBlack(img, 50, 50) {
		t.Error("Expected plane fill at the center")
	}
	if !isBlack(img, 2, 2) {
		t.Error("Expected corner outside the plane to stay black")
	}
}

func TestPointCloud_DrawsPoints(t *testing.T) {
	c, _ := newTestCanvas()
	NewPointCloud(c).DrawPoints([]mgl32.Vec4{{0, 0, 0, 1}}, mgl32.Ident4(), mgl32.Ident4())

	if got := c.Snapshot().RGBAAt(50, 50); got != (color.RGBA{R: 31, G: 188, B: 210, A: 255}) {
		t.Errorf("Expected point color at center, got %v", got)
	}
	if !isBlack(c.Snapshot(), 60, 60) {
		t.Error("Expected pixels away from the point to stay black")
	}
}

func TestPath_StrokesSegments(t *testing.T) {
	c, _ := newTestCanvas()
	p := NewPath(c)

	p.DrawPath([]mgl32.Vec3{{0, 0, 0}}, mgl32.Ident4())
	if c.Draws() != 0 {
		t.Errorf("Expected no draw for a single vertex, got %d", c.Draws())
	}

	p.DrawPath([]mgl32.Vec3{{-0.5, 0, 0}, {0.5, 0, 0}}, mgl32.Ident4())
	img := c.Snapshot()
	if got := img.RGBAAt(50, 50); got.R != 255 || got.G != 64 {
		t.Errorf("Expected path color on the segment, got %v", got)
	}
	if !isBlack(img, 50, 80) {
		t.Error("Expected pixels off the segment to stay black")
	}
}

func TestMesh_DrawsLetterQuad(t *testing.T) {
	c, store := newTestCanvas()
	tex := store.Allocate(solid(8, 8, color.RGBA{R: 255, G: 255, B: 255, A: 255}))

	NewMesh(c).Draw(mgl32.Ident4(), tex, sharedcamera.Color{255, 255, 255, 255}, sharedcamera.LightEstimate{PixelIntensity: 1})
	if isBlack(c.Snapshot(), 50, 50) {
		t.Error("Expected letter quad at the center")
	}

	before := c.Draws()
	NewMesh(c).Draw(mgl32.Ident4(), 999, sharedcamera.Color{}, sharedcamera.LightEstimate{})
	if c.Draws() != before {
		t.Error("Expected unknown texture to draw nothing")
	}
}

func TestLightAlpha(t *testing.T) {
	tests := []struct {
		name  string
		col   sharedcamera.Color
		light float32
		want  float32
	}{
		{"opaque no estimate", sharedcamera.Color{0, 0, 0, 255}, 0, 1},
		{"opaque half light", sharedcamera.Color{0, 0, 0, 255}, 0.5, 0.65},
		{"transparent", sharedcamera.Color{}, 1, 0},
		{"clamped", sharedcamera.Color{0, 0, 0, 255}, 3, 1},
	}
	for _, tt := range tests {
		got := lightAlpha(tt.col, sharedcamera.LightEstimate{PixelIntensity: tt.light})
		if math.Abs(float64(got-tt.want)) > 1e-5 {
			t.Errorf("%s: lightAlpha() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// TestSnapshotSaver_Save verifies that snapshots are written with sequential names.
func TestSnapshotSaver_Save(t *testing.T) {
	c, _ := newTestCanvas()
	dir := filepath.Join(t.TempDir(), "snaps")

	s, err := NewSnapshotSaver(c, dir, "png", 0)
	if err != nil {
		t.Fatalf("NewSnapshotSaver() failed: %v", err)
	}

	path, err := s.Save(time.Date(2025, 11, 5, 23, 45, 17, 123e6, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "snapshot_000001_20251105_234517.123.png" {
		t.Errorf("Unexpected snapshot name %s", filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Snapshot is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != size || img.Bounds().Dy() != size {
		t.Errorf("Unexpected snapshot bounds %v", img.Bounds())
	}

	if saved, dropped := s.Stats(); saved != 1 || dropped != 0 {
		t.Errorf("Expected 1 saved 0 dropped, got %d/%d", saved, dropped)
	}
	t.Logf("✅ Snapshot written to %s", path)
}

func TestSnapshotSaver_Errors(t *testing.T) {
	c, _ := newTestCanvas()

	_, err := NewSnapshotSaver(c, t.TempDir(), "gif", 0)
	if err == nil || !strings.Contains(err.Error(), "unsupported snapshot format") {
		t.Errorf("Expected unsupported format error, got %v", err)
	}

	s, err := NewSnapshotSaver(c, t.TempDir(), "jpeg", 500)
	if err != nil {
		t.Fatal(err)
	}
	if s.jpegQuality != 90 {
		t.Errorf("Expected default quality 90, got %d", s.jpegQuality)
	}
	if err := s.Run(context.Background(), 0); err == nil {
		t.Error("Expected error for zero interval")
	}
}

func TestRenderers_AllBound(t *testing.T) {
	c, _ := newTestCanvas()
	r := Renderers(c)
	if r.Background == nil || r.Planes == nil || r.PointCloud == nil || r.Mesh == nil || r.Path == nil {
		t.Errorf("Expected every renderer bound, got %+v", r)
	}
}

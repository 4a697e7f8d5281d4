package sharedcamera

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// Mode is the lifecycle mode of the shared camera.
type Mode int

const (
	// ModeIdle means no device is open and nothing is pending
	ModeIdle Mode = iota
	// ModeOpening means a device open was requested and no session is active yet
	ModeOpening
	// ModeActiveTracking means the tracking pipeline owns the capture stream
	ModeActiveTracking
	// ModeActiveRaw means the raw passthrough renderer owns the capture stream
	ModeActiveRaw
	// ModeClosing means a close was requested and the device has not reported closed
	ModeClosing
)

// String returns a human-readable representation of the mode
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeOpening:
		return "opening"
	case ModeActiveTracking:
		return "active_tracking"
	case ModeActiveRaw:
		return "active_raw"
	case ModeClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// PlacementMode selects what a resolved tap produces.
type PlacementMode int

const (
	// PlaceObjects creates an anchor (letter) at the hit location
	PlaceObjects PlacementMode = iota
	// PlacePath appends the hit location to the path
	PlacePath
)

// String returns a human-readable representation of the placement mode
func (p PlacementMode) String() string {
	switch p {
	case PlaceObjects:
		return "objects"
	case PlacePath:
		return "path"
	default:
		return "unknown"
	}
}

// ParsePlacementMode maps "objects"/"letter" and "path" to a PlacementMode.
func ParsePlacementMode(s string) (PlacementMode, bool) {
	switch s {
	case "objects", "object", "letter":
		return PlaceObjects, true
	case "path":
		return PlacePath, true
	default:
		return PlaceObjects, false
	}
}

// Color is an RGBA color with float components.
type Color [4]float32

// White is the color assigned to tap-created anchors.
var White = Color{255, 255, 255, 255}

// TapEvent is a single pending input event in screen coordinates.
type TapEvent struct {
	X         float32
	Y         float32
	Timestamp time.Time
}

// TapSource yields at most one pending tap per call.
//
// Poll returns and clears the pending event, or reports false when none is pending.
type TapSource interface {
	Poll() (TapEvent, bool)
}

// Pose is a rigid transform: rotation followed by translation.
type Pose struct {
	Translation mgl32.Vec3
	Rotation    mgl32.Quat
}

// NewPose builds a pose from a translation and a rotation.
func NewPose(t mgl32.Vec3, r mgl32.Quat) Pose {
	return Pose{Translation: t, Rotation: r}
}

// TranslationPose builds an unrotated pose at (x, y, z).
func TranslationPose(x, y, z float32) Pose {
	return Pose{Translation: mgl32.Vec3{x, y, z}, Rotation: mgl32.QuatIdent()}
}

// rotation returns the pose rotation, treating the zero quaternion as identity.
func (p Pose) rotation() mgl32.Quat {
	if p.Rotation == (mgl32.Quat{}) {
		return mgl32.QuatIdent()
	}
	return p.Rotation
}

// Matrix returns the column-major model matrix of the pose.
func (p Pose) Matrix() mgl32.Mat4 {
	t := p.Translation
	return mgl32.Translate3D(t.X(), t.Y(), t.Z()).Mul4(p.rotation().Mat4())
}

// YAxis returns the pose's local +Y axis in world space.
func (p Pose) YAxis() mgl32.Vec3 {
	return p.rotation().Rotate(mgl32.Vec3{0, 1, 0})
}

// Inverse returns the inverse transform of the pose.
func (p Pose) Inverse() Pose {
	inv := p.rotation().Inverse()
	return Pose{Translation: inv.Rotate(p.Translation.Mul(-1)), Rotation: inv}
}

// DistanceToPlane returns the signed distance of the camera from the plane
// through planePose whose normal is the plane's local +Y axis. Positive values
// mean the camera is in front of the plane.
func DistanceToPlane(planePose, cameraPose Pose) float32 {
	normal := planePose.YAxis()
	return cameraPose.Translation.Sub(planePose.Translation).Dot(normal)
}

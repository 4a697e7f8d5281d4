package sharedcamera

import (
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// AnchorCapacity is the maximum number of placed anchors.
	AnchorCapacity = 20

	// anchorLift raises the drawn mesh above the anchor pose, in world units.
	anchorLift  float32 = 0.2
	anchorScale float32 = 1
)

type anchorEntry struct {
	anchor Anchor
	color  Color
}

// AnchorSet is a fixed-capacity FIFO of placed anchors.
//
// Insertion order is temporal order. When full, Add releases the oldest
// anchor before inserting. Owned by the render goroutine; not safe for
// concurrent use.
type AnchorSet struct {
	ring    [AnchorCapacity]anchorEntry
	head    int // index of the oldest entry
	size    int
	release func(Anchor)
}

// NewAnchorSet returns an empty set whose evictions call Anchor.Detach.
func NewAnchorSet() *AnchorSet {
	return &AnchorSet{}
}

// OnRelease replaces the eviction hook. A nil hook restores Anchor.Detach.
func (s *AnchorSet) OnRelease(release func(Anchor)) {
	s.release = release
}

func (s *AnchorSet) releaseAnchor(a Anchor) {
	if a == nil {
		return
	}
	if s.release != nil {
		s.release(a)
		return
	}
	a.Detach()
}

// Add inserts anchor with color, evicting and releasing the oldest entry
// when the set is full. Returns the evicted anchor, if any.
func (s *AnchorSet) Add(anchor Anchor, color Color) (evicted Anchor) {
	if s.size == AnchorCapacity {
		oldest := s.ring[s.head]
		s.ring[s.head] = anchorEntry{}
		s.head = (s.head + 1) % AnchorCapacity
		s.size--
		s.releaseAnchor(oldest.anchor)
		evicted = oldest.anchor
	}

	tail := (s.head + s.size) % AnchorCapacity
	s.ring[tail] = anchorEntry{anchor: anchor, color: color}
	s.size++
	return evicted
}

// Len returns the number of anchors held.
func (s *AnchorSet) Len() int {
	return s.size
}

// At returns the i-th anchor in insertion order (0 is the oldest).
func (s *AnchorSet) At(i int) (Anchor, Color) {
	if i < 0 || i >= s.size {
		panic("sharedcamera: anchor index out of range")
	}
	e := s.ring[(s.head+i)%AnchorCapacity]
	return e.anchor, e.color
}

// Anchors returns the anchors in insertion order.
func (s *AnchorSet) Anchors() []Anchor {
	out := make([]Anchor, 0, s.size)
	for i := 0; i < s.size; i++ {
		out = append(out, s.ring[(s.head+i)%AnchorCapacity].anchor)
	}
	return out
}

// ClearAll releases every anchor and empties the set.
func (s *AnchorSet) ClearAll() {
	for i := 0; i < s.size; i++ {
		idx := (s.head + i) % AnchorCapacity
		s.releaseAnchor(s.ring[idx].anchor)
		s.ring[idx] = anchorEntry{}
	}
	s.head = 0
	s.size = 0
}

// DrawAll submits every actively tracked anchor to mesh. Anchors that are not
// tracked this frame are skipped, not removed. Returns the number drawn.
func (s *AnchorSet) DrawAll(view, projection mgl32.Mat4, mesh MeshRenderer, texture TextureID, light LightEstimate) int {
	drawn := 0
	for i := 0; i < s.size; i++ {
		e := s.ring[(s.head+i)%AnchorCapacity]
		if e.anchor == nil || e.anchor.TrackingState() != TrackingTracking {
			continue
		}
		mesh.Draw(AnchorMVP(e.anchor.Pose(), view, projection), texture, e.color, light)
		drawn++
	}
	return drawn
}

// AnchorMVP returns projection * view * model for an anchor drawn at pose,
// lifted by 0.2 world units and at unit scale.
func AnchorMVP(pose Pose, view, projection mgl32.Mat4) mgl32.Mat4 {
	model := pose.Matrix().
		Mul4(mgl32.Translate3D(0, anchorLift, 0)).
		Mul4(mgl32.Scale3D(anchorScale, anchorScale, anchorScale))
	return projection.Mul4(view.Mul4(model))
}

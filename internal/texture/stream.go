package texture

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
)

var (
	// ErrNotAttached is returned when the stream has no texture to update.
	ErrNotAttached = errors.New("texture: stream not attached")
	// ErrAlreadyAttached is returned by AttachToTexture on an attached stream.
	ErrAlreadyAttached = errors.New("texture: stream already attached")
)

// Stream is the camera SurfaceTexture: an RGB capture target whose newest
// image is uploaded into a Store texture on demand.
type Stream struct {
	store  *Store
	width  int
	height int

	mu       sync.Mutex
	latest   *sharedcamera.Image
	attached sharedcamera.TextureID

	delivered atomic.Uint64
	latched   atomic.Uint64
}

// NewStream returns a detached stream of width x height RGB images.
func NewStream(store *Store, width, height int) *Stream {
	return &Stream{store: store, width: width, height: height}
}

func (s *Stream) Format() sharedcamera.PixelFormat {
	return sharedcamera.FormatRGB
}

func (s *Stream) Size() (int, int) {
	return s.width, s.height
}

// Deliver keeps the newest image, releasing the one it replaces.
func (s *Stream) Deliver(img *sharedcamera.Image) {
	s.mu.Lock()
	old := s.latest
	s.latest = img
	s.mu.Unlock()

	old.Close()
	s.delivered.Add(1)
}

func (s *Stream) AttachToTexture(id sharedcamera.TextureID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached != 0 {
		return fmt.Errorf("%w to %d", ErrAlreadyAttached, s.attached)
	}
	s.attached = id
	return nil
}

func (s *Stream) DetachFromTexture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached == 0 {
		return ErrNotAttached
	}
	s.attached = 0
	return nil
}

// UpdateTexImage uploads the newest image into the attached texture.
func (s *Stream) UpdateTexImage() error {
	s.mu.Lock()
	id := s.attached
	s.mu.Unlock()

	if id == 0 {
		return ErrNotAttached
	}
	return s.LatchInto(id)
}

// LatchInto uploads the newest image into texture id regardless of attachment.
// A stream with no image yet leaves the texture unchanged.
func (s *Stream) LatchInto(id sharedcamera.TextureID) error {
	s.mu.Lock()
	img := s.latest
	s.mu.Unlock()

	if img == nil {
		return nil
	}
	rgba, err := ToRGBA(img)
	if err != nil {
		return err
	}
	if !s.store.Replace(id, rgba) {
		return fmt.Errorf("texture: unknown texture %d", id)
	}
	s.latched.Add(1)
	return nil
}

// Attached returns the attached texture handle, or 0.
func (s *Stream) Attached() sharedcamera.TextureID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// ToRGBA converts a packed RGB image to RGBA.
func ToRGBA(img *sharedcamera.Image) (*image.RGBA, error) {
	if img.Format != sharedcamera.FormatRGB {
		return nil, fmt.Errorf("texture: unsupported format %s", img.Format)
	}
	need := img.Width * img.Height * 3
	if img.Width <= 0 || img.Height <= 0 || len(img.Data) < need {
		return nil, fmt.Errorf("texture: short RGB image %dx%d (%d bytes)", img.Width, img.Height, len(img.Data))
	}

	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	src := img.Data
	dst := out.Pix
	for i, j := 0, 0; i < need; i, j = i+3, j+4 {
		dst[j] = src[i]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i+2]
		dst[j+3] = 0xff
	}
	return out, nil
}

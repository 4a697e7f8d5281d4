// Package texture holds the software textures shared by the camera stream,
// the letter provider and the overlay renderers.
package texture

import (
	"image"
	"sync"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
)

// Store maps texture handles to RGBA images. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	next   sharedcamera.TextureID
	images map[sharedcamera.TextureID]*image.RGBA
}

// NewStore returns an empty store. Handle 0 is never allocated.
func NewStore() *Store {
	return &Store{images: make(map[sharedcamera.TextureID]*image.RGBA)}
}

// Allocate stores img under a new handle. img may be nil.
func (s *Store) Allocate(img *image.RGBA) sharedcamera.TextureID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.images[s.next] = img
	return s.next
}

// Replace swaps the image of an existing handle. Reports false for unknown handles.
func (s *Store) Replace(id sharedcamera.TextureID, img *image.RGBA) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[id]; !ok {
		return false
	}
	s.images[id] = img
	return true
}

// Get returns the image of id, or nil.
func (s *Store) Get(id sharedcamera.TextureID) *image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.images[id]
}

// Delete releases id.
func (s *Store) Delete(id sharedcamera.TextureID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.images, id)
}

// Len returns the number of allocated handles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}

package gstcamera

import (
	"sync"
	"sync/atomic"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
)

// imageReader is a bounded queue of delivered images.
//
// When full, the oldest image is dropped. Every delivery posts onAvailable to
// the handler.
type imageReader struct {
	width     int
	height    int
	format    sharedcamera.PixelFormat
	maxImages int
	handler   sharedcamera.Handler
	available func(sharedcamera.ImageReader)

	mu     sync.Mutex
	queue  []*sharedcamera.Image
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func newImageReader(width, height int, format sharedcamera.PixelFormat, maxImages int, h sharedcamera.Handler, onAvailable func(sharedcamera.ImageReader)) *imageReader {
	if maxImages < 1 {
		maxImages = 1
	}
	return &imageReader{
		width:     width,
		height:    height,
		format:    format,
		maxImages: maxImages,
		handler:   h,
		available: onAvailable,
	}
}

func (r *imageReader) Surface() sharedcamera.Surface {
	return readerSurface{r}
}

func (r *imageReader) AcquireLatestImage() (*sharedcamera.Image, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.queue)
	if n == 0 {
		return nil, false
	}
	latest := r.queue[n-1]
	for _, img := range r.queue[:n-1] {
		img.Close()
	}
	clear(r.queue)
	r.queue = r.queue[:0]
	return latest, true
}

func (r *imageReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for _, img := range r.queue {
		img.Close()
	}
	r.queue = nil
}

func (r *imageReader) deliver(img *sharedcamera.Image) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if len(r.queue) >= r.maxImages {
		r.queue[0].Close()
		r.queue = append(r.queue[:0], r.queue[1:]...)
		r.dropped.Add(1)
	}
	r.queue = append(r.queue, img)
	r.mu.Unlock()

	r.delivered.Add(1)

	if r.available != nil && r.handler != nil {
		r.handler.Post(func() { r.available(r) })
	}
}

// readerSurface is the capture target side of an imageReader.
type readerSurface struct {
	r *imageReader
}

func (s readerSurface) Format() sharedcamera.PixelFormat {
	return s.r.format
}

func (s readerSurface) Size() (int, int) {
	return s.r.width, s.r.height
}

func (s readerSurface) Deliver(img *sharedcamera.Image) {
	s.r.deliver(img)
}

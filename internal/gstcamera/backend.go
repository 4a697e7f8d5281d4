// Package gstcamera is a GStreamer-backed camera backend for V4L2 devices.
//
// A capture session is one pipeline with a tee and one appsink branch per
// output surface. The repeating request drives the coloreffects element. Bus
// errors are classified into disconnect, fatal and transient faults and
// routed to the device and capture callbacks.
package gstcamera

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
)

// Config contains configuration for the backend
type Config struct {
	Width  int // capture width (default: 640)
	Height int // capture height (default: 480)
	FPS    int // capture framerate (default: 30)

	// SessionKeys are reported as delay-sensitive in Characteristics.
	SessionKeys []sharedcamera.CaptureKey
	// LegacyDevice reports the capability list as unavailable.
	LegacyDevice bool
}

// Backend implements sharedcamera.CameraBackend.
type Backend struct {
	cfg Config

	mu   sync.Mutex
	open map[string]*device
}

// NewBackend creates a backend with fail-fast validation of cfg.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Width == 0 {
		cfg.Width = 640
	}
	if cfg.Height == 0 {
		cfg.Height = 480
	}
	if cfg.FPS == 0 {
		cfg.FPS = 30
	}
	if cfg.Width < 0 || cfg.Height < 0 || cfg.FPS < 0 {
		return nil, fmt.Errorf("gstcamera: invalid capture format %dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)
	}

	return &Backend{cfg: cfg, open: make(map[string]*device)}, nil
}

// DevicePath maps a camera ID ("video0" or "/dev/video0") to its device node.
func DevicePath(cameraID string) string {
	if strings.HasPrefix(cameraID, "/") {
		return cameraID
	}
	return "/dev/" + cameraID
}

// Characteristics reports the configured session keys.
func (b *Backend) Characteristics(cameraID string) (sharedcamera.Characteristics, error) {
	if cameraID == "" {
		return sharedcamera.Characteristics{}, fmt.Errorf("gstcamera: empty camera id")
	}
	chars := sharedcamera.Characteristics{
		CameraID:             cameraID,
		SessionKeysAvailable: !b.cfg.LegacyDevice,
	}
	if !b.cfg.LegacyDevice {
		chars.SessionKeys = append([]sharedcamera.CaptureKey(nil), b.cfg.SessionKeys...)
	}
	return chars, nil
}

// OpenDevice checks the device node and posts OnOpened to h.
func (b *Backend) OpenDevice(cameraID string, cb sharedcamera.DeviceCallbacks, h sharedcamera.Handler) error {
	if h == nil {
		return fmt.Errorf("gstcamera: handler is required")
	}
	path := DevicePath(cameraID)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("gstcamera: camera %s: %w", cameraID, err)
	}
	if info.Mode()&os.ModeDevice == 0 {
		return fmt.Errorf("gstcamera: camera %s: %s is not a device node", cameraID, path)
	}

	b.mu.Lock()
	if _, busy := b.open[path]; busy {
		b.mu.Unlock()
		return fmt.Errorf("gstcamera: camera %s already in use", cameraID)
	}
	dev := &device{backend: b, id: cameraID, path: path, cb: cb, handler: h}
	b.open[path] = dev
	b.mu.Unlock()

	slog.Info("gstcamera: camera device opening", "camera_id", cameraID, "device", path)

	if !h.Post(func() {
		if cb.OnOpened != nil {
			cb.OnOpened(dev)
		}
	}) {
		b.release(path)
		return fmt.Errorf("gstcamera: camera %s: handler not accepting callbacks", cameraID)
	}
	return nil
}

// NewImageReader allocates a bounded image endpoint.
func (b *Backend) NewImageReader(width, height int, format sharedcamera.PixelFormat, maxImages int, h sharedcamera.Handler, onAvailable func(sharedcamera.ImageReader)) (sharedcamera.ImageReader, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("gstcamera: invalid image reader size %dx%d", width, height)
	}
	return newImageReader(width, height, format, maxImages, h, onAvailable), nil
}

func (b *Backend) release(path string) {
	b.mu.Lock()
	delete(b.open, path)
	b.mu.Unlock()
}

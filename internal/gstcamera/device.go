package gstcamera

import (
	"fmt"
	"log/slog"
	"sync"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
)

// device is an opened V4L2 camera.
type device struct {
	backend *Backend
	id      string
	path    string
	cb      sharedcamera.DeviceCallbacks
	handler sharedcamera.Handler

	mu        sync.Mutex
	session   *session
	sessionCB sharedcamera.SessionCallbacks
	closed    bool
	lost      bool
}

func (d *device) ID() string {
	return d.id
}

func (d *device) CreateCaptureRequest(template sharedcamera.RequestTemplate) (*sharedcamera.CaptureRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("gstcamera: device %s closed", d.id)
	}
	req := sharedcamera.NewCaptureRequest(template)
	req.Set(sharedcamera.KeyEffectMode, sharedcamera.EffectOff)
	return req, nil
}

// CreateCaptureSession builds a pipeline with one branch per target. The
// outcome is posted to cb on h; a replaced session is closed first.
func (d *device) CreateCaptureSession(targets []sharedcamera.Surface, cb sharedcamera.SessionCallbacks, h sharedcamera.Handler) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("gstcamera: device %s closed", d.id)
	}
	previous := d.session
	d.session = nil
	d.sessionCB = cb
	d.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	elements, err := createPipeline(pipelineConfig{
		Device:  d.path,
		Width:   d.backend.cfg.Width,
		Height:  d.backend.cfg.Height,
		FPS:     d.backend.cfg.FPS,
		Targets: targets,
	})
	if err != nil {
		slog.Error("gstcamera: failed to configure capture session", "device", d.path, "error", err)
		if !h.Post(func() {
			if cb.OnConfigureFailed != nil {
				cb.OnConfigureFailed(nil, err)
			}
		}) {
			return fmt.Errorf("gstcamera: configure session: %w", err)
		}
		return nil
	}

	s := newSession(d, elements)

	d.mu.Lock()
	d.session = s
	d.mu.Unlock()

	h.Post(func() {
		if cb.OnConfigured != nil {
			cb.OnConfigured(s)
		}
	})
	return nil
}

// Close closes the active session and releases the device. OnClosed is
// posted once the pipeline is down. Idempotent.
func (d *device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	s := d.session
	d.session = nil
	d.mu.Unlock()

	if s != nil {
		s.Close()
	}

	d.backend.release(d.path)
	slog.Info("gstcamera: camera device closed", "device", d.path)

	d.post(func() {
		if d.cb.OnClosed != nil {
			d.cb.OnClosed(d)
		}
	})
}

// disconnected reports the device as gone. Reported at most once.
func (d *device) disconnected() {
	if !d.markLost() {
		return
	}
	d.post(func() {
		if d.cb.OnDisconnected != nil {
			d.cb.OnDisconnected(d)
		}
	})
}

// failed reports a fatal device error. Reported at most once.
func (d *device) failed(err error) {
	if !d.markLost() {
		return
	}
	d.post(func() {
		if d.cb.OnError != nil {
			d.cb.OnError(d, err)
		}
	})
}

func (d *device) markLost() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost || d.closed {
		return false
	}
	d.lost = true
	return true
}

// sessionCallbacks returns the callbacks of the current capture session.
func (d *device) sessionCallbacks() sharedcamera.SessionCallbacks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionCB
}

func (d *device) post(task func()) {
	if !d.handler.Post(task) {
		slog.Warn("gstcamera: handler not accepting callbacks, dropped", "device", d.path)
	}
}

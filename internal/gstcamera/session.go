package gstcamera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
)

// session is a capture session backed by one GStreamer pipeline.
type session struct {
	dev      *device
	elements *pipelineElements

	mu        sync.Mutex
	capture   sharedcamera.CaptureCallbacks
	handler   sharedcamera.Handler
	streaming bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	seq       atomic.Uint64
	bytesRead atomic.Uint64
	failures  atomic.Uint64
}

func newSession(dev *device, elements *pipelineElements) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		dev:      dev,
		elements: elements,
		ctx:      ctx,
		cancel:   cancel,
	}

	for i, b := range elements.Branches {
		sctx := &sampleContext{
			branch:    b,
			primary:   i == 0,
			seq:       &s.seq,
			bytesRead: &s.bytesRead,
			onCapture: s.captureCompleted,
			onLost:    s.bufferLost,
		}
		b.sink.SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
				return onNewSample(sink, sctx)
			},
		})
	}

	return s
}

// SetRepeatingRequest applies the request's effect and starts streaming.
//
// OnActive is posted when the pipeline goes from idle to streaming.
func (s *session) SetRepeatingRequest(req *sharedcamera.CaptureRequest, cb sharedcamera.CaptureCallbacks, h sharedcamera.Handler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("gstcamera: session closed")
	}
	s.capture = cb
	s.handler = h
	wasStreaming := s.streaming
	s.mu.Unlock()

	preset := presetFor(req)
	s.elements.Effects.SetProperty("preset", preset)

	if wasStreaming {
		slog.Debug("gstcamera: repeating request updated", "preset", preset)
		return nil
	}

	if err := s.elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstcamera: failed to start pipeline: %w", err)
	}

	s.mu.Lock()
	s.streaming = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.monitorBus()

	slog.Info("gstcamera: repeating request started", "device", s.dev.path, "preset", preset)

	if onActive := s.dev.sessionCallbacks().OnActive; onActive != nil {
		s.dev.post(func() { onActive(s) })
	}
	return nil
}

// StopRepeating pauses the pipeline without tearing it down.
func (s *session) StopRepeating() error {
	s.mu.Lock()
	if s.closed || !s.streaming {
		s.mu.Unlock()
		return nil
	}
	s.streaming = false
	s.mu.Unlock()

	if err := s.elements.Pipeline.SetState(gst.StatePaused); err != nil {
		return fmt.Errorf("gstcamera: failed to pause pipeline: %w", err)
	}
	return nil
}

// Close stops the bus monitor and destroys the pipeline. Idempotent.
func (s *session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.streaming = false
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Debug("gstcamera: bus monitor stopped cleanly")
	case <-time.After(3 * time.Second):
		slog.Warn("gstcamera: stop timeout exceeded, bus monitor may still be running")
	}

	if err := destroyPipeline(s.elements); err != nil {
		slog.Error("gstcamera: failed to destroy pipeline", "error", err)
	}

	slog.Info("gstcamera: capture session closed",
		"device", s.dev.path,
		"captures", s.seq.Load(),
		"bytes_read", s.bytesRead.Load(),
		"failures", s.failures.Load(),
	)
}

func (s *session) callbacks() (sharedcamera.CaptureCallbacks, sharedcamera.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture, s.handler
}

func (s *session) captureCompleted(seq uint64, ts time.Time) {
	cb, h := s.callbacks()
	if cb.OnCompleted == nil || h == nil {
		return
	}
	h.Post(func() { cb.OnCompleted(sharedcamera.CaptureResult{Seq: seq, Timestamp: ts}) })
}

func (s *session) bufferLost(target sharedcamera.Surface, seq uint64) {
	cb, h := s.callbacks()
	if cb.OnBufferLost == nil || h == nil {
		return
	}
	h.Post(func() { cb.OnBufferLost(target, seq) })
}

func (s *session) captureFailed(reason string) {
	s.failures.Add(1)
	cb, h := s.callbacks()
	if cb.OnFailed == nil || h == nil {
		return
	}
	seq := s.seq.Load()
	h.Post(func() { cb.OnFailed(sharedcamera.CaptureFailure{Seq: seq, Reason: reason}) })
}

// monitorBus polls the pipeline bus and routes faults to device or capture
// callbacks. Returns when the session closes or the device is lost.
func (s *session) monitorBus() {
	defer s.wg.Done()

	bus := s.elements.Pipeline.GetPipelineBus()

	for {
		select {
		case <-s.ctx.Done():
			slog.Debug("gstcamera: context cancelled, stopping bus monitor")
			return

		default:
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}

			switch msg.Type() {
			case gst.MessageEOS:
				slog.Warn("gstcamera: end of stream from camera", "device", s.dev.path)
				s.dev.disconnected()
				return

			case gst.MessageError:
				gerr := msg.ParseError()
				category := ClassifyGStreamerError(gerr)

				slog.Error("gstcamera: pipeline error",
					"error", gerr.Error(),
					"debug", gerr.DebugString(),
					"category", category.String(),
					"device", s.dev.path,
					"captures", s.seq.Load(),
				)

				switch category {
				case FaultDisconnect:
					s.dev.disconnected()
					return
				case FaultFatal:
					s.dev.failed(fmt.Errorf("gstcamera: pipeline error [%s]: %s", category.String(), gerr.Error()))
					return
				default:
					s.captureFailed(gerr.Error())
				}

			case gst.MessageStateChanged:
				if msg.Source() == s.elements.Pipeline.GetName() {
					old, new := msg.ParseStateChanged()
					slog.Debug("gstcamera: pipeline state changed", "from", old, "to", new)
				}
			}
		}
	}
}

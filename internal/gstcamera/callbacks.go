package gstcamera

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
)

// sampleContext holds the state one appsink callback needs
type sampleContext struct {
	branch    *branch
	primary   bool // completions are reported from the primary branch only
	seq       *atomic.Uint64
	bytesRead *atomic.Uint64
	onCapture func(seq uint64, ts time.Time)
	onLost    func(target sharedcamera.Surface, seq uint64)
}

// onNewSample pulls a sample, copies it into an Image and hands it to the
// branch's target surface.
//
// A sample that cannot be read is reported as a lost buffer and skipped; the
// stream is never terminated from here.
func onNewSample(sink *app.Sink, ctx *sampleContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstcamera: failed to pull sample from appsink, skipping frame")
		ctx.reportLost(0)
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstcamera: failed to get buffer from sample, skipping frame")
		ctx.reportLost(0)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstcamera: empty buffer received")
		ctx.reportLost(0)
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	var seq uint64
	if ctx.primary {
		seq = ctx.seq.Add(1)
	} else {
		seq = ctx.seq.Load()
	}
	ctx.bytesRead.Add(uint64(len(frameData)))

	img := &sharedcamera.Image{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     ctx.branch.width,
		Height:    ctx.branch.height,
		Format:    ctx.branch.format,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	ctx.branch.target.Deliver(img)

	if ctx.primary && ctx.onCapture != nil {
		ctx.onCapture(seq, img.Timestamp)
	}

	slog.Debug("gstcamera: frame delivered",
		"seq", seq,
		"format", img.Format.String(),
		"size_bytes", len(frameData),
		"trace_id", img.TraceID,
	)

	return gst.FlowOK
}

func (ctx *sampleContext) reportLost(seq uint64) {
	if ctx.onLost != nil {
		ctx.onLost(ctx.branch.target, seq)
	}
}

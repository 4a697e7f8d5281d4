package gstcamera

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
)

// coloreffects presets
const (
	presetNone  = 0
	presetSepia = 2
)

// pipelineConfig contains configuration for a capture session pipeline
type pipelineConfig struct {
	Device  string
	Width   int
	Height  int
	FPS     int
	Targets []sharedcamera.Surface
}

// branch is the appsink branch feeding one output surface
type branch struct {
	target sharedcamera.Surface
	sink   *app.Sink
	width  int
	height int
	format sharedcamera.PixelFormat
}

// pipelineElements holds references to the elements a session needs after creation
type pipelineElements struct {
	Pipeline *gst.Pipeline
	Effects  *gst.Element
	Branches []*branch
}

// createPipeline builds the session pipeline.
//
// Pipeline structure:
//
//	v4l2src → videoconvert → coloreffects → videoconvert → tee
//	  tee → queue → videoconvert → videoscale → capsfilter → appsink   (one per target)
//
// The pipeline is configured but NOT started (state remains NULL).
func createPipeline(cfg pipelineConfig) (*pipelineElements, error) {
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("no output targets")
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", cfg.Device)
	src.SetProperty("do-timestamp", true)

	srcCaps, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create source capsfilter: %w", err)
	}
	srcCaps.SetProperty("caps", gst.NewCapsFromString(
		fmt.Sprintf("video/x-raw,width=%d,height=%d,framerate=%d/1", cfg.Width, cfg.Height, cfg.FPS)))

	preConvert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	effects, err := gst.NewElement("coloreffects")
	if err != nil {
		return nil, fmt.Errorf("failed to create coloreffects: %w", err)
	}
	effects.SetProperty("preset", presetNone)

	postConvert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	tee, err := gst.NewElement("tee")
	if err != nil {
		return nil, fmt.Errorf("failed to create tee: %w", err)
	}

	if err := pipeline.AddMany(src, srcCaps, preConvert, effects, postConvert, tee); err != nil {
		return nil, fmt.Errorf("failed to add source elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, srcCaps, preConvert, effects, postConvert, tee); err != nil {
		return nil, fmt.Errorf("failed to link source elements: %w", err)
	}

	elements := &pipelineElements{Pipeline: pipeline, Effects: effects}

	for i, target := range cfg.Targets {
		b, err := addBranch(pipeline, tee, target)
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}
		elements.Branches = append(elements.Branches, b)
	}

	slog.Info("gstcamera: session pipeline created",
		"device", cfg.Device,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
		"targets", len(cfg.Targets),
	)

	return elements, nil
}

func addBranch(pipeline *gst.Pipeline, tee *gst.Element, target sharedcamera.Surface) (*branch, error) {
	width, height := target.Size()
	format := target.Format()

	queue, err := gst.NewElement("queue")
	if err != nil {
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}
	queue.SetProperty("max-size-buffers", uint(2))
	queue.SetProperty("leaky", 2) // downstream: drop old buffers

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(buildSurfaceCaps(width, height, format)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 2)
	sink.SetProperty("drop", true)

	if err := pipeline.AddMany(queue, convert, scale, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to add branch elements: %w", err)
	}
	if err := gst.ElementLinkMany(tee, queue, convert, scale, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to link branch elements: %w", err)
	}

	return &branch{target: target, sink: sink, width: width, height: height, format: format}, nil
}

// buildSurfaceCaps returns the raw video caps of a surface.
func buildSurfaceCaps(width, height int, format sharedcamera.PixelFormat) string {
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d", format.String(), width, height)
}

// presetFor maps the requested effect to a coloreffects preset.
func presetFor(req *sharedcamera.CaptureRequest) int {
	if req == nil {
		return presetNone
	}
	v, ok := req.Get(sharedcamera.KeyEffectMode)
	if !ok {
		return presetNone
	}
	if mode, ok := v.(sharedcamera.EffectMode); ok && mode == sharedcamera.EffectSepia {
		return presetSepia
	}
	return presetNone
}

// destroyPipeline sets the pipeline to NULL. Safe to call with nil.
func destroyPipeline(elements *pipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/backoff"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/control"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/flatworld"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/gstcamera"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/overlay"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/status"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/tap"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/telemetry"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/texture"
)

const (
	healthInterval = 10 * time.Second
	reopenGateWait = 10 * time.Second
)

var (
	errShutdownRequested = errors.New("shutdown requested")
	errRenderQueueFull   = errors.New("render queue full, try again")
	errSnapshotsDisabled = errors.New("snapshots disabled (render.snapshot_dir is empty)")
)

func newRunCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the shared-camera daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", defaultConfigPath, "Path to configuration file")
	return cmd
}

// daemon holds the wired components of one run.
type daemon struct {
	cfg *config.Config

	host     *host
	ctrl     *sharedcamera.Controller
	disp     *sharedcamera.FrameDispatcher
	taps     *tap.Mailbox
	reporter *status.Reporter
	emitter  *status.MQTTEmitter
	saver    *overlay.SnapshotSaver

	reopen chan struct{}
	retry  backoff.State
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(sigCtx)
	defer cancel(nil)

	slog.Info("sharedcamd: starting",
		"version", version,
		"instance_id", cfg.InstanceID,
		"device", cfg.Camera.Device,
		"tracking_enabled", cfg.TrackingEnabled(),
	)

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, cfg.InstanceID)
	if err != nil {
		return err
	}

	d, err := newDaemon(ctx, cfg, cancel)
	if err != nil {
		_ = shutdownTelemetry(context.Background())
		return err
	}

	runErr := d.run(ctx)

	slog.Info("sharedcamd: shutting down gracefully", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := d.ctrl.Close(shutdownCtx); err != nil {
		slog.Error("sharedcamd: controller close failed", "error", err)
	}
	if d.emitter != nil {
		d.emitter.Disconnect()
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("sharedcamd: telemetry shutdown failed", "error", err)
	}

	if err := d.host.Err(); err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("sharedcamd: stopped", "cause", context.Cause(ctx))
	return nil
}

func newDaemon(ctx context.Context, cfg *config.Config, cancel context.CancelCauseFunc) (*daemon, error) {
	d := &daemon{
		cfg:      cfg,
		host:     newHost(cancel),
		taps:     tap.NewMailbox(),
		reporter: status.NewReporter(cfg.InstanceID),
		reopen:   make(chan struct{}, 1),
	}

	if cfg.MQTT.Broker != "" {
		d.emitter = status.NewMQTTEmitter(cfg)
		if err := d.emitter.Connect(ctx); err != nil {
			return nil, err
		}
		d.reporter.SetPublisher(d.emitter)
	}

	store := texture.NewStore()
	canvas := overlay.NewCanvas(store, cfg.Render.Width, cfg.Render.Height)
	renderers := overlay.Renderers(canvas)
	cameraTexture := texture.NewStream(store, cfg.Camera.Width, cfg.Camera.Height)

	keys := make([]sharedcamera.CaptureKey, 0, len(cfg.Camera.SessionKeys))
	for _, k := range cfg.Camera.SessionKeys {
		keys = append(keys, sharedcamera.CaptureKey(k))
	}
	backend, err := gstcamera.NewBackend(gstcamera.Config{
		Width:        cfg.Camera.Width,
		Height:       cfg.Camera.Height,
		FPS:          cfg.Camera.FPS,
		SessionKeys:  keys,
		LegacyDevice: cfg.Camera.Legacy,
	})
	if err != nil {
		return nil, err
	}

	d.ctrl, err = sharedcamera.NewController(sharedcamera.Options{
		Backend: backend,
		NewTracking: flatworld.Factory(flatworld.Config{
			CameraID:     cfg.Camera.Device,
			ImageWidth:   cfg.Camera.Width,
			ImageHeight:  cfg.Camera.Height,
			ViewWidth:    cfg.Render.Width,
			ViewHeight:   cfg.Render.Height,
			WarmupFrames: cfg.Tracking.WarmupFrames,
			PlaneHeight:  cfg.Tracking.PlaneHeight,
			FOVDegrees:   cfg.Tracking.FOVDegrees,
			Texture:      cameraTexture,
		}),
		Permissions:     gstcamera.Permissions{Device: cfg.Camera.Device},
		Availability:    gstcamera.Availability{},
		Status:          d.reporter,
		Host:            d.host,
		Background:      renderers.Background,
		ImageWidth:      cfg.Camera.Width,
		ImageHeight:     cfg.Camera.Height,
		TrackingEnabled: cfg.TrackingEnabled(),
		GateTimeout:     cfg.Camera.GateTimeout,
		CloseTimeout:    cfg.Camera.CloseTimeout,
		Observer:        d.observe,
	})
	if err != nil {
		return nil, err
	}

	placement, _ := sharedcamera.ParsePlacementMode(cfg.Render.PlacementMode)
	d.disp, err = sharedcamera.NewFrameDispatcher(d.ctrl, renderers, d.taps, texture.NewProvider(store),
		sharedcamera.DispatcherOptions{Letter: cfg.Render.Letter, Placement: placement})
	if err != nil {
		return nil, err
	}

	if cfg.Render.SnapshotDir != "" {
		d.saver, err = overlay.NewSnapshotSaver(canvas, cfg.Render.SnapshotDir, cfg.Render.SnapshotFormat, 90)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Path.PreloadFile != "" {
		d.disp.LoadPathFile(cfg.Path.PreloadFile, cfg.Path.ConversionFactor)
	}

	return d, nil
}

func (d *daemon) run(ctx context.Context) error {
	if err := d.ctrl.OnSurfaceCreated(ctx); err != nil {
		return err
	}
	if err := d.ctrl.Resume(ctx); err != nil {
		if !sharedcamera.Retryable(err) {
			return err
		}
		slog.Warn("sharedcamd: camera open failed, retrying", "error", err,
			"category", sharedcamera.CategoryOf(err).String())
		d.requestReopen()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.renderLoop(gctx) })
	g.Go(func() error { return d.supervise(gctx) })

	if d.saver != nil {
		g.Go(func() error { return d.saver.Run(gctx, d.cfg.Render.SnapshotInterval) })
	}
	if d.emitter != nil {
		handler := control.NewHandler(d.cfg, d.emitter.Client, d.commandCallbacks())
		g.Go(func() error { return handler.Run(gctx) })
		g.Go(func() error { return d.healthLoop(gctx) })
	}

	return g.Wait()
}

// renderLoop is the render goroutine: one DrawFrame per tick.
func (d *daemon) renderLoop(ctx context.Context) error {
	interval := time.Second / time.Duration(d.cfg.Render.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer d.disp.Close()

	slog.Info("sharedcamd: render loop started", "fps", d.cfg.Render.FPS)

	for {
		select {
		case <-ctx.Done():
			st := d.disp.Stats()
			slog.Info("sharedcamd: render loop stopped",
				"frames_drawn", st.FramesDrawn,
				"frames_skipped", st.FramesSkipped)
			return nil
		case <-ticker.C:
			d.disp.DrawFrame()
		}
	}
}

func (d *daemon) observe(ev sharedcamera.Event, prev, next sharedcamera.State) {
	if ev == sharedcamera.EventDeviceDisconnected {
		d.requestReopen()
	}
}

func (d *daemon) requestReopen() {
	select {
	case d.reopen <- struct{}{}:
	default:
	}
}

// supervise re-opens the camera with backoff after a disconnect or a
// retryable open failure.
func (d *daemon) supervise(ctx context.Context) error {
	cfg := backoff.Config{
		MaxRetries:    d.cfg.Reconnect.MaxRetries,
		RetryDelay:    d.cfg.Reconnect.RetryDelay,
		MaxRetryDelay: d.cfg.Reconnect.MaxRetryDelay,
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.reopen:
		}

		slog.Info("sharedcamd: reopening camera", "device", d.cfg.Camera.Device)
		err := backoff.Run(ctx, d.reopenDevice, sharedcamera.Retryable, cfg, &d.retry)
		switch {
		case err == nil:
			slog.Info("sharedcamd: camera reopened", "attempts", d.retry.Attempts.Load())
		case ctx.Err() != nil:
			return nil
		default:
			slog.Error("sharedcamd: camera did not come back", "error", err)
			d.reporter.ShowError("Camera unavailable: " + err.Error())
		}
	}
}

// reopenDevice runs one open attempt and waits for its outcome.
func (d *daemon) reopenDevice(ctx context.Context) error {
	if err := d.ctrl.OpenDevice(ctx); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, reopenGateWait)
	defer cancel()
	if err := d.ctrl.Gate().Await(waitCtx); err != nil {
		return fmt.Errorf("sharedcamd: reopen: %w", sharedcamera.ErrResourceAccess)
	}

	if d.ctrl.State().SessionPresent {
		return nil
	}

	// Session configuration failed: roll back to idle before the next attempt.
	if err := d.ctrl.CloseDevice(ctx); err != nil {
		slog.Warn("sharedcamd: rollback after failed reopen", "error", err)
	}
	return fmt.Errorf("sharedcamd: reopen: no capture session: %w", sharedcamera.ErrResourceAccess)
}

func (d *daemon) healthLoop(ctx context.Context) error {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			payload, err := json.Marshal(d.statusData())
			if err != nil {
				slog.Error("sharedcamd: failed to marshal health", "error", err)
				continue
			}
			if err := d.emitter.PublishHealth(payload); err != nil {
				slog.Warn("sharedcamd: health publish failed", "error", err)
			}
		}
	}
}

func (d *daemon) statusData() map[string]any {
	st := d.ctrl.Stats()
	ds := d.disp.Stats()
	ts := d.taps.Stats()

	data := map[string]any{
		"instance_id":        d.cfg.InstanceID,
		"mode":               st.Mode.String(),
		"camera_id":          st.CameraID,
		"device_open":        st.DeviceOpen,
		"session_present":    st.SessionPresent,
		"gate_open":          st.GateOpen,
		"tracking_desired":   st.TrackingDesired,
		"tracking_active":    st.TrackingActive,
		"captures_completed": st.CapturesCompleted,
		"capture_failures":   st.CaptureFailures,
		"buffers_lost":       st.BuffersLost,
		"images_processed":   st.ImagesProcessed,
		"effects_skipped":    st.EffectsSkipped,
		"disconnects":        st.Disconnects,
		"gate_timeouts":      st.GateTimeouts,
		"frames_drawn":       ds.FramesDrawn,
		"frames_skipped":     ds.FramesSkipped,
		"taps_resolved":      ds.TapsResolved,
		"taps_missed":        ds.TapsMissed,
		"taps_dropped":       ts.Drops,
		"anchors":            ds.Anchors,
		"path_points":        ds.PathPoints,
		"placement_mode":     ds.Placement.String(),
		"letter":             ds.Letter,
		"reconnect_attempts": d.retry.Attempts.Load(),
	}
	if msg, ok := d.reporter.Current(); ok {
		data["status_message"] = msg.Message
	}
	return data
}

func (d *daemon) commandCallbacks() control.CommandCallbacks {
	return control.CommandCallbacks{
		OnGetStatus: d.statusData,
		OnTap: func(x, y float32) error {
			d.taps.Offer(x, y)
			return nil
		},
		OnSetTrackingEnabled: func(enabled bool) error {
			d.ctrl.SetTrackingEnabled(enabled)
			return nil
		},
		OnSetPlacementMode: func(mode sharedcamera.PlacementMode) error {
			return queued(d.disp.SetPlacementMode(mode))
		},
		OnSetLetter: func(text string) error {
			return queued(d.disp.SetLetter(text))
		},
		OnLoadPath: func(text, file string, factor float32) error {
			if file != "" {
				return queued(d.disp.LoadPathFile(file, factor))
			}
			return queued(d.disp.LoadPathText(text, factor))
		},
		OnSavePath: d.savePath,
		OnClearPath: func() error {
			return queued(d.disp.ClearPath())
		},
		OnClearAnchors: func() error {
			return queued(d.disp.ClearAnchors())
		},
		OnPauseTracking: func() error {
			d.ctrl.PauseTracking()
			return nil
		},
		OnResumeTracking: func() error {
			d.ctrl.ResumeTracking()
			return nil
		},
		OnSnapshot: func() (string, error) {
			if d.saver == nil {
				return "", errSnapshotsDisabled
			}
			return d.saver.Save(time.Now())
		},
		OnShutdown: func() error {
			d.host.cancel(errShutdownRequested)
			return nil
		},
	}
}

// savePath writes the raw path points to file on the render goroutine.
func (d *daemon) savePath(file string) error {
	return queued(d.disp.Enqueue(func() {
		f, err := os.Create(file)
		if err != nil {
			slog.Error("sharedcamd: failed to create path file", "file", file, "error", err)
			return
		}
		defer f.Close()

		n, err := d.disp.Path().WriteTo(f)
		if err != nil {
			slog.Error("sharedcamd: failed to save path", "file", file, "error", err)
			return
		}
		slog.Info("sharedcamd: path saved", "file", file, "points", d.disp.Path().Len(), "bytes", n)
	}))
}

func queued(ok bool) error {
	if !ok {
		return errRenderQueueFull
	}
	return nil
}

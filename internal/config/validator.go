package config

import (
	"fmt"
	"regexp"
	"time"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be >= 0")
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := validateTracking(&cfg.Tracking); err != nil {
		return fmt.Errorf("tracking: %w", err)
	}
	if err := validateRender(&cfg.Render); err != nil {
		return fmt.Errorf("render: %w", err)
	}

	if cfg.Path.ConversionFactor == 0 {
		cfg.Path.ConversionFactor = 0.001
	}
	if cfg.Path.ConversionFactor < 0 {
		return fmt.Errorf("path.conversion_factor must be > 0")
	}

	// Topics default even without a broker so an env-supplied broker works.
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("sharedcam/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Status == "" {
		cfg.MQTT.Topics.Status = fmt.Sprintf("sharedcam/status/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Health == "" {
		cfg.MQTT.Topics.Health = fmt.Sprintf("sharedcam/health/%s", cfg.InstanceID)
	}
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control": 1,
			"status":  0,
			"health":  0,
		}
	}
	for topic, qos := range cfg.MQTT.QoS {
		if qos > 2 {
			return fmt.Errorf("mqtt.qos[%s] must be 0, 1 or 2, got %d", topic, qos)
		}
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "sharedcamd"
	}

	if cfg.Reconnect.MaxRetries == 0 {
		cfg.Reconnect.MaxRetries = 5
	}
	if cfg.Reconnect.RetryDelay == 0 {
		cfg.Reconnect.RetryDelay = 1 * time.Second
	}
	if cfg.Reconnect.MaxRetryDelay == 0 {
		cfg.Reconnect.MaxRetryDelay = 30 * time.Second
	}
	if cfg.Reconnect.MaxRetries < 0 || cfg.Reconnect.RetryDelay < 0 || cfg.Reconnect.MaxRetryDelay < cfg.Reconnect.RetryDelay {
		return fmt.Errorf("reconnect: invalid policy (max_retries=%d retry_delay=%s max_retry_delay=%s)",
			cfg.Reconnect.MaxRetries, cfg.Reconnect.RetryDelay, cfg.Reconnect.MaxRetryDelay)
	}

	return nil
}

func validateCamera(c *CameraConfig) error {
	if c.Device == "" {
		c.Device = "video0"
	}
	if c.Width == 0 {
		c.Width = 640
	}
	if c.Height == 0 {
		c.Height = 480
	}
	if c.FPS == 0 {
		c.FPS = 30
	}
	if c.Width < 0 || c.Height < 0 || c.FPS < 0 {
		return fmt.Errorf("invalid capture format %dx%d@%d", c.Width, c.Height, c.FPS)
	}
	if c.GateTimeout < 0 || c.CloseTimeout < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}
	return nil
}

func validateTracking(t *TrackingConfig) error {
	if t.WarmupFrames == 0 {
		t.WarmupFrames = 5
	}
	if t.PlaneHeight == 0 {
		t.PlaneHeight = 1.4
	}
	if t.FOVDegrees == 0 {
		t.FOVDegrees = 60
	}
	if t.WarmupFrames < 0 || t.PlaneHeight < 0 {
		return fmt.Errorf("warmup_frames and plane_height must be >= 0")
	}
	if t.FOVDegrees <= 0 || t.FOVDegrees >= 180 {
		return fmt.Errorf("fov_degrees must be in (0, 180), got %g", t.FOVDegrees)
	}
	return nil
}

func validateRender(r *RenderConfig) error {
	if r.FPS == 0 {
		r.FPS = 30
	}
	if r.Width == 0 {
		r.Width = 1280
	}
	if r.Height == 0 {
		r.Height = 720
	}
	if r.FPS < 0 || r.Width < 0 || r.Height < 0 {
		return fmt.Errorf("invalid viewport %dx%d@%d", r.Width, r.Height, r.FPS)
	}

	if r.Letter == "" {
		r.Letter = "DENIZ"
	}

	switch r.PlacementMode {
	case "":
		r.PlacementMode = "objects"
	case "objects", "object", "letter", "path":
	default:
		return fmt.Errorf("placement_mode must be objects or path, got %q", r.PlacementMode)
	}

	if r.SnapshotFormat == "" {
		r.SnapshotFormat = "png"
	}
	if r.SnapshotFormat != "png" && r.SnapshotFormat != "jpeg" {
		return fmt.Errorf("snapshot_format must be png or jpeg, got %q", r.SnapshotFormat)
	}
	if r.SnapshotInterval == 0 {
		r.SnapshotInterval = 5 * time.Second
	}
	if r.SnapshotInterval < 0 {
		return fmt.Errorf("snapshot_interval must be > 0")
	}
	return nil
}

// Package config loads the shared-camera daemon configuration.
//
// The YAML file is read first, SHAREDCAM_* environment variables override
// individual fields, then Validate fills defaults and fails fast.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete shared-camera configuration
type Config struct {
	InstanceID      string          `yaml:"instance_id" env:"SHAREDCAM_INSTANCE_ID"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" env:"SHAREDCAM_SHUTDOWN_TIMEOUT"` // default: 5s
	Camera          CameraConfig    `yaml:"camera"`
	Tracking        TrackingConfig  `yaml:"tracking"`
	Render          RenderConfig    `yaml:"render"`
	Path            PathConfig      `yaml:"path"`
	MQTT            MQTTConfig      `yaml:"mqtt"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
	Reconnect       ReconnectConfig `yaml:"reconnect"`
}

// CameraConfig contains capture device settings
type CameraConfig struct {
	Device       string        `yaml:"device" env:"SHAREDCAM_CAMERA_DEVICE"` // "video0" or "/dev/video0"
	Width        int           `yaml:"width" env:"SHAREDCAM_CAMERA_WIDTH"`
	Height       int           `yaml:"height" env:"SHAREDCAM_CAMERA_HEIGHT"`
	FPS          int           `yaml:"fps" env:"SHAREDCAM_CAMERA_FPS"`
	GateTimeout  time.Duration `yaml:"gate_timeout" env:"SHAREDCAM_CAMERA_GATE_TIMEOUT"`   // 0 waits forever
	CloseTimeout time.Duration `yaml:"close_timeout" env:"SHAREDCAM_CAMERA_CLOSE_TIMEOUT"` // 0 waits forever
	// SessionKeys lists capture keys the device reports as delay-sensitive.
	SessionKeys []string `yaml:"session_keys" env:"SHAREDCAM_CAMERA_SESSION_KEYS" envSeparator:","`
	// Legacy devices cannot report session keys.
	Legacy bool `yaml:"legacy" env:"SHAREDCAM_CAMERA_LEGACY"`
}

// TrackingConfig contains tracking session settings
type TrackingConfig struct {
	Enabled      *bool   `yaml:"enabled"` // default: true
	WarmupFrames int     `yaml:"warmup_frames" env:"SHAREDCAM_TRACKING_WARMUP_FRAMES"`
	PlaneHeight  float32 `yaml:"plane_height" env:"SHAREDCAM_TRACKING_PLANE_HEIGHT"`
	FOVDegrees   float32 `yaml:"fov_degrees" env:"SHAREDCAM_TRACKING_FOV_DEGREES"`
}

// RenderConfig contains render loop and snapshot settings
type RenderConfig struct {
	FPS              int           `yaml:"fps" env:"SHAREDCAM_RENDER_FPS"`
	Width            int           `yaml:"width" env:"SHAREDCAM_RENDER_WIDTH"`
	Height           int           `yaml:"height" env:"SHAREDCAM_RENDER_HEIGHT"`
	Letter           string        `yaml:"letter" env:"SHAREDCAM_RENDER_LETTER"`
	PlacementMode    string        `yaml:"placement_mode" env:"SHAREDCAM_RENDER_PLACEMENT_MODE"` // objects, path
	SnapshotDir      string        `yaml:"snapshot_dir" env:"SHAREDCAM_RENDER_SNAPSHOT_DIR"`     // empty disables snapshots
	SnapshotFormat   string        `yaml:"snapshot_format" env:"SHAREDCAM_RENDER_SNAPSHOT_FORMAT"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" env:"SHAREDCAM_RENDER_SNAPSHOT_INTERVAL"`
}

// PathConfig contains path import settings
type PathConfig struct {
	ConversionFactor float32 `yaml:"conversion_factor" env:"SHAREDCAM_PATH_CONVERSION_FACTOR"`
	PreloadFile      string  `yaml:"preload_file" env:"SHAREDCAM_PATH_PRELOAD_FILE"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker string          `yaml:"broker" env:"SHAREDCAM_MQTT_BROKER"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	Status  string `yaml:"status"`
	Health  string `yaml:"health"`
}

// TelemetryConfig contains OpenTelemetry settings. An empty endpoint disables export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"SHAREDCAM_TELEMETRY_OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"SHAREDCAM_TELEMETRY_SERVICE_NAME"`
}

// ReconnectConfig contains the retry policy after a camera disconnect
type ReconnectConfig struct {
	MaxRetries    int           `yaml:"max_retries" env:"SHAREDCAM_RECONNECT_MAX_RETRIES"`
	RetryDelay    time.Duration `yaml:"retry_delay" env:"SHAREDCAM_RECONNECT_RETRY_DELAY"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" env:"SHAREDCAM_RECONNECT_MAX_RETRY_DELAY"`
}

// TrackingEnabled reports whether tracking mode is selected at startup.
func (c *Config) TrackingEnabled() bool {
	return c.Tracking.Enabled == nil || *c.Tracking.Enabled
}

// Load reads and parses a YAML configuration file, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the defaults with environment overrides applied.
func Default() (*Config, error) {
	cfg := &Config{InstanceID: "sharedcam"}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

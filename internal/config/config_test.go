package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/config"
)

// TestParse_Defaults verifies that a minimal file gets every default filled.
func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte("instance_id: lab-1\n"))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"shutdown_timeout", cfg.ShutdownTimeout, 5 * time.Second},
		{"camera.device", cfg.Camera.Device, "video0"},
		{"camera.size", [2]int{cfg.Camera.Width, cfg.Camera.Height}, [2]int{640, 480}},
		{"camera.fps", cfg.Camera.FPS, 30},
		{"tracking.enabled", cfg.TrackingEnabled(), true},
		{"tracking.warmup_frames", cfg.Tracking.WarmupFrames, 5},
		{"tracking.fov_degrees", cfg.Tracking.FOVDegrees, float32(60)},
		{"render.size", [2]int{cfg.Render.Width, cfg.Render.Height}, [2]int{1280, 720}},
		{"render.letter", cfg.Render.Letter, "DENIZ"},
		{"render.placement_mode", cfg.Render.PlacementMode, "objects"},
		{"render.snapshot_format", cfg.Render.SnapshotFormat, "png"},
		{"path.conversion_factor", cfg.Path.ConversionFactor, float32(0.001)},
		{"mqtt.topics.control", cfg.MQTT.Topics.Control, "sharedcam/control/lab-1"},
		{"mqtt.topics.status", cfg.MQTT.Topics.Status, "sharedcam/status/lab-1"},
		{"mqtt.qos.control", cfg.MQTT.QoS["control"], byte(1)},
		{"telemetry.service_name", cfg.Telemetry.ServiceName, "sharedcamd"},
		{"reconnect.max_retries", cfg.Reconnect.MaxRetries, 5},
		{"reconnect.max_retry_delay", cfg.Reconnect.MaxRetryDelay, 30 * time.Second},
	}

	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	t.Logf("✅ Defaults filled for %s", cfg.InstanceID)
}

func TestParse_FullFile(t *testing.T) {
	data := `
instance_id: cam-2
camera:
  device: /dev/video2
  width: 1280
  height: 720
  gate_timeout: 2s
  session_keys: [control.effect_mode]
tracking:
  enabled: false
render:
  placement_mode: path
  snapshot_dir: /tmp/snaps
  snapshot_format: jpeg
mqtt:
  broker: localhost:1883
  qos:
    control: 2
reconnect:
  retry_delay: 500ms
  max_retry_delay: 4s
`
	cfg, err := config.Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if cfg.TrackingEnabled() {
		t.Error("Expected tracking disabled")
	}
	if cfg.Camera.Device != "/dev/video2" || cfg.Camera.GateTimeout != 2*time.Second {
		t.Errorf("Unexpected camera config: %+v", cfg.Camera)
	}
	if len(cfg.Camera.SessionKeys) != 1 || cfg.Camera.SessionKeys[0] != "control.effect_mode" {
		t.Errorf("Unexpected session keys: %v", cfg.Camera.SessionKeys)
	}
	if cfg.Render.PlacementMode != "path" || cfg.Render.SnapshotFormat != "jpeg" {
		t.Errorf("Unexpected render config: %+v", cfg.Render)
	}
	if cfg.MQTT.QoS["control"] != 2 {
		t.Errorf("Expected control qos 2, got %d", cfg.MQTT.QoS["control"])
	}
	if cfg.Reconnect.RetryDelay != 500*time.Millisecond || cfg.Reconnect.MaxRetries != 5 {
		t.Errorf("Unexpected reconnect config: %+v", cfg.Reconnect)
	}
}

// TestParse_EnvOverrides verifies that SHAREDCAM_* variables win over the file.
func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("SHAREDCAM_CAMERA_DEVICE", "video7")
	t.Setenv("SHAREDCAM_CAMERA_SESSION_KEYS", "a,b")
	t.Setenv("SHAREDCAM_MQTT_BROKER", "broker:1883")
	t.Setenv("SHAREDCAM_RENDER_FPS", "15")

	cfg, err := config.Parse([]byte("instance_id: env-test\ncamera:\n  device: video0\n"))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if cfg.Camera.Device != "video7" {
		t.Errorf("Expected device from env, got %s", cfg.Camera.Device)
	}
	if len(cfg.Camera.SessionKeys) != 2 || cfg.Camera.SessionKeys[1] != "b" {
		t.Errorf("Expected session keys [a b], got %v", cfg.Camera.SessionKeys)
	}
	if cfg.MQTT.Broker != "broker:1883" || cfg.Render.FPS != 15 {
		t.Errorf("Unexpected overrides: broker=%s fps=%d", cfg.MQTT.Broker, cfg.Render.FPS)
	}
	if cfg.MQTT.Topics.Control != "sharedcam/control/env-test" {
		t.Errorf("Expected default control topic, got %s", cfg.MQTT.Topics.Control)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"missing instance", "camera: {}\n", "instance_id is required"},
		{"bad instance", "instance_id: Lab_1\n", "instance_id must match"},
		{"bad yaml", "instance_id: [\n", "failed to parse config"},
		{"negative size", "instance_id: a\ncamera:\n  width: -1\n", "camera: invalid capture format"},
		{"fov", "instance_id: a\ntracking:\n  fov_degrees: 180\n", "fov_degrees"},
		{"placement", "instance_id: a\nrender:\n  placement_mode: spiral\n", "placement_mode"},
		{"snapshot format", "instance_id: a\nrender:\n  snapshot_format: gif\n", "snapshot_format"},
		{"conversion factor", "instance_id: a\npath:\n  conversion_factor: -1\n", "conversion_factor"},
		{"qos", "instance_id: a\nmqtt:\n  qos:\n    status: 3\n", "mqtt.qos[status]"},
		{"reconnect", "instance_id: a\nreconnect:\n  retry_delay: 10s\n  max_retry_delay: 1s\n", "reconnect"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadAndDefault(t *testing.T) {
	file := filepath.Join(t.TempDir(), "sharedcam.yaml")
	if err := os.WriteFile(file, []byte("instance_id: from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(file)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.InstanceID != "from-file" {
		t.Errorf("Expected from-file, got %s", cfg.InstanceID)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	def, err := config.Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}
	if def.InstanceID != "sharedcam" || def.Camera.Device != "video0" {
		t.Errorf("Unexpected defaults: %+v", def)
	}
}

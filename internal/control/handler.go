// Package control is the MQTT control plane of the shared-camera daemon.
//
// Commands arrive as JSON on the control topic and are executed one at a
// time on the handler goroutine; every command gets a JSON response on the
// health topic.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/config"
)

// Command represents a control plane command
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// CommandCallbacks contains callback functions for commands. A nil callback
// answers its command with "not implemented".
type CommandCallbacks struct {
	OnGetStatus          func() map[string]any
	OnTap                func(x, y float32) error
	OnSetTrackingEnabled func(enabled bool) error
	OnSetPlacementMode   func(mode sharedcamera.PlacementMode) error
	OnSetLetter          func(text string) error
	OnLoadPath           func(text, file string, factor float32) error
	OnSavePath           func(file string) error
	OnClearPath          func() error
	OnClearAnchors       func() error
	OnPauseTracking      func() error
	OnResumeTracking     func() error
	OnSnapshot           func() (string, error)
	OnShutdown           func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg       *config.Config
	client    mqtt.Client
	commands  chan Command
	callbacks CommandCallbacks

	// respond publishes a marshalled response; defaults to the health topic.
	respond func(payload []byte) error
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	h := &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
	h.respond = h.publishResponse
	return h
}

// Run subscribes to the control topic and executes commands until ctx is done.
func (h *Handler) Run(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("control: subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}

	slog.Info("control: handler started")
	h.processCommands(ctx)

	if h.client.IsConnected() {
		h.client.Unsubscribe(topic).WaitTimeout(2 * time.Second)
	}
	slog.Info("control: handler stopped")
	return nil
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	h.Submit(msg.Payload())
}

// Submit parses a JSON command and queues it. Invalid JSON is answered
// immediately; a full queue drops the command.
func (h *Handler) Submit(payload []byte) bool {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return false
	}

	slog.Info("control: command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
		return true
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
		return false
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.handleCommand(cmd)
		}
	}
}

func (h *Handler) handleCommand(cmd Command) {
	resp := h.execute(cmd)
	h.sendResponse(resp)

	if cmd.Command == "shutdown" && resp.Status == "success" {
		// The response goes out before the shutdown starts.
		go func() {
			time.Sleep(500 * time.Millisecond)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("control: shutdown callback failed", "error", err)
			}
		}()
	}
}

// execute runs cmd and builds its response. Shutdown is acknowledged here
// and triggered by handleCommand.
func (h *Handler) execute(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}
	cb := h.callbacks

	switch cmd.Command {
	case "get_status":
		if cb.OnGetStatus == nil {
			return notImplemented(resp)
		}
		resp.Status = "success"
		resp.Data = cb.OnGetStatus()

	case "tap":
		if cb.OnTap == nil {
			return notImplemented(resp)
		}
		x, okX := cmd.Params["x"].(float64)
		y, okY := cmd.Params["y"].(float64)
		if !okX || !okY {
			return failed(resp, "missing or invalid 'x'/'y' parameters (expected numbers)")
		}
		resp = run(resp, func() error { return cb.OnTap(float32(x), float32(y)) },
			map[string]any{"x": x, "y": y})

	case "set_mode":
		if cb.OnSetTrackingEnabled == nil {
			return notImplemented(resp)
		}
		mode, _ := cmd.Params["mode"].(string)
		var enabled bool
		switch mode {
		case "tracking":
			enabled = true
		case "raw":
		default:
			return failed(resp, "missing or invalid 'mode' parameter (expected tracking or raw)")
		}
		resp = run(resp, func() error { return cb.OnSetTrackingEnabled(enabled) },
			map[string]any{"mode": mode})

	case "set_placement":
		if cb.OnSetPlacementMode == nil {
			return notImplemented(resp)
		}
		name, _ := cmd.Params["mode"].(string)
		mode, ok := sharedcamera.ParsePlacementMode(name)
		if !ok {
			return failed(resp, "missing or invalid 'mode' parameter (expected objects or path)")
		}
		resp = run(resp, func() error { return cb.OnSetPlacementMode(mode) },
			map[string]any{"placement_mode": mode.String()})

	case "set_letter":
		if cb.OnSetLetter == nil {
			return notImplemented(resp)
		}
		text, ok := cmd.Params["text"].(string)
		if !ok || text == "" {
			return failed(resp, "missing or invalid 'text' parameter (expected non-empty string)")
		}
		resp = run(resp, func() error { return cb.OnSetLetter(text) },
			map[string]any{"letter": text})

	case "load_path":
		if cb.OnLoadPath == nil {
			return notImplemented(resp)
		}
		text, _ := cmd.Params["text"].(string)
		file, _ := cmd.Params["file"].(string)
		if (text == "") == (file == "") {
			return failed(resp, "exactly one of 'text' or 'file' is required")
		}
		factor := float32(sharedcamera.DefaultConversionFactor)
		if f, ok := cmd.Params["factor"].(float64); ok {
			if f <= 0 {
				return failed(resp, "'factor' must be > 0")
			}
			factor = float32(f)
		}
		resp = run(resp, func() error { return cb.OnLoadPath(text, file, factor) },
			map[string]any{"factor": factor})

	case "save_path":
		if cb.OnSavePath == nil {
			return notImplemented(resp)
		}
		file, ok := cmd.Params["file"].(string)
		if !ok || file == "" {
			return failed(resp, "missing or invalid 'file' parameter (expected string)")
		}
		resp = run(resp, func() error { return cb.OnSavePath(file) },
			map[string]any{"file": file})

	case "clear_path":
		if cb.OnClearPath == nil {
			return notImplemented(resp)
		}
		resp = run(resp, cb.OnClearPath, map[string]any{"path_cleared": true})

	case "clear_anchors":
		if cb.OnClearAnchors == nil {
			return notImplemented(resp)
		}
		resp = run(resp, cb.OnClearAnchors, map[string]any{"anchors_cleared": true})

	case "pause_tracking":
		if cb.OnPauseTracking == nil {
			return notImplemented(resp)
		}
		resp = run(resp, cb.OnPauseTracking, map[string]any{"tracking_active": false})
		if resp.Status == "success" {
			resp.Status = "paused"
		}

	case "resume_tracking":
		if cb.OnResumeTracking == nil {
			return notImplemented(resp)
		}
		resp = run(resp, cb.OnResumeTracking, map[string]any{"tracking_requested": true})

	case "snapshot":
		if cb.OnSnapshot == nil {
			return notImplemented(resp)
		}
		path, err := cb.OnSnapshot()
		if err != nil {
			return failed(resp, err.Error())
		}
		resp.Status = "success"
		resp.Data = map[string]any{"file": path}

	case "shutdown":
		if cb.OnShutdown == nil {
			return notImplemented(resp)
		}
		slog.Warn("control: shutdown command received")
		resp.Status = "success"
		resp.Data = map[string]any{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}

	default:
		return failed(resp, fmt.Sprintf("unknown command: %s", cmd.Command))
	}

	return resp
}

func run(resp Response, fn func() error, data map[string]any) Response {
	if err := fn(); err != nil {
		return failed(resp, err.Error())
	}
	resp.Status = "success"
	resp.Data = data
	return resp
}

func failed(resp Response, msg string) Response {
	resp.Status = "error"
	resp.Error = msg
	return resp
}

func notImplemented(resp Response) Response {
	return failed(resp, resp.CommandAck+" not implemented")
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}
	if err := h.respond(payload); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}
	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

func (h *Handler) publishResponse(payload []byte) error {
	topic := h.cfg.MQTT.Topics.Health
	qos := h.cfg.MQTT.QoS["health"]

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("response publish timeout")
	}
	return token.Error()
}

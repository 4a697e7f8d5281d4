package control

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/config"
)

type recorder struct {
	mu        sync.Mutex
	taps      [][2]float32
	tracking  []bool
	placement []sharedcamera.PlacementMode
	letters   []string
	loads     []string
	factor    float32
}

func (r *recorder) callbacks() CommandCallbacks {
	return CommandCallbacks{
		OnGetStatus: func() map[string]any { return map[string]any{"mode": "active_raw"} },
		OnTap: func(x, y float32) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.taps = append(r.taps, [2]float32{x, y})
			return nil
		},
		OnSetTrackingEnabled: func(enabled bool) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.tracking = append(r.tracking, enabled)
			return nil
		},
		OnSetPlacementMode: func(m sharedcamera.PlacementMode) error {
			r.placement = append(r.placement, m)
			return nil
		},
		OnSetLetter: func(text string) error {
			r.letters = append(r.letters, text)
			return nil
		},
		OnLoadPath: func(text, file string, factor float32) error {
			r.loads = append(r.loads, text+file)
			r.factor = factor
			return nil
		},
		OnSavePath:      func(string) error { return errors.New("disk full") },
		OnClearPath:     func() error { return nil },
		OnClearAnchors:  func() error { return nil },
		OnPauseTracking: func() error { return nil },
		OnSnapshot:      func() (string, error) { return "/tmp/snap.png", nil },
	}
}

func newTestHandler(t *testing.T, cb CommandCallbacks) (*Handler, *[]Response) {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu        sync.Mutex
		responses []Response
	)
	h := NewHandler(cfg, nil, cb)
	h.respond = func(payload []byte) error {
		var resp Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			t.Errorf("response is not JSON: %v", err)
		}
		mu.Lock()
		responses = append(responses, resp)
		mu.Unlock()
		return nil
	}
	return h, &responses
}

// TestHandler_Execute verifies every command against its callback.
func TestHandler_Execute(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		status  string
		errText string
	}{
		{"get_status", Command{Command: "get_status"}, "success", ""},
		{"tap", Command{Command: "tap", Params: map[string]any{"x": 10.0, "y": 20.0}}, "success", ""},
		{"tap missing y", Command{Command: "tap", Params: map[string]any{"x": 10.0}}, "error", "'x'/'y'"},
		{"tap string", Command{Command: "tap", Params: map[string]any{"x": "1", "y": 2.0}}, "error", "'x'/'y'"},
		{"set_mode tracking", Command{Command: "set_mode", Params: map[string]any{"mode": "tracking"}}, "success", ""},
		{"set_mode raw", Command{Command: "set_mode", Params: map[string]any{"mode": "raw"}}, "success", ""},
		{"set_mode bad", Command{Command: "set_mode", Params: map[string]any{"mode": "ar"}}, "error", "'mode'"},
		{"set_placement", Command{Command: "set_placement", Params: map[string]any{"mode": "path"}}, "success", ""},
		{"set_placement bad", Command{Command: "set_placement", Params: map[string]any{"mode": "spiral"}}, "error", "objects or path"},
		{"set_letter", Command{Command: "set_letter", Params: map[string]any{"text": "HI"}}, "success", ""},
		{"set_letter empty", Command{Command: "set_letter", Params: map[string]any{"text": ""}}, "error", "'text'"},
		{"load_path text", Command{Command: "load_path", Params: map[string]any{"text": "1,2"}}, "success", ""},
		{"load_path both", Command{Command: "load_path", Params: map[string]any{"text": "1,2", "file": "p.txt"}}, "error", "exactly one"},
		{"load_path neither", Command{Command: "load_path"}, "error", "exactly one"},
		{"load_path bad factor", Command{Command: "load_path", Params: map[string]any{"file": "p.txt", "factor": 0.0}}, "error", "'factor'"},
		{"save_path fails", Command{Command: "save_path", Params: map[string]any{"file": "p.txt"}}, "error", "disk full"},
		{"save_path no file", Command{Command: "save_path"}, "error", "'file'"},
		{"clear_path", Command{Command: "clear_path"}, "success", ""},
		{"clear_anchors", Command{Command: "clear_anchors"}, "success", ""},
		{"pause_tracking", Command{Command: "pause_tracking"}, "paused", ""},
		{"resume_tracking not wired", Command{Command: "resume_tracking"}, "error", "resume_tracking not implemented"},
		{"snapshot", Command{Command: "snapshot"}, "success", ""},
		{"shutdown not wired", Command{Command: "shutdown"}, "error", "shutdown not implemented"},
		{"unknown", Command{Command: "reboot"}, "error", "unknown command: reboot"},
	}

	rec := &recorder{}
	h, _ := newTestHandler(t, rec.callbacks())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.execute(tt.cmd)
			if resp.CommandAck != tt.cmd.Command {
				t.Errorf("CommandAck = %q, want %q", resp.CommandAck, tt.cmd.Command)
			}
			if resp.Status != tt.status {
				t.Errorf("Status = %q, want %q (error %q)", resp.Status, tt.status, resp.Error)
			}
			if tt.errText != "" && !strings.Contains(resp.Error, tt.errText) {
				t.Errorf("Error = %q, want it to mention %q", resp.Error, tt.errText)
			}
		})
	}

	if len(rec.taps) != 1 || rec.taps[0] != [2]float32{10, 20} {
		t.Errorf("Unexpected taps: %v", rec.taps)
	}
	if len(rec.tracking) != 2 || !rec.tracking[0] || rec.tracking[1] {
		t.Errorf("Unexpected mode switches: %v", rec.tracking)
	}
	if len(rec.placement) != 1 || rec.placement[0] != sharedcamera.PlacePath {
		t.Errorf("Unexpected placement: %v", rec.placement)
	}
	if len(rec.loads) != 1 || rec.factor != float32(sharedcamera.DefaultConversionFactor) {
		t.Errorf("Unexpected path loads: %v factor %v", rec.loads, rec.factor)
	}
	t.Logf("✅ %d commands executed", len(tests))
}

// TestHandler_SubmitAndProcess verifies the queue between the MQTT callback
// and the handler goroutine.
func TestHandler_SubmitAndProcess(t *testing.T) {
	rec := &recorder{}
	h, responses := newTestHandler(t, rec.callbacks())

	if h.Submit([]byte("{not json")) {
		t.Error("Expected invalid JSON rejected")
	}
	if !h.Submit([]byte(`{"command":"tap","params":{"x":1,"y":2}}`)) {
		t.Fatal("Expected valid command queued")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.processCommands(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.taps)
		rec.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Command not processed")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	got := *responses
	if len(got) != 2 {
		t.Fatalf("Expected 2 responses, got %d", len(got))
	}
	if got[0].Status != "error" || got[0].Error != "invalid JSON" {
		t.Errorf("Unexpected invalid-JSON response: %+v", got[0])
	}
	if got[1].CommandAck != "tap" || got[1].Status != "success" || got[1].Timestamp == "" {
		t.Errorf("Unexpected tap response: %+v", got[1])
	}
}

func TestHandler_QueueFull(t *testing.T) {
	h, _ := newTestHandler(t, CommandCallbacks{})
	for i := 0; i < cap(h.commands); i++ {
		if !h.Submit([]byte(`{"command":"get_status"}`)) {
			t.Fatalf("Submit %d rejected", i)
		}
	}
	if h.Submit([]byte(`{"command":"get_status"}`)) {
		t.Error("Expected full queue to drop the command")
	}
}

// TestHandler_ShutdownAfterResponse verifies that shutdown is acknowledged
// before the callback runs.
func TestHandler_ShutdownAfterResponse(t *testing.T) {
	triggered := make(chan struct{})
	h, responses := newTestHandler(t, CommandCallbacks{
		OnShutdown: func() error {
			close(triggered)
			return nil
		},
	})

	h.handleCommand(Command{Command: "shutdown"})
	if len(*responses) != 1 || (*responses)[0].Status != "success" {
		t.Fatalf("Expected success response before shutdown, got %+v", *responses)
	}

	select {
	case <-triggered:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown callback not triggered")
	}
}

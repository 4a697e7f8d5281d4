package sharedcamera

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestPathBuffer_FewPointsUnchanged(t *testing.T) {
	p := NewPathBuffer()
	for i := 0; i < 3; i++ {
		p.AddPoint(float32(i), 1, 2)

		got := p.Vertices()
		if len(got) != i+1 {
			t.Fatalf("after %d points: %d vertices", i+1, len(got))
		}
		for j, v := range got {
			if v != (mgl32.Vec3{float32(j), 1, 2}) {
				t.Errorf("vertex %d = %v", j, v)
			}
		}
	}
}

// TestPathBuffer_CollinearSmoothing verifies Catmull-Rom smoothing of a
// straight path.
//
// Contract:
//   - steps points per segment plus the final raw point
//   - the derived sequence ends exactly at the last raw point
//   - collinear input stays collinear
func TestPathBuffer_CollinearSmoothing(t *testing.T) {
	p := NewPathBuffer()
	for i := 0; i < 4; i++ {
		p.AddPoint(float32(i), 0, 0)
	}

	got := p.Vertices()
	want := 3*SmoothingSteps + 1
	if len(got) != want {
		t.Fatalf("Expected %d vertices, got %d", want, len(got))
	}

	if last := got[len(got)-1]; last != (mgl32.Vec3{3, 0, 0}) {
		t.Errorf("Expected last vertex (3,0,0), got %v", last)
	}
	if first := got[0]; first != (mgl32.Vec3{0, 0, 0}) {
		t.Errorf("Expected first vertex (0,0,0), got %v", first)
	}

	for i, v := range got {
		if v.Y() != 0 || v.Z() != 0 {
			t.Fatalf("vertex %d left the line: %v", i, v)
		}
		if i > 0 && v.X() < got[i-1].X() {
			t.Errorf("vertex %d moves backwards: %v after %v", i, v, got[i-1])
		}
	}
	t.Logf("✅ %d collinear vertices ending at %v", len(got), got[len(got)-1])
}

func TestPathBuffer_GrowsAndClears(t *testing.T) {
	p := NewPathBuffer()
	for i := 0; i < 8; i++ {
		p.AddPoint(float32(i), float32(i%2), 0)
	}
	if p.Len() != 8 {
		t.Fatalf("Expected 8 points, got %d", p.Len())
	}
	if got, want := len(p.Vertices()), 7*SmoothingSteps+1; got != want {
		t.Errorf("Expected %d vertices, got %d", want, got)
	}

	p.Clear()
	if p.Len() != 0 || len(p.Vertices()) != 0 {
		t.Errorf("Expected empty path after Clear, got %d points %d vertices", p.Len(), len(p.Vertices()))
	}
}

// TestPathBuffer_LoadFromStream verifies parsing, scaling and skipping of
// malformed lines.
func TestPathBuffer_LoadFromStream(t *testing.T) {
	p := NewPathBuffer()
	p.AddPoint(9, 9, 9)

	n, err := p.LoadFromStream(strings.NewReader("10,20\n30,40,5\nbad,line\n"), DefaultConversionFactor)
	if err != nil {
		t.Fatalf("LoadFromStream() failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 points loaded, got %d", n)
	}

	want := []mgl32.Vec3{{0.01, 0.02, 0}, {0.03, 0.04, 0.005}}
	got := p.Points()
	if len(got) != len(want) {
		t.Fatalf("Expected %d points, got %v", len(want), got)
	}
	for i := range want {
		if !got[i].ApproxEqualThreshold(want[i], 1e-6) {
			t.Errorf("point %d = %v, want %v", i, got[i], want[i])
		}
	}
	if len(p.Vertices()) != 2 {
		t.Errorf("Expected 2 unsmoothed vertices, got %d", len(p.Vertices()))
	}
	t.Logf("✅ Loaded %v, malformed line skipped", got)
}

// TestPathBuffer_LoadSkipsNonFinite verifies that NaN and Inf coordinates
// are skipped like any other malformed line and never reach the smoothed path.
func TestPathBuffer_LoadSkipsNonFinite(t *testing.T) {
	p := NewPathBuffer()

	n, err := p.LoadFromStream(strings.NewReader("NaN,1\n0,0\n+Inf,2\n1000,0\n2000,0\n3000,0\n"), DefaultConversionFactor)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("Expected 4 finite points loaded, got %d", n)
	}
	for i, v := range p.Vertices() {
		for _, c := range v {
			if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
				t.Fatalf("vertex %d is not finite: %v", i, v)
			}
		}
	}
	t.Logf("✅ %d vertices, all finite", len(p.Vertices()))
}

func TestParsePathLine(t *testing.T) {
	tests := []struct {
		line    string
		want    mgl32.Vec3
		wantErr bool
	}{
		{"1,2", mgl32.Vec3{1, 2, 0}, false},
		{"1, 2, 3", mgl32.Vec3{1, 2, 3}, false},
		{"-1.5,2e2,0", mgl32.Vec3{-1.5, 200, 0}, false},
		{"1", mgl32.Vec3{}, true},
		{"1,2,3,4", mgl32.Vec3{}, true},
		{"x,2", mgl32.Vec3{}, true},
		{"NaN,1", mgl32.Vec3{}, true},
		{"1,+Inf,0", mgl32.Vec3{}, true},
		{"-inf,2", mgl32.Vec3{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parsePathLine(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePathLine(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parsePathLine(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestPathBuffer_WriteThenLoad(t *testing.T) {
	p := NewPathBuffer()
	p.AddPoint(0.5, 0, -1)
	p.AddPoint(1.25, 0, -2)

	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo() failed: %v", err)
	}
	if buf.String() != "0.5,0,-1\n1.25,0,-2\n" {
		t.Errorf("Unexpected output %q", buf.String())
	}

	file := filepath.Join(t.TempDir(), "path.txt")
	if err := os.WriteFile(file, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded := NewPathBuffer()
	n, err := loaded.LoadFromFile(file, 1)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}
	if n != 2 || loaded.Points()[1] != (mgl32.Vec3{1.25, 0, -2}) {
		t.Errorf("Unexpected points after reload: %v", loaded.Points())
	}

	if _, err := loaded.LoadFromFile(filepath.Join(t.TempDir(), "missing.txt"), 1); err == nil {
		t.Error("Expected error for missing file")
	}
}

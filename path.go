package sharedcamera

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// SmoothingSteps is the number of interpolated points per path segment.
	SmoothingSteps = 10

	// DefaultConversionFactor maps stored path units (pixels) to meters.
	DefaultConversionFactor = 0.001

	// minSmoothingPoints is the raw count from which the path is smoothed.
	minSmoothingPoints = 4
)

// PathBuffer holds tap-sourced path points and the smoothed render vertices
// derived from them.
//
// The derived sequence is rebuilt on every change of the raw sequence. Owned
// by the render goroutine; not safe for concurrent use.
type PathBuffer struct {
	raw     []mgl32.Vec3
	derived []mgl32.Vec3
}

// NewPathBuffer returns an empty path.
func NewPathBuffer() *PathBuffer {
	return &PathBuffer{}
}

// AddPoint appends (x, y, z) and rebuilds the render vertices.
func (p *PathBuffer) AddPoint(x, y, z float32) {
	p.raw = append(p.raw, mgl32.Vec3{x, y, z})
	p.rebuild()
}

// Clear empties raw and derived sequences.
func (p *PathBuffer) Clear() {
	p.raw = nil
	p.derived = nil
}

// Len returns the number of raw points.
func (p *PathBuffer) Len() int {
	return len(p.raw)
}

// Points returns a copy of the raw points.
func (p *PathBuffer) Points() []mgl32.Vec3 {
	return append([]mgl32.Vec3(nil), p.raw...)
}

// Vertices returns the render vertices. The slice is valid until the next change.
func (p *PathBuffer) Vertices() []mgl32.Vec3 {
	return p.derived
}

func (p *PathBuffer) rebuild() {
	p.derived = smoothPath(p.raw, SmoothingSteps, p.derived[:0])
}

// smoothPath returns the Catmull-Rom interpolation of raw, steps points per
// segment, ending exactly at the last raw point. Fewer than four points are
// copied unchanged.
func smoothPath(raw []mgl32.Vec3, steps int, dst []mgl32.Vec3) []mgl32.Vec3 {
	n := len(raw)
	if n < minSmoothingPoints {
		return append(dst, raw...)
	}

	clamp := func(i int) int {
		return max(0, min(i, n-1))
	}

	for i := 0; i < n-1; i++ {
		p0 := raw[clamp(i-1)]
		p1 := raw[i]
		p2 := raw[clamp(i+1)]
		p3 := raw[clamp(i+2)]

		for s := 0; s < steps; s++ {
			t := float32(s) / float32(steps)
			dst = append(dst, catmullRom(p0, p1, p2, p3, t))
		}
	}

	return append(dst, raw[n-1])
}

func catmullRom(p0, p1, p2, p3 mgl32.Vec3, t float32) mgl32.Vec3 {
	t2 := t * t
	t3 := t2 * t

	b0 := -0.5*t3 + t2 - 0.5*t
	b1 := 1.5*t3 - 2.5*t2 + 1
	b2 := -1.5*t3 + 2*t2 + 0.5*t
	b3 := 0.5*t3 - 0.5*t2

	return p0.Mul(b0).Add(p1.Mul(b1)).Add(p2.Mul(b2)).Add(p3.Mul(b3))
}

// LoadFromStream replaces the path with the points read from r.
//
// Each non-blank line holds "x,y" or "x,y,z" (z defaults to 0). Every point is
// scaled by factor. Malformed lines are logged and skipped. Returns the number
// of points loaded.
func (p *PathBuffer) LoadFromStream(r io.Reader, factor float32) (int, error) {
	p.Clear()

	scanner := bufio.NewScanner(r)
	lineNo := 0
	loaded := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		pt, err := parsePathLine(line)
		if err != nil {
			slog.Warn("shared-camera: skipping malformed path line", "line", lineNo, "error", err)
			continue
		}

		p.raw = append(p.raw, pt.Mul(factor))
		loaded++
	}

	p.rebuild()

	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("shared-camera: read path stream: %w", err)
	}

	slog.Debug("shared-camera: path loaded", "points", loaded, "vertices", len(p.derived))
	return loaded, nil
}

func parsePathLine(line string) (mgl32.Vec3, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 || len(fields) > 3 {
		return mgl32.Vec3{}, fmt.Errorf("expected 2 or 3 fields, got %d", len(fields))
	}

	var pt mgl32.Vec3
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return mgl32.Vec3{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return mgl32.Vec3{}, fmt.Errorf("field %d: non-finite value %q", i+1, strings.TrimSpace(f))
		}
		pt[i] = float32(v)
	}
	return pt, nil
}

// LoadFromFile replaces the path with the points stored in the file at path.
func (p *PathBuffer) LoadFromFile(path string, factor float32) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("shared-camera: open path file: %w", err)
	}
	defer f.Close()

	return p.LoadFromStream(f, factor)
}

// WriteTo writes the raw points as "x,y,z" lines.
func (p *PathBuffer) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	for _, pt := range p.raw {
		n, err := fmt.Fprintf(bw, "%s,%s,%s\n", formatCoord(pt[0]), formatCoord(pt[1]), formatCoord(pt[2]))
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("shared-camera: write path: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("shared-camera: write path: %w", err)
	}
	return written, nil
}

func formatCoord(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}
